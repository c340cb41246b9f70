package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwtpkg "github.com/splax/deploydeck/pkg/jwt"
)

type authContextKey string

type authInfo struct {
	Viewer   string
	Projects []string
}

const contextKeyAuth authContextKey = "deploydeck-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireViewer enforces a dashboard token when a signing secret is
// configured. Without a secret the read endpoints are open.
func (r *Router) requireViewer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.jwtSecret == "" {
			next(w, req)
			return
		}
		ctx, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the bearer token and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		// Browsers cannot set headers on websocket or EventSource requests.
		token = strings.TrimSpace(req.URL.Query().Get("access_token"))
	}
	if token == "" {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), false
	}
	claims, err := jwtpkg.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), false
	}
	info := authInfo{Viewer: claims.Viewer, Projects: claims.Projects}
	return context.WithValue(req.Context(), contextKeyAuth, info), true
}

// allowsProject reports whether the caller may read slug. Callers holding a
// project-restricted token must name a project.
func (r *Router) allowsProject(req *http.Request, slug string) bool {
	info, ok := authInfoFromContext(req.Context())
	if !ok || len(info.Projects) == 0 {
		return true
	}
	if slug == "" {
		return false
	}
	claims := jwtpkg.Claims{Projects: info.Projects}
	return claims.AllowsProject(slug)
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
