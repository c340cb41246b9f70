package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const issuer = "deploydeck"

// Claims defines the dashboard access token payload.
type Claims struct {
	Viewer   string   `json:"viewer"`
	Projects []string `json:"projects,omitempty"`
	jwtlib.RegisteredClaims
}

// AllowsProject reports whether the token grants access to slug. A token
// without a project list grants access to every project.
func (c *Claims) AllowsProject(slug string) bool {
	if c == nil {
		return false
	}
	if len(c.Projects) == 0 || slug == "" {
		return true
	}
	for _, p := range c.Projects {
		if p == slug {
			return true
		}
	}
	return false
}

// GenerateToken issues a signed JWT with provided secret and ttl.
func GenerateToken(viewer string, projects []string, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := Claims{
		Viewer:   viewer,
		Projects: projects,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   viewer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
