package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/internal/logparse"
	"github.com/splax/deploydeck/internal/registry"
	"github.com/splax/deploydeck/internal/service/autodeploy"
	"github.com/splax/deploydeck/internal/service/screenshot"
	"github.com/splax/deploydeck/internal/service/webhook"
	"github.com/splax/deploydeck/internal/ws"
)

// DeploymentReader lists tracker records.
type DeploymentReader interface {
	List(ctx context.Context, q domain.Query) ([]domain.DeploymentRecord, domain.ReadMeta, error)
	Latest(ctx context.Context, project string) (*domain.DeploymentRecord, domain.ReadMeta, error)
}

// RequestLogReader lists attributed access log entries.
type RequestLogReader interface {
	List(ctx context.Context, q domain.Query) ([]domain.RequestLogEntry, domain.ReadMeta, error)
}

// Deployer schedules auto-deploy jobs.
type Deployer interface {
	Enqueue(project domain.ProjectConfig, push domain.AutoDeployContext) domain.AutoDeployJob
	Pending() int
}

// ScreenshotCapturer produces preview screenshots for deployments.
type ScreenshotCapturer interface {
	Enabled() bool
	Capture(ctx context.Context, slug, deploymentID, url string) (string, error)
}

// Services groups the backends the router dispatches to.
type Services struct {
	Deployments DeploymentReader
	Logs        RequestLogReader
	Webhook     webhook.Service
	Deployer    Deployer
	Screenshots ScreenshotCapturer
	Hub         *ws.Hub
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	projects    *registry.Registry
	deployments DeploymentReader
	logs        RequestLogReader
	webhook     webhook.Service
	deployer    Deployer
	screenshots ScreenshotCapturer
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	jwtSecret   string

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	logLines           *prometheus.CounterVec
	webhookOutcomes    *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 120
	rateLimitStream    = 30
	rateLimitWebhook   = 60
	maxWebhookBody     = 5 << 20
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projects *registry.Registry, svc Services, limiter RateLimiter, jwtSecret string) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		projects:    projects,
		deployments: svc.Deployments,
		logs:        svc.Logs,
		webhook:     svc.Webhook,
		deployer:    svc.Deployer,
		screenshots: svc.Screenshots,
		hub:         svc.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		jwtSecret: strings.TrimSpace(jwtSecret),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", r.handleMetrics())
	r.mux.HandleFunc("/v1/projects", r.audit("projects", r.readRoute("projects", r.handleProjects)))
	r.mux.HandleFunc("/v1/deployments", r.audit("deployments", r.readRoute("deployments", r.handleDeployments)))
	r.mux.HandleFunc("/v1/deployments/", r.audit("deployments_sub", r.handleDeploymentSubroutes))
	r.mux.HandleFunc("/v1/logs", r.audit("logs", r.readRoute("logs", r.handleLogs)))
	r.mux.HandleFunc("/v1/webhooks/github", r.audit("webhook", r.withRateLimit("webhook", rateLimitWebhook, rateWindowDefault, r.handleWebhook)))
}

func (r *Router) readRoute(route string, next http.HandlerFunc) http.HandlerFunc {
	return r.requireViewer(r.withRateLimit(route, rateLimitRead, rateWindowDefault, next))
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/v1/deployments/"), "/")
	switch {
	case rest == "latest":
		r.readRoute("deployments_latest", r.handleLatestDeployment)(w, req)
	case rest == "stream":
		r.requireViewer(r.withRateLimit("deployments_stream", rateLimitStream, rateWindowRealtime, r.handleDeploymentStream))(w, req)
	case rest == "events":
		r.requireViewer(r.withRateLimit("deployments_events", rateLimitStream, rateWindowRealtime, r.handleDeploymentEvents))(w, req)
	case strings.HasSuffix(rest, "/screenshot"):
		id := strings.TrimSuffix(rest, "/screenshot")
		if id == "" || strings.Contains(id, "/") {
			r.notFound(w)
			return
		}
		r.readRoute("deployments_screenshot", func(w http.ResponseWriter, req *http.Request) {
			r.handleScreenshot(w, req, id)
		})(w, req)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projects := make([]domain.ProjectConfig, 0)
	for _, p := range r.projects.Listing() {
		if r.allowsProject(req, p.Slug) {
			projects = append(projects, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q, ok := r.parseQuery(w, req)
	if !ok {
		return
	}
	records, meta, err := r.deployments.List(req.Context(), q)
	r.recordRead("tracker", meta)
	if err != nil {
		writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployments": records,
		"meta":        meta,
	})
}

func (r *Router) handleLatestDeployment(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q, ok := r.parseQuery(w, req)
	if !ok {
		return
	}
	record, meta, err := r.deployments.Latest(req.Context(), q.Project)
	r.recordRead("tracker", meta)
	if err != nil {
		writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployment": record,
		"meta":       meta,
	})
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	q, ok := r.parseQuery(w, req)
	if !ok {
		return
	}
	entries, meta, err := r.logs.List(req.Context(), q)
	r.recordRead("access", meta)
	if err != nil {
		writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": entries,
		"meta": meta,
	})
}

func (r *Router) handleScreenshot(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.screenshots == nil || !r.screenshots.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "screenshot capture is not configured")
		return
	}
	q, ok := r.parseQuery(w, req)
	if !ok {
		return
	}
	if q.Project == "" {
		writeError(w, http.StatusBadRequest, "project query parameter required")
		return
	}
	project, _ := r.projects.Resolve(q.Project)
	records, meta, err := r.deployments.List(req.Context(), domain.Query{Project: q.Project, Limit: domain.MaxLimit})
	r.recordRead("tracker", meta)
	if err != nil {
		writeReadError(w, err)
		return
	}
	found := false
	for _, rec := range records {
		if strings.EqualFold(rec.DeploymentID, deploymentID) {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}
	path, err := r.screenshots.Capture(req.Context(), project.Slug, strings.ToUpper(deploymentID), project.PreviewURL)
	switch {
	case errors.Is(err, screenshot.ErrNoURL):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		r.logger.Warn("screenshot capture failed", "project", project.Slug, "deployment_id", deploymentID, "error", err)
		writeError(w, http.StatusBadGateway, "screenshot capture failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.ServeFile(w, req, path)
}

func (r *Router) handleDeploymentStream(w http.ResponseWriter, req *http.Request) {
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleDeploymentEvents(w http.ResponseWriter, req *http.Request) {
	topic, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger).
		WithWriteDeadline(http.NewResponseController(w).SetWriteDeadline)
	r.hub.Register(topic, client)
	defer r.hub.Unregister(topic, client)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) streamTopic(w http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return "", false
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return "", false
	}
	q, ok := r.parseQuery(w, req)
	if !ok {
		return "", false
	}
	if q.Project == "" {
		return ws.AllProjects, true
	}
	return q.Project, true
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		r.recordWebhook("bad_request")
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	res, err := r.webhook.Evaluate(webhook.Delivery{
		Event:     req.Header.Get(webhook.EventHeader),
		Token:     req.URL.Query().Get(webhook.TokenParam),
		Signature: req.Header.Get(webhook.SignatureHeader),
		Body:      body,
	})
	if err != nil {
		status := webhookErrorStatus(err)
		r.recordWebhook(strconv.Itoa(status))
		if status == http.StatusUnauthorized {
			r.logger.Warn("webhook rejected", "error", err, "ip", clientIP(req))
			writeError(w, status, "invalid webhook credentials")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	switch res.Outcome {
	case webhook.OutcomePong:
		r.recordWebhook("ping")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": res.Reason})
		return
	case webhook.OutcomeIgnored:
		r.ignoreWebhook(w, res.Reason)
		return
	}

	push := *res.Push
	project, ok := autodeploy.Match(r.projects.All(), push)
	if !ok {
		repo := push.RepositoryFullName
		if repo == "" {
			repo = push.RepositoryName
		}
		r.ignoreWebhook(w, fmt.Sprintf("no project configured for %s on branch %s", repo, push.Branch))
		return
	}
	job := r.deployer.Enqueue(project, push)
	r.recordWebhook("queued")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"jobId":   job.ID,
		"project": project.Slug,
		"branch":  push.Branch,
	})
}

func (r *Router) ignoreWebhook(w http.ResponseWriter, reason string) {
	r.recordWebhook("ignored")
	r.logger.Info("webhook ignored", "reason", reason)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "reason": reason})
}

func webhookErrorStatus(err error) int {
	switch {
	case errors.Is(err, webhook.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, webhook.ErrMisconfigured):
		return http.StatusInternalServerError
	case errors.Is(err, webhook.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrMalformed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := map[string]any{
		"projects": map[string]any{"configured": r.projects.Len()},
	}
	if r.deployer != nil {
		components["autodeploy"] = map[string]any{"pendingKeys": r.deployer.Pending()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// parseQuery reads project, limit, start and end. It writes the error
// response itself when the query is invalid.
func (r *Router) parseQuery(w http.ResponseWriter, req *http.Request) (domain.Query, bool) {
	values := req.URL.Query()
	q := domain.Query{Limit: domain.DefaultLimit}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Limit = n
		}
	}
	q.Limit = domain.ClampLimit(q.Limit)

	if slug := strings.TrimSpace(values.Get("project")); slug != "" {
		project, err := r.projects.Resolve(slug)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":         fmt.Sprintf("unknown project %q", slug),
				"validProjects": r.projects.ValidSlugs(),
			})
			return q, false
		}
		q.Project = project.Slug
	}
	if !r.allowsProject(req, q.Project) {
		if q.Project == "" {
			writeError(w, http.StatusForbidden, "project query parameter required for this token")
		} else {
			writeError(w, http.StatusForbidden, "token does not grant access to this project")
		}
		return q, false
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"start", &q.Start}, {"end", &q.End}} {
		raw := strings.TrimSpace(values.Get(bound.name))
		if raw == "" {
			continue
		}
		t, ok := logparse.ParseTime(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s time %q", bound.name, raw))
			return q, false
		}
		*bound.dst = &t
	}
	return q, true
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "viewer"
			fields = append(fields, "viewer", info.Viewer)
		} else if route == "webhook" {
			actor = "webhook"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := max(limit-decision.count, 0)
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
