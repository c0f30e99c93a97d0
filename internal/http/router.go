// Package httpx exposes the webhook ingress, the stacks API and page, health,
// metrics and the status websocket.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/queue"
	"github.com/splax/instantiate/internal/template"
	"github.com/splax/instantiate/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	healthCheckTimeout = 2 * time.Second
	maxWebhookBody     = 5 << 20
)

// Parser normalizes webhook deliveries.
type Parser interface {
	Parse(ctx context.Context, provider domain.Provider, kind string, body []byte) (domain.ParseOutcome, error)
}

// Publisher enqueues work for the lifecycle workers.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// StackLister lists recorded stacks.
type StackLister interface {
	ListStacks(ctx context.Context) ([]domain.StackRecord, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps groups the collaborators of a Router.
type Deps struct {
	Parser  Parser
	Queue   Publisher
	Stacks  StackLister
	Hub     *ws.Hub
	Limiter RateLimiter
	Checks  map[string]HealthCheck
	// Pages renders the HTML stacks page; mustache is used when nil.
	Pages PageRenderer
}

// Config carries ingress policy.
type Config struct {
	GitHubWebhookSecret string
	GitLabWebhookToken  string
	// ProjectKeys restricts accepted keys when non-empty. Entries may be bcrypt hashes.
	ProjectKeys      []string
	WebhookRateLimit int
	// ProjectRateLimits overrides WebhookRateLimit for individual project keys.
	ProjectRateLimits map[string]int
	// JWTSecret enables bearer authentication on the stacks endpoints.
	JWTSecret string
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	deps        Deps
	cfg         Config
	allowedKeys *keyAllowList
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	pages       PageRenderer
	metrics     routerMetrics
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deps Deps, cfg Config) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger.With("component", "http"),
		deps:   deps,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: deps.Limiter,
		pages:   deps.Pages,
		metrics: newRouterMetrics(),
	}
	r.allowedKeys = newKeyAllowList(cfg.ProjectKeys)
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.pages == nil {
		r.pages = template.New(logger)
	}
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
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/update", r.audit("/api/update", r.withRateLimit("/api/update", webhookPolicy(r.cfg), rateLimitKeyProject, r.handleUpdate)))
	r.mux.HandleFunc("/api/stacks", r.audit("/api/stacks", r.requireToken(r.handleStacks)))
	r.mux.HandleFunc("/stacks", r.audit("/stacks", r.requireToken(r.handleStacksPage)))
	r.mux.HandleFunc("/ws/stacks", r.audit("/ws/stacks", r.requireToken(r.handleStacksWS)))
}

func (r *Router) handleStacks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stacks, err := r.listStacks(req)
	if err != nil {
		r.logger.Error("list stacks failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list stacks")
		return
	}
	writeJSON(w, http.StatusOK, stacks)
}

// listStacks returns the recorded stacks, narrowed by the project_id query parameter.
func (r *Router) listStacks(req *http.Request) ([]domain.StackRecord, error) {
	if r.deps.Stacks == nil {
		return []domain.StackRecord{}, nil
	}
	stacks, err := r.deps.Stacks.ListStacks(req.Context())
	if err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	filtered := make([]domain.StackRecord, 0, len(stacks))
	for _, stack := range stacks {
		if projectID == "" || stack.ProjectID == projectID {
			filtered = append(filtered, stack)
		}
	}
	return filtered, nil
}

func (r *Router) handleStacksWS(w http.ResponseWriter, req *http.Request) {
	if r.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "status stream disabled")
		return
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		projectID = ws.AllProjects
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.deps.Hub.Register(projectID, client)
	go func() {
		defer func() {
			r.deps.Hub.Unregister(projectID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	for name, check := range r.deps.Checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
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
		duration := time.Since(start)
		r.metrics.recordRequest(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
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

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
