package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/service/hooks"
	"github.com/splax/deploywatch/internal/tracker"
	"github.com/splax/deploywatch/internal/ws"
	"github.com/splax/deploywatch/pkg/vercel"
)

// HookService is the hook management surface exposed over HTTP.
type HookService interface {
	List(ctx context.Context) []hooks.View
	Get(ctx context.Context, id string) (hooks.View, error)
	Create(ctx context.Context, in hooks.CreateInput) (hooks.View, error)
	Deploy(ctx context.Context, id string) (hooks.View, error)
	Remove(ctx context.Context, id string) error
	Deployments(ctx context.Context, id string, limit int) ([]domain.Record, error)
}

// Options carries optional router collaborators.
type Options struct {
	Limiter         RateLimiter
	DeployRateLimit int
	DBHealth        func(context.Context) error
	Registerer      prometheus.Registerer
	Gatherer        prometheus.Gatherer
	Heartbeat       time.Duration
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux             *http.ServeMux
	logger          *slog.Logger
	hooks           HookService
	hub             *ws.Hub
	upgrader        websocket.Upgrader
	limiter         RateLimiter
	deployRateLimit int
	jwtSecret       string
	dbHealth        func(context.Context) error
	heartbeat       time.Duration

	registerer     prometheus.Registerer
	gatherer       prometheus.Gatherer
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  prometheus.Counter
	deployTriggers *prometheus.CounterVec
}

const (
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 15 * time.Second
	defaultLogLimit    = 20
	maxLogLimit        = 100
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, hookSvc HookService, hub *ws.Hub, jwtSecret string, opts Options) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		hooks:  hookSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:         opts.Limiter,
		deployRateLimit: opts.DeployRateLimit,
		jwtSecret:       jwtSecret,
		dbHealth:        opts.DBHealth,
		heartbeat:       opts.Heartbeat,
		registerer:      opts.Registerer,
		gatherer:        opts.Gatherer,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultHeartbeat
	}
	if r.registerer == nil {
		r.registerer = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
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
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/hooks", r.audit("/hooks", r.requireAuth(r.handleHooks)))
	r.mux.HandleFunc("/hooks/", r.audit("/hooks/:id", r.requireAuth(r.handleHookSubroutes)))
	r.mux.HandleFunc("/ws/hooks", r.audit("/ws/hooks", r.requireAuth(r.handleHooksWS)))
	r.mux.HandleFunc("/events/hooks", r.audit("/events/hooks", r.requireAuth(r.handleHooksSSE)))
}

type createHookRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ProjectName string `json:"project_name"`
	Token       string `json:"token"`
	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name"`
}

type hookResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	URL         string             `json:"url"`
	ProjectName string             `json:"project_name"`
	TeamID      string             `json:"team_id,omitempty"`
	TeamName    string             `json:"team_name,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	State       hooks.StateMessage `json:"state"`
}

func newHookResponse(v hooks.View) hookResponse {
	return hookResponse{
		ID:          v.Hook.ID,
		Name:        v.Hook.Name,
		URL:         v.Hook.URL,
		ProjectName: v.Hook.ProjectName,
		TeamID:      v.Hook.TeamID,
		TeamName:    v.Hook.TeamName,
		CreatedAt:   v.Hook.CreatedAt,
		State:       hooks.NewStateMessage(v.Hook.ID, v.State),
	}
}

func (r *Router) handleHooks(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		views := r.hooks.List(req.Context())
		payload := make([]hookResponse, 0, len(views))
		for _, v := range views {
			payload = append(payload, newHookResponse(v))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !r.requireWrite(w, req) {
			return
		}
		var body createHookRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		view, err := r.hooks.Create(req.Context(), hooks.CreateInput{
			Name:        body.Name,
			URL:         body.URL,
			ProjectName: body.ProjectName,
			Token:       body.Token,
			TeamID:      body.TeamID,
			TeamName:    body.TeamName,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newHookResponse(view))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleHookSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/hooks/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	id := parts[0]
	switch {
	case len(parts) == 1:
		r.handleHook(w, req, id)
	case len(parts) == 2 && parts[1] == "deploy":
		r.limitDeploys(func(w http.ResponseWriter, req *http.Request) {
			r.handleDeploy(w, req, id)
		})(w, req)
	case len(parts) == 2 && parts[1] == "deployments":
		r.handleDeployments(w, req, id)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleHook(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		view, err := r.hooks.Get(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newHookResponse(view))
	case http.MethodDelete:
		if !r.requireWrite(w, req) {
			return
		}
		if err := r.hooks.Remove(req.Context(), id); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.requireWrite(w, req) {
		return
	}
	view, err := r.hooks.Deploy(req.Context(), id)
	if err != nil {
		r.deployTriggers.WithLabelValues(deployOutcome(err)).Inc()
		r.writeServiceError(w, req, err)
		return
	}
	r.deployTriggers.WithLabelValues("triggered").Inc()
	writeJSON(w, http.StatusAccepted, newHookResponse(view))
}

func deployOutcome(err error) string {
	switch {
	case errors.Is(err, hooks.ErrBusy):
		return "busy"
	case errors.Is(err, hooks.ErrNotFound):
		return "not_found"
	case errors.Is(err, tracker.ErrTriggerFailed):
		return "rejected"
	default:
		return "failed"
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := defaultLogLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxLogLimit)
	}
	records, err := r.hooks.Deployments(req.Context(), id, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	payload := make([]hooks.DeploymentMessage, 0, len(records))
	for _, rec := range records {
		payload = append(payload, hooks.NewDeploymentMessage(rec))
	}
	writeJSON(w, http.StatusOK, payload)
}

// streamTopic resolves the hub topic and the snapshots sent on connect.
func (r *Router) streamTopic(w http.ResponseWriter, req *http.Request) (string, []hooks.StateMessage, bool) {
	id := strings.TrimSpace(req.URL.Query().Get("id"))
	if id == "" {
		views := r.hooks.List(req.Context())
		snapshots := make([]hooks.StateMessage, 0, len(views))
		for _, v := range views {
			snapshots = append(snapshots, hooks.NewStateMessage(v.Hook.ID, v.State))
		}
		return ws.AllHooks, snapshots, true
	}
	view, err := r.hooks.Get(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return "", nil, false
	}
	return id, []hooks.StateMessage{hooks.NewStateMessage(id, view.State)}, true
}

func (r *Router) handleHooksWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	topic, snapshots, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	for _, snap := range snapshots {
		payload, _ := json.Marshal(snap)
		if err := client.Send(payload); err != nil {
			return
		}
	}
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHooksSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	topic, snapshots, ok := r.streamTopic(w, req)
	if !ok {
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := ws.NewSSEClient(w, flusher, r.logger)
	for _, snap := range snapshots {
		payload, _ := json.Marshal(snap)
		if err := client.Send(payload); err != nil {
			return
		}
	}
	r.hub.Register(topic, client)
	defer r.hub.Unregister(topic, client)

	ticker := time.NewTicker(r.heartbeat)
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

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case errors.Is(err, hooks.ErrNotFound), errors.Is(err, tracker.ErrClosed):
		writeError(w, http.StatusNotFound, "hook not found")
	case errors.Is(err, hooks.ErrInvalidHook):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hooks.ErrBusy):
		writeError(w, http.StatusConflict, "deployment in progress")
	case errors.Is(err, tracker.ErrTriggerFailed), isUpstream(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// isUpstream reports whether err came back from the deploy API.
func isUpstream(err error) bool {
	var apiErr *vercel.APIError
	return errors.As(err, &apiErr) || errors.Is(err, vercel.ErrNetwork)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.hub != nil {
		components["streams"] = map[string]any{"status": "up", "clients": r.hub.Clients()}
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
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequest(req.Method, route, status, duration)

		actor := "anonymous"
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
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "operator"
			fields = append(fields, "subject", info.Subject)
			if info.Scope != "" {
				fields = append(fields, "scope", info.Scope)
			}
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
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
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

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
