// Package httpx serves the orchestrator over HTTP: run submission, history,
// live log streaming and manual release sync.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/domain"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/notify"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/orchestrator"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/store"
	"github.com/jmdrumsgarrison-ux/agentic-orchestrator/internal/ws"
)

const (
	healthCheckTimeout = 2 * time.Second
	defaultListLimit   = 50
	maxListLimit       = 500
	maxBodyBytes       = 1 << 20
)

// Runner starts orchestration runs and exposes their history.
type Runner interface {
	Start(ctx context.Context, req orchestrator.Request) *orchestrator.Run
	Store() store.Store
}

// Releaser publishes a release on demand.
type Releaser interface {
	Sync(ctx context.Context) (notify.Release, error)
}

// Options tunes the router.
type Options struct {
	// APISecret enables bearer JWT auth on every route except health and metrics.
	APISecret string
	// GuardTTL bounds how long a target stays claimed if a run never finishes.
	GuardTTL time.Duration
	// RecentRuns is the number of live runs kept for streaming.
	RecentRuns int
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	// Health reports backing service health on /healthz.
	Health func(context.Context) error
}

// Router wires HTTP endpoints to the orchestrator.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	baseCtx  context.Context
	runner   Runner
	releaser Releaser
	guard    Guard
	runs     *lru.Cache[string, *orchestrator.Run]
	upgrader websocket.Upgrader
	secret   string
	opts     Options
	inflight sync.WaitGroup

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	guardConflicts     *prometheus.CounterVec
}

// NewRouter assembles routes. Runs started through the router live under
// ctx rather than the submitting request.
func NewRouter(ctx context.Context, logger *slog.Logger, runner Runner, releaser Releaser, guard Guard, opts Options) (*Router, error) {
	if runner == nil {
		return nil, errors.New("httpx: runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = 30 * time.Minute
	}
	if opts.RecentRuns <= 0 {
		opts.RecentRuns = 256
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	cache, err := lru.New[string, *orchestrator.Run](opts.RecentRuns)
	if err != nil {
		return nil, err
	}
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		baseCtx:  ctx,
		runner:   runner,
		releaser: releaser,
		guard:    guard,
		runs:     cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		secret: strings.TrimSpace(opts.APISecret),
		opts:   opts,
	}
	r.initMetrics()
	r.register()
	return r, nil
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Wait blocks until every run started through the router has finished.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// Close releases background resources.
func (r *Router) Close() {
	if r.guard != nil {
		r.guard.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/runs", r.instrument("/runs", r.requireAuth(r.handleRuns)))
	r.mux.HandleFunc("/runs/", r.instrument("/runs/:id", r.requireAuth(r.handleRunSubroutes)))
	r.mux.HandleFunc("/releases/sync", r.instrument("/releases/sync", r.requireAuth(r.handleReleaseSync)))
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateRun(w, req)
	case http.MethodGet:
		r.handleListRuns(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateRun(w http.ResponseWriter, req *http.Request) {
	var payload orchestrator.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := payload.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": string(domain.StatusError),
			"error":  err.Error(),
		})
		return
	}
	if claims := claimsFromContext(req.Context()); claims != nil && !claims.AllowsNamespace(payload.Namespace) {
		writeError(w, http.StatusForbidden, "token is not allowed to deploy into "+payload.Namespace)
		return
	}

	target := payload.Target().ID()
	token, ok := r.guard.Acquire(req.Context(), target, r.opts.GuardTTL)
	if !ok {
		r.recordConflict(payload.Target().Namespace)
		writeError(w, http.StatusConflict, "a run for "+target+" is already in progress")
		return
	}

	run := r.runner.Start(r.baseCtx, payload)
	r.runs.Add(run.ID, run)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		<-run.Done()
		r.guard.Release(r.baseCtx, target, token)
	}()
	r.logger.Info("run accepted", "run_id", run.ID, "target", target)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(domain.StatusPending),
		"target": target,
	})
}

func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	limit := defaultListLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := r.runner.Store().ListRuns(req.Context(), limit)
	if err != nil {
		r.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (r *Router) handleRunSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/runs/"), "/")
	parts := strings.Split(trimmed, "/")
	runID := parts[0]
	if runID == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if len(parts) == 1 {
		r.handleGetRun(w, req, runID)
		return
	}
	switch parts[1] {
	case "ws":
		r.handleRunWS(w, req, runID)
	case "events":
		r.handleRunEvents(w, req, runID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request, runID string) {
	if run, ok := r.runs.Get(runID); ok {
		writeJSON(w, http.StatusOK, snapshot(run))
		return
	}
	rec, err := r.runner.Store().GetRun(req.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		r.notFound(w)
		return
	}
	if err != nil {
		r.logger.Error("get run failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (r *Router) handleRunWS(w http.ResponseWriter, req *http.Request, runID string) {
	run, ok := r.runs.Get(runID)
	if !ok {
		r.notFound(w)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	gone := make(chan struct{})
	go client.Drain(gone)

	ctx, cancel := context.WithCancel(r.baseCtx)
	defer cancel()
	go func() {
		select {
		case <-gone:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := ws.Relay(ctx, run.Stream(), client, 0); err != nil {
		_ = conn.Close()
		return
	}
	if payload, err := r.resultFrame(ctx, run); err == nil {
		_ = client.Send(payload)
	}
	client.Close()
}

func (r *Router) handleRunEvents(w http.ResponseWriter, req *http.Request, runID string) {
	run, ok := r.runs.Get(runID)
	if !ok {
		r.notFound(w)
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
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	defer client.Close()
	if err := ws.Relay(req.Context(), run.Stream(), client, r.opts.Heartbeat); err != nil {
		return
	}
	if payload, err := r.resultFrame(req.Context(), run); err == nil {
		_ = client.Event("result", payload)
	}
}

// resultFrame waits for the run to finish and encodes its outcome. The
// stream closes just before the result is published.
func (r *Router) resultFrame(ctx context.Context, run *orchestrator.Run) ([]byte, error) {
	res, err := run.Wait(ctx)
	if err != nil {
		return nil, err
	}
	res.Lines = nil
	return json.Marshal(map[string]any{"type": "result", "result": res})
}

func (r *Router) handleReleaseSync(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if r.releaser == nil {
		writeError(w, http.StatusServiceUnavailable, "release publishing is not configured")
		return
	}
	rel, err := r.releaser.Sync(req.Context())
	payload := map[string]any{
		"status":  notify.SyncStatus(err),
		"release": rel,
	}
	if err != nil {
		r.logger.Warn("release sync failed", "error", err)
		payload["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.opts.Health != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.opts.Health(ctx); err != nil {
			status = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
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

// snapshot returns the finished result, or a pending view with the log so far.
func snapshot(run *orchestrator.Run) orchestrator.Result {
	if res, done := run.Result(); done {
		return res
	}
	return orchestrator.Result{
		RunID:  run.ID,
		Status: domain.StatusPending,
		Target: run.Request.Target().ID(),
		Lines:  run.Stream().Lines(),
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
