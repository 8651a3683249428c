package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"

	"github.com/rahul/intake/internal/observability"
	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/workflow"
	"github.com/rahul/intake/pkg/config"
)

const maxBodyBytes = 64 << 10

// WorkflowRequest is the body of POST /tax/workflow.
type WorkflowRequest struct {
	UserID        string  `json:"user_id"`
	ClientID      string  `json:"client_id"`
	Reference     string  `json:"reference"`
	HumanResponse *string `json:"human_response"`
}

// ErrorBody is the body of every error response.
type ErrorBody struct {
	Error     string  `json:"error"`
	Kind      string  `json:"kind"`
	Timestamp float64 `json:"timestamp"`
}

type HTTPGateway struct {
	workflow Workflow
	cfg      config.GatewayConfig
	version  string
	log      *slog.Logger
	clock    clockwork.Clock
	limiter  *RateLimiter
	clients  ClientDirectory
	router   chi.Router
	srv      *http.Server
}

type HTTPOption func(*HTTPGateway)

func WithHTTPClock(c clockwork.Clock) HTTPOption {
	return func(g *HTTPGateway) {
		g.clock = c
	}
}

func WithVersion(v string) HTTPOption {
	return func(g *HTTPGateway) {
		g.version = v
	}
}

// WithClientDirectory serves GET /clients/{client_id}/associated from d.
func WithClientDirectory(d ClientDirectory) HTTPOption {
	return func(g *HTTPGateway) {
		g.clients = d
	}
}

func NewHTTPGateway(wf Workflow, cfg config.GatewayConfig, log *slog.Logger, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		workflow: wf,
		cfg:      cfg,
		version:  "dev",
		log:      log,
		clock:    clockwork.NewRealClock(),
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.limiter = NewRateLimiter(cfg.RateLimitPerMinute, g.clock)
	g.setupRoutes()

	g.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Responder turns can chain several model calls.
		WriteTimeout: 120 * time.Second,
	}
	return g
}

func (g *HTTPGateway) Name() string { return "http" }

func (g *HTTPGateway) Handler() http.Handler { return g.router }

func (g *HTTPGateway) setupRoutes() {
	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.RealIP)
	g.router.Use(middleware.Recoverer)
	g.router.Use(observability.Middleware)
	g.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))

	g.router.Get("/", g.handleRoot)
	g.router.Get("/health", g.handleHealth)
	g.router.Route("/tax/workflow", func(r chi.Router) {
		r.Post("/", g.handleWorkflow)
		r.Get("/{user_id}", g.handleProgress)
		r.Post("/{user_id}/reset", g.handleReset)
	})
	if g.clients != nil {
		g.router.Get("/clients/{client_id}/associated", g.handleAssociated)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (g *HTTPGateway) Start(ctx context.Context) error {
	sweep := g.clock.NewTicker(time.Minute)
	defer sweep.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.Chan():
				g.limiter.Sweep()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		g.log.Info("http gateway listening", "addr", g.srv.Addr)
		if err := g.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.Stop(shutdownCtx)
	}
}

func (g *HTTPGateway) Stop(ctx context.Context) error {
	return g.srv.Shutdown(ctx)
}

func (g *HTTPGateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := []string{
		"POST /tax/workflow",
		"GET /tax/workflow/{user_id}",
		"POST /tax/workflow/{user_id}/reset",
		"GET /health",
	}
	if g.clients != nil {
		endpoints = append(endpoints, "GET /clients/{client_id}/associated")
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"service":   "tax intake workflow",
		"version":   g.version,
		"endpoints": endpoints,
		"timestamp": unixSeconds(g.clock.Now()),
	})
}

func (g *HTTPGateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := observability.GetStatus()
	status := "healthy"
	if !observability.Healthy(90 * time.Second) {
		status = "degraded"
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"timestamp":         unixSeconds(g.clock.Now()),
		"active_operations": s.InFlight,
		"last_heartbeat":    s.LastHeartbeat.UTC().Format(time.RFC3339),
		"uptime":            s.Uptime,
	})
}

func (g *HTTPGateway) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var body WorkflowRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	body.UserID = strings.TrimSpace(body.UserID)
	body.ClientID = strings.TrimSpace(body.ClientID)
	if body.UserID == "" || body.ClientID == "" {
		g.writeError(w, http.StatusBadRequest, "invalid_request", "user_id and client_id are required")
		return
	}
	if body.Reference == "" {
		body.Reference = records.ReferenceIndividual
	}
	ref, err := records.NormalizeReference(body.Reference)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var reply string
	if body.HumanResponse != nil {
		reply = sanitize(*body.HumanResponse)
		if reply == "" && strings.TrimSpace(*body.HumanResponse) != "" {
			g.writeError(w, http.StatusBadRequest, "invalid_request", "human_response has no text content")
			return
		}
	}

	if !g.allow(w, body.UserID) {
		return
	}

	res, err := g.workflow.Handle(r.Context(), workflow.Request{
		UserID:        body.UserID,
		ClientID:      body.ClientID,
		Reference:     ref,
		HumanResponse: reply,
	})
	if err != nil {
		g.writeWorkflowError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, resultBody(res, g.clock.Now()))
}

func (g *HTTPGateway) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	summary, err := g.workflow.Progress(r.Context(), userID)
	if err != nil {
		g.writeWorkflowError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, summaryBody(summary, g.clock.Now()))
}

func (g *HTTPGateway) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !g.allow(w, userID) {
		return
	}
	if err := g.workflow.Reset(r.Context(), userID); err != nil {
		g.writeWorkflowError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "reset",
		"user_id":   userID,
		"timestamp": unixSeconds(g.clock.Now()),
	})
}

// handleAssociated lists the individual sub-clients a main individual may
// run the intake for. The reference query parameter defaults to individual.
func (g *HTTPGateway) handleAssociated(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(chi.URLParam(r, "client_id"))
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		reference = records.ReferenceIndividual
	}
	ref, err := records.NormalizeReference(reference)
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	list, err := g.clients.Associated(r.Context(), clientID, ref)
	switch {
	case errors.Is(err, records.ErrUnsupportedReference):
		g.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, records.ErrClientNotFound):
		g.writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case err != nil:
		g.log.Error("association lookup failed", "client_id", clientID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		g.writeError(w, http.StatusInternalServerError, workflow.KindPersistence.String(), "association lookup failed")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"client_id":    clientID,
		"reference":    ref,
		"associations": list,
		"timestamp":    unixSeconds(g.clock.Now()),
	})
}

func (g *HTTPGateway) allow(w http.ResponseWriter, key string) bool {
	allowed, retryAfter := g.limiter.AllowWithRetry(key)
	if allowed {
		return true
	}
	retrySeconds := int(retryAfter.Seconds())
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySeconds))
	g.writeJSON(w, http.StatusTooManyRequests, RateLimitError{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests for this user. Please slow down.",
		RetryAfter: retrySeconds,
		Timestamp:  unixSeconds(g.clock.Now()),
	})
	return false
}

// statusFor maps a driver error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, workflow.ErrNoRun) {
		return http.StatusNotFound
	}
	switch workflow.KindOf(err) {
	case workflow.KindInvalidRequest:
		return http.StatusBadRequest
	case workflow.KindSchemaGeneration, workflow.KindResponder, workflow.KindClassification:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (g *HTTPGateway) writeWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := workflow.KindOf(err).String()
	if status >= http.StatusInternalServerError {
		g.log.Error("workflow request failed", "kind", kind, "request_id", middleware.GetReqID(r.Context()), "error", err)
	} else {
		g.log.Info("workflow request rejected", "kind", kind, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	g.writeError(w, status, kind, err.Error())
}

func (g *HTTPGateway) writeError(w http.ResponseWriter, status int, kind, msg string) {
	g.writeJSON(w, status, ErrorBody{
		Error:     msg,
		Kind:      kind,
		Timestamp: unixSeconds(g.clock.Now()),
	})
}

func (g *HTTPGateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
