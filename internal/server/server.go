// Package server implements the HTTP API for Recast.
//
// The API is the boundary between the content pipeline and its callers:
// a run is created elsewhere, started here, and handed back here by the
// rendering back end once media rendering finishes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/ratelimit"
)

// RunReader loads runs.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (model.GenerationRun, error)
}

// Renderer records the outcome of media rendering.
type Renderer interface {
	CompleteRendering(ctx context.Context, runID uuid.UUID) (model.GenerationRun, error)
	FailRendering(ctx context.Context, runID uuid.UUID, message string) (model.GenerationRun, error)
}

// Starter submits runs for processing.
type Starter interface {
	StartRun(ctx context.Context, runID uuid.UUID) (*pipeline.Handle, error)
	QueueDepth() int
	InFlight() int
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is implemented by the similarity search backend.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Server is the Recast HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Gate, Searcher, Dependencies, Limiter,
// MCPServer, OpenAPISpec, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Runs     RunReader
	Renderer Renderer
	Starter  Starter
	DB       Pinger
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Gate      pipeline.Gate
	Searcher  HealthChecker
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// Dependencies are reported by name on /health. An unreachable one
	// degrades the status without failing the check.
	Dependencies map[string]HealthChecker

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	OpenAPISpec []byte

	// Middlewares wrap the whole chain. The first entry is outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		runs:                cfg.Runs,
		renderer:            cfg.Renderer,
		starter:             cfg.Starter,
		db:                  cfg.DB,
		gate:                cfg.Gate,
		searcher:            cfg.Searcher,
		deps:                cfg.Dependencies,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		openapiSpec:         cfg.OpenAPISpec,
	}

	startRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, 1, rejectRateLimited, cfg.Logger)

	mux := http.NewServeMux()

	// Run lifecycle.
	mux.Handle("POST /v1/runs/{run_id}/start", startRL(http.HandlerFunc(h.HandleStartRun)))
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)

	// Rendering back end callbacks.
	mux.HandleFunc("POST /v1/runs/{run_id}/complete", h.HandleCompleteRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/fail", h.HandleFailRun)

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many run submissions, slow down")
}
