package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	runs                RunReader
	renderer            Renderer
	starter             Starter
	db                  Pinger
	gate                pipeline.Gate
	searcher            HealthChecker
	deps                map[string]HealthChecker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// queueFullRetryAfter is the Retry-After hint when the run queue is full.
const queueFullRetryAfter = "5"

// HandleStartRun handles POST /v1/runs/{run_id}/start.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if run.Status != model.RunStatusQueued {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"run is "+string(run.Status)+", only queued runs can be started")
		return
	}

	handle, err := h.starter.StartRun(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrGenerationDisabled):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "generation is currently disabled")
		return
	case errors.Is(err, pipeline.ErrQueueFull):
		w.Header().Set("Retry-After", queueFullRetryAfter)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "run queue is full, try again shortly")
		return
	case errors.Is(err, pipeline.ErrDispatcherClosed):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "server is shutting down")
		return
	default:
		h.logger.Error("start run failed", "run_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to start run")
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.StartRunResponse{
		RunID:    id,
		HandleID: handle.ID,
		Status:   run.Status,
	})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.GetRun(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleCompleteRun handles POST /v1/runs/{run_id}/complete.
func (h *Handlers) HandleCompleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := h.renderer.CompleteRendering(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleFailRun handles POST /v1/runs/{run_id}/fail.
func (h *Handlers) HandleFailRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	var req model.FailRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}
	run, err := h.renderer.FailRendering(r.Context(), id, strings.TrimSpace(req.Message))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	searchStatus := ""
	if h.searcher != nil {
		searchStatus = "ok"
		if err := h.searcher.Healthy(ctx); err != nil {
			searchStatus = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	var deps map[string]string
	if len(h.deps) > 0 {
		deps = make(map[string]string, len(h.deps))
		for name, dep := range h.deps {
			deps[name] = "ok"
			if err := dep.Healthy(ctx); err != nil {
				deps[name] = "unreachable"
				if status == "healthy" {
					status = "degraded"
				}
			}
		}
	}

	enabled := true
	if h.gate != nil {
		enabled = h.gate.Enabled(ctx)
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:            status,
		Version:           h.version,
		Postgres:          pgStatus,
		Search:            searchStatus,
		GenerationEnabled: enabled,
		QueueDepth:        h.starter.QueueDepth(),
		InFlight:          h.starter.InFlight(),
		Uptime:            int64(time.Since(h.startedAt).Seconds()),
		Dependencies:      deps,
	})
}

// HandleOpenAPISpec handles GET /openapi.yaml.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps storage sentinels to status codes.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "run is not in a state that allows this operation")
	default:
		h.logger.Error("run store error", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}
