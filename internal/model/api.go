package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// StartRunResponse is returned by POST /v1/runs/{run_id}/start.
type StartRunResponse struct {
	RunID    uuid.UUID `json:"run_id"`
	HandleID uuid.UUID `json:"handle_id"`
	Status   RunStatus `json:"status"`
}

// FailRunRequest is the body of POST /v1/runs/{run_id}/fail, sent by a
// rendering back end when media rendering fails.
type FailRunRequest struct {
	Message string `json:"message"`
}

// MaxFailureMessageLen bounds the rendering failure message stored on a run.
const MaxFailureMessageLen = 500

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Postgres          string `json:"postgres"`
	Search            string `json:"search,omitempty"`
	GenerationEnabled bool   `json:"generation_enabled"`
	QueueDepth        int    `json:"queue_depth"`
	InFlight          int    `json:"in_flight"`
	Uptime            int64  `json:"uptime_seconds"`

	// Optional collaborators by name ("events", "flags"): "ok" or "unreachable".
	Dependencies map[string]string `json:"dependencies,omitempty"`
}
