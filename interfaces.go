package recast

import (
	"context"
	"net/http"
)

// CompletionClient generates text from a system and user prompt.
// When provided via WithCompletionClient, replaces the configured provider
// for planning, scripting, and policy review.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string, opts CompletionOptions) (string, error)
}

// EmbeddingProvider turns a retrieval query into a vector.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// Ollama/OpenAI provider. Uses []float32 so callers need not import pgvector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// RunEventHook receives a notification when a run is handed off to
// rendering or fails. Hooks run synchronously after the status is persisted
// and must not block indefinitely. Failures are logged and never change the
// run's status.
type RunEventHook interface {
	OnRunEvent(ctx context.Context, ev RunEvent) error
}

// Middleware wraps the root HTTP handler. Applied outermost, so it sees all
// requests including /health.
type Middleware func(http.Handler) http.Handler
