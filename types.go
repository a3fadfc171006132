package recast

import (
	"time"

	"github.com/google/uuid"
)

// RunEvent is the public view of a run reaching a hand-off or terminal
// status. No internal package imports, so it is safe to use from outside the
// module.
type RunEvent struct {
	RunID       uuid.UUID
	RequesterID string
	Format      string // "video", "podcast", or "slides"
	Status      string // "rendering" or "failed"
	Message     string
	OccurredAt  time.Time
}

// CompletionOptions tune a single LLM completion.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}
