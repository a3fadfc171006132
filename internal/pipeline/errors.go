package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/recast/internal/generation"
	"github.com/ashita-ai/recast/internal/guardrail"
	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/retrieval"
)

// ErrGenerationDisabled is returned by StartRun while the generation flag is off.
var ErrGenerationDisabled = errors.New("pipeline: generation is disabled")

// RetryScheduledError is returned by Process when a retriable failure put the
// run back in queued. Err is the failure that triggered the retry.
type RetryScheduledError struct {
	RunID      uuid.UUID
	RetryCount int
	Err        error
}

func (e *RetryScheduledError) Error() string {
	return fmt.Sprintf("pipeline: run %s requeued (retry %d): %v", e.RunID, e.RetryCount, e.Err)
}

func (e *RetryScheduledError) Unwrap() error { return e.Err }

// IsRetriable classifies a processing failure. Policy violations are never
// retriable. Malformed or empty generation output always is. Provider and
// backend failures are retriable only when they are transient: timeouts,
// connection failures, rate limits, or server-side errors.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var violation *guardrail.Violation
	if errors.As(err, &violation) {
		return false
	}
	var rerr *retrieval.Error
	if errors.As(err, &rerr) {
		return rerr.Transient
	}
	var gerr *generation.Error
	if errors.As(err, &gerr) && gerr.Malformed() {
		return true
	}
	return llm.IsTransient(err)
}

// UserMessage returns the short failure text stored on a failed run.
func UserMessage(err error) string {
	var violation *guardrail.Violation
	if errors.As(err, &violation) {
		return "Blocked by content policy: " + violation.Reason
	}
	var rerr *retrieval.Error
	if errors.As(err, &rerr) && rerr.Err == nil {
		return "No relevant content was found for this request"
	}
	var gerr *generation.Error
	if errors.As(err, &gerr) && gerr.Malformed() {
		return "Content generation did not produce usable output"
	}
	if IsRetriable(err) {
		return "Generation failed after repeated temporary errors, please try again later"
	}
	return "Generation failed"
}
