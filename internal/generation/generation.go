// Package generation turns retrieved context into a takeaway plan and the
// plan into a format-specific script. Both stages are single LLM completions;
// any output that does not satisfy the stage's contract is reported as *Error.
package generation

import (
	"errors"
	"fmt"

	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/model"
)

// Stage names a generation step.
type Stage string

const (
	StagePlan   Stage = "plan"
	StageScript Stage = "script"
)

// Error reports a failed or malformed completion. It is an internal contract
// violation, not a policy matter. Provider is set when the completion call
// itself failed; Err then carries the provider error.
type Error struct {
	Stage    Stage
	Reason   string
	Provider bool
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation: %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("generation: %s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Malformed reports whether the provider answered but the output was empty
// or did not satisfy the stage's contract.
func (e *Error) Malformed() bool {
	return !e.Provider || errors.Is(e.Err, llm.ErrEmptyCompletion)
}

// Target is the size a script should aim for.
type Target struct {
	MinSeconds, MaxSeconds int
	MinWords, MaxWords     int
	MinSlides, MaxSlides   int
}

// Describe renders the target as an instruction fragment.
func (t Target) Describe() string {
	if t.MaxSlides > 0 {
		return fmt.Sprintf("%d to %d slides", t.MinSlides, t.MaxSlides)
	}
	return fmt.Sprintf("%d to %d seconds when spoken, about %d to %d words", t.MinSeconds, t.MaxSeconds, t.MinWords, t.MaxWords)
}

var targets = map[model.Format]map[model.Length]Target{
	model.FormatVideo: {
		model.LengthShort:  {MinSeconds: 30, MaxSeconds: 45, MinWords: 75, MaxWords: 110},
		model.LengthMedium: {MinSeconds: 60, MaxSeconds: 90, MinWords: 150, MaxWords: 220},
		model.LengthLong:   {MinSeconds: 120, MaxSeconds: 180, MinWords: 300, MaxWords: 450},
	},
	model.FormatPodcast: {
		model.LengthShort:  {MinSeconds: 60, MaxSeconds: 120, MinWords: 150, MaxWords: 300},
		model.LengthMedium: {MinSeconds: 180, MaxSeconds: 240, MinWords: 450, MaxWords: 600},
		model.LengthLong:   {MinSeconds: 300, MaxSeconds: 420, MinWords: 750, MaxWords: 1050},
	},
	model.FormatSlides: {
		model.LengthShort:  {MinSlides: 3, MaxSlides: 4},
		model.LengthMedium: {MinSlides: 5, MaxSlides: 7},
		model.LengthLong:   {MinSlides: 8, MaxSlides: 10},
	},
}

// LengthTarget returns the size target for a format and length preset.
// Unknown lengths fall back to medium.
func LengthTarget(format model.Format, length model.Length) Target {
	byLength, ok := targets[format]
	if !ok {
		byLength = targets[model.FormatVideo]
	}
	if t, ok := byLength[length]; ok {
		return t
	}
	return byLength[model.LengthMedium]
}
