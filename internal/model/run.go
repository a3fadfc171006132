package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a generation run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusRendering  RunStatus = "rendering"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// transitions lists every legal status change. processing → queued is the
// retry path; rendering → completed/failed are driven by the rendering
// collaborator's callback.
var transitions = map[RunStatus][]RunStatus{
	RunStatusQueued:     {RunStatusProcessing, RunStatusFailed},
	RunStatusProcessing: {RunStatusQueued, RunStatusRendering, RunStatusFailed},
	RunStatusRendering:  {RunStatusCompleted, RunStatusFailed},
}

// AllowedFrom returns the statuses from which a run may move to the given
// status, in lifecycle order.
func AllowedFrom(to RunStatus) []RunStatus {
	var from []RunStatus
	for _, s := range []RunStatus{RunStatusQueued, RunStatusProcessing, RunStatusRendering} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GenerationRun is the unit of orchestration state. Created in status queued
// by an external caller; mutated only by the orchestrator afterwards.
type GenerationRun struct {
	ID            uuid.UUID        `json:"id"`
	RequesterID   string           `json:"requester_id"`
	Format        Format           `json:"format"`
	Customization Customization    `json:"customization"`
	Profile       RequesterProfile `json:"profile"`
	PresenterName string           `json:"presenter_name,omitempty"`
	Query         string           `json:"query,omitempty"`
	ChunkIDs      []string         `json:"chunk_ids,omitempty"`
	Plan          *TakeawayPlan    `json:"plan,omitempty"`
	Script        *Script          `json:"script,omitempty"`
	Status        RunStatus        `json:"status"`
	StatusMessage string           `json:"status_message,omitempty"`
	RetryCount    int              `json:"retry_count"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// CreateRunRequest is the input for creating a queued run.
type CreateRunRequest struct {
	RequesterID   string           `json:"requester_id"`
	Customization Customization    `json:"customization"`
	Profile       RequesterProfile `json:"profile"`
	PresenterName string           `json:"presenter_name,omitempty"`
}

// RunUpdate carries the fields to overwrite on a run. Nil fields are left
// unchanged; each set field is last-write-wins.
type RunUpdate struct {
	Status        *RunStatus
	StatusMessage *string
	Query         *string
	ChunkIDs      []string
	Plan          *TakeawayPlan
	Script        *Script
	ErrorMessage  *string
	CompletedAt   *time.Time

	// ExpectStatus narrows a status change to runs currently in this status.
	// Updates that leave Status nil only ever apply to processing runs.
	ExpectStatus *RunStatus
}

// Guard returns the statuses a run must be in for u to apply.
func (u RunUpdate) Guard() []RunStatus {
	if u.Status == nil {
		return []RunStatus{RunStatusProcessing}
	}
	from := AllowedFrom(*u.Status)
	if u.ExpectStatus == nil {
		return from
	}
	for _, s := range from {
		if s == *u.ExpectStatus {
			return []RunStatus{s}
		}
	}
	return []RunStatus{}
}

// IsEmpty reports whether the update sets no field.
func (u RunUpdate) IsEmpty() bool {
	return u.Status == nil && u.StatusMessage == nil && u.Query == nil &&
		u.ChunkIDs == nil && u.Plan == nil && u.Script == nil &&
		u.ErrorMessage == nil && u.CompletedAt == nil
}

// StatusUpdate is a convenience for a status change with a message.
func StatusUpdate(status RunStatus, message string) RunUpdate {
	return RunUpdate{Status: &status, StatusMessage: &message}
}

// RunFilter selects runs for the scheduler.
type RunFilter struct {
	Status        RunStatus
	UpdatedBefore time.Time
	MinRetryCount int
	Limit         int
}

// RunEvent is published when a run reaches a hand-off or terminal status.
type RunEvent struct {
	RunID       uuid.UUID `json:"run_id"`
	RequesterID string    `json:"requester_id"`
	Format      Format    `json:"format"`
	Status      RunStatus `json:"status"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
