package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidTransition is returned when a conditional status update finds
	// the run in a status that does not permit the change.
	ErrInvalidTransition = errors.New("storage: invalid status transition")

	// ErrRetryBudgetExhausted is returned by RequeueForRetry when the run has
	// already used every retry.
	ErrRetryBudgetExhausted = errors.New("storage: retry budget exhausted")
)
