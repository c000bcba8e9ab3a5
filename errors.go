package hive

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the coordination core. Callers classify with
// errors.Is; the HTTP façade maps them onto status codes.
var (
	// ErrNotFound reports a lookup for an unknown agent, task, key, vote,
	// or section.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a uniqueness violation: duplicate agent id,
	// duplicate task id, duplicate vote id.
	ErrConflict = errors.New("already exists")

	// ErrSlotTaken reports a registration against an occupied slot.
	ErrSlotTaken = errors.New("slot taken")

	// ErrInvalid reports malformed or out-of-range input.
	ErrInvalid = errors.New("invalid input")

	// ErrCapacity reports a resource at its configured limit
	// (max agents, knowledge entries, message size).
	ErrCapacity = errors.New("capacity exceeded")

	// ErrFinalized reports an operation against a vote that has already
	// been finalized.
	ErrFinalized = errors.New("vote finalized")

	// ErrLocked reports a section lock held by another agent.
	ErrLocked = errors.New("section locked")

	// ErrTimeout reports a deadline expiry (request round-trip, blocking
	// receive, task deadline).
	ErrTimeout = errors.New("timed out")

	// ErrStopped reports an operation against a stopped component.
	ErrStopped = errors.New("stopped")

	// ErrBreakerOpen reports a message rejected because the recipient's
	// circuit breaker is open.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// ErrHandler wraps a failure (error return or recovered panic) from a
// message handler, identifying the agent and message kind.
type ErrHandler struct {
	AgentID string
	Kind    Kind
	Err     error
}

func (e *ErrHandler) Error() string {
	return fmt.Sprintf("%s: handler %s: %v", e.AgentID, e.Kind, e.Err)
}

func (e *ErrHandler) Unwrap() error { return e.Err }
