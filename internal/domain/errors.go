package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a uniqueness violation such as a second ACTIVE
	// sequence for the same candidate and funnel.
	ErrConflict = errors.New("conflict")
	// ErrStale signals an optimistic version check failure.
	ErrStale          = errors.New("stale version")
	ErrTickInProgress = errors.New("tick already in progress")
)

// SourceError is a failed or timed-out enrichment fetch.
type SourceError struct {
	Source  string
	Timeout bool
	Err     error
}

func (e *SourceError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("source %s: timed out: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// GateError is a gate that failed to evaluate.
type GateError struct {
	Gate string
	Err  error
}

func (e *GateError) Error() string { return fmt.Sprintf("gate %s: %v", e.Gate, e.Err) }

func (e *GateError) Unwrap() error { return e.Err }

// SendError is a channel adapter failure for one sequence step.
type SendError struct {
	Channel string
	Step    int
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send step %d via %s: %v", e.Step, e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
