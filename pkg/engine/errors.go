package engine

import (
	"errors"
	"fmt"

	"supportflow/pkg/session"
)

var (
	// ErrInvariantViolation marks a broken state machine. It is fatal to the session.
	ErrInvariantViolation = session.ErrInvariantViolation

	// ErrSessionAbandoned is returned when the user left or the caller
	// cancelled before the session reached LOG on its own.
	ErrSessionAbandoned = errors.New("session abandoned")
)

// InvariantError reports the step after which the state machine broke.
type InvariantError struct {
	Step   session.Step
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation after %s: %s", e.Step, e.Detail)
}

// Unwrap makes errors.Is(err, ErrInvariantViolation) hold.
func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// abandonment carries the reason a step saw the user leave.
type abandonment struct {
	step   session.Step
	reason string
}

func (a *abandonment) Error() string {
	return fmt.Sprintf("user left during %s: %s", a.step, a.reason)
}
