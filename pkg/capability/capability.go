// Package capability defines the uniform contract every conversation step
// implements, and the concrete LLM-backed and user-facing capabilities.
//
// A capability never returns a Go error. It returns a Result whose failure
// branch carries a session.Failure, which the engine converts into a routing
// decision.
package capability

import (
	"context"
	"errors"
	"io"

	"supportflow/pkg/llm/middleware/circuit"
	"supportflow/pkg/resilience"
	"supportflow/pkg/session"
)

var (
	// ErrMalformedOutput marks a reply that failed JSON decoding or validation.
	ErrMalformedOutput = errors.New("malformed structured output")

	// ErrAbandoned is returned by a UserChannel when the user left the session.
	ErrAbandoned = errors.New("user abandoned the session")
)

// Result is the discriminated outcome of one capability invocation.
type Result[T any] struct {
	Value   T
	Failure *session.Failure
}

// OK wraps a successful payload.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail builds a failed result for step.
func Fail[T any](step session.Step, kind session.FailureKind, reason string) Result[T] {
	return Result[T]{Failure: &session.Failure{Step: step, Kind: kind, Reason: reason}}
}

// FailWith classifies err and builds a failed result for step.
func FailWith[T any](step session.Step, err error) Result[T] {
	return Result[T]{Failure: FailureFromError(step, err)}
}

// Failed reports whether the invocation failed.
func (r Result[T]) Failed() bool {
	return r.Failure != nil
}

// Capability is the single invoke contract of a step.
type Capability[In, Out any] interface {
	Invoke(ctx context.Context, in In) Result[Out]
}

// Func adapts a plain function to Capability.
type Func[In, Out any] func(ctx context.Context, in In) Result[Out]

// Invoke calls f.
func (f Func[In, Out]) Invoke(ctx context.Context, in In) Result[Out] {
	return f(ctx, in)
}

// Ack is the payload of steps that only have a side effect.
type Ack struct{}

// FailureFromError maps an error onto the failure taxonomy.
func FailureFromError(step session.Step, err error) *session.Failure {
	if err == nil {
		return nil
	}
	kind := session.FailureTransient
	switch {
	case errors.Is(err, ErrAbandoned), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		kind = session.FailureAbandoned
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, resilience.ErrTimeout):
		kind = session.FailureTimeout
	case errors.Is(err, ErrMalformedOutput):
		kind = session.FailureMalformed
	case errors.Is(err, circuit.ErrOpen):
		kind = session.FailureTransient
	}
	return &session.Failure{Step: step, Kind: kind, Reason: err.Error()}
}

// MessageKind styles a message shown to the user.
type MessageKind string

// Message kinds.
const (
	MessageAnswer     MessageKind = "answer"
	MessageNotice     MessageKind = "notice"
	MessageQuestion   MessageKind = "question"
	MessageEscalation MessageKind = "escalation"
)

// UserChannel is the process boundary towards the human in the conversation.
// Implementations return io.EOF or ErrAbandoned when the user leaves.
type UserChannel interface {
	SelectProduct(ctx context.Context, candidates []string) (string, error)
	Ask(ctx context.Context, prompt string) (string, error)
	Show(ctx context.Context, kind MessageKind, text string) error
}
