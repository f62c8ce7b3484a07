// Package escalation decides, from a finished session, whether a human needs
// a ticket and what it should say.
package escalation

import (
	"time"

	"github.com/google/uuid"

	"supportflow/pkg/session"
	"supportflow/pkg/supportlog"
)

// Ticket reason codes.
const (
	ReasonRetrievalExhausted = "retrieval_exhausted"
	ReasonCapabilityFailure  = "capability_failure"
	ReasonUserUnsatisfied    = "user_unsatisfied"
	ReasonSessionAbandoned   = "session_abandoned"
)

// Decision is everything the LOG step writes.
type Decision struct {
	Record supportlog.SessionRecord
	// Ticket is nil when no ticket is due.
	Ticket *supportlog.Ticket
}

// Handler builds decisions. The zero value is not usable; call NewHandler.
type Handler struct {
	now   func() time.Time
	newID func() string
}

// Option customises a Handler.
type Option func(*Handler)

// WithClock fixes the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithIDs fixes the ticket id source.
func WithIDs(newID func() string) Option {
	return func(h *Handler) { h.newID = newID }
}

// NewHandler creates a handler stamping tickets with random UUIDs.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Decide builds the session record and, for escalated sessions and
// unsatisfied users, the ticket. Abandoned sessions are never ticketed.
func (h *Handler) Decide(s *session.State) Decision {
	now := h.now()
	d := Decision{Record: supportlog.NewSessionRecord(s, now)}

	reason, ok := TicketReason(s)
	if !ok {
		return d
	}
	d.Ticket = &supportlog.Ticket{
		Timestamp:   now.UTC(),
		ID:          h.newID(),
		SessionID:   s.ID,
		Product:     s.Product,
		Description: s.GatheredDetails,
		LastAnswer:  s.Answer,
		ReasonCode:  reason,
	}
	return d
}

// TicketReason reports whether s needs a ticket, and why.
func TicketReason(s *session.State) (string, bool) {
	switch {
	case s.Terminal.Reason == ReasonSessionAbandoned:
		return "", false
	case s.Escalated || s.Terminal.Kind == session.TerminalEscalated:
		if s.Terminal.Reason == ReasonCapabilityFailure {
			return ReasonCapabilityFailure, true
		}
		return ReasonRetrievalExhausted, true
	case s.Feedback == session.FeedbackUnsatisfied:
		return ReasonUserUnsatisfied, true
	default:
		return "", false
	}
}

// EscalationReason classifies an escalation about to happen. It is a capability
// failure when the step just executed was GATHER, RETRIEVE or FORMULATE and it
// failed; otherwise automated retrieval ran out of options.
func EscalationReason(s *session.State) string {
	if len(s.Trace) == 0 || len(s.Failures) == 0 {
		return ReasonRetrievalExhausted
	}
	prev := s.Trace[len(s.Trace)-1]
	last := s.Failures[len(s.Failures)-1]
	if last.Step != prev {
		return ReasonRetrievalExhausted
	}
	switch prev {
	case session.StepGather, session.StepRetrieve, session.StepFormulate:
		return ReasonCapabilityFailure
	default:
		return ReasonRetrievalExhausted
	}
}
