// Package supportlog defines the session log and ticket sinks.
package supportlog

import (
	"context"
	"errors"
	"time"

	"supportflow/pkg/session"
)

// SessionRecord is one finished session.
type SessionRecord struct {
	Timestamp         time.Time
	SessionID         string
	Product           string
	Question          string
	Status            string
	Feedback          string
	GatherAttempts    int
	RetrievalAttempts int
	Escalated         bool
	FeedbackCollected bool
}

// Ticket hands a session over to a human agent.
type Ticket struct {
	Timestamp   time.Time
	ID          string
	SessionID   string
	Product     string
	Description string
	LastAnswer  string
	ReasonCode  string
}

// SessionLogger persists session records and tickets. Implementations must be
// safe for concurrent use by several sessions.
type SessionLogger interface {
	WriteSessionRecord(ctx context.Context, rec SessionRecord) error
	WriteTicket(ctx context.Context, t Ticket) error
}

// NewSessionRecord builds the record of a session whose terminal kind is set.
func NewSessionRecord(s *session.State, now time.Time) SessionRecord {
	rec := SessionRecord{
		Timestamp:         now.UTC(),
		SessionID:         s.ID,
		Product:           s.Product,
		Question:          s.EffectiveQuestion(),
		Status:            s.Status(),
		Escalated:         s.Escalated,
		GatherAttempts:    s.GatherAttempts,
		RetrievalAttempts: s.RetrievalAttempts,
		FeedbackCollected: s.Feedback != session.FeedbackNone,
	}
	if rec.FeedbackCollected {
		rec.Feedback = s.Feedback.String()
	}
	return rec
}

// Multi fans writes out to every logger. All loggers are attempted and the
// errors are joined.
type Multi []SessionLogger

// WriteSessionRecord implements SessionLogger.
func (m Multi) WriteSessionRecord(ctx context.Context, rec SessionRecord) error {
	var errs []error
	for _, l := range m {
		if err := l.WriteSessionRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteTicket implements SessionLogger.
func (m Multi) WriteTicket(ctx context.Context, t Ticket) error {
	var errs []error
	for _, l := range m {
		if err := l.WriteTicket(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

// WriteSessionRecord implements SessionLogger.
func (Discard) WriteSessionRecord(context.Context, SessionRecord) error { return nil }

// WriteTicket implements SessionLogger.
func (Discard) WriteTicket(context.Context, Ticket) error { return nil }
