package persistence

import (
	"context"
	"fmt"

	"supportflow/pkg/supportlog"
)

// StatusCount is the number of sessions that ended with Status.
type StatusCount struct {
	Status string
	Count  int
}

// Summary aggregates the session log.
type Summary struct {
	Statuses []StatusCount
	Sessions int
	Tickets  int
	// AvgRetrievalAttempts is the mean over all recorded sessions.
	AvgRetrievalAttempts float64
}

// StatusCounts returns session counts per terminal status, ordered by status.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM session_records GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status count rows: %w", err)
	}
	return counts, nil
}

// Summarize returns the status counts plus session and ticket totals.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	counts, err := s.StatusCounts(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Statuses: counts}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(retrieval_attempts), 0) FROM session_records`,
	).Scan(&sum.Sessions, &sum.AvgRetrievalAttempts)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query session totals: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&sum.Tickets); err != nil {
		return Summary{}, fmt.Errorf("failed to count tickets: %w", err)
	}
	return sum, nil
}

// LatestTickets returns up to limit tickets, newest first.
func (s *Store) LatestTickets(ctx context.Context, limit int) ([]supportlog.Ticket, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, created_at, product, description, last_answer, reason_code
		FROM tickets ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tickets []supportlog.Ticket
	for rows.Next() {
		var (
			t       supportlog.Ticket
			created string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &created, &t.Product, &t.Description, &t.LastAnswer, &t.ReasonCode); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		if t.Timestamp, err = parseTime(created); err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticket rows: %w", err)
	}
	return tickets, nil
}

// SessionRecords returns every record of the given session, oldest first.
func (s *Store) SessionRecords(ctx context.Context, sessionID string) ([]supportlog.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, recorded_at, product, question, status, feedback,
		       gather_attempts, retrieval_attempts, escalated, feedback_collected
		FROM session_records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []supportlog.SessionRecord
	for rows.Next() {
		var (
			rec      supportlog.SessionRecord
			recorded string
		)
		if err := rows.Scan(&rec.SessionID, &recorded, &rec.Product, &rec.Question, &rec.Status, &rec.Feedback,
			&rec.GatherAttempts, &rec.RetrievalAttempts, &rec.Escalated, &rec.FeedbackCollected); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		if rec.Timestamp, err = parseTime(recorded); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session record rows: %w", err)
	}
	return records, nil
}
