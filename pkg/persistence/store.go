// Package persistence provides SQLite-based storage for session records and
// escalation tickets.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"supportflow/pkg/logx"
	"supportflow/pkg/supportlog"
)

// Store is a SQLite-backed supportlog.SessionLogger.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the database at path and brings its schema to the
// current version.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, logger: logx.NewLogger("persistence")}
	s.logger.Info("Database initialized: %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// WriteSessionRecord implements supportlog.SessionLogger.
func (s *Store) WriteSessionRecord(ctx context.Context, rec supportlog.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (
			session_id, recorded_at, product, question, status, feedback,
			gather_attempts, retrieval_attempts, escalated, feedback_collected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, formatTime(rec.Timestamp), rec.Product, rec.Question, rec.Status, rec.Feedback,
		rec.GatherAttempts, rec.RetrievalAttempts, rec.Escalated, rec.FeedbackCollected,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session record %s: %w", rec.SessionID, err)
	}
	return nil
}

// WriteTicket implements supportlog.SessionLogger.
func (s *Store) WriteTicket(ctx context.Context, t supportlog.Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, session_id, created_at, product, description, last_answer, reason_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, formatTime(t.Timestamp), t.Product, t.Description, t.LastAnswer, t.ReasonCode,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket %s: %w", t.ID, err)
	}
	return nil
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
