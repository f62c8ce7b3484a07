package supportlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Column headers of the two CSV files.
var (
	SessionHeader = []string{
		"timestamp", "session_id", "product", "question", "status", "escalated",
		"gather_attempts", "retrieval_attempts", "feedback", "feedback_collected",
	}
	TicketHeader = []string{
		"ticket_id", "timestamp", "session_id", "product", "description", "last_answer", "reason_code",
	}
)

// CSVLogger appends session records and tickets to two CSV files. Files and
// their parent directories are created on first write.
type CSVLogger struct {
	sessionPath string
	ticketPath  string
	mu          sync.Mutex
}

// NewCSVLogger creates a logger writing to the given paths.
func NewCSVLogger(sessionPath, ticketPath string) *CSVLogger {
	return &CSVLogger{sessionPath: sessionPath, ticketPath: ticketPath}
}

// WriteSessionRecord implements SessionLogger.
func (c *CSVLogger) WriteSessionRecord(_ context.Context, rec SessionRecord) error {
	return c.appendRow(c.sessionPath, SessionHeader, []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.SessionID,
		rec.Product,
		rec.Question,
		rec.Status,
		strconv.FormatBool(rec.Escalated),
		strconv.Itoa(rec.GatherAttempts),
		strconv.Itoa(rec.RetrievalAttempts),
		rec.Feedback,
		strconv.FormatBool(rec.FeedbackCollected),
	})
}

// WriteTicket implements SessionLogger.
func (c *CSVLogger) WriteTicket(_ context.Context, t Ticket) error {
	return c.appendRow(c.ticketPath, TicketHeader, []string{
		t.ID,
		t.Timestamp.Format(time.RFC3339),
		t.SessionID,
		t.Product,
		t.Description,
		t.LastAnswer,
		t.ReasonCode,
	})
}

func (c *CSVLogger) appendRow(path string, header, row []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write row to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Sync()
}

// ReadRows returns every row of a CSV log, header included.
func ReadRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}
