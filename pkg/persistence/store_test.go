package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportflow/pkg/supportlog"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "supportflow.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenCreatesSchema(t *testing.T) {
	s, _ := openTestStore(t)
	version, err := GetSchemaVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "supportflow.db")

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.WriteSessionRecord(ctx, supportlog.SessionRecord{
		Timestamp: time.Now(), SessionID: "s1", Status: "success",
	}))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	records, err := second.SessionRecords(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMigrateFromVersion1(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, ddl := range []string{
		`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`,
		`INSERT INTO schema_version (version) VALUES (1)`,
		`CREATE TABLE session_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT, session_id TEXT NOT NULL, recorded_at TEXT NOT NULL,
			product TEXT NOT NULL DEFAULT '', question TEXT NOT NULL DEFAULT '', status TEXT NOT NULL,
			feedback TEXT NOT NULL DEFAULT '', gather_attempts INTEGER NOT NULL DEFAULT 0,
			retrieval_attempts INTEGER NOT NULL DEFAULT 0, escalated INTEGER NOT NULL DEFAULT 0)`,
		`CREATE TABLE tickets (
			id TEXT PRIMARY KEY, session_id TEXT NOT NULL, created_at TEXT NOT NULL,
			product TEXT NOT NULL DEFAULT '', description TEXT NOT NULL DEFAULT '',
			last_answer TEXT NOT NULL DEFAULT '', reason_code TEXT NOT NULL)`,
		`INSERT INTO session_records (session_id, recorded_at, status)
			VALUES ('old', '2025-01-01T00:00:00.000000000Z', 'failure')`,
	} {
		_, err := db.Exec(ddl)
		require.NoError(t, err, ddl)
	}
	require.NoError(t, db.Close())

	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	version, err := GetSchemaVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	records, err := s.SessionRecords(ctx, "old")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].FeedbackCollected)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (99)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(ctx, path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestSessionRecordRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	rec := supportlog.SessionRecord{
		Timestamp:         time.Date(2026, 3, 2, 10, 4, 5, 123000000, time.UTC),
		SessionID:         "s-1",
		Product:           "xps-13",
		Question:          "battery, not charging",
		Status:            "success",
		Feedback:          "satisfied",
		GatherAttempts:    2,
		RetrievalAttempts: 1,
		FeedbackCollected: true,
	}
	require.NoError(t, s.WriteSessionRecord(ctx, rec))

	got, err := s.SessionRecords(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestWriteSessionRecordRejectsUnknownStatus(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.WriteSessionRecord(context.Background(), supportlog.SessionRecord{
		Timestamp: time.Now(), SessionID: "s", Status: "pending",
	})
	assert.Error(t, err)
}

func TestWriteTicketDuplicateID(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	tk := supportlog.Ticket{Timestamp: time.Now(), ID: "t-1", SessionID: "s", ReasonCode: "user_unsatisfied"}
	require.NoError(t, s.WriteTicket(ctx, tk))
	assert.Error(t, s.WriteTicket(ctx, tk))
}

func TestReports(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []string{"success", "escalated", "success", "failure", "escalated", "success"} {
		require.NoError(t, s.WriteSessionRecord(ctx, supportlog.SessionRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute), SessionID: "s", Status: status,
			RetrievalAttempts: i % 4,
		}))
	}
	for i, reason := range []string{"retrieval_exhausted", "capability_failure", "user_unsatisfied"} {
		require.NoError(t, s.WriteTicket(ctx, supportlog.Ticket{
			Timestamp: base.Add(time.Duration(i) * time.Second), ID: reason, SessionID: "s", ReasonCode: reason,
		}))
	}

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{{"escalated", 2}, {"failure", 1}, {"success", 3}}, counts)

	sum, err := s.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Sessions)
	assert.Equal(t, 3, sum.Tickets)
	assert.InDelta(t, 7.0/6.0, sum.AvgRetrievalAttempts, 1e-9)

	latest, err := s.LatestTickets(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "user_unsatisfied", latest[0].ID)
	assert.Equal(t, "capability_failure", latest[1].ID)
	assert.Equal(t, base.Add(2*time.Second), latest[0].Timestamp)

	none, err := s.LatestTickets(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreAsSessionLogger(t *testing.T) {
	s, _ := openTestStore(t)
	var logger supportlog.SessionLogger = s
	ctx := context.Background()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- logger.WriteSessionRecord(ctx, supportlog.SessionRecord{Timestamp: time.Now(), SessionID: "c", Status: "failure"})
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}
	records, err := s.SessionRecords(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, records, 10)
}
