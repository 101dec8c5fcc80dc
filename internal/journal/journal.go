package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Kind classifies a journal event.
type Kind string

const (
	// KindEdit records a user writing a field value.
	KindEdit Kind = "edit"
	// KindSyncRequest records an outgoing draft sync payload.
	KindSyncRequest Kind = "sync_request"
	// KindSyncResponse records a draft sync response, including the
	// server-computed values.
	KindSyncResponse Kind = "sync_response"
	// KindSyncFailure records a sync call that returned an error.
	KindSyncFailure Kind = "sync_failure"
	// KindCommit records the final persisted record.
	KindCommit Kind = "commit"
)

// Event is one journaled session event.
type Event struct {
	ID        string
	SessionID string
	Seq       int64
	Kind      Kind
	Field     string
	Payload   map[string]any
	CreatedAt time.Time
}

// Journal provides durable storage for form session event logs.
// Uses SQLite with WAL mode for concurrent read access.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite journal at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one event. A missing ID is assigned; a missing
// CreatedAt is stamped with the current time. Appending a (session,
// seq) pair that already exists fails, preserving the dense-sequence
// invariant.
func (j *Journal) Append(ctx context.Context, event Event) error {
	if event.SessionID == "" {
		return fmt.Errorf("append event: empty session id")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = j.now()
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("append event: marshal payload: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events (id, session_id, seq, kind, field, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.SessionID, event.Seq, string(event.Kind), event.Field,
		string(payloadJSON), event.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns a session's events ordered by seq ASC.
func (j *Journal) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, seq, kind, field, payload, created_at
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// ListSessions returns every distinct session id in the journal,
// ordered alphabetically.
func (j *Journal) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT DISTINCT session_id FROM events
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// LastSeq returns the highest seq recorded for a session, zero when
// the session has no events. Used when resuming a session's event
// counter after a crash.
func (j *Journal) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = ?
	`, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return seq, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var event Event
	var kind, payloadJSON, createdAt string
	if err := rows.Scan(&event.ID, &event.SessionID, &event.Seq, &kind,
		&event.Field, &payloadJSON, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	event.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return Event{}, fmt.Errorf("scan event payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("scan event timestamp: %w", err)
	}
	event.CreatedAt = ts
	return event, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
