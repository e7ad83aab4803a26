// Package sqlite stores status events in a local SQLite database, for
// single-node deployments that still want durability.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"

	_ "modernc.org/sqlite"
)

// Compile-time check that Store implements eventstore.Store
var _ eventstore.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS status_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	grouping_key TEXT NOT NULL,
	event_time_ns INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	storage_code TEXT NOT NULL DEFAULT '',
	access_group_id INTEGER NOT NULL DEFAULT 0,
	object_id TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 0,
	object_type TEXT NOT NULL DEFAULT '',
	new_name TEXT NOT NULL DEFAULT '',
	public INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	update_time_ns INTEGER,
	update_note TEXT
);

CREATE INDEX IF NOT EXISTS idx_status_events_state ON status_events(state, event_time_ns, seq);
`

const columns = `id, grouping_key, event_time_ns, event_type, storage_code, access_group_id,
	object_id, version, object_type, new_name, public, state, update_time_ns, update_note`

// Store is a SQLite backed event store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Store(ctx context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error) {
	if err := eventstore.CheckStore(ev, state); err != nil {
		return events.StoredEvent{}, err
	}
	id = eventstore.IDOrNew(id)
	ev.Timestamp = ev.Timestamp.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_events (
			id, grouping_key, event_time_ns, event_type, storage_code, access_group_id,
			object_id, version, object_type, new_name, public, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(id), ev.GroupingKey, ev.Timestamp.UnixNano(), string(ev.Type), ev.StorageCode, ev.AccessGroupID,
		ev.ObjectID, ev.Version, ev.ObjectType, ev.NewName, boolToInt(ev.Public), string(state),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return events.StoredEvent{}, eventstore.ErrDuplicateEvent
		}
		return events.StoredEvent{}, classify(fmt.Errorf("insert event %s: %w", id, err))
	}
	return events.StoredEvent{Event: ev, ID: id, State: state}, nil
}

func (s *Store) GetByState(ctx context.Context, state events.ProcessingState, limit int) ([]events.StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM status_events WHERE state = ?
		ORDER BY event_time_ns, seq
		LIMIT ?
	`, string(state), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("query events in state %s: %w", state, err))
	}
	defer rows.Close()

	var out []events.StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id events.EventID) (events.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM status_events WHERE id = ?`, string(id))
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.StoredEvent{}, eventstore.ErrEventNotFound
		}
		return events.StoredEvent{}, classify(fmt.Errorf("get event %s: %w", id, err))
	}
	return ev, nil
}

func (s *Store) SetProcessingState(ctx context.Context, id events.EventID, expected, next events.ProcessingState, note string) (bool, error) {
	if err := eventstore.CheckTransition(id, expected, next); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE status_events SET state = ?, update_time_ns = ?, update_note = ?
		WHERE id = ? AND state = ?
	`, string(next), time.Now().UnixNano(), note, string(id), string(expected))
	if err != nil {
		return false, classify(fmt.Errorf("update event %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (events.StoredEvent, error) {
	var (
		out        events.StoredEvent
		id         string
		typ, state string
		eventNs    int64
		public     int
		updNs      sql.NullInt64
		updNote    sql.NullString
	)
	err := row.Scan(
		&id, &out.Event.GroupingKey, &eventNs, &typ, &out.Event.StorageCode, &out.Event.AccessGroupID,
		&out.Event.ObjectID, &out.Event.Version, &out.Event.ObjectType, &out.Event.NewName, &public,
		&state, &updNs, &updNote,
	)
	if err != nil {
		return events.StoredEvent{}, err
	}
	out.ID = events.EventID(id)
	out.Event.Timestamp = time.Unix(0, eventNs).UTC()
	out.Event.Type = events.EventType(typ)
	out.Event.Public = public != 0
	out.State = events.ProcessingState(state)
	if updNs.Valid {
		out.LastUpdate = &events.StateUpdate{Time: time.Unix(0, updNs.Int64).UTC(), Note: updNote.String}
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func classify(err error) error {
	if isTransientSQLiteErr(err) {
		return retry.Retriable(err)
	}
	return retry.Fatal(err)
}

// isTransientSQLiteErr matches lock contention and WAL short reads, which
// modernc.org/sqlite reports only through the error text.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
