// Package postgres stores status events in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"
)

// Compile-time check that Store implements eventstore.Store
var _ eventstore.Store = (*Store)(nil)

const columns = `id, grouping_key, event_time, event_type, storage_code, access_group_id,
		object_id, version, object_type, new_name, public, state, update_time, update_note`

// EnsureSchema creates the status_events table and its state index.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS status_events (
    seq             BIGSERIAL,
    id              VARCHAR(64) PRIMARY KEY,
    grouping_key    TEXT NOT NULL,
    event_time      TIMESTAMPTZ NOT NULL,
    event_type      VARCHAR(32) NOT NULL,
    storage_code    TEXT NOT NULL DEFAULT '',
    access_group_id BIGINT NOT NULL DEFAULT 0,
    object_id       TEXT NOT NULL DEFAULT '',
    version         INTEGER NOT NULL DEFAULT 0,
    object_type     TEXT NOT NULL DEFAULT '',
    new_name        TEXT NOT NULL DEFAULT '',
    public          BOOLEAN NOT NULL DEFAULT FALSE,
    state           VARCHAR(8) NOT NULL,
    update_time     TIMESTAMPTZ,
    update_note     TEXT
);

CREATE INDEX IF NOT EXISTS idx_status_events_state ON status_events(state, event_time, seq);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Store is a PostgreSQL backed event store.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// Open connects to dsn, creates the schema and returns a store that closes
// the pool on Close.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, ownsDB: true}, nil
}

// New wraps an existing pool. The caller owns db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Store(ctx context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error) {
	if err := eventstore.CheckStore(ev, state); err != nil {
		return events.StoredEvent{}, err
	}
	id = eventstore.IDOrNew(id)
	ev.Timestamp = ev.Timestamp.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_events (
			id, grouping_key, event_time, event_type, storage_code, access_group_id,
			object_id, version, object_type, new_name, public, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		string(id), ev.GroupingKey, ev.Timestamp, string(ev.Type), ev.StorageCode, ev.AccessGroupID,
		ev.ObjectID, ev.Version, ev.ObjectType, ev.NewName, ev.Public, string(state),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
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
		FROM status_events WHERE state = $1
		ORDER BY event_time, seq
		LIMIT $2
	`, string(state), limit)
	if err != nil {
		return nil, classify(fmt.Errorf("query events in state %s: %w", state, err))
	}
	defer rows.Close()

	var out []events.StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, retry.Fatal(err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id events.EventID) (events.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM status_events WHERE id = $1`, string(id))
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
		UPDATE status_events SET state = $1, update_time = $2, update_note = $3
		WHERE id = $4 AND state = $5
	`, string(next), time.Now().UTC(), note, string(id), string(expected))
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
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (events.StoredEvent, error) {
	var (
		out        events.StoredEvent
		id         string
		typ, state string
		updTime    sql.NullTime
		updNote    sql.NullString
	)
	err := row.Scan(
		&id, &out.Event.GroupingKey, &out.Event.Timestamp, &typ, &out.Event.StorageCode, &out.Event.AccessGroupID,
		&out.Event.ObjectID, &out.Event.Version, &out.Event.ObjectType, &out.Event.NewName, &out.Event.Public,
		&state, &updTime, &updNote,
	)
	if err != nil {
		return events.StoredEvent{}, err
	}
	out.ID = events.EventID(id)
	out.Event.Type = events.EventType(typ)
	out.Event.Timestamp = out.Event.Timestamp.UTC()
	out.State = events.ProcessingState(state)
	if updTime.Valid {
		out.LastUpdate = &events.StateUpdate{Time: updTime.Time, Note: updNote.String}
	}
	return out, nil
}

// Transient SQLSTATE classes: connection exceptions, transaction rollbacks
// (serialization failures, deadlocks), insufficient resources and operator
// intervention.
var transientClasses = []string{"08", "40", "53", "57"}

func classify(err error) error {
	if isTransient(err) {
		return retry.Retriable(err)
	}
	return retry.Fatal(err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		for _, class := range transientClasses {
			if strings.HasPrefix(string(pqErr.Code), class) {
				return true
			}
		}
	}
	return false
}
