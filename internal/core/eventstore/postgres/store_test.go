package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/storetest"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"
)

var rowColumns = []string{
	"id", "grouping_key", "event_time", "event_type", "storage_code", "access_group_id",
	"object_id", "version", "object_type", "new_name", "public", "state", "update_time", "update_note",
}

func setupMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, New(db)
}

func TestStore_Insert(t *testing.T) {
	ctx := context.Background()
	db, mock, store := setupMock(t)
	defer db.Close()

	ev := storetest.Event("1/2", 10000)
	mock.ExpectExec(`INSERT INTO status_events`).
		WithArgs("id-1", "1/2", ev.Timestamp, "NEW_VERSION", "WS", int64(1), "2", 3, "Narrative", "", false, "UNPROC").
		WillReturnResult(sqlmock.NewResult(1, 1))

	stored, err := store.Store(ctx, "id-1", ev, events.StateUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, events.EventID("id-1"), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO status_events`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := store.Store(ctx, "id-1", storetest.Event("k", 1000), events.StateUnprocessed)
	assert.ErrorIs(t, err, eventstore.ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertTransientFailure(t *testing.T) {
	ctx := context.Background()
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO status_events`).
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	_, err := store.Store(ctx, "", storetest.Event("k", 1000), events.StateUnprocessed)
	assert.True(t, retry.IsRetriable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetByState(t *testing.T) {
	ctx := context.Background()
	db, mock, store := setupMock(t)
	defer db.Close()

	upd := time.UnixMilli(50000).UTC()
	rows := sqlmock.NewRows(rowColumns).
		AddRow("a", "k", time.UnixMilli(1000), "NEW_VERSION", "WS", int64(1), "2", 3, "Narrative", "", false, "READY", nil, nil).
		AddRow("b", "k", time.UnixMilli(2000), "DELETE_ALL_VERSIONS", "WS", int64(1), "2", 0, "", "", false, "READY", upd, "note")
	mock.ExpectQuery(`(?s)SELECT .* FROM status_events WHERE state = \$1\s+ORDER BY event_time, seq\s+LIMIT \$2`).
		WithArgs("READY", 10).
		WillReturnRows(rows)

	got, err := store.GetByState(ctx, events.StateReady, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventID("a"), got[0].ID)
	assert.Nil(t, got[0].LastUpdate)
	assert.Equal(t, events.TypeDeleteAllVersions, got[1].Event.Type)
	require.NotNil(t, got[1].LastUpdate)
	assert.Equal(t, "note", got[1].LastUpdate.Note)
	assert.True(t, upd.Equal(got[1].LastUpdate.Time))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetByStateZeroLimit(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	got, err := store.GetByState(context.Background(), events.StateReady, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetNotFound(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)SELECT .* FROM status_events WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, eventstore.ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SetProcessingState(t *testing.T) {
	ctx := context.Background()
	db, mock, store := setupMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE status_events SET state = \$1`).
		WithArgs("PROC", sqlmock.AnyArg(), "", "e", "READY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE status_events SET state = \$1`).
		WithArgs("PROC", sqlmock.AnyArg(), "", "e", "READY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.SetProcessingState(ctx, "e", events.StateReady, events.StateProcessing, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetProcessingState(ctx, "e", events.StateReady, events.StateProcessing, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CloseDoesNotCloseBorrowedPool(t *testing.T) {
	db, mock, store := setupMock(t)
	defer db.Close()

	require.NoError(t, store.Close(context.Background()))
	assert.NoError(t, db.Ping())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.True(t, retry.IsRetriable(classify(&pq.Error{Code: "08006"})))
	assert.True(t, retry.IsRetriable(classify(&pq.Error{Code: "40P01"})))
	assert.True(t, retry.IsRetriable(classify(&pq.Error{Code: "57P01"})))
	assert.True(t, retry.IsFatal(classify(&pq.Error{Code: "42601"})))
	assert.True(t, retry.IsRetriable(classify(driver.ErrBadConn)))
	assert.True(t, retry.IsFatal(classify(errors.New("boom"))))
}
