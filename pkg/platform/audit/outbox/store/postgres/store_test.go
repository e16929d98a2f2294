package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcred/pkg/platform/audit/outbox"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAppend(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := outbox.NewEntry("submission", "sub-1", "submission_persisted", []byte(`{}`), at)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(entry.ID, "submission", "sub-1", "submission_persisted", []byte(`{}`), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchUnprocessed(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at"}).
		AddRow(id.String(), "batch", "batch-1", "batch_completed", []byte(`{"a":1}`), at)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).WithArgs(1000).WillReturnRows(rows)

	entries, err := store.FetchUnprocessed(context.Background(), 5000)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "batch_completed", entries[0].EventType)
	assert.True(t, entries[0].IsPending())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchUnprocessedZeroLimit(t *testing.T) {
	store, mock := newMock(t)
	entries, err := store.FetchUnprocessed(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessed(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET processed_at")).
		WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.MarkProcessed(context.Background(), id, at))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET processed_at")).
		WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 0))
	require.Error(t, store.MarkProcessed(context.Background(), id, at))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPending(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM outbox")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountPending(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}

func TestDeleteProcessedBefore(t *testing.T) {
	store, mock := newMock(t)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteProcessedBefore(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
