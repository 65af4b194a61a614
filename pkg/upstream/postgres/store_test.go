package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/threadsync/pkg/upstream"
)

const (
	pgTestThreadID = "thrd_00112233445566778899aabbccd"
	pgTestData     = `{"locale":"en-US"}`
)

const (
	getQuery    = `SELECT user_data FROM thread_state WHERE thread_id = $1`
	saveQuery   = `INSERT INTO thread_state (thread_id,user_data,updated_at) VALUES ($1,$2,NOW()) ON CONFLICT (thread_id) DO UPDATE SET user_data = EXCLUDED.user_data, updated_at = NOW()`
	deleteQuery = `DELETE FROM thread_state WHERE thread_id = $1`
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return New(db), mock
}

func TestStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(pgTestThreadID).
		WillReturnRows(sqlmock.NewRows([]string{"user_data"}).AddRow(pgTestData))

	data, err := store.Get(context.Background(), pgTestThreadID)
	require.NoError(t, err)
	assert.Equal(t, pgTestData, data)
}

func TestStore_GetMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(pgTestThreadID).
		WillReturnRows(sqlmock.NewRows([]string{"user_data"}))

	_, err := store.Get(context.Background(), pgTestThreadID)
	assert.ErrorIs(t, err, upstream.ErrNotFound)
}

func TestStore_GetQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
		WithArgs(pgTestThreadID).
		WillReturnError(errors.New("connection reset"))

	_, err := store.Get(context.Background(), pgTestThreadID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying thread state")
}

func TestStore_Save(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(saveQuery)).
		WithArgs(pgTestThreadID, pgTestData).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), pgTestThreadID, pgTestData))
}

func TestStore_SaveError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(saveQuery)).
		WithArgs(pgTestThreadID, pgTestData).
		WillReturnError(errors.New("disk full"))

	err := store.Save(context.Background(), pgTestThreadID, pgTestData)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "saving thread state")
}

func TestStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(pgTestThreadID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), pgTestThreadID))
}

func TestStore_DeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(deleteQuery)).
		WithArgs(pgTestThreadID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), pgTestThreadID)
	assert.ErrorIs(t, err, upstream.ErrNotFound)
}

func TestStore_Close(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectClose()
	assert.NoError(t, store.Close())
}
