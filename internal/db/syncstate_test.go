package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return &Store{DB: sqlx.NewDb(mockDB, "sqlmock")}, mock
}

func TestGetSyncStateNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT high_water_mark FROM mls.sync_state").
		WithArgs("Property", "origin-a").
		WillReturnError(sql.ErrNoRows)

	hwm, err := store.GetSyncState(context.Background(), "Property", "origin-a")
	require.NoError(t, err)
	require.True(t, hwm.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSyncStateFound(t *testing.T) {
	store, mock := newMockStore(t)
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"high_water_mark"}).AddRow(want)
	mock.ExpectQuery("SELECT high_water_mark FROM mls.sync_state").
		WithArgs("Property", "origin-a").
		WillReturnRows(rows)

	hwm, err := store.GetSyncState(context.Background(), "Property", "origin-a")
	require.NoError(t, err)
	require.True(t, want.Equal(hwm))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSyncStateUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	hwm := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	mock.ExpectExec("INSERT INTO mls.sync_state").
		WithArgs("Property", "origin-a", hwm).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SetSyncState(context.Background(), "Property", "origin-a", hwm)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
