package datahub

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/provider"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStore(database.NewWithConn(sqlxDB, "datahub_test")), mock
}

func TestGetLastUpdated(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"symbol", "last_updated"}).
		AddRow("AAPL", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery(`SELECT symbol, last_updated FROM historical_symbol_state`).
		WithArgs("EODHD", pq.Array([]string{"AAPL", "MSFT"})).
		WillReturnRows(rows)

	got, err := store.GetLastUpdated(context.Background(), "EODHD", []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	require.Contains(t, got, "AAPL")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCronForIntervalNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT cron FROM accepted_intervals`).
		WithArgs("3w").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.GetCronForInterval(context.Background(), "3w")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCronForIntervalFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT cron FROM accepted_intervals`).
		WithArgs("1w").
		WillReturnRows(sqlmock.NewRows([]string{"cron"}).AddRow("0 0 * * 0"))

	cron, ok, err := store.GetCronForInterval(context.Background(), "1w")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0 0 * * 0", cron)
}

func TestGetPreferencesMissingRowReturnsDefaults(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT preferences FROM code_registry`).
		WithArgs("EODHD").
		WillReturnError(sql.ErrNoRows)

	p, err := store.GetPreferences(context.Background(), "EODHD")
	require.NoError(t, err)
	require.Equal(t, defaultLookbackDays, p.Data.LookbackDays)
}

func TestInsertBarsFallsBackOnUniqueViolation(t *testing.T) {
	store, mock := newTestStore(t)

	bars := []provider.Bar{
		{TS: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), Sym: "AAPL", O: 1, H: 2, L: 0.5, C: 1.5, V: 1000},
	}

	mock.ExpectPrepare("COPY").
		WillBeClosed()
	mock.ExpectExec("COPY").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec(`INSERT INTO historical_data`).
		WithArgs(bars[0].TS, bars[0].Sym, "EODHD", "provider", "1d", bars[0].O, bars[0].H, bars[0].L, bars[0].C, bars[0].V).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertBars(context.Background(), "historical_data", "EODHD", "1d", bars)
	require.NoError(t, err)
}
