package datahub

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/instrumentdata/platform/internal/calendar"
	"github.com/instrumentdata/platform/internal/database"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(database.NewWithConn(sqlx.NewDb(db, "postgres"), "datahub_test"))
	cal := calendar.NewRegistry()
	return NewDispatcher(store, nil, cal, zerolog.Nop()), store, mock
}

func TestBuildHistoricalRequestsNewSubscriptionUsesLookback(t *testing.T) {
	d, _, mock := newTestDispatcher(t)

	mock.ExpectQuery(`SELECT symbol, last_updated FROM historical_symbol_state`).
		WithArgs("EODHD", pq.Array([]string{"BTC-USD"})).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "last_updated"}))
	mock.ExpectQuery(`SELECT preferences FROM code_registry`).
		WithArgs("EODHD").
		WillReturnError(sql.ErrNoRows)

	reqs, err := d.buildHistoricalRequests(context.Background(), dispatchArgs{
		provider:  "EODHD",
		interval:  "1d",
		symbols:   []string{"BTC-USD"},
		exchanges: []string{calendar.MICCrypto},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "BTC-USD", reqs[0].Sym)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildHistoricalRequestsSkipsUpToDateSymbol(t *testing.T) {
	d, _, mock := newTestDispatcher(t)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	mock.ExpectQuery(`SELECT symbol, last_updated FROM historical_symbol_state`).
		WithArgs("EODHD", pq.Array([]string{"BTC-USD"})).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "last_updated"}).AddRow("BTC-USD", yesterday))
	mock.ExpectQuery(`SELECT preferences FROM code_registry`).
		WithArgs("EODHD").
		WillReturnError(sql.ErrNoRows)

	reqs, err := d.buildHistoricalRequests(context.Background(), dispatchArgs{
		provider:  "EODHD",
		interval:  "1d",
		symbols:   []string{"BTC-USD"},
		exchanges: []string{calendar.MICCrypto},
	})
	require.NoError(t, err)
	require.Empty(t, reqs)
}
