package datahub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/instrumentdata/platform/internal/database"
	"github.com/instrumentdata/platform/internal/provider"
)

// SubscriptionRow is one grouped row of the provider_subscription view
// as consumed by the reconciler: a provider/interval/cron tuple with its
// aligned symbol and exchange slices.
type SubscriptionRow struct {
	Provider  string
	Interval  string
	Cron      string
	Symbols   []string
	Exchanges []string
}

// IndexSyncConfig is one code_registry row eligible for the index-sync
// reconciler: an IndexProvider and its resolved sync_frequency preference.
type IndexSyncConfig struct {
	ClassName     string
	SyncFrequency string
}

// Store is the Postgres-backed persistence layer for DataHub.
type Store struct {
	db *database.DB
}

// NewStore constructs a Store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// GetSubscriptions returns the grouped subscription view: for every distinct
// (provider, interval, cron), the aligned symbol and exchange arrays. Only
// subscriptions whose symbol also has a matching assets row are returned,
// so exchange lookups always succeed.
func (s *Store) GetSubscriptions(ctx context.Context) ([]SubscriptionRow, error) {
	const q = `
		SELECT ps.provider, ps.interval, ps.cron,
		       array_agg(ps.symbol ORDER BY ps.symbol) AS syms,
		       array_agg(a.exchange ORDER BY ps.symbol) AS exchanges
		FROM provider_subscription ps
		JOIN assets a ON (
			ps.provider = a.class_name
			AND ps.symbol = a.symbol
		)
		GROUP BY ps.provider, ps.interval, ps.cron`

	rows, err := s.db.Conn().QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var out []SubscriptionRow
	for rows.Next() {
		var r SubscriptionRow
		var exchanges pq.StringArray
		var symbols pq.StringArray
		if err := rows.Scan(&r.Provider, &r.Interval, &r.Cron, &symbols, &exchanges); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		r.Symbols = []string(symbols)
		r.Exchanges = []string(exchanges)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLastUpdated returns, for each symbol with a historical_symbol_state
// row under provider, the last date for which bars are known to exist.
// Symbols absent from the result are new subscriptions.
func (s *Store) GetLastUpdated(ctx context.Context, provider string, symbols []string) (map[string]time.Time, error) {
	const q = `
		SELECT symbol, last_updated
		FROM historical_symbol_state
		WHERE provider = $1 AND symbol = ANY($2)`

	rows, err := s.db.Conn().QueryxContext(ctx, q, provider, pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("querying last updated: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var sym string
		var d time.Time
		if err := rows.Scan(&sym, &d); err != nil {
			return nil, fmt.Errorf("scanning last updated row: %w", err)
		}
		out[sym] = d
	}
	return out, rows.Err()
}

// AdvanceHistoricalSymbolState records that provider/sym now has bars
// through day (inclusive), upserting to the later of the existing and new
// value. Without this, gap detection in GetLastUpdated would never advance
// and every dispatch would re-request the same backfill window.
func (s *Store) AdvanceHistoricalSymbolState(ctx context.Context, provider, sym string, day time.Time) error {
	const q = `
		INSERT INTO historical_symbol_state (provider, symbol, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, symbol) DO UPDATE
		SET last_updated = GREATEST(historical_symbol_state.last_updated, EXCLUDED.last_updated)`
	_, err := s.db.Conn().ExecContext(ctx, q, provider, sym, day)
	return err
}

// GetByClassName implements provider.RowStore by loading a code_registry row
// for class_type='provider'.
func (s *Store) GetByClassName(ctx context.Context, name string) (*provider.Row, error) {
	const q = `
		SELECT file_path, file_hash, nonce, ciphertext
		FROM code_registry
		WHERE class_name = $1 AND class_type = 'provider'`

	var row provider.Row
	var nonce, ciphertext []byte
	err := s.db.Conn().QueryRowxContext(ctx, q, name).Scan(&row.FilePath, &row.FileHash, &nonce, &ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying code_registry: %w", err)
	}
	row.ClassName = name
	row.Nonce = nonce
	row.Ciphertext = ciphertext
	return &row, nil
}

// GetPreferences returns the parsed preferences JSONB for a code_registry
// provider row, or the zero-value defaults if the row does not exist.
func (s *Store) GetPreferences(ctx context.Context, name string) (preferences, error) {
	const q = `
		SELECT preferences
		FROM code_registry
		WHERE class_name = $1 AND class_type = 'provider'`

	var raw []byte
	err := s.db.Conn().QueryRowxContext(ctx, q, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return parsePreferences(nil), nil
	}
	if err != nil {
		return preferences{}, fmt.Errorf("querying preferences: %w", err)
	}
	return parsePreferences(raw), nil
}

// GetIndexProviderSyncConfigs returns every code_registry row whose
// class_subtype is IndexProvider, with its resolved sync_frequency.
func (s *Store) GetIndexProviderSyncConfigs(ctx context.Context) ([]IndexSyncConfig, error) {
	const q = `
		SELECT class_name,
		       COALESCE(preferences->'scheduling'->>'sync_frequency', '1w') AS sync_frequency
		FROM code_registry
		WHERE class_subtype = 'IndexProvider'`

	rows, err := s.db.Conn().QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying index provider sync config: %w", err)
	}
	defer rows.Close()

	var out []IndexSyncConfig
	for rows.Next() {
		var c IndexSyncConfig
		if err := rows.Scan(&c.ClassName, &c.SyncFrequency); err != nil {
			return nil, fmt.Errorf("scanning index sync config row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCronForInterval looks up the crontab template registered for interval
// (e.g. "1w") in accepted_intervals. Returns ("", false) if none exists.
func (s *Store) GetCronForInterval(ctx context.Context, interval string) (string, bool, error) {
	const q = `SELECT cron FROM accepted_intervals WHERE interval = $1`

	var cron string
	err := s.db.Conn().QueryRowxContext(ctx, q, interval).Scan(&cron)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying accepted_intervals: %w", err)
	}
	return cron, true, nil
}

// InsertBars batch-inserts bars into historical_data or live_data. It first
// attempts a fast bulk COPY; on a unique-violation (duplicate bars within
// the batch or already-persisted), it falls back to a fresh connection doing
// row-by-row INSERT ... ON CONFLICT DO NOTHING, since the COPY connection is
// left in an aborted transaction state once Postgres rejects the COPY.
func (s *Store) InsertBars(ctx context.Context, table, providerName, interval string, bars []provider.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	conn, err := s.db.Conn().Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	copyErr := bulkCopy(ctx, conn, table, providerName, interval, bars)
	if copyErr == nil {
		return nil
	}
	if !database.IsUniqueViolation(copyErr) {
		return fmt.Errorf("copying bars into %s: %w", table, copyErr)
	}

	fallbackConn, err := s.db.Conn().Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring fallback connection: %w", err)
	}
	defer fallbackConn.Close()

	return insertWithConflictHandling(ctx, fallbackConn, table, providerName, interval, bars)
}

var barColumns = []string{"ts", "sym", "provider", "kind", "interval", "o", "h", "l", "c", "v"}

// bulkCopy loads bars via pq.CopyIn, the standard lib/pq bulk-load path: a
// prepared statement built from a COPY query string, one Exec per row, then
// a final empty Exec to flush and Close to commit.
func bulkCopy(ctx context.Context, conn *sql.Conn, table, providerName, interval string, bars []provider.Bar) error {
	stmt, err := conn.PrepareContext(ctx, pq.CopyIn(table, barColumns...))
	if err != nil {
		return fmt.Errorf("preparing copy statement: %w", err)
	}

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.TS, b.Sym, providerName, "provider", interval, b.O, b.H, b.L, b.C, b.V); err != nil {
			_ = stmt.Close()
			return err
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return err
	}

	return stmt.Close()
}

// insertWithConflictHandling is the slow path taken after a bulk-copy
// conflict: one INSERT ... ON CONFLICT DO NOTHING per row.
func insertWithConflictHandling(ctx context.Context, conn *sql.Conn, table, providerName, interval string, bars []provider.Bar) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (ts, sym, provider, kind, interval, o, h, l, c, v)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ts, sym, interval, provider) DO NOTHING`, table)

	for _, b := range bars {
		if _, err := conn.ExecContext(ctx, q, b.TS, b.Sym, providerName, "provider", interval, b.O, b.H, b.L, b.C, b.V); err != nil {
			return fmt.Errorf("inserting bar for %s: %w", b.Sym, err)
		}
	}
	return nil
}
