// Package database provides the shared Postgres connection pool and
// transaction helpers used by DataHub and Registry.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Postgres driver
)

// DB wraps a connection pool with production-grade pool configuration.
type DB struct {
	conn *sqlx.DB
	name string // friendly name for logging ("datahub", "registry")
}

// Config holds database configuration.
type Config struct {
	DSN  string
	Name string
}

// New opens a Postgres connection pool and verifies connectivity.
func New(cfg Config) (*DB, error) {
	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configureConnectionPool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, name: cfg.Name}, nil
}

// NewWithConn wraps an already-open *sqlx.DB, bypassing dial/ping. Used by
// tests to inject a sqlmock-backed connection.
func NewWithConn(conn *sqlx.DB, name string) *DB {
	return &DB{conn: conn, name: name}
}

// configureConnectionPool sets up connection pool limits for long-running
// services sharing one Postgres instance across DataHub and Registry.
func configureConnectionPool(conn *sqlx.DB) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sqlx.DB.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Name returns the database name for logging.
func (db *DB) Name() string {
	return db.name
}

// WithTransaction executes fn within a transaction. It handles begin,
// commit, rollback, and panic recovery automatically. If fn returns an
// error or panics, the transaction is rolled back.
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// WithSavepoint runs fn inside a named SAVEPOINT on an already-open
// transaction. A failure in fn rolls back only to the savepoint, leaving the
// surrounding transaction usable. The per-row asset upsert and per-candidate
// mapping insert both depend on this.
func WithSavepoint(tx *sqlx.Tx, name string, fn func() error) error {
	if _, err := tx.Exec(fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := tx.Exec(fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name)); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s failed: %w (original error: %v)", name, rbErr, err)
		}
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf("RELEASE SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}

	return nil
}

// HealthCheck performs a liveness check on the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}
	return nil
}

