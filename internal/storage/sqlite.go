// Package storage persists agreements, identities, reputation, the oracle
// registry, value balances and the event outbox in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/ssd-technologies/arbiter/internal/escrow"
	"github.com/ssd-technologies/arbiter/internal/logger"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; transactions never interleave.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB, log: logger.Component("storage")}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
//
// Unsigned 64-bit amounts and counters are stored bit-for-bit in INTEGER
// columns and must only be compared after reading them back.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agreements (
    transaction_id TEXT PRIMARY KEY,
    payer TEXT NOT NULL,
    payee TEXT NOT NULL,
    amount INTEGER NOT NULL,
    token_mint TEXT,
    token_decimals INTEGER,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    quality_score INTEGER,
    refund_percentage INTEGER,
    version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS oracle_submissions (
    transaction_id TEXT NOT NULL,
    oracle TEXT NOT NULL,
    score INTEGER NOT NULL,
    submitted_at INTEGER NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (transaction_id, oracle),
    FOREIGN KEY (transaction_id) REFERENCES agreements(transaction_id)
);

CREATE TABLE IF NOT EXISTS entity_reputation (
    entity TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    verification TEXT NOT NULL,
    total_transactions INTEGER NOT NULL DEFAULT 0,
    disputes_filed INTEGER NOT NULL DEFAULT 0,
    disputes_won INTEGER NOT NULL DEFAULT 0,
    disputes_partial INTEGER NOT NULL DEFAULT 0,
    disputes_lost INTEGER NOT NULL DEFAULT 0,
    average_quality_received INTEGER NOT NULL DEFAULT 0,
    reputation_score INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
    owner TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    agent_type TEXT NOT NULL,
    reputation INTEGER NOT NULL,
    stake_amount INTEGER NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    last_active INTEGER NOT NULL,
    total_escrows INTEGER NOT NULL DEFAULT 0,
    successful_escrows INTEGER NOT NULL DEFAULT 0,
    disputed_escrows INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS oracle_registry (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    admin TEXT NOT NULL,
    min_consensus INTEGER NOT NULL,
    max_score_deviation INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS oracles (
    identity TEXT PRIMARY KEY,
    oracle_type TEXT NOT NULL,
    weight INTEGER NOT NULL,
    position INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balances (
    address TEXT NOT NULL,
    asset TEXT NOT NULL,
    amount INTEGER NOT NULL,
    PRIMARY KEY (address, asset)
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    subject TEXT NOT NULL,
    data TEXT NOT NULL,
    at INTEGER NOT NULL,
    delivered_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_agreements_payer ON agreements(payer);
CREATE INDEX IF NOT EXISTS idx_agreements_status ON agreements(status);
CREATE INDEX IF NOT EXISTS idx_events_pending ON events(delivered_at, seq);`
	_, err := d.db.Exec(schema)
	return err
}

// Atomic runs fn inside one SQL transaction. Any error from fn rolls back
// every write fn made, including balance transfers and enqueued events.
func (d *DB) Atomic(ctx context.Context, fn func(escrow.Tx) error) error {
	return d.inTx(ctx, func(t *tx) error { return fn(t) })
}

func (d *DB) inTx(ctx context.Context, fn func(*tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer d.rollbackTx(sqlTx)

	if err := fn(&tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (d *DB) rollbackTx(t *sql.Tx) {
	if err := t.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		d.log.Error().Err(err).Msg("rollback failed")
	}
}

// tx implements escrow.Tx over a querier.
type tx struct {
	q querier
}

var _ escrow.Tx = (*tx)(nil)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// i64 and u64 convert unsigned values to and from their stored form.
func i64(u uint64) int64 { return int64(u) }
func u64(i int64) uint64 { return uint64(i) }

// mustAffect turns a zero-row update into notFound.
func mustAffect(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
