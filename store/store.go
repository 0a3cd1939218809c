// Package store owns every durable fact about wallets, clusters, operations,
// trades, funding records, positions, and swing configs. It is the only
// component that opens a database handle; every mutating method takes a
// context and is safe for concurrent callers — the single-writer discipline
// is enforced by SQLite itself plus an in-process mutex guarding multi-
// statement transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/sqlite"
)

// Store is the primary relational store for the fleet controller.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or upgrades the SQLite database at dsn and returns a ready
// Store. Migrations are idempotent CREATE TABLE/INDEX IF NOT EXISTS
// statements applied unconditionally on every open, so re-opening an
// up-to-date database is a no-op.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dsn, err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate %s: %w", dsn, err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		address TEXT NOT NULL UNIQUE,
		owner_address TEXT NOT NULL,
		provider_account_name TEXT NOT NULL,
		type TEXT NOT NULL,
		is_master INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_single_master ON wallets(is_master) WHERE is_master = 1`,
	`CREATE TABLE IF NOT EXISTS clusters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		strategy_mode TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_wallets (
		cluster_id INTEGER NOT NULL REFERENCES clusters(id),
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (cluster_id, wallet_id)
	)`,
	`CREATE TABLE IF NOT EXISTS operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		cluster_id INTEGER NOT NULL REFERENCES clusters(id),
		status TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL,
		result_json TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_cluster ON operations(cluster_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		from_token TEXT NOT NULL,
		to_token TEXT NOT NULL,
		amount_in TEXT NOT NULL,
		amount_out TEXT,
		user_op_hash TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_wallet ON trades(wallet_id)`,
	`CREATE TABLE IF NOT EXISTS funding_txs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		amount_wei TEXT NOT NULL,
		user_op_hash TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_funding_wallet ON funding_txs(wallet_id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		wallet_id INTEGER NOT NULL REFERENCES wallets(id),
		coin_address TEXT NOT NULL,
		total_cost_wei TEXT NOT NULL DEFAULT '0',
		total_received_wei TEXT NOT NULL DEFAULT '0',
		holdings_raw TEXT NOT NULL DEFAULT '0',
		buy_count INTEGER NOT NULL DEFAULT 0,
		sell_count INTEGER NOT NULL DEFAULT 0,
		first_action_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_action_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (wallet_id, coin_address)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_coin ON positions(coin_address)`,
	`CREATE TABLE IF NOT EXISTS swing_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fleet_name TEXT NOT NULL,
		coin_address TEXT NOT NULL,
		take_profit_bps INTEGER NOT NULL,
		stop_loss_bps INTEGER NOT NULL,
		trailing_stop_bps INTEGER,
		cooldown_sec INTEGER NOT NULL DEFAULT 0,
		slippage_bps INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		peak_pnl_bps INTEGER,
		last_action_at TIMESTAMP,
		UNIQUE (fleet_name, coin_address)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %q: %w", stmt, err)
		}
	}
	return nil
}
