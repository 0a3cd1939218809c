// Package signal adapts the coin-intelligence SQLite store into the read
// slice the autonomy loop and policy enforcer consume. It owns a second
// database file, entirely separate from the primary store, and writes only
// to its own watchlist table — it is a read-only dependency on the rest of
// the schema the ingester maintains.
package signal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/glebarez/sqlite"

	"fleetctl/apperrors"
)

// Coin is one row of the signal adapter's coin view, joined with its latest
// analytics snapshot.
type Coin struct {
	CoinAddress    string
	Symbol         string
	Name           string
	MomentumScore  float64
	Swaps24h       int64
	NetFlowUsd24h  float64
	Volume24h      float64
	CoinURL        string
}

// Adapter is the read-mostly view over the coin-intelligence store.
type Adapter struct {
	db *sql.DB
}

// Open connects to the signal store at dsn. The only schema it creates is
// coin_watchlist (if absent); coins and coin_analytics belong to the
// ingester, and an adapter pointed at a store without them fails on its
// first coin query.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("signal: open %s: %w", dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("signal: ping %s: %w", dsn, err)
	}
	if err := ensureWatchlistTable(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Adapter{db: db}, nil
}

// ensureWatchlistTable creates coin_watchlist if the ingester has not
// already done so; this is the one table the adapter is allowed to write,
// so it is also the one table it is responsible for provisioning.
func ensureWatchlistTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS coin_watchlist (
			list_name TEXT NOT NULL,
			coin_address TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (list_name, coin_address)
		)`)
	return err
}

// Close releases the underlying database handle.
func (a *Adapter) Close() error { return a.db.Close() }

const coinSelect = `
	SELECT c.address, c.symbol, c.name,
		COALESCE(ca.momentum_score, 0), COALESCE(ca.swap_count_24h, 0),
		COALESCE(ca.net_flow_usdc_24h, 0), COALESCE(c.volume_24h, 0)
	FROM coins c
	LEFT JOIN coin_analytics ca ON ca.coin_address = c.address`

func scanCoin(row interface{ Scan(...any) error }) (Coin, error) {
	var c Coin
	if err := row.Scan(&c.CoinAddress, &c.Symbol, &c.Name, &c.MomentumScore, &c.Swaps24h, &c.NetFlowUsd24h, &c.Volume24h); err != nil {
		return Coin{}, err
	}
	c.CoinURL = "https://explorer.invalid/coin/" + c.CoinAddress
	return c, nil
}

// TopMovers returns up to limit coins with momentum_score >= minMomentum,
// sorted descending by momentum score.
func (a *Adapter) TopMovers(ctx context.Context, limit int, minMomentum float64) ([]Coin, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, coinSelect+`
		WHERE COALESCE(ca.momentum_score, 0) >= ?
		ORDER BY COALESCE(ca.momentum_score, 0) DESC
		LIMIT ?`, minMomentum, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoins(rows)
}

// WatchlistSignals returns up to limit enabled coins from listName, sorted
// descending by momentum score.
func (a *Adapter) WatchlistSignals(ctx context.Context, listName string, limit int) ([]Coin, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, coinSelect+`
		JOIN coin_watchlist w ON w.coin_address = c.address
		WHERE w.list_name = ? AND w.enabled = 1
		ORDER BY COALESCE(ca.momentum_score, 0) DESC
		LIMIT ?`, listName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoins(rows)
}

func scanCoins(rows *sql.Rows) ([]Coin, error) {
	var out []Coin
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PumpSignals returns up to limit coins whose net inflow over the last 24h
// is positive, ranked by momentum score descending — a proxy for "pumping"
// coins worth considering as buy candidates.
func (a *Adapter) PumpSignals(ctx context.Context, limit int, minMomentum float64) ([]Coin, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, coinSelect+`
		WHERE COALESCE(ca.momentum_score, 0) >= ? AND COALESCE(ca.net_flow_usdc_24h, 0) > 0
		ORDER BY COALESCE(ca.momentum_score, 0) DESC
		LIMIT ?`, minMomentum, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoins(rows)
}

// DipSignals returns up to limit coins whose net inflow over the last 24h is
// negative, ranked by net outflow magnitude descending — candidates the
// swing loop's exit evaluation or an operator's manual EXIT_COIN intent may
// want visibility into.
func (a *Adapter) DipSignals(ctx context.Context, limit int) ([]Coin, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, coinSelect+`
		WHERE COALESCE(ca.net_flow_usdc_24h, 0) < 0
		ORDER BY COALESCE(ca.net_flow_usdc_24h, 0) ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCoins(rows)
}

// SelectMode picks which pool SelectSignalCoin draws from.
type SelectMode string

const (
	SelectModeTopMomentum SelectMode = "top_momentum"
	SelectModeWatchlist   SelectMode = "watchlist_top"
)

// SelectSignalCoin picks one coin for the autonomy loop to act on. It fails
// with apperrors.ErrNoSignal when the configured pool is empty.
func (a *Adapter) SelectSignalCoin(ctx context.Context, mode SelectMode, listName string, minMomentum float64) (Coin, error) {
	var coins []Coin
	var err error
	switch mode {
	case SelectModeWatchlist:
		coins, err = a.WatchlistSignals(ctx, listName, 1)
	default:
		coins, err = a.TopMovers(ctx, 1, minMomentum)
	}
	if err != nil {
		return Coin{}, err
	}
	if len(coins) == 0 {
		return Coin{}, apperrors.New(apperrors.KindNoSignal, "no qualifying coin found")
	}
	return coins[0], nil
}

// IsCoinInWatchlist reports whether coinAddress is an enabled member of
// listName. An empty listName checks the "default" list, matching
// policy.Config.RequireWatchlistName's default.
func (a *Adapter) IsCoinInWatchlist(ctx context.Context, coinAddress, listName string) (bool, error) {
	if strings.TrimSpace(listName) == "" {
		listName = "default"
	}
	var enabled int
	row := a.db.QueryRowContext(ctx, `SELECT enabled FROM coin_watchlist WHERE list_name = ? AND coin_address = ?`, listName, coinAddress)
	err := row.Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enabled != 0, nil
}

// AddToWatchlist upserts coinAddress into listName with enabled = true.
func (a *Adapter) AddToWatchlist(ctx context.Context, coinAddress, listName string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO coin_watchlist (list_name, coin_address, enabled) VALUES (?, ?, 1)
		ON CONFLICT (list_name, coin_address) DO UPDATE SET enabled = 1`, listName, coinAddress)
	return err
}

// RemoveFromWatchlist upserts coinAddress into listName with enabled =
// false, rather than deleting the row, so a later AddToWatchlist on the
// same pair is a pure toggle.
func (a *Adapter) RemoveFromWatchlist(ctx context.Context, coinAddress, listName string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO coin_watchlist (list_name, coin_address, enabled) VALUES (?, ?, 0)
		ON CONFLICT (list_name, coin_address) DO UPDATE SET enabled = 0`, listName, coinAddress)
	return err
}
