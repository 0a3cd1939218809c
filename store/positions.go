package store

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
)

const positionColumns = `wallet_id, coin_address, total_cost_wei, total_received_wei, holdings_raw, buy_count, sell_count, first_action_at, last_action_at`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	if err := row.Scan(&p.WalletID, &p.CoinAddress, &p.TotalCostWei, &p.TotalReceivedWei, &p.HoldingsRaw,
		&p.BuyCount, &p.SellCount, &p.FirstActionAt, &p.LastActionAt); err != nil {
		return Position{}, err
	}
	return p, nil
}

func addWei(a, b string) string {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		x = big.NewInt(0)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		y = big.NewInt(0)
	}
	return new(big.Int).Add(x, y).String()
}

// clampNonNegative adds delta to base and floors the result at zero, mirroring
// the holdingsRaw >= 0 invariant: a sell that nominally overdraws recorded
// holdings (e.g. due to rounding in earlier partial fills) never drives the
// ledger negative.
func clampNonNegative(base, delta string) string {
	x, ok := new(big.Int).SetString(base, 10)
	if !ok {
		x = big.NewInt(0)
	}
	d, ok := new(big.Int).SetString(delta, 10)
	if !ok {
		d = big.NewInt(0)
	}
	sum := new(big.Int).Add(x, d)
	if sum.Sign() < 0 {
		return "0"
	}
	return sum.String()
}

// UpsertPosition applies a buy or sell delta to the (walletID, coinAddress)
// ledger, creating the row on first touch. costDelta and receivedDelta
// accumulate monotonically; holdingsDelta is signed (positive on buy,
// negative on sell) and the resulting holdingsRaw is clamped at zero.
func (s *Store) UpsertPosition(ctx context.Context, walletID int64, coinAddress, costDelta, receivedDelta, holdingsDelta string, isBuy bool) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getPositionLocked(ctx, walletID, coinAddress)
	if errors.Is(err, ErrNotFound) {
		holdings := clampNonNegative("0", holdingsDelta)
		buyCount, sellCount := 0, 0
		if isBuy {
			buyCount = 1
		} else {
			sellCount = 1
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO positions (wallet_id, coin_address, total_cost_wei, total_received_wei, holdings_raw, buy_count, sell_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			walletID, coinAddress, zeroIfEmpty(costDelta), zeroIfEmpty(receivedDelta), holdings, buyCount, sellCount); err != nil {
			return Position{}, err
		}
		return s.getPositionLocked(ctx, walletID, coinAddress)
	}
	if err != nil {
		return Position{}, err
	}

	newCost := addWei(existing.TotalCostWei, costDelta)
	newReceived := addWei(existing.TotalReceivedWei, receivedDelta)
	newHoldings := clampNonNegative(existing.HoldingsRaw, holdingsDelta)
	buyCount, sellCount := existing.BuyCount, existing.SellCount
	if isBuy {
		buyCount++
	} else {
		sellCount++
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE positions SET total_cost_wei = ?, total_received_wei = ?, holdings_raw = ?,
			buy_count = ?, sell_count = ?, last_action_at = CURRENT_TIMESTAMP
		WHERE wallet_id = ? AND coin_address = ?`,
		newCost, newReceived, newHoldings, buyCount, sellCount, walletID, coinAddress); err != nil {
		return Position{}, err
	}
	return s.getPositionLocked(ctx, walletID, coinAddress)
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (s *Store) getPositionLocked(ctx context.Context, walletID int64, coinAddress string) (Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE wallet_id = ? AND coin_address = ?`, walletID, coinAddress)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, notFoundf("position (wallet %d, coin %s) not found", walletID, coinAddress)
	}
	return p, err
}

// GetPosition looks up a single (wallet, coin) position.
func (s *Store) GetPosition(ctx context.Context, walletID int64, coinAddress string) (Position, error) {
	return s.getPositionLocked(ctx, walletID, coinAddress)
}

// ListPositionsByWallet returns every coin position held by walletID.
func (s *Store) ListPositionsByWallet(ctx context.Context, walletID int64) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE wallet_id = ? ORDER BY coin_address`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPositionsByCoin returns every wallet's position in coinAddress.
func (s *Store) ListPositionsByCoin(ctx context.Context, coinAddress string) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE coin_address = ? ORDER BY wallet_id`, coinAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPositionsByCluster returns every position held by the cluster's member
// wallets.
func (s *Store) ListPositionsByCluster(ctx context.Context, clusterID int64) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.wallet_id, p.coin_address, p.total_cost_wei, p.total_received_wei, p.holdings_raw,
			p.buy_count, p.sell_count, p.first_action_at, p.last_action_at
		FROM positions p
		JOIN cluster_wallets cw ON cw.wallet_id = p.wallet_id
		WHERE cw.cluster_id = ?
		ORDER BY cw.position, p.coin_address`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
