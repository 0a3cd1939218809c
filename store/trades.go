package store

import (
	"context"
	"database/sql"
	"errors"
)

const tradeColumns = `id, wallet_id, from_token, to_token, amount_in, amount_out, user_op_hash, tx_hash, status, error_message, created_at`

func scanTrade(row interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	if err := row.Scan(&t.ID, &t.WalletID, &t.FromToken, &t.ToToken, &t.AmountIn, &t.AmountOut,
		&t.UserOpHash, &t.TxHash, &t.Status, &t.ErrorMessage, &t.CreatedAt); err != nil {
		return Trade{}, err
	}
	return t, nil
}

// CreateTrade records the outcome of one wallet's swap leg.
func (s *Store) CreateTrade(ctx context.Context, t Trade) (Trade, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (wallet_id, from_token, to_token, amount_in, amount_out, user_op_hash, tx_hash, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.WalletID, t.FromToken, t.ToToken, t.AmountIn, t.AmountOut, t.UserOpHash, t.TxHash, string(t.Status), t.ErrorMessage)
	if err != nil {
		return Trade{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Trade{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

// ListTrades returns trades for walletID, newest first, bounded by limit.
func (s *Store) ListTrades(ctx context.Context, walletID int64, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE wallet_id = ? ORDER BY id DESC LIMIT ?`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTradeByID looks up a single trade.
func (s *Store) GetTradeByID(ctx context.Context, id int64) (Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trade{}, notFoundf("trade %d not found", id)
	}
	return t, err
}
