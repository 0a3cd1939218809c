package store

import (
	"context"
	"database/sql"
	"errors"
)

const fundingColumns = `id, wallet_id, amount_wei, user_op_hash, tx_hash, status, error_message, created_at`

func scanFunding(row interface{ Scan(...any) error }) (Funding, error) {
	var f Funding
	if err := row.Scan(&f.ID, &f.WalletID, &f.AmountWei, &f.UserOpHash, &f.TxHash, &f.Status, &f.ErrorMessage, &f.CreatedAt); err != nil {
		return Funding{}, err
	}
	return f, nil
}

// CreateFunding records the outcome of one wallet's funding transfer.
func (s *Store) CreateFunding(ctx context.Context, f Funding) (Funding, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO funding_txs (wallet_id, amount_wei, user_op_hash, tx_hash, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.WalletID, f.AmountWei, f.UserOpHash, f.TxHash, string(f.Status), f.ErrorMessage)
	if err != nil {
		return Funding{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Funding{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+fundingColumns+` FROM funding_txs WHERE id = ?`, id)
	return scanFunding(row)
}

// ListFunding returns funding records for walletID, newest first, bounded by
// limit.
func (s *Store) ListFunding(ctx context.Context, walletID int64, limit int) ([]Funding, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fundingColumns+` FROM funding_txs WHERE wallet_id = ? ORDER BY id DESC LIMIT ?`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Funding
	for rows.Next() {
		f, err := scanFunding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFundingByID looks up a single funding record.
func (s *Store) GetFundingByID(ctx context.Context, id int64) (Funding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fundingColumns+` FROM funding_txs WHERE id = ?`, id)
	f, err := scanFunding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Funding{}, notFoundf("funding record %d not found", id)
	}
	return f, err
}
