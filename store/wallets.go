package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// CreateWallet inserts a new wallet row. It fails with ErrConflict on name
// or address collision.
func (s *Store) CreateWallet(ctx context.Context, name, address, ownerAddress, providerAccountName string, isMaster bool) (Wallet, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if name == "" || address == "" {
		return Wallet{}, conflictf("wallet name and address are required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (name, address, owner_address, provider_account_name, type, is_master)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, address, strings.TrimSpace(ownerAddress), strings.TrimSpace(providerAccountName), string(WalletTypeSmart), boolToInt(isMaster))
	if err != nil {
		if isUniqueViolation(err) {
			if isMaster {
				return Wallet{}, conflictf("a master wallet already exists; only one is allowed")
			}
			return Wallet{}, conflictf("wallet name %q or address %q already exists", name, address)
		}
		return Wallet{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Wallet{}, err
	}
	return s.GetWalletByID(ctx, id)
}

func (s *Store) scanWallet(row interface{ Scan(...any) error }) (Wallet, error) {
	var w Wallet
	var isMaster int
	if err := row.Scan(&w.ID, &w.Name, &w.Address, &w.OwnerAddress, &w.ProviderAccountName, &w.Type, &isMaster, &w.CreatedAt); err != nil {
		return Wallet{}, err
	}
	w.IsMaster = isMaster != 0
	return w, nil
}

const walletColumns = `id, name, address, owner_address, provider_account_name, type, is_master, created_at`

// GetMasterWallet returns the fleet's single master wallet, or ErrNotFound
// if none has been created yet.
func (s *Store) GetMasterWallet(ctx context.Context) (Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE is_master = 1 LIMIT 1`)
	w, err := s.scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, notFoundf("no master wallet configured")
	}
	return w, err
}

// GetWalletByID looks up a wallet by its primary key.
func (s *Store) GetWalletByID(ctx context.Context, id int64) (Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := s.scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, notFoundf("wallet %d not found", id)
	}
	return w, err
}

// GetWalletByName looks up a wallet by its unique name.
func (s *Store) GetWalletByName(ctx context.Context, name string) (Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE name = ?`, strings.TrimSpace(name))
	w, err := s.scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, notFoundf("wallet %q not found", name)
	}
	return w, err
}

// ListWallets returns every wallet ordered by id.
func (s *Store) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Wallet
	for rows.Next() {
		w, err := s.scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognises SQLite's unique-constraint error text; the
// glebarez/sqlite driver does not expose a typed sqlite3.Error, so this
// mirrors the substring check the teacher's storage layer uses for
// classifying constraint failures.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
