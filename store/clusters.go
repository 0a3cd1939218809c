package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const clusterColumns = `id, name, strategy_mode, created_at`

func (s *Store) scanCluster(row interface{ Scan(...any) error }) (Cluster, error) {
	var c Cluster
	if err := row.Scan(&c.ID, &c.Name, &c.StrategyMode, &c.CreatedAt); err != nil {
		return Cluster{}, err
	}
	return c, nil
}

// CreateCluster inserts a new named fleet. Fails with ErrConflict on name
// collision.
func (s *Store) CreateCluster(ctx context.Context, name string, mode StrategyMode) (Cluster, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Cluster{}, conflictf("cluster name is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO clusters (name, strategy_mode) VALUES (?, ?)`, name, string(mode))
	if err != nil {
		if isUniqueViolation(err) {
			return Cluster{}, conflictf("cluster name %q already exists", name)
		}
		return Cluster{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Cluster{}, err
	}
	return s.GetClusterByID(ctx, id)
}

// GetClusterByID looks up a cluster by its primary key.
func (s *Store) GetClusterByID(ctx context.Context, id int64) (Cluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ?`, id)
	c, err := s.scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cluster{}, notFoundf("cluster %d not found", id)
	}
	return c, err
}

// GetClusterByName looks up a cluster by its unique name.
func (s *Store) GetClusterByName(ctx context.Context, name string) (Cluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE name = ?`, strings.TrimSpace(name))
	c, err := s.scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Cluster{}, notFoundf("cluster %q not found", name)
	}
	return c, err
}

// ListClusters returns every cluster ordered by id.
func (s *Store) ListClusters(ctx context.Context) ([]Cluster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clusterColumns+` FROM clusters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cluster
	for rows.Next() {
		c, err := s.scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetClusterWallets replaces a cluster's ordered member list in one
// transaction. Every member must reference an existing wallet (ErrNotFound
// otherwise) that is not the master wallet (ErrConflict otherwise); on
// either failure the previous member list is left unchanged.
func (s *Store) SetClusterWallets(ctx context.Context, clusterID int64, walletIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_wallets WHERE cluster_id = ?`, clusterID); err != nil {
		return err
	}
	for i, walletID := range walletIDs {
		wallet, err := s.scanWallet(tx.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, walletID))
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("wallet %d not found", walletID)
		}
		if err != nil {
			return err
		}
		if wallet.IsMaster {
			return conflictf("master wallet %d cannot be a cluster member", walletID)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cluster_wallets (cluster_id, wallet_id, position) VALUES (?, ?, ?)`, clusterID, walletID, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListClusterWalletDetails returns the cluster's member wallets in dispatch
// order (the order SetClusterWallets assigned).
func (s *Store) ListClusterWalletDetails(ctx context.Context, clusterID int64) ([]ClusterWallet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.`+walletColumns+`, cw.position
		FROM cluster_wallets cw
		JOIN wallets w ON w.id = cw.wallet_id
		WHERE cw.cluster_id = ?
		ORDER BY cw.position`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClusterWallet
	for rows.Next() {
		var cw ClusterWallet
		var isMaster int
		if err := rows.Scan(&cw.ID, &cw.Name, &cw.Address, &cw.OwnerAddress, &cw.ProviderAccountName, &cw.Type, &isMaster, &cw.CreatedAt, &cw.Position); err != nil {
			return nil, err
		}
		cw.IsMaster = isMaster != 0
		out = append(out, cw)
	}
	return out, rows.Err()
}

// DeleteCluster removes the cluster row and its membership rows. Member
// wallets are left untouched.
func (s *Store) DeleteCluster(ctx context.Context, clusterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_wallets WHERE cluster_id = ?`, clusterID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, clusterID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundf("cluster %d not found", clusterID)
	}
	return tx.Commit()
}
