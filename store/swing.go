package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const swingColumns = `id, fleet_name, coin_address, take_profit_bps, stop_loss_bps, trailing_stop_bps, cooldown_sec, slippage_bps, enabled, peak_pnl_bps, last_action_at`

func scanSwingConfig(row interface{ Scan(...any) error }) (SwingConfig, error) {
	var c SwingConfig
	var enabled int
	var trailing sql.NullInt64
	var peak sql.NullInt64
	var lastAction sql.NullTime
	if err := row.Scan(&c.ID, &c.FleetName, &c.CoinAddress, &c.TakeProfitBps, &c.StopLossBps,
		&trailing, &c.CooldownSec, &c.SlippageBps, &enabled, &peak, &lastAction); err != nil {
		return SwingConfig{}, err
	}
	c.Enabled = enabled != 0
	if trailing.Valid {
		v := int(trailing.Int64)
		c.TrailingStopBps = &v
	}
	if peak.Valid {
		v := int(peak.Int64)
		c.PeakPnlBps = &v
	}
	if lastAction.Valid {
		v := lastAction.Time
		c.LastActionAt = &v
	}
	return c, nil
}

// CreateSwingConfig inserts a new auto-exit rule for (fleetName,
// coinAddress). Fails with ErrConflict on key collision.
func (s *Store) CreateSwingConfig(ctx context.Context, c SwingConfig) (SwingConfig, error) {
	fleetName := strings.TrimSpace(c.FleetName)
	coinAddress := strings.TrimSpace(c.CoinAddress)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO swing_configs (fleet_name, coin_address, take_profit_bps, stop_loss_bps, trailing_stop_bps, cooldown_sec, slippage_bps, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fleetName, coinAddress, c.TakeProfitBps, c.StopLossBps, c.TrailingStopBps, c.CooldownSec, c.SlippageBps, boolToInt(c.Enabled))
	if err != nil {
		if isUniqueViolation(err) {
			return SwingConfig{}, conflictf("swing config for (%q, %q) already exists", fleetName, coinAddress)
		}
		return SwingConfig{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SwingConfig{}, err
	}
	return s.GetSwingConfigByID(ctx, id)
}

// GetSwingConfigByID looks up a swing config by its primary key.
func (s *Store) GetSwingConfigByID(ctx context.Context, id int64) (SwingConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swingColumns+` FROM swing_configs WHERE id = ?`, id)
	c, err := scanSwingConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SwingConfig{}, notFoundf("swing config %d not found", id)
	}
	return c, err
}

// GetSwingConfig looks up a swing config by its unique (fleetName,
// coinAddress) key.
func (s *Store) GetSwingConfig(ctx context.Context, fleetName, coinAddress string) (SwingConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swingColumns+` FROM swing_configs WHERE fleet_name = ? AND coin_address = ?`,
		strings.TrimSpace(fleetName), strings.TrimSpace(coinAddress))
	c, err := scanSwingConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SwingConfig{}, notFoundf("swing config (%q, %q) not found", fleetName, coinAddress)
	}
	return c, err
}

// ListSwingConfigs returns every swing config, optionally restricted to
// enabled rows only.
func (s *Store) ListSwingConfigs(ctx context.Context, enabledOnly bool) ([]SwingConfig, error) {
	query := `SELECT ` + swingColumns + ` FROM swing_configs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SwingConfig
	for rows.Next() {
		c, err := scanSwingConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateSwingConfig applies a partial update; nil fields in upd leave the
// stored value unchanged. A non-nil double-pointer field (TrailingStopBps,
// PeakPnlBps, LastActionAt) whose inner pointer is nil explicitly clears that
// column to NULL, distinguishing "leave as-is" from "set to null".
func (s *Store) UpdateSwingConfig(ctx context.Context, id int64, upd SwingConfigUpdate) (SwingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetSwingConfigByID(ctx, id)
	if err != nil {
		return SwingConfig{}, err
	}

	takeProfitBps := current.TakeProfitBps
	if upd.TakeProfitBps != nil {
		takeProfitBps = *upd.TakeProfitBps
	}
	stopLossBps := current.StopLossBps
	if upd.StopLossBps != nil {
		stopLossBps = *upd.StopLossBps
	}
	trailingStopBps := current.TrailingStopBps
	if upd.TrailingStopBps != nil {
		trailingStopBps = *upd.TrailingStopBps
	}
	cooldownSec := current.CooldownSec
	if upd.CooldownSec != nil {
		cooldownSec = *upd.CooldownSec
	}
	slippageBps := current.SlippageBps
	if upd.SlippageBps != nil {
		slippageBps = *upd.SlippageBps
	}
	enabled := current.Enabled
	if upd.Enabled != nil {
		enabled = *upd.Enabled
	}
	peakPnlBps := current.PeakPnlBps
	if upd.PeakPnlBps != nil {
		peakPnlBps = *upd.PeakPnlBps
	}
	lastActionAt := current.LastActionAt
	if upd.LastActionAt != nil {
		lastActionAt = *upd.LastActionAt
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE swing_configs SET take_profit_bps = ?, stop_loss_bps = ?, trailing_stop_bps = ?,
			cooldown_sec = ?, slippage_bps = ?, enabled = ?, peak_pnl_bps = ?, last_action_at = ?
		WHERE id = ?`,
		takeProfitBps, stopLossBps, trailingStopBps, cooldownSec, slippageBps, boolToInt(enabled), peakPnlBps, lastActionAt, id); err != nil {
		return SwingConfig{}, err
	}
	return s.GetSwingConfigByID(ctx, id)
}

// DeleteSwingConfig removes a swing config row.
func (s *Store) DeleteSwingConfig(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM swing_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFoundf("swing config %d not found", id)
	}
	return nil
}
