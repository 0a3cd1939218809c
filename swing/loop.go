// Package swing runs the per-position take-profit/stop-loss/trailing-stop
// evaluation loop, grounded on the same oracle.Manager Run/Tick split as
// package autonomy: a ticker, a select between the ticker and a stop
// signal, and a tick method that never panics out of the loop.
package swing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"fleetctl/apperrors"
	"fleetctl/capability"
	"fleetctl/observability"
	"fleetctl/policy"
	"fleetctl/store"
)

// OperationCreator is the subset of *store.Store the loop needs to propose
// and approve an exit operation.
type OperationCreator interface {
	CreateOperation(ctx context.Context, opType store.OperationType, clusterID int64, requestedBy, payloadJSON string) (store.Operation, error)
	SetOperationApproved(ctx context.Context, id int64, approvedBy string) (store.Operation, error)
}

// PositionSource is the subset of *store.Store the loop needs to read
// current fleet holdings and cost basis.
type PositionSource interface {
	GetClusterByName(ctx context.Context, name string) (store.Cluster, error)
	ListPositionsByCluster(ctx context.Context, clusterID int64) ([]store.Position, error)
	UpdateSwingConfig(ctx context.Context, id int64, upd store.SwingConfigUpdate) (store.SwingConfig, error)
	ListSwingConfigs(ctx context.Context, enabledOnly bool) ([]store.SwingConfig, error)
}

// Executor runs an approved operation to completion.
type Executor interface {
	ExecuteOperation(ctx context.Context, operationID int64) (store.Operation, error)
}

// Quoter prices a coin's holdings back into native currency, the same
// collaborator the execution engine calls for sells.
type Quoter interface {
	QuoteCoinToEth(ctx context.Context, coin string, amount *big.Int) (*big.Int, error)
}

// TriggerKind names which rule fired on a given tick.
type TriggerKind string

const (
	TriggerNone          TriggerKind = ""
	TriggerTakeProfit    TriggerKind = "take_profit"
	TriggerStopLoss      TriggerKind = "stop_loss"
	TriggerTrailingStop  TriggerKind = "trailing_stop"
)

// ConfigOutcome records one swing config's evaluation for a single tick.
type ConfigOutcome struct {
	SwingConfigID int64
	FleetName     string
	CoinAddress   string
	PnlBps        int64
	Trigger       TriggerKind
	OperationID   int64
	Executed      bool
	Err           error
}

// TickOutcome records one full tick's result for observability and tests.
type TickOutcome struct {
	At      time.Time
	Configs []ConfigOutcome
	Err     error
}

// Loop is the swing tick loop: evaluates every enabled SwingConfig each
// interval and synthesizes an EXIT_COIN operation on the first triggered
// rule, in take-profit, stop-loss, trailing-stop precedence.
type Loop struct {
	interval time.Duration
	policy   *policy.Enforcer
	store    interface {
		OperationCreator
		PositionSource
	}
	quoter   Quoter
	executor Executor
	clock    capability.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	lastTick TickOutcome
}

// New builds a Loop. enforcer may be nil in tests that do not exercise the
// policy boundary.
func New(interval time.Duration, enforcer *policy.Enforcer, st interface {
	OperationCreator
	PositionSource
}, quoter Quoter, executor Executor, clock capability.Clock, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = capability.SystemClock{}
	}
	return &Loop{interval: interval, policy: enforcer, store: st, quoter: quoter, executor: executor, clock: clock, logger: logger}
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("swing loop started", "interval", l.interval)
	for {
		outcome := l.Tick(ctx)
		if outcome.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("swing tick failed", "error", outcome.Err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LastTick returns the most recently recorded tick outcome.
func (l *Loop) LastTick() TickOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTick
}

// Tick evaluates every enabled swing config once. It never returns a
// non-nil error a caller must treat as fatal: every per-config failure is
// captured in that config's ConfigOutcome and the tick continues to the
// next config.
func (l *Loop) Tick(ctx context.Context) TickOutcome {
	tick := TickOutcome{At: l.clock.Now().UTC()}

	configs, err := l.store.ListSwingConfigs(ctx, true)
	if err != nil {
		tick.Err = fmt.Errorf("list swing configs: %w", err)
		observability.Loops().RecordTick("swing", tick.Err)
		l.record(tick)
		return tick
	}

	for _, cfg := range configs {
		outcome := l.evaluateConfig(ctx, cfg)
		tick.Configs = append(tick.Configs, outcome)
		if outcome.OperationID != 0 {
			observability.Loops().RecordTriggered("swing")
		}
	}
	observability.Loops().RecordTick("swing", nil)
	l.record(tick)
	return tick
}

func (l *Loop) record(tick TickOutcome) {
	l.mu.Lock()
	l.lastTick = tick
	l.mu.Unlock()
}

func (l *Loop) evaluateConfig(ctx context.Context, cfg store.SwingConfig) ConfigOutcome {
	outcome := ConfigOutcome{SwingConfigID: cfg.ID, FleetName: cfg.FleetName, CoinAddress: cfg.CoinAddress}

	now := l.clock.Now()
	if cfg.LastActionAt != nil && cfg.CooldownSec > 0 {
		if now.Sub(*cfg.LastActionAt) < time.Duration(cfg.CooldownSec)*time.Second {
			return outcome
		}
	}

	cluster, err := l.store.GetClusterByName(ctx, cfg.FleetName)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	positions, err := l.store.ListPositionsByCluster(ctx, cluster.ID)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	totalCost := big.NewInt(0)
	totalHoldings := big.NewInt(0)
	found := false
	for _, p := range positions {
		if p.CoinAddress != cfg.CoinAddress {
			continue
		}
		found = true
		if cost, ok := new(big.Int).SetString(p.TotalCostWei, 10); ok {
			totalCost.Add(totalCost, cost)
		}
		if holdings, ok := new(big.Int).SetString(p.HoldingsRaw, 10); ok {
			totalHoldings.Add(totalHoldings, holdings)
		}
	}
	if !found || totalHoldings.Sign() <= 0 || totalCost.Sign() <= 0 {
		return outcome
	}

	currentValue, err := l.quoter.QuoteCoinToEth(ctx, cfg.CoinAddress, totalHoldings)
	if err != nil {
		outcome.Err = apperrors.New(apperrors.KindQuoteFailed, err.Error())
		return outcome
	}

	pnlBps := pnlBasisPoints(currentValue, totalCost)
	outcome.PnlBps = pnlBps

	peak := cfg.PeakPnlBps
	if peak == nil || pnlBps > int64(*peak) {
		v := int(pnlBps)
		peak = &v
	}

	trigger := evaluateTrigger(pnlBps, cfg, peak)
	if trigger == TriggerNone {
		if peak != cfg.PeakPnlBps {
			_, _ = l.store.UpdateSwingConfig(ctx, cfg.ID, store.SwingConfigUpdate{PeakPnlBps: &peak})
		}
		return outcome
	}
	outcome.Trigger = trigger

	if err := l.triggerExit(ctx, cfg, cluster, totalHoldings, &outcome); err != nil {
		outcome.Err = err
		return outcome
	}

	clearedPeak := (*int)(nil)
	nowPtr := &now
	_, _ = l.store.UpdateSwingConfig(ctx, cfg.ID, store.SwingConfigUpdate{PeakPnlBps: &clearedPeak, LastActionAt: &nowPtr})
	return outcome
}

// pnlBasisPoints computes ((currentValue - totalCost) * 10000) / totalCost.
func pnlBasisPoints(currentValue, totalCost *big.Int) int64 {
	diff := new(big.Int).Sub(currentValue, totalCost)
	scaled := new(big.Int).Mul(diff, big.NewInt(10000))
	return new(big.Int).Div(scaled, totalCost).Int64()
}

// evaluateTrigger applies the fixed precedence: take profit, stop loss,
// trailing stop, first match wins.
func evaluateTrigger(pnlBps int64, cfg store.SwingConfig, peak *int) TriggerKind {
	if pnlBps >= int64(cfg.TakeProfitBps) {
		return TriggerTakeProfit
	}
	if pnlBps <= -int64(cfg.StopLossBps) {
		return TriggerStopLoss
	}
	if cfg.TrailingStopBps != nil && peak != nil {
		if pnlBps < int64(*peak) && int64(*peak)-pnlBps >= int64(*cfg.TrailingStopBps) {
			return TriggerTrailingStop
		}
	}
	return TriggerNone
}

func (l *Loop) triggerExit(ctx context.Context, cfg store.SwingConfig, cluster store.Cluster, totalHoldings *big.Int, outcome *ConfigOutcome) error {
	if l.policy != nil {
		intent := policy.Intent{
			ClusterID:   cluster.ID,
			OpType:      store.OperationExitCoin,
			AmountWei:   totalHoldings,
			CoinAddress: cfg.CoinAddress,
			SlippageBps: cfg.SlippageBps,
		}
		if err := l.policy.Validate(ctx, intent, 0); err != nil {
			observability.Policy().RecordDecision(string(store.OperationExitCoin), "reject", err.Error())
			return err
		}
		observability.Policy().RecordDecision(string(store.OperationExitCoin), "admit", "")
	}

	payload := fmt.Sprintf(`{"clusterId":%d,"coinAddress":%q,"totalAmountWei":%q,"slippageBps":%d,"strategyMode":"sync"}`,
		cluster.ID, cfg.CoinAddress, totalHoldings.String(), cfg.SlippageBps)

	op, err := l.store.CreateOperation(ctx, store.OperationExitCoin, cluster.ID, "swing-worker", payload)
	if err != nil {
		return fmt.Errorf("create exit operation: %w", err)
	}
	outcome.OperationID = op.ID

	op, err = l.store.SetOperationApproved(ctx, op.ID, "swing-worker")
	if err != nil {
		return fmt.Errorf("approve exit operation: %w", err)
	}

	if l.executor == nil {
		return nil
	}
	if _, err := l.executor.ExecuteOperation(ctx, op.ID); err != nil {
		return fmt.Errorf("execute exit operation: %w", err)
	}
	outcome.Executed = true
	return nil
}
