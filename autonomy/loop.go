// Package autonomy runs the unattended SUPPORT_COIN proposal loop, grounded
// on the teacher's oracle.Manager Run/Tick split: a ticker, a select between
// the ticker and a stop signal, and a tick method that never panics out of
// the loop and records its outcome for inspection instead.
package autonomy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetctl/autoapprove"
	"fleetctl/config"
	"fleetctl/observability"
	"fleetctl/policy"
	"fleetctl/signal"
	"fleetctl/store"
)

// requestedByAutonomy is the operation requester identity the spec names for
// this loop; AUTO_APPROVE_REQUESTERS matches against it.
const requestedByAutonomy = "autonomy-worker"

// OperationCreator is the subset of *store.Store the loop needs to propose
// and, when auto-approved, approve an operation.
type OperationCreator interface {
	CreateOperation(ctx context.Context, opType store.OperationType, clusterID int64, requestedBy, payloadJSON string) (store.Operation, error)
	SetOperationApproved(ctx context.Context, id int64, approvedBy string) (store.Operation, error)
}

// Executor runs an approved operation to completion.
type Executor interface {
	ExecuteOperation(ctx context.Context, operationID int64) (store.Operation, error)
}

// SignalSource selects the next coin for a tick to propose against.
type SignalSource interface {
	SelectSignalCoin(ctx context.Context, mode signal.SelectMode, listName string, minMomentum float64) (signal.Coin, error)
}

// TickOutcome records one tick's result for observability and tests.
type TickOutcome struct {
	At          time.Time
	ClusterID   int64
	CoinAddress string
	OperationID int64
	AutoApproved bool
	Executed    bool
	Err         error
}

// Loop is the autonomy tick loop: one configured mode, one coin source, one
// set of target clusters.
type Loop struct {
	cfg      config.AutonomyConfig
	autoCfg  config.AutoApproveConfig
	policy   *policy.Enforcer
	signals  SignalSource
	store    OperationCreator
	executor Executor
	logger   *slog.Logger

	mu       sync.Mutex
	lastTick TickOutcome
}

// New builds a Loop. executor may be nil, in which case autonomy only ever
// creates and (if configured) auto-approves operations, leaving execution to
// a separate approval-driven path. enforcer may be nil in tests that do not
// exercise the policy boundary; a production loop is always built with one
// so proposed intents are admitted or rejected before ever reaching the
// store, matching the funnel every other intent producer goes through.
func New(cfg config.AutonomyConfig, autoCfg config.AutoApproveConfig, enforcer *policy.Enforcer, signals SignalSource, st OperationCreator, executor Executor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, autoCfg: autoCfg, policy: enforcer, signals: signals, store: st, executor: executor, logger: logger}
}

// Run blocks, ticking at the configured interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if !l.cfg.Enabled {
		return nil
	}
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	l.logger.Info("autonomy loop started", "interval", l.cfg.Interval, "mode", l.cfg.Mode, "clusters", l.cfg.ClusterIDs)
	for {
		outcome := l.Tick(ctx)
		if outcome.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("autonomy tick failed", "error", outcome.Err, "cluster", outcome.ClusterID)
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

// Tick runs one cycle across all configured target clusters, proposing at
// most one SUPPORT_COIN operation per cluster. It never returns a non-nil
// error that a caller must treat as fatal — every failure is captured in the
// returned (and recorded) outcome and the loop continues to the next tick.
func (l *Loop) Tick(ctx context.Context) TickOutcome {
	var last TickOutcome
	for _, clusterID := range l.cfg.ClusterIDs {
		last = l.tickCluster(ctx, clusterID)
		observability.Loops().RecordTick("autonomy", last.Err)
		if last.OperationID != 0 {
			observability.Loops().RecordTriggered("autonomy")
		}
		l.mu.Lock()
		l.lastTick = last
		l.mu.Unlock()
		if last.Err != nil && ctx.Err() != nil {
			return last
		}
	}
	return last
}

func (l *Loop) tickCluster(ctx context.Context, clusterID int64) TickOutcome {
	outcome := TickOutcome{At: time.Now().UTC(), ClusterID: clusterID}

	mode := signal.SelectMode(l.cfg.Mode)
	coin, err := l.signals.SelectSignalCoin(ctx, mode, "default", 0)
	if err != nil {
		outcome.Err = fmt.Errorf("select signal coin: %w", err)
		return outcome
	}
	outcome.CoinAddress = coin.CoinAddress

	if l.policy != nil {
		intent := policy.Intent{
			ClusterID:   clusterID,
			OpType:      store.OperationSupportCoin,
			AmountWei:   l.cfg.AmountWei,
			CoinAddress: coin.CoinAddress,
			SlippageBps: l.cfg.SlippageBps,
		}
		if err := l.policy.Validate(ctx, intent, 0); err != nil {
			observability.Policy().RecordDecision(string(store.OperationSupportCoin), "reject", err.Error())
			outcome.Err = err
			return outcome
		}
		observability.Policy().RecordDecision(string(store.OperationSupportCoin), "admit", "")
	}

	payload := fmt.Sprintf(`{"clusterId":%d,"coinAddress":%q,"totalAmountWei":%q,"slippageBps":%d,"strategyMode":"momentum"}`,
		clusterID, coin.CoinAddress, l.cfg.AmountWei.String(), l.cfg.SlippageBps)

	op, err := l.store.CreateOperation(ctx, store.OperationSupportCoin, clusterID, requestedByAutonomy, payload)
	if err != nil {
		outcome.Err = fmt.Errorf("create operation: %w", err)
		return outcome
	}
	outcome.OperationID = op.ID

	decision := autoapprove.Evaluate(l.autoCfg, autoapprove.Intent{
		RequestedBy: requestedByAutonomy,
		OpType:      store.OperationSupportCoin,
		AmountWei:   l.cfg.AmountWei,
	})
	observability.AutoApprove().RecordDecision(string(store.OperationSupportCoin), decision.Allow)
	if !decision.Allow {
		return outcome
	}

	op, err = l.store.SetOperationApproved(ctx, op.ID, requestedByAutonomy)
	if err != nil {
		outcome.Err = fmt.Errorf("auto-approve operation: %w", err)
		return outcome
	}
	outcome.AutoApproved = true

	if l.executor == nil {
		return outcome
	}
	if _, err := l.executor.ExecuteOperation(ctx, op.ID); err != nil {
		outcome.Err = fmt.Errorf("execute autonomy operation: %w", err)
		return outcome
	}
	outcome.Executed = true
	return outcome
}
