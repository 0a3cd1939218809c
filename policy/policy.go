// Package policy enforces the fleet's trading guardrails. Validate is a pure
// function over a configuration snapshot, an intent, and two narrow
// collaborators (cluster cooldown age, watchlist membership) — it never
// writes and never calls out to the bundler or the execution engine.
package policy

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"fleetctl/apperrors"
	"fleetctl/store"
)

// Intent is the shape Validate checks, mirroring the operation payload at
// the point an operation is created or re-checked at execution time.
type Intent struct {
	ClusterID   int64
	OpType      store.OperationType
	WalletCount int
	AmountWei   *big.Int
	CoinAddress string // empty for FUNDING_REQUEST
	SlippageBps int     // 0 for FUNDING_REQUEST
}

// ClusterAgeSource reports how long it has been since the cluster's last
// terminal operation. ok is false when no terminal operation exists yet.
type ClusterAgeSource interface {
	GetLatestClusterOperationAgeSec(ctx context.Context, clusterID int64, excludeOperationID int64) (ageSec float64, ok bool, err error)
}

// WatchlistChecker reports whether a coin is present in the named watchlist.
// Satisfied by the signal adapter.
type WatchlistChecker interface {
	IsCoinInWatchlist(ctx context.Context, coinAddress, listName string) (bool, error)
}

// Config is an immutable snapshot of the guardrails in force for one
// Validate call. Built once at boot by boot.Build from config.Config and safe to share
// across goroutines since nothing in it is mutated after construction.
type Config struct {
	KillSwitch bool

	MaxFundingWei   *big.Int
	MaxTradeWei     *big.Int
	MaxPerWalletWei *big.Int

	MinSlippageBps int
	MaxSlippageBps int

	ClusterCooldownSec int

	RequireWatchlistCoin bool
	RequireWatchlistName string

	// AllowedCoinAddresses is nil when no allowlist is configured (every
	// coin admitted); non-nil means exact-match membership is required.
	AllowedCoinAddresses map[string]bool
}

// Enforcer is the pure policy decision point described by the fleet's
// guardrail contract: a configuration snapshot plus the two external reads
// (cluster cooldown age, watchlist membership) it needs to decide.
type Enforcer struct {
	cfg        Config
	clusterAge ClusterAgeSource
	watchlist  WatchlistChecker
}

// New builds an Enforcer. watchlist may be nil if
// Config.RequireWatchlistCoin is never set to true.
func New(cfg Config, clusterAge ClusterAgeSource, watchlist WatchlistChecker) *Enforcer {
	return &Enforcer{cfg: cfg, clusterAge: clusterAge, watchlist: watchlist}
}

// Validate admits or rejects intent. excludeOperationID is the id of the
// operation currently being (re-)evaluated, excluded from the cooldown
// lookback so an operation's own execution-time re-check does not see
// itself as a prior terminal operation. Pass 0 when validating a brand-new
// intent that has no operation id yet.
func (e *Enforcer) Validate(ctx context.Context, intent Intent, excludeOperationID int64) error {
	if e.cfg.KillSwitch {
		return apperrors.New(apperrors.KindPolicyReject, "kill switch engaged")
	}

	if e.cfg.ClusterCooldownSec > 0 && e.clusterAge != nil {
		ageSec, ok, err := e.clusterAge.GetLatestClusterOperationAgeSec(ctx, intent.ClusterID, excludeOperationID)
		if err != nil {
			return fmt.Errorf("policy: read cluster cooldown: %w", err)
		}
		if ok && ageSec < float64(e.cfg.ClusterCooldownSec) {
			return apperrors.New(apperrors.KindPolicyReject, "cooldown active")
		}
	}

	maxTotal := e.maxTotalFor(intent.OpType)
	if maxTotal != nil && intent.AmountWei != nil && intent.AmountWei.Cmp(maxTotal) > 0 {
		return apperrors.New(apperrors.KindPolicyReject, "amount exceeds per-operation bound")
	}

	if e.cfg.MaxPerWalletWei != nil && intent.AmountWei != nil && intent.WalletCount > 0 {
		perWallet := perWalletAmount(intent.AmountWei, intent.WalletCount, intent.OpType)
		if perWallet.Cmp(e.cfg.MaxPerWalletWei) > 0 {
			return apperrors.New(apperrors.KindPolicyReject, "amount exceeds per-wallet bound")
		}
	}

	if intent.OpType != store.OperationFundingRequest {
		minSlippage := e.cfg.MinSlippageBps
		if minSlippage < 1 {
			minSlippage = 1
		}
		if intent.SlippageBps < minSlippage || intent.SlippageBps > e.cfg.MaxSlippageBps {
			return apperrors.New(apperrors.KindPolicyReject, "slippage out of bounds")
		}
	}

	if intent.CoinAddress != "" && e.cfg.AllowedCoinAddresses != nil {
		if !e.cfg.AllowedCoinAddresses[strings.ToLower(intent.CoinAddress)] {
			return apperrors.New(apperrors.KindPolicyReject, "coin not in allowlist")
		}
	}

	if intent.CoinAddress != "" && e.cfg.RequireWatchlistCoin {
		if e.watchlist == nil {
			return apperrors.New(apperrors.KindPolicyReject, "watchlist requirement configured without an adapter")
		}
		onList, err := e.watchlist.IsCoinInWatchlist(ctx, intent.CoinAddress, e.cfg.RequireWatchlistName)
		if err != nil {
			return fmt.Errorf("policy: read watchlist: %w", err)
		}
		if !onList {
			return apperrors.New(apperrors.KindPolicyReject, "coin not in required watchlist")
		}
	}

	return nil
}

// maxTotalFor returns the configured per-operation ceiling for opType, or
// nil if none applies.
func (e *Enforcer) maxTotalFor(opType store.OperationType) *big.Int {
	switch opType {
	case store.OperationFundingRequest:
		return e.cfg.MaxFundingWei
	case store.OperationSupportCoin, store.OperationExitCoin:
		return e.cfg.MaxTradeWei
	default:
		return nil
	}
}

// perWalletAmount mirrors the engine's own split: FUNDING_REQUEST's amount
// is already per-wallet (no division), SUPPORT_COIN/EXIT_COIN divide the
// total evenly across walletCount for the purpose of this bound (the
// engine's jiggle may deviate individual wallets slightly above this floor
// division, but the bound is checked against the even split as the intent's
// nominal per-wallet share).
func perWalletAmount(total *big.Int, walletCount int, opType store.OperationType) *big.Int {
	if opType == store.OperationFundingRequest {
		return new(big.Int).Set(total)
	}
	if walletCount <= 0 {
		return new(big.Int).Set(total)
	}
	return new(big.Int).Div(total, big.NewInt(int64(walletCount)))
}
