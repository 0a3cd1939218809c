// Package autoapprove decides, statelessly, whether a pending operation may
// be auto-approved. It never writes to the store — callers apply the
// decision themselves through store.SetOperationApproved.
package autoapprove

import (
	"math/big"

	"fleetctl/config"
	"fleetctl/store"
)

// Decision is the outcome of a single auto-approval check.
type Decision struct {
	Allow  bool
	Reason string
}

// Intent is the minimal shape autoapprove needs from a pending operation.
type Intent struct {
	RequestedBy string
	OpType      store.OperationType
	AmountWei   *big.Int // funding amount or total trade amount, per OpType
}

// Evaluate decides whether intent may be auto-approved under cfg. It never
// returns an error: an unconfigured or disabled auto-approver simply always
// declines, deferring to manual approval.
func Evaluate(cfg config.AutoApproveConfig, intent Intent) Decision {
	if !cfg.Enabled {
		return Decision{Allow: false, Reason: "auto-approval disabled"}
	}
	if len(cfg.AllowedRequesters) > 0 && !cfg.AllowedRequesters[intent.RequestedBy] {
		return Decision{Allow: false, Reason: "requester not in allowed set"}
	}
	if len(cfg.AllowedOpTypes) > 0 && !cfg.AllowedOpTypes[string(intent.OpType)] {
		return Decision{Allow: false, Reason: "operation type not in allowed set"}
	}

	maxAllowed := maxFor(cfg, intent.OpType)
	if maxAllowed != nil && intent.AmountWei != nil && intent.AmountWei.Cmp(maxAllowed) > 0 {
		return Decision{Allow: false, Reason: "amount exceeds auto-approve maximum"}
	}

	return Decision{Allow: true, Reason: "auto-approved"}
}

func maxFor(cfg config.AutoApproveConfig, opType store.OperationType) *big.Int {
	switch opType {
	case store.OperationFundingRequest:
		return cfg.MaxFundingWei
	case store.OperationSupportCoin, store.OperationExitCoin:
		return cfg.MaxTradeWei
	default:
		return nil
	}
}
