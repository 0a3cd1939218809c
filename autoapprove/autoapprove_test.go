package autoapprove

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetctl/config"
	"fleetctl/store"
)

func TestEvaluateDisabled(t *testing.T) {
	d := Evaluate(config.AutoApproveConfig{}, Intent{OpType: store.OperationFundingRequest})
	require.False(t, d.Allow)
}

func TestEvaluateRequesterNotAllowed(t *testing.T) {
	cfg := config.AutoApproveConfig{
		Enabled:           true,
		AllowedRequesters: map[string]bool{"ops-bot": true},
	}
	d := Evaluate(cfg, Intent{RequestedBy: "someone-else", OpType: store.OperationFundingRequest})
	require.False(t, d.Allow)
}

func TestEvaluateAmountWithinLimit(t *testing.T) {
	cfg := config.AutoApproveConfig{
		Enabled:           true,
		AllowedRequesters: map[string]bool{"ops-bot": true},
		AllowedOpTypes:    map[string]bool{"FUNDING_REQUEST": true},
		MaxFundingWei:     big.NewInt(5000),
	}
	d := Evaluate(cfg, Intent{RequestedBy: "ops-bot", OpType: store.OperationFundingRequest, AmountWei: big.NewInt(5000)})
	require.True(t, d.Allow)

	d = Evaluate(cfg, Intent{RequestedBy: "ops-bot", OpType: store.OperationFundingRequest, AmountWei: big.NewInt(5001)})
	require.False(t, d.Allow)
}
