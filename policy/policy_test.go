package policy

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetctl/apperrors"
	"fleetctl/store"
)

type fakeClusterAge struct {
	ageSec float64
	ok     bool
	err    error
}

func (f fakeClusterAge) GetLatestClusterOperationAgeSec(ctx context.Context, clusterID int64, excludeOperationID int64) (float64, bool, error) {
	return f.ageSec, f.ok, f.err
}

type fakeWatchlist struct {
	onList bool
	err    error
}

func (f fakeWatchlist) IsCoinInWatchlist(ctx context.Context, coinAddress, listName string) (bool, error) {
	return f.onList, f.err
}

func baseIntent() Intent {
	return Intent{
		ClusterID:   1,
		OpType:      store.OperationSupportCoin,
		WalletCount: 4,
		AmountWei:   big.NewInt(1000),
		CoinAddress: "0xCoin",
		SlippageBps: 100,
	}
}

func TestValidateKillSwitch(t *testing.T) {
	e := New(Config{KillSwitch: true}, fakeClusterAge{}, nil)
	err := e.Validate(context.Background(), baseIntent(), 0)
	require.Error(t, err)
	kind, ok := apperrors.Classify(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindPolicyReject, kind)
}

func TestValidateCooldownActive(t *testing.T) {
	e := New(Config{ClusterCooldownSec: 45}, fakeClusterAge{ageSec: 10, ok: true}, nil)
	err := e.Validate(context.Background(), baseIntent(), 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cooldown active")
}

func TestValidateCooldownExactBoundaryAdmits(t *testing.T) {
	e := New(Config{ClusterCooldownSec: 45, MaxSlippageBps: 500}, fakeClusterAge{ageSec: 45, ok: true}, nil)
	err := e.Validate(context.Background(), baseIntent(), 0)
	require.NoError(t, err)
}

func TestValidateSlippageBoundaries(t *testing.T) {
	cfg := Config{MaxSlippageBps: 500}
	e := New(cfg, fakeClusterAge{}, nil)

	ok := baseIntent()
	ok.SlippageBps = 1
	require.NoError(t, e.Validate(context.Background(), ok, 0))

	ok.SlippageBps = 500
	require.NoError(t, e.Validate(context.Background(), ok, 0))

	zero := baseIntent()
	zero.SlippageBps = 0
	require.Error(t, e.Validate(context.Background(), zero, 0))

	over := baseIntent()
	over.SlippageBps = 501
	require.Error(t, e.Validate(context.Background(), over, 0))
}

func TestValidateMaxTradeBoundary(t *testing.T) {
	cfg := Config{MaxSlippageBps: 500, MaxTradeWei: big.NewInt(1000)}
	e := New(cfg, fakeClusterAge{}, nil)

	atLimit := baseIntent()
	atLimit.AmountWei = big.NewInt(1000)
	require.NoError(t, e.Validate(context.Background(), atLimit, 0))

	overLimit := baseIntent()
	overLimit.AmountWei = big.NewInt(1001)
	require.Error(t, e.Validate(context.Background(), overLimit, 0))
}

func TestValidateAllowlistRejectsUnknownCoin(t *testing.T) {
	cfg := Config{MaxSlippageBps: 500, AllowedCoinAddresses: map[string]bool{"0xallowed": true}}
	e := New(cfg, fakeClusterAge{}, nil)
	intent := baseIntent()
	intent.CoinAddress = "0xNotAllowed"
	err := e.Validate(context.Background(), intent, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "allowlist")
}

func TestValidateWatchlistRequirement(t *testing.T) {
	cfg := Config{MaxSlippageBps: 500, RequireWatchlistCoin: true, RequireWatchlistName: "hot"}
	e := New(cfg, fakeClusterAge{}, fakeWatchlist{onList: false})
	err := e.Validate(context.Background(), baseIntent(), 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "watchlist")

	e = New(cfg, fakeClusterAge{}, fakeWatchlist{onList: true})
	require.NoError(t, e.Validate(context.Background(), baseIntent(), 0))
}

func TestValidateFundingRequestSkipsSlippageCheck(t *testing.T) {
	cfg := Config{MaxSlippageBps: 500}
	e := New(cfg, fakeClusterAge{}, nil)
	intent := Intent{ClusterID: 1, OpType: store.OperationFundingRequest, WalletCount: 1, AmountWei: big.NewInt(500)}
	require.NoError(t, e.Validate(context.Background(), intent, 0))
}
