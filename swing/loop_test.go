package swing

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetctl/policy"
	"fleetctl/store"
)

type fakeQuoter struct {
	value *big.Int
	err   error
}

func (f *fakeQuoter) QuoteCoinToEth(ctx context.Context, coin string, amount *big.Int) (*big.Int, error) {
	return f.value, f.err
}

type fakeExecutor struct {
	called []int64
	err    error
}

func (f *fakeExecutor) ExecuteOperation(ctx context.Context, operationID int64) (store.Operation, error) {
	f.called = append(f.called, operationID)
	if f.err != nil {
		return store.Operation{}, f.err
	}
	return store.Operation{ID: operationID, Status: store.StatusComplete}, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedFleet(t *testing.T, st *store.Store, totalCostWei, holdingsRaw string) (store.Cluster, store.SwingConfig) {
	t.Helper()
	ctx := context.Background()

	cluster, err := st.CreateCluster(ctx, "swing-fleet", store.StrategySync)
	require.NoError(t, err)
	w, err := st.CreateWallet(ctx, "w1", "0xW1", "0xOwner", "provider", false)
	require.NoError(t, err)
	require.NoError(t, st.SetClusterWallets(ctx, cluster.ID, []int64{w.ID}))

	_, err = st.UpsertPosition(ctx, w.ID, "0xCoin", totalCostWei, "0", holdingsRaw, true)
	require.NoError(t, err)

	cfg, err := st.CreateSwingConfig(ctx, store.SwingConfig{
		FleetName:     cluster.Name,
		CoinAddress:   "0xCoin",
		TakeProfitBps: 500,
		StopLossBps:   500,
		CooldownSec:   0,
		SlippageBps:   100,
		Enabled:       true,
	})
	require.NoError(t, err)
	return cluster, cfg
}

func TestTickTriggersTakeProfitAndExecutes(t *testing.T) {
	st := openStore(t)
	_, _ = seedFleet(t, st, "1000", "500")

	executor := &fakeExecutor{}
	loop := New(time.Minute, nil, st, &fakeQuoter{value: big.NewInt(1100)}, executor, nil, nil)

	tick := loop.Tick(context.Background())
	require.NoError(t, tick.Err)
	require.Len(t, tick.Configs, 1)

	outcome := tick.Configs[0]
	require.Equal(t, TriggerTakeProfit, outcome.Trigger)
	require.NotZero(t, outcome.OperationID)
	require.True(t, outcome.Executed)
	require.Equal(t, []int64{outcome.OperationID}, executor.called)

	op, err := st.GetOperationByID(context.Background(), outcome.OperationID)
	require.NoError(t, err)
	require.Equal(t, store.OperationExitCoin, op.Type)
}

func TestTickStopLossTriggersWithoutExecutor(t *testing.T) {
	st := openStore(t)
	_, _ = seedFleet(t, st, "1000", "500")

	loop := New(time.Minute, nil, st, &fakeQuoter{value: big.NewInt(900)}, nil, nil, nil)

	tick := loop.Tick(context.Background())
	require.NoError(t, tick.Err)
	require.Len(t, tick.Configs, 1)
	require.Equal(t, TriggerStopLoss, tick.Configs[0].Trigger)
	require.NotZero(t, tick.Configs[0].OperationID)
	require.False(t, tick.Configs[0].Executed)
}

func TestTickNoTriggerUpdatesPeak(t *testing.T) {
	st := openStore(t)
	_, cfg := seedFleet(t, st, "1000", "500")

	// +200 bps: below the 500 bps take-profit threshold, so no trigger, but
	// still above the starting nil peak and should be recorded.
	loop := New(time.Minute, nil, st, &fakeQuoter{value: big.NewInt(1020)}, nil, nil, nil)

	tick := loop.Tick(context.Background())
	require.NoError(t, tick.Err)
	require.Equal(t, TriggerNone, tick.Configs[0].Trigger)
	require.Zero(t, tick.Configs[0].OperationID)

	updated, err := st.GetSwingConfigByID(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.PeakPnlBps)
	require.Equal(t, 200, *updated.PeakPnlBps)
}

func TestTickRespectsCooldown(t *testing.T) {
	st := openStore(t)
	cluster, cfg := seedFleet(t, st, "1000", "500")
	_ = cluster

	recent := time.Now().Add(-time.Minute)
	_, err := st.UpdateSwingConfig(context.Background(), cfg.ID, store.SwingConfigUpdate{
		CooldownSec:  intPtr(3600),
		LastActionAt: timePtrPtr(recent),
	})
	require.NoError(t, err)

	loop := New(time.Minute, nil, st, &fakeQuoter{value: big.NewInt(1100)}, nil, nil, nil)

	tick := loop.Tick(context.Background())
	require.NoError(t, tick.Err)
	require.Equal(t, TriggerNone, tick.Configs[0].Trigger)
	require.Zero(t, tick.Configs[0].OperationID)
}

func TestTickRejectedByPolicyCreatesNoOperation(t *testing.T) {
	st := openStore(t)
	_, _ = seedFleet(t, st, "1000", "500")

	enforcer := policy.New(policy.Config{KillSwitch: true}, nil, nil)
	loop := New(time.Minute, enforcer, st, &fakeQuoter{value: big.NewInt(1100)}, nil, nil, nil)

	tick := loop.Tick(context.Background())
	require.Len(t, tick.Configs, 1)
	require.Error(t, tick.Configs[0].Err)
	require.Zero(t, tick.Configs[0].OperationID)

	ops, err := st.ListOperations(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, ops)
}

func intPtr(v int) *int { return &v }

func timePtrPtr(v time.Time) **time.Time {
	p := &v
	return &p
}
