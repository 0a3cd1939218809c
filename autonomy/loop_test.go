package autonomy

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetctl/config"
	"fleetctl/policy"
	"fleetctl/signal"
	"fleetctl/store"
)

type fakeSignals struct {
	coin signal.Coin
	err  error
}

func (f *fakeSignals) SelectSignalCoin(ctx context.Context, mode signal.SelectMode, listName string, minMomentum float64) (signal.Coin, error) {
	return f.coin, f.err
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

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedCluster(t *testing.T, st *store.Store) store.Cluster {
	t.Helper()
	ctx := context.Background()
	cluster, err := st.CreateCluster(ctx, "autonomy-fleet", store.StrategyMomentum)
	require.NoError(t, err)
	w, err := st.CreateWallet(ctx, "w1", "0xW1", "0xOwner", "provider", false)
	require.NoError(t, err)
	require.NoError(t, st.SetClusterWallets(ctx, cluster.ID, []int64{w.ID}))
	return cluster
}

func TestTickCreatesOperationWithoutAutoApprove(t *testing.T) {
	st := openStore(t)
	cluster := seedCluster(t, st)

	loop := New(
		config.AutonomyConfig{Enabled: true, Mode: "top_momentum", ClusterIDs: []int64{cluster.ID}, AmountWei: big.NewInt(1000), SlippageBps: 100},
		config.AutoApproveConfig{Enabled: false},
		nil,
		&fakeSignals{coin: signal.Coin{CoinAddress: "0xCoin"}},
		st,
		nil,
		nil,
	)

	outcome := loop.Tick(context.Background())
	require.NoError(t, outcome.Err)
	require.False(t, outcome.AutoApproved)
	require.False(t, outcome.Executed)
	require.NotZero(t, outcome.OperationID)

	op, err := st.GetOperationByID(context.Background(), outcome.OperationID)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, op.Status)
}

func TestTickAutoApprovesAndExecutes(t *testing.T) {
	st := openStore(t)
	cluster := seedCluster(t, st)
	executor := &fakeExecutor{}

	loop := New(
		config.AutonomyConfig{Enabled: true, Mode: "top_momentum", ClusterIDs: []int64{cluster.ID}, AmountWei: big.NewInt(1000), SlippageBps: 100},
		config.AutoApproveConfig{Enabled: true, MaxTradeWei: big.NewInt(10000)},
		nil,
		&fakeSignals{coin: signal.Coin{CoinAddress: "0xCoin"}},
		st,
		executor,
		nil,
	)

	outcome := loop.Tick(context.Background())
	require.NoError(t, outcome.Err)
	require.True(t, outcome.AutoApproved)
	require.True(t, outcome.Executed)
	require.Equal(t, []int64{outcome.OperationID}, executor.called)
}

func TestTickRecordsSignalSourceFailure(t *testing.T) {
	st := openStore(t)
	cluster := seedCluster(t, st)

	loop := New(
		config.AutonomyConfig{Enabled: true, Mode: "top_momentum", ClusterIDs: []int64{cluster.ID}, AmountWei: big.NewInt(1000)},
		config.AutoApproveConfig{},
		nil,
		&fakeSignals{err: context.DeadlineExceeded},
		st,
		nil,
		nil,
	)

	outcome := loop.Tick(context.Background())
	require.Error(t, outcome.Err)
	require.Zero(t, outcome.OperationID)
}

func TestTickRejectedByPolicyCreatesNoOperation(t *testing.T) {
	st := openStore(t)
	cluster := seedCluster(t, st)

	enforcer := policy.New(policy.Config{KillSwitch: true}, nil, nil)
	loop := New(
		config.AutonomyConfig{Enabled: true, Mode: "top_momentum", ClusterIDs: []int64{cluster.ID}, AmountWei: big.NewInt(1000), SlippageBps: 100},
		config.AutoApproveConfig{Enabled: true, MaxTradeWei: big.NewInt(10000)},
		enforcer,
		&fakeSignals{coin: signal.Coin{CoinAddress: "0xCoin"}},
		st,
		nil,
		nil,
	)

	outcome := loop.Tick(context.Background())
	require.Error(t, outcome.Err)
	require.Zero(t, outcome.OperationID, "a policy rejection must not create an operation")

	ops, err := st.ListOperations(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, ops)
}
