package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetctl/bundler"
	"fleetctl/capability"
	"fleetctl/execution"
	"fleetctl/policy"
	"fleetctl/store"
	"fleetctl/swing"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedFleet(t *testing.T, st *store.Store, n int) store.Cluster {
	t.Helper()
	ctx := context.Background()
	cluster, err := st.CreateCluster(ctx, "alpha", store.StrategySync)
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < n; i++ {
		w, err := st.CreateWallet(ctx, fmt.Sprintf("wallet-%d", i), fmt.Sprintf("0xW%d", i), "0xOwner", fmt.Sprintf("provider-%d", i), false)
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	require.NoError(t, st.SetClusterWallets(ctx, cluster.ID, ids))
	return cluster
}

func newEngine(st *store.Store, enforcer *policy.Enforcer, router *bundler.Router, swap *fakeSwapEncoder) *execution.Engine {
	account := &fakeAccountProvider{session: &fakeSession{router: router}}
	return execution.New(st, enforcer, account, swap, capability.SystemClock{}, execution.Config{Concurrency: 2}, execution.WithRand(rand.New(rand.NewSource(1))))
}

// Scenario 1: happy path fund, buy, sell across a two-wallet cluster.
func TestHappyPathFundBuySell(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cluster := seedFleet(t, st, 2)

	enforcer := policy.New(policy.Config{MaxSlippageBps: 500, MaxTradeWei: big.NewInt(1e15)}, st, nil)
	router := bundler.NewRouter(&fakeAdapter{name: "primary", sendResult: bundler.SendResult{UserOpHash: "0xop"}, receipt: bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}})
	swap := &fakeSwapEncoder{amountOut: big.NewInt(100)}
	engine := newEngine(st, enforcer, router, swap)

	fundOp, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"100000000000000"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, fundOp.ID, "approver")
	require.NoError(t, err)
	fundOp, err = engine.ExecuteOperation(ctx, fundOp.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, fundOp.Status)

	buyOp, err := st.CreateOperation(ctx, store.OperationSupportCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"100000000000000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, buyOp.ID, "approver")
	require.NoError(t, err)
	buyOp, err = engine.ExecuteOperation(ctx, buyOp.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, buyOp.Status)

	positions, err := st.ListPositionsByCluster(ctx, cluster.ID)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		require.Greater(t, p.HoldingsRaw, "0")
	}

	sellOp, err := st.CreateOperation(ctx, store.OperationExitCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"100000000000000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, sellOp.ID, "approver")
	require.NoError(t, err)
	sellOp, err = engine.ExecuteOperation(ctx, sellOp.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, sellOp.Status)
}

// Scenario 2: a second proposal inside the cluster cooldown window is
// rejected while the first, already-terminal operation is left untouched.
func TestClusterCooldownRejectsSecondOperation(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cluster := seedFleet(t, st, 1)

	enforcer := policy.New(policy.Config{MaxSlippageBps: 500, ClusterCooldownSec: 45}, st, nil)
	router := bundler.NewRouter(&fakeAdapter{name: "primary", sendResult: bundler.SendResult{UserOpHash: "0xop"}, receipt: bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}})
	swap := &fakeSwapEncoder{amountOut: big.NewInt(100)}
	engine := newEngine(st, enforcer, router, swap)

	first, err := st.CreateOperation(ctx, store.OperationSupportCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"1000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, first.ID, "approver")
	require.NoError(t, err)
	first, err = engine.ExecuteOperation(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, first.Status)

	second, err := st.CreateOperation(ctx, store.OperationSupportCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"1000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, second.ID, "approver")
	require.NoError(t, err)
	second, err = engine.ExecuteOperation(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, second.Status)
	require.Contains(t, second.ErrorMessage, "cooldown active")
}

// Scenario 3: the kill switch lets creation succeed but fails execution
// without producing any trade rows.
func TestKillSwitchFailsExecutionOnly(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cluster := seedFleet(t, st, 1)

	enforcer := policy.New(policy.Config{KillSwitch: true, MaxSlippageBps: 500}, st, nil)
	router := bundler.NewRouter(&fakeAdapter{name: "primary", sendResult: bundler.SendResult{UserOpHash: "0xop"}, receipt: bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}})
	swap := &fakeSwapEncoder{amountOut: big.NewInt(100)}
	engine := newEngine(st, enforcer, router, swap)

	op, err := st.CreateOperation(ctx, store.OperationSupportCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"1000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	require.Equal(t, store.StatusPending, op.Status)

	_, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)
	final, err := engine.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, final.Status)

	wallets, err := st.ListClusterWalletDetails(ctx, cluster.ID)
	require.NoError(t, err)
	trades, err := st.ListTrades(ctx, wallets[0].WalletID, 10)
	require.NoError(t, err)
	require.Empty(t, trades)
}

// Scenario 4: the primary bundler adapter returns a rate-limit error, the
// secondary succeeds, and the attempt trail records both tries.
func TestBundlerFailoverRecordsBothAttempts(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cluster := seedFleet(t, st, 1)

	enforcer := policy.New(policy.Config{MaxSlippageBps: 500}, st, nil)
	primary := &fakeAdapter{name: "primary", sendErr: errors.New("HTTP 429 Too Many Requests")}
	secondary := &fakeAdapter{name: "secondary", sendResult: bundler.SendResult{UserOpHash: "0xsecondary", Provider: "secondary"}, receipt: bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}}
	router := bundler.NewRouter(primary, bundler.WithSecondary(secondary))
	swap := &fakeSwapEncoder{amountOut: big.NewInt(100)}
	engine := newEngine(st, enforcer, router, swap)

	op, err := st.CreateOperation(ctx, store.OperationSupportCoin, cluster.ID, "operator", `{"clusterId":1,"coinAddress":"0xC","totalAmountWei":"1000","slippageBps":100,"strategyMode":"sync"}`)
	require.NoError(t, err)
	_, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)
	final, err := engine.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, final.Status)

	_, attempts, err := router.Send(ctx, bundler.UserOp{Sender: "0xwallet"})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Error(t, attempts[0].Err)
	require.Equal(t, "secondary", attempts[1].Provider)
}

// Scenario 5: a swing tick triggers take-profit and resets the peak and
// cooldown timestamp after executing the exit.
func TestSwingTakeProfitTriggersExit(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	cluster := seedFleet(t, st, 1)

	wallets, err := st.ListClusterWalletDetails(ctx, cluster.ID)
	require.NoError(t, err)
	require.Len(t, wallets, 1)

	_, err = st.UpsertPosition(ctx, wallets[0].WalletID, "0xC", "1000", "0", "500", true)
	require.NoError(t, err)

	cfg, err := st.CreateSwingConfig(ctx, store.SwingConfig{
		FleetName:     "alpha",
		CoinAddress:   "0xC",
		TakeProfitBps: 1500,
		StopLossBps:   2000,
		SlippageBps:   100,
		Enabled:       true,
	})
	require.NoError(t, err)

	enforcer := policy.New(policy.Config{MaxSlippageBps: 500}, st, nil)
	router := bundler.NewRouter(&fakeAdapter{name: "primary", sendResult: bundler.SendResult{UserOpHash: "0xop"}, receipt: bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}})
	swap := &fakeSwapEncoder{amountOut: big.NewInt(100), quote: big.NewInt(1150)}
	engine := newEngine(st, enforcer, router, swap)

	clock := &fakeClock{now: time.Now()}
	loop := swing.New(time.Minute, enforcer, st, swap, engine, clock, nil)

	outcome := loop.Tick(ctx)
	require.Len(t, outcome.Configs, 1)
	configOutcome := outcome.Configs[0]
	require.NoError(t, configOutcome.Err)
	require.Equal(t, swing.TriggerTakeProfit, configOutcome.Trigger)
	require.True(t, configOutcome.Executed)

	updated, err := st.GetSwingConfigByID(ctx, cfg.ID)
	require.NoError(t, err)
	require.Nil(t, updated.PeakPnlBps)
	require.NotNil(t, updated.LastActionAt)
}

// Scenario 6: jiggled amounts always sum back to the total, regardless of
// how many times the split is recomputed.
func TestJigglePreservesTotalAcrossManyInvocations(t *testing.T) {
	total := big.NewInt(1_000_000_000_000_000_000)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10_000; i++ {
		parts := execution.JiggleAmounts(total, 5, 0.15, rng)
		require.Len(t, parts, 5)
		sum := big.NewInt(0)
		for _, p := range parts {
			require.Greater(t, p.Sign(), 0)
			sum.Add(sum, p)
		}
		require.Equal(t, 0, sum.Cmp(total))
	}
}
