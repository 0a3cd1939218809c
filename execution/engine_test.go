package execution

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetctl/apperrors"
	"fleetctl/capability"
	"fleetctl/policy"
	"fleetctl/store"
)

type fakeSession struct {
	sendErr    error
	receipt    capability.Receipt
	receiptErr error
}

func (f *fakeSession) SendUserOp(ctx context.Context, calls []capability.Call) (capability.SendResult, error) {
	if f.sendErr != nil {
		return capability.SendResult{}, f.sendErr
	}
	return capability.SendResult{UserOpHash: "0xop"}, nil
}

func (f *fakeSession) WaitReceipt(ctx context.Context, userOpHash string) (capability.Receipt, error) {
	if f.receiptErr != nil {
		return capability.Receipt{}, f.receiptErr
	}
	return f.receipt, nil
}

type fakeAccountProvider struct {
	sessions map[string]*fakeSession
	fallback *fakeSession
}

func (f *fakeAccountProvider) GetSession(ctx context.Context, providerAccountName string) (capability.AccountSession, error) {
	if s, ok := f.sessions[providerAccountName]; ok {
		return s, nil
	}
	return f.fallback, nil
}

type fakeSwapEncoder struct {
	amountOut *big.Int
}

func (f *fakeSwapEncoder) EncodeBuy(ctx context.Context, params capability.BuyParams) (capability.EncodedCall, error) {
	return capability.EncodedCall{To: params.ToToken, Value: params.AmountIn}, nil
}

func (f *fakeSwapEncoder) EncodeSell(ctx context.Context, params capability.SellParams) (capability.EncodedCall, error) {
	return capability.EncodedCall{To: "native", Value: big.NewInt(0)}, nil
}

func (f *fakeSwapEncoder) ParseAmountOut(ctx context.Context, receipt capability.Receipt) (*big.Int, error) {
	return f.amountOut, nil
}

func (f *fakeSwapEncoder) QuoteCoinToEth(ctx context.Context, coin string, amount *big.Int) (*big.Int, error) {
	return amount, nil
}

func setupEngine(t *testing.T, account capability.AccountProvider, swap capability.SwapEncoder) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enforcer := policy.New(policy.Config{MaxSlippageBps: 500}, st, nil)
	cfg := Config{Concurrency: 3}
	e := New(st, enforcer, account, swap, capability.SystemClock{}, cfg, WithRand(rand.New(rand.NewSource(1))))
	return e, st
}

func seedClusterWithWallets(t *testing.T, st *store.Store, n int) store.Cluster {
	t.Helper()
	ctx := context.Background()
	cluster, err := st.CreateCluster(ctx, "fleet-a", store.StrategySync)
	require.NoError(t, err)
	var ids []int64
	for i := 0; i < n; i++ {
		w, err := st.CreateWallet(ctx, fmt.Sprintf("worker-%d", i), fmt.Sprintf("0xW%d", i), "0xOwner", "provider", false)
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}
	require.NoError(t, st.SetClusterWallets(ctx, cluster.ID, ids))
	return cluster
}

func TestExecuteOperationFundingHappyPath(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccountProvider{fallback: &fakeSession{receipt: capability.Receipt{Included: true, Success: true, TxHash: "0xtx"}}}
	e, st := setupEngine(t, account, &fakeSwapEncoder{amountOut: big.NewInt(100)})

	cluster := seedClusterWithWallets(t, st, 2)
	op, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"500"}`)
	require.NoError(t, err)
	op, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)

	final, err := e.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusComplete, final.Status)
}

func TestExecuteOperationAllUnitsFailYieldsFailed(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccountProvider{fallback: &fakeSession{sendErr: apperrors.New(apperrors.KindBundlerSendFail, "boom")}}
	e, st := setupEngine(t, account, &fakeSwapEncoder{amountOut: big.NewInt(100)})

	cluster := seedClusterWithWallets(t, st, 2)
	op, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"500"}`)
	require.NoError(t, err)
	op, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)

	final, err := e.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, final.Status)
}

func TestExecuteOperationMixedYieldsPartial(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccountProvider{
		sessions: map[string]*fakeSession{
			"provider-good": {receipt: capability.Receipt{Included: true, Success: true, TxHash: "0xtx"}},
		},
		fallback: &fakeSession{sendErr: apperrors.New(apperrors.KindBundlerSendFail, "boom")},
	}
	e, st := setupEngine(t, account, &fakeSwapEncoder{amountOut: big.NewInt(100)})

	cluster, err := st.CreateCluster(ctx, "fleet-mixed", store.StrategySync)
	require.NoError(t, err)
	good, err := st.CreateWallet(ctx, "good", "0xGood", "0xOwner", "provider-good", false)
	require.NoError(t, err)
	bad, err := st.CreateWallet(ctx, "bad", "0xBad", "0xOwner", "provider-bad", false)
	require.NoError(t, err)
	require.NoError(t, st.SetClusterWallets(ctx, cluster.ID, []int64{good.ID, bad.ID}))

	op, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"500"}`)
	require.NoError(t, err)
	op, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)

	final, err := e.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusPartial, final.Status)
}

func TestExecuteOperationRejectsNonApprovedStatus(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccountProvider{fallback: &fakeSession{}}
	e, st := setupEngine(t, account, &fakeSwapEncoder{})

	cluster := seedClusterWithWallets(t, st, 1)
	op, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"500"}`)
	require.NoError(t, err)

	_, err = e.ExecuteOperation(ctx, op.ID)
	require.Error(t, err)
	kind, ok := apperrors.Classify(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindStateConflict, kind)
}

func TestExecuteOperationKillSwitchFailsAtExecutionBoundary(t *testing.T) {
	ctx := context.Background()
	account := &fakeAccountProvider{fallback: &fakeSession{}}
	st, err := store.Open(ctx, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	enforcer := policy.New(policy.Config{KillSwitch: true, MaxSlippageBps: 500}, st, nil)
	e := New(st, enforcer, account, &fakeSwapEncoder{}, capability.SystemClock{}, Config{Concurrency: 1})

	cluster := seedClusterWithWallets(t, st, 1)
	op, err := st.CreateOperation(ctx, store.OperationFundingRequest, cluster.ID, "operator", `{"clusterId":1,"amountWei":"500"}`)
	require.NoError(t, err)
	op, err = st.SetOperationApproved(ctx, op.ID, "approver")
	require.NoError(t, err)

	final, err := e.ExecuteOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "kill switch")

	trades, err := st.ListTrades(ctx, 1, 10)
	require.NoError(t, err)
	require.Empty(t, trades, "a policy-rejected operation must not produce any trade rows")
}
