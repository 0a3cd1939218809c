// Package scenario runs cross-package end-to-end checks against the store,
// policy, execution, and swing packages together, the way a real deployment
// exercises them, using in-memory fakes of AccountProvider, SwapEncoder, and
// Clock instead of a live bundler or DEX.
package scenario

import (
	"context"
	"math/big"
	"time"

	"fleetctl/bundler"
	"fleetctl/capability"
)

// fakeSession is a capability.AccountSession backed by a real bundler.Router
// so failover/audit behavior is exercised end to end, the same shape
// execution's own tests use.
type fakeSession struct {
	router *bundler.Router
}

func (f *fakeSession) SendUserOp(ctx context.Context, calls []capability.Call) (capability.SendResult, error) {
	res, _, err := f.router.Send(ctx, bundler.UserOp{Sender: "0xwallet"})
	if err != nil {
		return capability.SendResult{}, err
	}
	return capability.SendResult{UserOpHash: res.UserOpHash}, nil
}

func (f *fakeSession) WaitReceipt(ctx context.Context, userOpHash string) (capability.Receipt, error) {
	r, err := f.router.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		return capability.Receipt{}, err
	}
	return capability.Receipt{Included: r.Included, Success: r.Success, TxHash: r.TxHash, Reason: r.Reason}, nil
}

// fakeAccountProvider hands every wallet the same session, routed through
// one shared router — enough to exercise bundler failover across a
// multi-wallet operation without needing per-wallet signing.
type fakeAccountProvider struct {
	session *fakeSession
}

func (f *fakeAccountProvider) GetSession(ctx context.Context, providerAccountName string) (capability.AccountSession, error) {
	return f.session, nil
}

// fakeSwapEncoder settles every buy/sell at a fixed exchange rate and
// reports a configurable quote for swing evaluation.
type fakeSwapEncoder struct {
	amountOut *big.Int
	quote     *big.Int
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
	if f.quote != nil {
		return f.quote, nil
	}
	return amount, nil
}

// fakeAdapter is a bundler.Adapter whose SendUserOperation/GetReceipt
// outcomes are fixed at construction, mirroring bundler/router_test.go's
// fakeAdapter.
type fakeAdapter struct {
	name       string
	sendErr    error
	sendResult bundler.SendResult
	receipt    bundler.Receipt
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) EstimateGas(ctx context.Context, op bundler.UserOp) (bundler.GasEstimate, error) {
	return bundler.GasEstimate{}, nil
}

func (f *fakeAdapter) SendUserOperation(ctx context.Context, op bundler.UserOp) (bundler.SendResult, error) {
	if f.sendErr != nil {
		return bundler.SendResult{}, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeAdapter) GetReceipt(ctx context.Context, userOpHash string) (bundler.Receipt, error) {
	return f.receipt, nil
}

// fakeClock lets swing scenarios fast-forward wall-clock time without
// sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}
