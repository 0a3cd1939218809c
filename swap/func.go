package swap

import (
	"context"
	"math/big"

	"fleetctl/capability"
)

// FuncEncoder adapts callback functions to capability.SwapEncoder, mirroring
// the teacher's wallet.FuncWallet adapter. It exists for tests and for
// partially-configured deployments where only some swap operations are
// wired; an unset callback returns an error rather than panicking.
type FuncEncoder struct {
	EncodeBuyFunc       func(ctx context.Context, params capability.BuyParams) (capability.EncodedCall, error)
	EncodeSellFunc      func(ctx context.Context, params capability.SellParams) (capability.EncodedCall, error)
	ParseAmountOutFunc  func(ctx context.Context, receipt capability.Receipt) (*big.Int, error)
	QuoteCoinToEthFunc  func(ctx context.Context, coin string, amount *big.Int) (*big.Int, error)
}

func (f FuncEncoder) EncodeBuy(ctx context.Context, params capability.BuyParams) (capability.EncodedCall, error) {
	if f.EncodeBuyFunc == nil {
		return capability.EncodedCall{}, errUnconfigured("EncodeBuy")
	}
	return f.EncodeBuyFunc(ctx, params)
}

func (f FuncEncoder) EncodeSell(ctx context.Context, params capability.SellParams) (capability.EncodedCall, error) {
	if f.EncodeSellFunc == nil {
		return capability.EncodedCall{}, errUnconfigured("EncodeSell")
	}
	return f.EncodeSellFunc(ctx, params)
}

func (f FuncEncoder) ParseAmountOut(ctx context.Context, receipt capability.Receipt) (*big.Int, error) {
	if f.ParseAmountOutFunc == nil {
		return nil, errUnconfigured("ParseAmountOut")
	}
	return f.ParseAmountOutFunc(ctx, receipt)
}

func (f FuncEncoder) QuoteCoinToEth(ctx context.Context, coin string, amount *big.Int) (*big.Int, error) {
	if f.QuoteCoinToEthFunc == nil {
		return nil, errUnconfigured("QuoteCoinToEth")
	}
	return f.QuoteCoinToEthFunc(ctx, coin, amount)
}

type unconfiguredError string

func (e unconfiguredError) Error() string { return "swap: " + string(e) + " not configured" }

func errUnconfigured(method string) error { return unconfiguredError(method) }
