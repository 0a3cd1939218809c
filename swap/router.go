// Package swap implements capability.SwapEncoder against a Uniswap
// Universal-Router-style contract: a single execute(bytes commands, bytes[]
// inputs, uint256 deadline) entrypoint dispatching a command byte for each
// encoded input, the same shape the teacher's accounts/abi usage elsewhere
// packs calldata with.
package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fleetctl/capability"
)

// Universal Router command bytes for the two swap shapes this package emits.
// V3_SWAP_EXACT_IN sells an exact input amount of one token for a minimum
// output of another; V2_SWAP_EXACT_IN is its v2-pool equivalent. Both are
// defined by the router contract, not by this codebase.
const (
	commandV3SwapExactIn byte = 0x00
	commandV2SwapExactIn byte = 0x08
)

var executeSelector = selectorOf("execute(bytes,bytes[],uint256)")

// selectorOf returns the first four bytes of the keccak256 hash of a
// canonical Solidity function signature, the standard ABI function
// selector.
func selectorOf(signature string) []byte {
	return gethcrypto.Keccak256([]byte(signature))[:4]
}

// Encoder is a capability.SwapEncoder backed by a Universal-Router contract
// at RouterAddress and an off-chain quote endpoint for native-value pricing.
type Encoder struct {
	RouterAddress common.Address
	WrappedNative common.Address
	Deadline      time.Duration

	QuoteURL string
	HTTP     *http.Client
}

// NewEncoder builds an Encoder. deadline is added to the current wall clock
// time for every encoded call's deadline argument.
func NewEncoder(router, wrappedNative common.Address, deadline time.Duration, quoteURL string, client *http.Client) *Encoder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Encoder{RouterAddress: router, WrappedNative: wrappedNative, Deadline: deadline, QuoteURL: quoteURL, HTTP: client}
}

var (
	bytesType, _   = abi.NewType("bytes", "", nil)
	bytesArrType, _ = abi.NewType("bytes[]", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)

	executeArgs = abi.Arguments{
		{Type: bytesType},
		{Type: bytesArrType},
		{Type: uint256Type},
	}
	v3SwapArgs = abi.Arguments{
		{Type: addressType}, // recipient
		{Type: uint256Type}, // amountIn
		{Type: uint256Type}, // amountOutMinimum
		{Type: bytesType},   // path
		{Type: uint256Type}, // payerIsUser (0 or 1, packed as uint256 here for simplicity)
	}
)

// EncodeBuy packs a native-to-coin exact-input swap through the configured
// router.
func (e *Encoder) EncodeBuy(ctx context.Context, params capability.BuyParams) (capability.EncodedCall, error) {
	path, err := encodePath(e.WrappedNative, common.HexToAddress(params.ToToken))
	if err != nil {
		return capability.EncodedCall{}, err
	}
	return e.encodeExactIn(path, params.AmountIn, params.MinAmountOut)
}

// EncodeSell packs a coin-to-native exact-input swap through the configured
// router.
func (e *Encoder) EncodeSell(ctx context.Context, params capability.SellParams) (capability.EncodedCall, error) {
	path, err := encodePath(common.HexToAddress(params.FromToken), e.WrappedNative)
	if err != nil {
		return capability.EncodedCall{}, err
	}
	return e.encodeExactIn(path, params.AmountIn, params.MinAmountOut)
}

func (e *Encoder) encodeExactIn(path []byte, amountIn, minOut *big.Int) (capability.EncodedCall, error) {
	if amountIn == nil {
		return capability.EncodedCall{}, fmt.Errorf("swap: amountIn is required")
	}
	if minOut == nil {
		// The caller (the execution engine) enforces the slippage bound
		// through Policy before ever encoding a swap; a nil minAmountOut
		// means "no on-chain minimum," relying on that upstream check
		// rather than this generic stand-in router computing one itself.
		minOut = big.NewInt(0)
	}
	swapInput, err := v3SwapArgs.Pack(e.RouterAddress, amountIn, minOut, path, big.NewInt(1))
	if err != nil {
		return capability.EncodedCall{}, fmt.Errorf("swap: pack v3 swap input: %w", err)
	}
	commands := []byte{commandV3SwapExactIn}
	inputs := [][]byte{swapInput}
	deadline := big.NewInt(time.Now().Add(e.Deadline).Unix())

	packedArgs, err := executeArgs.Pack(commands, inputs, deadline)
	if err != nil {
		return capability.EncodedCall{}, fmt.Errorf("swap: pack execute args: %w", err)
	}
	data := append(append([]byte{}, executeSelector...), packedArgs...)
	return capability.EncodedCall{To: e.RouterAddress.Hex(), Data: data, Value: big.NewInt(0)}, nil
}

// ParseAmountOut reads the router's Transfer-style output from a receipt
// reason field populated by the bundler adapter; the router contract itself
// is the source of truth for this amount, this call only surfaces what the
// adapter already captured.
func (e *Encoder) ParseAmountOut(ctx context.Context, receipt capability.Receipt) (*big.Int, error) {
	if !receipt.Success {
		return nil, fmt.Errorf("swap: receipt not successful: %s", receipt.Reason)
	}
	amount, ok := new(big.Int).SetString(receipt.Reason, 10)
	if !ok {
		return nil, fmt.Errorf("swap: receipt reason %q is not a decimal amount", receipt.Reason)
	}
	return amount, nil
}

type quoteResponse struct {
	AmountOut string `json:"amountOut"`
}

// QuoteCoinToEth asks the configured quote endpoint for the native-asset
// value of amount units of coin.
func (e *Encoder) QuoteCoinToEth(ctx context.Context, coin string, amount *big.Int) (*big.Int, error) {
	if e.QuoteURL == "" {
		return nil, fmt.Errorf("swap: no quote endpoint configured")
	}
	body, err := json.Marshal(map[string]string{"coin": coin, "amount": amount.String()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.QuoteURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("swap: decode quote response: %w", err)
	}
	out, ok := new(big.Int).SetString(parsed.AmountOut, 10)
	if !ok {
		return nil, fmt.Errorf("swap: quote response amountOut %q is not numeric", parsed.AmountOut)
	}
	return out, nil
}

// encodePath packs a two-hop v3-style path as 20 bytes of `from` followed
// by 20 bytes of `to`, omitting the pool-fee tier segment real Uniswap v3
// paths carry: this router is a generic stand-in, not a v3 pool quoter.
func encodePath(from, to common.Address) ([]byte, error) {
	if from == (common.Address{}) || to == (common.Address{}) {
		return nil, fmt.Errorf("swap: encodePath requires non-zero addresses")
	}
	path := make([]byte, 0, 40)
	path = append(path, from.Bytes()...)
	path = append(path, to.Bytes()...)
	return path, nil
}
