package swap

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"fleetctl/capability"
)

func TestEncodeBuyProducesRouterCall(t *testing.T) {
	enc := NewEncoder(
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		time.Minute,
		"",
		nil,
	)

	call, err := enc.EncodeBuy(context.Background(), capability.BuyParams{
		ToToken:      "0x3333333333333333333333333333333333333333",
		AmountIn:     big.NewInt(1_000_000),
		MinAmountOut: big.NewInt(900_000),
		SlippageBps:  100,
	})
	require.NoError(t, err)
	require.Equal(t, enc.RouterAddress.Hex(), call.To)
	require.True(t, len(call.Data) > 4)
	require.Equal(t, executeSelector, call.Data[:4])
	require.Equal(t, big.NewInt(0), call.Value)
}

func TestEncodeSellRequiresAmounts(t *testing.T) {
	enc := NewEncoder(common.HexToAddress("0x1111111111111111111111111111111111111111"), common.HexToAddress("0x2222222222222222222222222222222222222222"), time.Minute, "", nil)
	_, err := enc.EncodeSell(context.Background(), capability.SellParams{FromToken: "0x3333333333333333333333333333333333333333"})
	require.Error(t, err)
}

func TestParseAmountOutRejectsFailedReceipt(t *testing.T) {
	enc := &Encoder{}
	_, err := enc.ParseAmountOut(context.Background(), capability.Receipt{Success: false, Reason: "reverted"})
	require.Error(t, err)
}

func TestQuoteCoinToEthCallsEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "0xcoin", req["coin"])
		_ = json.NewEncoder(w).Encode(map[string]string{"amountOut": "42"})
	}))
	defer server.Close()

	enc := NewEncoder(common.Address{}, common.Address{}, time.Minute, server.URL, server.Client())
	out, err := enc.QuoteCoinToEth(context.Background(), "0xcoin", big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), out)
}

func TestFuncEncoderReturnsErrorWhenUnconfigured(t *testing.T) {
	var f FuncEncoder
	_, err := f.EncodeBuy(context.Background(), capability.BuyParams{})
	require.Error(t, err)

	f.EncodeBuyFunc = func(ctx context.Context, params capability.BuyParams) (capability.EncodedCall, error) {
		return capability.EncodedCall{To: "0xok"}, nil
	}
	call, err := f.EncodeBuy(context.Background(), capability.BuyParams{})
	require.NoError(t, err)
	require.Equal(t, "0xok", call.To)
}
