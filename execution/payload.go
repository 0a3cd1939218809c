package execution

import (
	"encoding/json"
	"fmt"
	"math/big"

	"fleetctl/apperrors"
	"fleetctl/store"
)

// FundingRequestPayload is the operation payload for FUNDING_REQUEST: an
// absolute per-wallet amount, not a total to be split.
type FundingRequestPayload struct {
	ClusterID int64  `json:"clusterId"`
	AmountWei string `json:"amountWei"`
}

// SwapPayload is the operation payload shared by SUPPORT_COIN and EXIT_COIN:
// a total amount divided across the cluster's wallets per StrategyMode.
type SwapPayload struct {
	ClusterID      int64                `json:"clusterId"`
	CoinAddress    string               `json:"coinAddress"`
	TotalAmountWei string               `json:"totalAmountWei"`
	SlippageBps    int                  `json:"slippageBps"`
	StrategyMode   store.StrategyMode   `json:"strategyMode"`
}

func parseFundingPayload(raw string) (FundingRequestPayload, error) {
	var p FundingRequestPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("malformed FUNDING_REQUEST payload: %v", err))
	}
	return p, nil
}

func parseSwapPayload(raw string) (SwapPayload, error) {
	var p SwapPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("malformed swap payload: %v", err))
	}
	return p, nil
}

func parseWei(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("not a base-10 integer: %q", s))
	}
	return n, nil
}
