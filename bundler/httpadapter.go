package bundler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// HTTPAdapter is an Adapter backed by a standard ERC-4337 bundler JSON-RPC
// endpoint (eth_estimateUserOperationGas, eth_sendUserOperation,
// eth_getUserOperationReceipt), named by the label passed to NewHTTPAdapter.
type HTTPAdapter struct {
	name       string
	url        string
	entryPoint string
	client     *http.Client
}

// NewHTTPAdapter builds an HTTPAdapter. name is the label reported through
// Name() and used in metrics/audit labels; url is the bundler JSON-RPC
// endpoint; entryPoint is the ERC-4337 EntryPoint contract address every
// call is scoped to.
func NewHTTPAdapter(name, url, entryPoint string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{name: name, url: url, entryPoint: entryPoint, client: client}
}

func (a *HTTPAdapter) Name() string { return a.name }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (a *HTTPAdapter) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %d: %s", method, resp.StatusCode, string(raw))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (a *HTTPAdapter) userOpParam(op UserOp) map[string]any {
	signature := ""
	if sig, ok := op.Extra["signature"].([]byte); ok {
		signature = "0x" + base64.RawURLEncoding.EncodeToString(sig)
	}
	return map[string]any{
		"sender":    op.Sender,
		"callData":  "0x" + base64.RawURLEncoding.EncodeToString(op.CallData),
		"signature": signature,
		"requestId": op.RequestID,
	}
}

// EstimateGas calls eth_estimateUserOperationGas.
func (a *HTTPAdapter) EstimateGas(ctx context.Context, op UserOp) (GasEstimate, error) {
	var result struct {
		PreVerificationGas string `json:"preVerificationGas"`
		VerificationGas    string `json:"verificationGasLimit"`
		CallGasLimit       string `json:"callGasLimit"`
	}
	if err := a.call(ctx, "eth_estimateUserOperationGas", []any{a.userOpParam(op), a.entryPoint}, &result); err != nil {
		return GasEstimate{}, err
	}
	return GasEstimate{
		PreVerification: parseHexUint(result.PreVerificationGas),
		Verification:    parseHexUint(result.VerificationGas),
		Call:            parseHexUint(result.CallGasLimit),
	}, nil
}

// SendUserOperation calls eth_sendUserOperation.
func (a *HTTPAdapter) SendUserOperation(ctx context.Context, op UserOp) (SendResult, error) {
	var hash string
	if err := a.call(ctx, "eth_sendUserOperation", []any{a.userOpParam(op), a.entryPoint}, &hash); err != nil {
		return SendResult{}, err
	}
	return SendResult{UserOpHash: hash, Provider: a.name}, nil
}

// GetReceipt calls eth_getUserOperationReceipt. A nil result (not yet
// included) is reported as Receipt{Included: false}, not an error.
func (a *HTTPAdapter) GetReceipt(ctx context.Context, userOpHash string) (Receipt, error) {
	var result *struct {
		Success     bool   `json:"success"`
		Reason      string `json:"reason"`
		Transaction struct {
			Hash string `json:"hash"`
		} `json:"receipt"`
	}
	if err := a.call(ctx, "eth_getUserOperationReceipt", []any{userOpHash}, &result); err != nil {
		return Receipt{}, err
	}
	if result == nil {
		return Receipt{Included: false}, nil
	}
	return Receipt{Included: true, Success: result.Success, Reason: result.Reason, TxHash: result.Transaction.Hash}, nil
}

func parseHexUint(s string) uint64 {
	if len(s) > 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	v, _ := strconv.ParseUint(s, 16, 64)
	return v
}
