// Package execution implements the operation state machine's single entry
// point, executeOperation, grounded on the teacher's payoutd.Processor:
// idempotency guard by operation id, span-per-step tracing, deterministic
// finalize, bounded per-wallet fan-out.
package execution

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"fleetctl/apperrors"
	"fleetctl/capability"
	"fleetctl/policy"
	"fleetctl/store"
)

// BalanceChecker is an optional collaborator used to filter FUNDING_REQUEST
// targets that are already funded above the configured floor. A nil
// BalanceChecker disables the filter entirely (every wallet is funded).
type BalanceChecker interface {
	BalanceOf(ctx context.Context, walletAddress string) (*big.Int, error)
}

// Config tunes the engine's fan-out and funding-floor behavior.
type Config struct {
	Concurrency         int
	WalletMinBalanceWei *big.Int // nil disables the funding floor filter
	StaggerDelay        time.Duration
	MomentumJiggleFactor float64
}

// Engine is the operation state machine's execution boundary.
type Engine struct {
	store   *store.Store
	policy  *policy.Enforcer
	account capability.AccountProvider
	swap    capability.SwapEncoder
	clock   capability.Clock
	balance BalanceChecker
	metrics Metrics
	cfg     Config

	tracer trace.Tracer
	rng    *rand.Rand

	mu        sync.Mutex
	inFlight  map[int64]bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithBalanceChecker(b BalanceChecker) Option { return func(e *Engine) { e.balance = b } }
func WithMetrics(m Metrics) Option               { return func(e *Engine) { e.metrics = m } }
func WithRand(rng *rand.Rand) Option             { return func(e *Engine) { e.rng = rng } }

// New builds an Engine.
func New(st *store.Store, enforcer *policy.Enforcer, account capability.AccountProvider, swap capability.SwapEncoder, clock capability.Clock, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		policy:   enforcer,
		account:  account,
		swap:     swap,
		clock:    clock,
		cfg:      cfg,
		metrics:  noopMetrics{},
		tracer:   otel.Tracer("fleetctl/execution"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		inFlight: make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UnitOutcome is one wallet's result within an operation, serialized into
// the operation's resultJson on completion.
type UnitOutcome struct {
	WalletID   int64  `json:"walletId"`
	Status     string `json:"status"`
	UserOpHash string `json:"userOpHash,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	AmountIn   string `json:"amountIn,omitempty"`
	AmountOut  string `json:"amountOut,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExecuteOperation is the engine's single entry point. The operation must be
// in status approved; an unknown id or a wrong status returns an error. A
// policy re-check failure is not returned as an error: the operation moves
// approved->failed with the rejection as its error message and that failed
// operation is returned with a nil error. Once the approved->executing transition
// succeeds, the engine never throws to its caller: every unit failure is
// captured and folded into the terminal operation it returns.
func (e *Engine) ExecuteOperation(ctx context.Context, operationID int64) (store.Operation, error) {
	e.mu.Lock()
	if e.inFlight[operationID] {
		e.mu.Unlock()
		return store.Operation{}, apperrors.New(apperrors.KindStateConflict, fmt.Sprintf("operation %d is already executing in this process", operationID))
	}
	e.inFlight[operationID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, operationID)
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "execution.execute_operation")
	defer span.End()

	op, err := e.store.GetOperationByID(ctx, operationID)
	if err != nil {
		return store.Operation{}, err
	}
	if op.Status != store.StatusApproved {
		return store.Operation{}, apperrors.New(apperrors.KindStateConflict, fmt.Sprintf("operation %d is not approved (status=%s)", operationID, op.Status))
	}

	if err := e.assertExecutionAllowed(ctx, op); err != nil {
		failed, updErr := e.store.UpdateOperationStatus(ctx, op.ID, store.StatusFailed, err.Error())
		if updErr != nil {
			return store.Operation{}, updErr
		}
		e.metrics.RecordOperation(string(op.Type), string(store.StatusFailed))
		return failed, nil
	}

	op, err = e.store.UpdateOperationStatus(ctx, op.ID, store.StatusExecuting, "")
	if err != nil {
		return store.Operation{}, err
	}

	outcomes, err := e.runUnits(ctx, op)
	if err != nil {
		// Infrastructure failure before any unit ran (e.g. empty cluster,
		// malformed payload) — the operation still needs a terminal status
		// since it already left approved.
		failed, updErr := e.store.UpdateOperationStatus(ctx, op.ID, store.StatusFailed, err.Error())
		if updErr != nil {
			return store.Operation{}, updErr
		}
		e.metrics.RecordOperation(string(op.Type), string(store.StatusFailed))
		return failed, nil
	}

	status, resultJSON, errMsg := summarize(outcomes)
	final, err := e.store.SetOperationResult(ctx, op.ID, status, resultJSON, errMsg)
	if err != nil {
		return store.Operation{}, err
	}
	e.metrics.RecordOperation(string(op.Type), string(status))
	return final, nil
}

// assertExecutionAllowed re-checks Policy at the execution boundary, the
// last possible moment to honor the kill switch and cooldown.
func (e *Engine) assertExecutionAllowed(ctx context.Context, op store.Operation) error {
	if e.policy == nil {
		return nil
	}
	intent, err := intentFromOperation(op)
	if err != nil {
		return err
	}
	return e.policy.Validate(ctx, intent, op.ID)
}

func intentFromOperation(op store.Operation) (policy.Intent, error) {
	switch op.Type {
	case store.OperationFundingRequest:
		p, err := parseFundingPayload(op.PayloadJSON)
		if err != nil {
			return policy.Intent{}, err
		}
		amount, err := parseWei(p.AmountWei)
		if err != nil {
			return policy.Intent{}, err
		}
		return policy.Intent{ClusterID: p.ClusterID, OpType: op.Type, AmountWei: amount}, nil
	case store.OperationSupportCoin, store.OperationExitCoin:
		p, err := parseSwapPayload(op.PayloadJSON)
		if err != nil {
			return policy.Intent{}, err
		}
		amount, err := parseWei(p.TotalAmountWei)
		if err != nil {
			return policy.Intent{}, err
		}
		return policy.Intent{
			ClusterID:   p.ClusterID,
			OpType:      op.Type,
			AmountWei:   amount,
			CoinAddress: p.CoinAddress,
			SlippageBps: p.SlippageBps,
		}, nil
	default:
		return policy.Intent{}, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("unknown operation type %q", op.Type))
	}
}

// runUnits resolves the cluster's wallets, computes each wallet's share, and
// dispatches the per-wallet units under the bounded concurrency pool.
func (e *Engine) runUnits(ctx context.Context, op store.Operation) ([]UnitOutcome, error) {
	switch op.Type {
	case store.OperationFundingRequest:
		return e.runFunding(ctx, op)
	case store.OperationSupportCoin:
		return e.runSwap(ctx, op, true)
	case store.OperationExitCoin:
		return e.runSwap(ctx, op, false)
	default:
		return nil, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("unknown operation type %q", op.Type))
	}
}

func (e *Engine) clusterWallets(ctx context.Context, clusterID int64) ([]store.ClusterWallet, error) {
	wallets, err := e.store.ListClusterWalletDetails(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("cluster %d has no wallets", clusterID))
	}
	return wallets, nil
}

func (e *Engine) runFunding(ctx context.Context, op store.Operation) ([]UnitOutcome, error) {
	payload, err := parseFundingPayload(op.PayloadJSON)
	if err != nil {
		return nil, err
	}
	amount, err := parseWei(payload.AmountWei)
	if err != nil {
		return nil, err
	}
	wallets, err := e.clusterWallets(ctx, payload.ClusterID)
	if err != nil {
		return nil, err
	}

	var targets []store.ClusterWallet
	for _, w := range wallets {
		if e.balance != nil && e.cfg.WalletMinBalanceWei != nil {
			bal, err := e.balance.BalanceOf(ctx, w.Address)
			if err == nil && bal.Cmp(e.cfg.WalletMinBalanceWei) >= 0 {
				continue
			}
		}
		targets = append(targets, w)
	}

	return e.fanOut(ctx, targets, func(ctx context.Context, idx int, w store.ClusterWallet) UnitOutcome {
		return e.fundWallet(ctx, w, amount)
	})
}

func (e *Engine) runSwap(ctx context.Context, op store.Operation, isBuy bool) ([]UnitOutcome, error) {
	payload, err := parseSwapPayload(op.PayloadJSON)
	if err != nil {
		return nil, err
	}
	total, err := parseWei(payload.TotalAmountWei)
	if err != nil {
		return nil, err
	}
	wallets, err := e.clusterWallets(ctx, payload.ClusterID)
	if err != nil {
		return nil, err
	}

	factor := 0.0
	if payload.StrategyMode == store.StrategyMomentum {
		factor = e.cfg.MomentumJiggleFactor
	}
	shares := JiggleAmounts(total, len(wallets), factor, e.rng)

	return e.fanOut(ctx, wallets, func(ctx context.Context, idx int, w store.ClusterWallet) UnitOutcome {
		if payload.StrategyMode == store.StrategyStaggered {
			_ = e.clock.Sleep(ctx, time.Duration(idx)*e.cfg.StaggerDelay)
		}
		if isBuy {
			return e.buyCoin(ctx, w, payload.CoinAddress, shares[idx], payload.SlippageBps)
		}
		return e.sellCoin(ctx, w, payload.CoinAddress, shares[idx], payload.SlippageBps)
	})
}

// fanOut dispatches unit over wallets in listed order under the engine's
// bounded concurrency pool, preserving each wallet's output slot regardless
// of completion order.
func (e *Engine) fanOut(ctx context.Context, wallets []store.ClusterWallet, unit func(ctx context.Context, idx int, w store.ClusterWallet) UnitOutcome) ([]UnitOutcome, error) {
	outcomes := make([]UnitOutcome, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			outcomes[i] = unit(gctx, i, w)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (e *Engine) fundWallet(ctx context.Context, w store.ClusterWallet, amount *big.Int) UnitOutcome {
	ctx, span := e.tracer.Start(ctx, "execution.unit_fund")
	defer span.End()

	outcome := UnitOutcome{WalletID: w.ID, AmountIn: amount.String()}

	session, err := e.account.GetSession(ctx, w.ProviderAccountName)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "funding", w.ID, amount, "")
	}
	result, err := session.SendUserOp(ctx, []capability.Call{{To: w.Address, Value: amount}})
	if err != nil {
		return e.failUnit(ctx, outcome, err, "funding", w.ID, amount, "")
	}
	outcome.UserOpHash = result.UserOpHash

	receipt, err := session.WaitReceipt(ctx, result.UserOpHash)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "funding", w.ID, amount, "")
	}
	outcome.TxHash = receipt.TxHash
	if !receipt.Success {
		return e.failUnit(ctx, outcome, apperrors.New(apperrors.KindUserOpReverted, receipt.Reason), "funding", w.ID, amount, "")
	}

	outcome.Status = string(store.TradeComplete)
	if _, err := e.store.CreateFunding(ctx, store.Funding{
		WalletID: w.ID, AmountWei: amount.String(), UserOpHash: outcome.UserOpHash, TxHash: outcome.TxHash, Status: store.TradeComplete,
	}); err != nil {
		outcome.Status = string(store.TradeFailed)
		outcome.Error = err.Error()
	}
	e.metrics.RecordUnit("FUNDING_REQUEST", outcome.Status)
	return outcome
}

func (e *Engine) buyCoin(ctx context.Context, w store.ClusterWallet, coin string, amountIn *big.Int, slippageBps int) UnitOutcome {
	ctx, span := e.tracer.Start(ctx, "execution.unit_buy")
	defer span.End()

	outcome := UnitOutcome{WalletID: w.ID, AmountIn: amountIn.String()}

	encoded, err := e.swap.EncodeBuy(ctx, capability.BuyParams{ToToken: coin, AmountIn: amountIn, SlippageBps: slippageBps})
	if err != nil {
		return e.failUnit(ctx, outcome, apperrors.New(apperrors.KindQuoteFailed, err.Error()), "buy", w.ID, amountIn, coin)
	}

	session, err := e.account.GetSession(ctx, w.ProviderAccountName)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "buy", w.ID, amountIn, coin)
	}
	result, err := session.SendUserOp(ctx, []capability.Call{{To: encoded.To, Value: encoded.Value, Data: encoded.Data}})
	if err != nil {
		return e.failUnit(ctx, outcome, err, "buy", w.ID, amountIn, coin)
	}
	outcome.UserOpHash = result.UserOpHash

	receipt, err := session.WaitReceipt(ctx, result.UserOpHash)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "buy", w.ID, amountIn, coin)
	}
	outcome.TxHash = receipt.TxHash
	if !receipt.Success {
		return e.failUnit(ctx, outcome, apperrors.New(apperrors.KindUserOpReverted, receipt.Reason), "buy", w.ID, amountIn, coin)
	}

	amountOut, err := e.swap.ParseAmountOut(ctx, capability.Receipt(receipt))
	if err != nil {
		return e.failUnit(ctx, outcome, err, "buy", w.ID, amountIn, coin)
	}
	outcome.AmountOut = amountOut.String()
	outcome.Status = string(store.TradeComplete)

	if _, err := e.store.CreateTrade(ctx, store.Trade{
		WalletID: w.ID, FromToken: "native", ToToken: coin, AmountIn: amountIn.String(), AmountOut: strPtr(amountOut.String()),
		UserOpHash: outcome.UserOpHash, TxHash: outcome.TxHash, Status: store.TradeComplete,
	}); err != nil {
		outcome.Error = err.Error()
	}
	if _, err := e.store.UpsertPosition(ctx, w.ID, coin, amountIn.String(), "0", amountOut.String(), true); err != nil {
		outcome.Error = err.Error()
	}
	e.metrics.RecordUnit("SUPPORT_COIN", outcome.Status)
	return outcome
}

func (e *Engine) sellCoin(ctx context.Context, w store.ClusterWallet, coin string, amountIn *big.Int, slippageBps int) UnitOutcome {
	ctx, span := e.tracer.Start(ctx, "execution.unit_sell")
	defer span.End()

	outcome := UnitOutcome{WalletID: w.ID, AmountIn: amountIn.String()}

	encoded, err := e.swap.EncodeSell(ctx, capability.SellParams{FromToken: coin, AmountIn: amountIn, SlippageBps: slippageBps})
	if err != nil {
		return e.failUnit(ctx, outcome, apperrors.New(apperrors.KindQuoteFailed, err.Error()), "sell", w.ID, amountIn, coin)
	}

	session, err := e.account.GetSession(ctx, w.ProviderAccountName)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "sell", w.ID, amountIn, coin)
	}
	result, err := session.SendUserOp(ctx, []capability.Call{{To: encoded.To, Value: encoded.Value, Data: encoded.Data}})
	if err != nil {
		return e.failUnit(ctx, outcome, err, "sell", w.ID, amountIn, coin)
	}
	outcome.UserOpHash = result.UserOpHash

	receipt, err := session.WaitReceipt(ctx, result.UserOpHash)
	if err != nil {
		return e.failUnit(ctx, outcome, err, "sell", w.ID, amountIn, coin)
	}
	outcome.TxHash = receipt.TxHash
	if !receipt.Success {
		return e.failUnit(ctx, outcome, apperrors.New(apperrors.KindUserOpReverted, receipt.Reason), "sell", w.ID, amountIn, coin)
	}

	amountOut, err := e.swap.ParseAmountOut(ctx, capability.Receipt(receipt))
	if err != nil {
		return e.failUnit(ctx, outcome, err, "sell", w.ID, amountIn, coin)
	}
	outcome.AmountOut = amountOut.String()
	outcome.Status = string(store.TradeComplete)

	if _, err := e.store.CreateTrade(ctx, store.Trade{
		WalletID: w.ID, FromToken: coin, ToToken: "native", AmountIn: amountIn.String(), AmountOut: strPtr(amountOut.String()),
		UserOpHash: outcome.UserOpHash, TxHash: outcome.TxHash, Status: store.TradeComplete,
	}); err != nil {
		outcome.Error = err.Error()
	}
	negated := new(big.Int).Neg(amountIn)
	if _, err := e.store.UpsertPosition(ctx, w.ID, coin, "0", amountOut.String(), negated.String(), false); err != nil {
		outcome.Error = err.Error()
	}
	e.metrics.RecordUnit("EXIT_COIN", outcome.Status)
	return outcome
}

// failUnit marks outcome failed and records a terminal row in the store so
// the failure survives the process, using the trades table for buy/sell
// units (coin is the non-native leg) and the funding_txs table for funding
// units (coin is ignored).
func (e *Engine) failUnit(ctx context.Context, outcome UnitOutcome, err error, kind string, walletID int64, amount *big.Int, coin string) UnitOutcome {
	outcome.Status = string(store.TradeFailed)
	outcome.Error = err.Error()

	var recordErr error
	switch kind {
	case "funding":
		_, recordErr = e.store.CreateFunding(ctx, store.Funding{
			WalletID: walletID, AmountWei: amount.String(), Status: store.TradeFailed, ErrorMessage: err.Error(),
		})
	case "buy":
		_, recordErr = e.store.CreateTrade(ctx, store.Trade{
			WalletID: walletID, FromToken: "native", ToToken: coin, AmountIn: amount.String(), Status: store.TradeFailed, ErrorMessage: err.Error(),
		})
	case "sell":
		_, recordErr = e.store.CreateTrade(ctx, store.Trade{
			WalletID: walletID, FromToken: coin, ToToken: "native", AmountIn: amount.String(), Status: store.TradeFailed, ErrorMessage: err.Error(),
		})
	}
	if recordErr != nil {
		outcome.Error = outcome.Error + "; " + recordErr.Error()
	}
	e.metrics.RecordUnit(kind, outcome.Status)
	return outcome
}

func strPtr(s string) *string { return &s }
