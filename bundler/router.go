// Package bundler abstracts ERC-4337-style bundler providers behind a
// uniform capability and a router that adds send-with-failover, optional
// hedged sends, and polled receipt waiting on top of it.
package bundler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fleetctl/apperrors"
)

// UserOp is the opaque account-abstraction operation payload the router
// forwards to adapters; its shape is owned by the capability collaborator
// that constructs it (the engine, via AccountSession), not by this package.
// RequestID is a webhook-style correlation id: Send assigns one via
// uuid.NewString when the caller leaves it empty, and it travels through
// every attempt's span attributes and audit record so a single logical send
// can be traced across a primary attempt and a failover retry.
type UserOp struct {
	Sender    string
	CallData  []byte
	Extra     map[string]any
	RequestID string
}

// GasEstimate is the result of Adapter.EstimateGas.
type GasEstimate struct {
	PreVerification uint64
	Verification    uint64
	Call            uint64
}

// SendResult is the result of Adapter.SendUserOperation.
type SendResult struct {
	UserOpHash string
	Provider   string
}

// Receipt is the result of Adapter.GetReceipt.
type Receipt struct {
	Included bool
	TxHash   string
	Success  bool
	Reason   string
}

// Adapter is the uniform capability a concrete bundler provider implements.
type Adapter interface {
	Name() string
	EstimateGas(ctx context.Context, op UserOp) (GasEstimate, error)
	SendUserOperation(ctx context.Context, op UserOp) (SendResult, error)
	GetReceipt(ctx context.Context, userOpHash string) (Receipt, error)
}

// Attempt records one provider's outcome for a single router call, forming
// the per-attempt audit trail Send returns alongside its chosen result.
type Attempt struct {
	Provider string
	Err      error
	Category Category
}

// AuditRecord is one persisted line of the bundler send audit trail,
// RLP-encoded by FileAuditSink the way native/swap/ledger.go flattens
// ledger events for compact on-disk storage.
type AuditRecord struct {
	RequestID string
	Provider  string
	Category  string
	Success   bool
	Reason    string
}

// AuditSink persists attempts for later replay or incident inspection.
// Routers built without WithAuditSink use a noop implementation.
type AuditSink interface {
	Record(rec AuditRecord)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(AuditRecord) {}

// Metrics receives router-level send/failover/receipt-timeout events.
// observability.BundlerMetrics implements this in production; routers built
// without WithMetrics use a noop implementation.
type Metrics interface {
	RecordAttempt(provider, outcome, category string)
	RecordFailover(from, to string)
	RecordReceiptTimeout(provider string)
}

type noopMetrics struct{}

func (noopMetrics) RecordAttempt(provider, outcome, category string) {}
func (noopMetrics) RecordFailover(from, to string)                   {}
func (noopMetrics) RecordReceiptTimeout(provider string)             {}

// Router fans a send out across a primary and optional secondary Adapter,
// applying the classifier to decide on failover.
type Router struct {
	primary   Adapter
	secondary Adapter

	sendTimeout    time.Duration
	hedgeDelay     time.Duration
	receiptPoll    time.Duration
	receiptTimeout time.Duration

	metrics Metrics
	audit   AuditSink
	tracer  trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithSecondary registers a secondary adapter for failover and hedging.
func WithSecondary(secondary Adapter) Option {
	return func(r *Router) { r.secondary = secondary }
}

// WithSendTimeout bounds every bundler send.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Router) { r.sendTimeout = d }
}

// WithHedgeDelay sets the delay before SendHedged calls the secondary.
func WithHedgeDelay(d time.Duration) Option {
	return func(r *Router) { r.hedgeDelay = d }
}

// WithReceiptPolling sets the poll interval and overall timeout for
// WaitForReceipt.
func WithReceiptPolling(poll, timeout time.Duration) Option {
	return func(r *Router) {
		r.receiptPoll = poll
		r.receiptTimeout = timeout
	}
}

// WithMetrics records send/failover/receipt-timeout events through m.
func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithAuditSink persists every attempt's outcome through sink.
func WithAuditSink(sink AuditSink) Option {
	return func(r *Router) { r.audit = sink }
}

// NewRouter builds a Router around primary, applying opts.
func NewRouter(primary Adapter, opts ...Option) *Router {
	r := &Router{
		primary:        primary,
		sendTimeout:    5 * time.Second,
		hedgeDelay:     250 * time.Millisecond,
		receiptPoll:    2 * time.Second,
		receiptTimeout: 60 * time.Second,
		metrics:        noopMetrics{},
		audit:          noopAuditSink{},
		tracer:         otel.Tracer("fleetctl/bundler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send calls the primary with a send-timeout; on a failover-eligible
// failure it retries against the secondary (if configured), returning the
// chosen result plus the full per-attempt audit trail.
func (r *Router) Send(ctx context.Context, op UserOp) (SendResult, []Attempt, error) {
	if op.RequestID == "" {
		op.RequestID = uuid.NewString()
	}
	ctx, span := r.tracer.Start(ctx, "bundler.send", trace.WithAttributes(attribute.String("bundler.request_id", op.RequestID)))
	defer span.End()

	var attempts []Attempt

	res, err := r.sendWithTimeout(ctx, r.primary, op)
	if err == nil {
		attempts = append(attempts, Attempt{Provider: r.primary.Name()})
		r.metrics.RecordAttempt(r.primary.Name(), "ok", "")
		r.audit.Record(AuditRecord{RequestID: op.RequestID, Provider: r.primary.Name(), Success: true})
		return res, attempts, nil
	}
	category := Classify(err)
	attempts = append(attempts, Attempt{Provider: r.primary.Name(), Err: err, Category: category})
	r.metrics.RecordAttempt(r.primary.Name(), "error", string(category))
	r.audit.Record(AuditRecord{RequestID: op.RequestID, Provider: r.primary.Name(), Category: string(category), Reason: err.Error()})
	span.SetAttributes(attribute.String("bundler.primary_category", string(category)))

	if !FailoverEligible(category) || r.secondary == nil {
		return SendResult{}, attempts, apperrors.New(apperrors.KindBundlerSendFail, fmt.Sprintf("%s: %v", r.primary.Name(), err))
	}
	r.metrics.RecordFailover(r.primary.Name(), r.secondary.Name())

	res, err = r.sendWithTimeout(ctx, r.secondary, op)
	if err == nil {
		attempts = append(attempts, Attempt{Provider: r.secondary.Name()})
		r.metrics.RecordAttempt(r.secondary.Name(), "ok", "")
		r.audit.Record(AuditRecord{RequestID: op.RequestID, Provider: r.secondary.Name(), Success: true})
		return res, attempts, nil
	}
	category = Classify(err)
	attempts = append(attempts, Attempt{Provider: r.secondary.Name(), Err: err, Category: category})
	r.metrics.RecordAttempt(r.secondary.Name(), "error", string(category))
	r.audit.Record(AuditRecord{RequestID: op.RequestID, Provider: r.secondary.Name(), Category: string(category), Reason: err.Error()})
	return SendResult{}, attempts, apperrors.New(apperrors.KindBundlerSendFail, fmt.Sprintf("%s: %v; %s: %v", r.primary.Name(), attempts[0].Err, r.secondary.Name(), err))
}

func (r *Router) sendWithTimeout(ctx context.Context, adapter Adapter, op UserOp) (SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return adapter.SendUserOperation(ctx, op)
}

// SendHedged calls the primary immediately and, after the configured hedge
// delay, also calls the secondary if one is configured; the first call to
// return without error wins. Callers opt into this explicitly — it is not
// the default Send path.
func (r *Router) SendHedged(ctx context.Context, op UserOp) (SendResult, []Attempt, error) {
	ctx, span := r.tracer.Start(ctx, "bundler.send_hedged")
	defer span.End()

	if r.secondary == nil {
		res, attempts, err := r.Send(ctx, op)
		return res, attempts, err
	}

	type outcome struct {
		res      SendResult
		err      error
		provider string
	}
	results := make(chan outcome, 2)

	go func() {
		res, err := r.sendWithTimeout(ctx, r.primary, op)
		results <- outcome{res, err, r.primary.Name()}
	}()
	go func() {
		select {
		case <-time.After(r.hedgeDelay):
		case <-ctx.Done():
			results <- outcome{err: ctx.Err(), provider: r.secondary.Name()}
			return
		}
		res, err := r.sendWithTimeout(ctx, r.secondary, op)
		results <- outcome{res, err, r.secondary.Name()}
	}()

	var attempts []Attempt
	for i := 0; i < 2; i++ {
		o := <-results
		if o.err == nil {
			attempts = append(attempts, Attempt{Provider: o.provider})
			return o.res, attempts, nil
		}
		attempts = append(attempts, Attempt{Provider: o.provider, Err: o.err, Category: Classify(o.err)})
	}
	return SendResult{}, attempts, apperrors.New(apperrors.KindBundlerSendFail, "both providers failed")
}

// WaitForReceipt polls both configured providers at the receipt-poll
// interval, returning the first included receipt. It fails with
// RECEIPT_TIMEOUT after the receipt-timeout elapses.
func (r *Router) WaitForReceipt(ctx context.Context, userOpHash string) (Receipt, error) {
	ctx, span := r.tracer.Start(ctx, "bundler.wait_receipt")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(r.receiptPoll)
	defer ticker.Stop()

	adapters := []Adapter{r.primary}
	if r.secondary != nil {
		adapters = append(adapters, r.secondary)
	}

	check := func() (Receipt, bool) {
		for _, a := range adapters {
			receipt, err := a.GetReceipt(ctx, userOpHash)
			if err == nil && receipt.Included {
				return receipt, true
			}
		}
		return Receipt{}, false
	}

	if receipt, ok := check(); ok {
		return receipt, nil
	}
	for {
		select {
		case <-ctx.Done():
			r.metrics.RecordReceiptTimeout(r.primary.Name())
			return Receipt{}, apperrors.New(apperrors.KindReceiptTimeout, fmt.Sprintf("no receipt for %s within timeout", userOpHash))
		case <-ticker.C:
			if receipt, ok := check(); ok {
				return receipt, nil
			}
		}
	}
}
