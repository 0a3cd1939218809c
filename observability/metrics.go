package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	policyMetricsOnce sync.Once
	policyRegistry    *PolicyMetrics

	autoApproveMetricsOnce sync.Once
	autoApproveRegistry    *AutoApproveMetrics

	bundlerMetricsOnce sync.Once
	bundlerRegistry    *BundlerMetrics

	executionMetricsOnce sync.Once
	executionRegistry    *ExecutionMetrics

	loopMetricsOnce sync.Once
	loopRegistry    *LoopMetrics
)

// PolicyMetrics tracks admit/reject outcomes from the policy enforcer,
// segmented by operation type and, on rejection, which rule fired.
type PolicyMetrics struct {
	decisions *prometheus.CounterVec
}

// Policy returns the lazily-initialised policy decision registry.
func Policy() *PolicyMetrics {
	policyMetricsOnce.Do(func() {
		policyRegistry = &PolicyMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "policy",
				Name:      "decisions_total",
				Help:      "Count of policy decisions segmented by operation type and outcome.",
			}, []string{"op_type", "outcome", "reason"}),
		}
		prometheus.MustRegister(policyRegistry.decisions)
	})
	return policyRegistry
}

// RecordDecision records one Validate call's outcome. reason is empty on
// admit.
func (m *PolicyMetrics) RecordDecision(opType, outcome, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(labelOrUnknown(opType), labelOrUnknown(outcome), reason).Inc()
}

// AutoApproveMetrics tracks the auto-approver's allow/deny decisions.
type AutoApproveMetrics struct {
	decisions *prometheus.CounterVec
}

// AutoApprove returns the lazily-initialised auto-approve decision registry.
func AutoApprove() *AutoApproveMetrics {
	autoApproveMetricsOnce.Do(func() {
		autoApproveRegistry = &AutoApproveMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "autoapprove",
				Name:      "decisions_total",
				Help:      "Count of auto-approval decisions segmented by operation type and outcome.",
			}, []string{"op_type", "outcome"}),
		}
		prometheus.MustRegister(autoApproveRegistry.decisions)
	})
	return autoApproveRegistry
}

// RecordDecision records one Evaluate call's outcome.
func (m *AutoApproveMetrics) RecordDecision(opType string, allow bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	m.decisions.WithLabelValues(labelOrUnknown(opType), outcome).Inc()
}

// BundlerMetrics tracks per-provider send attempts, failovers, and receipt
// latency for the bundler router.
type BundlerMetrics struct {
	attempts        *prometheus.CounterVec
	failovers       *prometheus.CounterVec
	receiptLatency  *prometheus.HistogramVec
	receiptTimeouts *prometheus.CounterVec
}

// Bundler returns the lazily-initialised bundler router registry.
func Bundler() *BundlerMetrics {
	bundlerMetricsOnce.Do(func() {
		bundlerRegistry = &BundlerMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "bundler",
				Name:      "send_attempts_total",
				Help:      "Count of bundler send attempts segmented by provider and outcome.",
			}, []string{"provider", "outcome", "category"}),
			failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "bundler",
				Name:      "failovers_total",
				Help:      "Count of sends that fell over from the primary provider to the secondary.",
			}, []string{"from_provider", "to_provider"}),
			receiptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fleetctl",
				Subsystem: "bundler",
				Name:      "receipt_wait_seconds",
				Help:      "Latency distribution between send and included receipt.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider"}),
			receiptTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "bundler",
				Name:      "receipt_timeouts_total",
				Help:      "Count of receipt waits that exceeded the configured timeout.",
			}, []string{"provider"}),
		}
		prometheus.MustRegister(
			bundlerRegistry.attempts,
			bundlerRegistry.failovers,
			bundlerRegistry.receiptLatency,
			bundlerRegistry.receiptTimeouts,
		)
	})
	return bundlerRegistry
}

// RecordAttempt records one provider attempt's outcome.
func (m *BundlerMetrics) RecordAttempt(provider, outcome, category string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(labelOrUnknown(provider), labelOrUnknown(outcome), labelOrUnknown(category)).Inc()
}

// RecordFailover records a send that moved from the primary to the
// secondary provider.
func (m *BundlerMetrics) RecordFailover(from, to string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(labelOrUnknown(from), labelOrUnknown(to)).Inc()
}

// ObserveReceiptLatency records the wall-clock delay between send and
// receipt inclusion.
func (m *BundlerMetrics) ObserveReceiptLatency(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.receiptLatency.WithLabelValues(labelOrUnknown(provider)).Observe(d.Seconds())
}

// RecordReceiptTimeout increments the receipt-timeout counter.
func (m *BundlerMetrics) RecordReceiptTimeout(provider string) {
	if m == nil {
		return
	}
	m.receiptTimeouts.WithLabelValues(labelOrUnknown(provider)).Inc()
}

// ExecutionMetrics tracks per-unit and per-operation outcomes from the
// execution engine. It implements execution.Metrics.
type ExecutionMetrics struct {
	units      *prometheus.CounterVec
	operations *prometheus.CounterVec
}

// Execution returns the lazily-initialised execution engine registry.
func Execution() *ExecutionMetrics {
	executionMetricsOnce.Do(func() {
		executionRegistry = &ExecutionMetrics{
			units: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "execution",
				Name:      "units_total",
				Help:      "Count of per-wallet execution units segmented by operation type and outcome.",
			}, []string{"op_type", "outcome"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "execution",
				Name:      "operations_total",
				Help:      "Count of terminal operations segmented by type and terminal status.",
			}, []string{"op_type", "status"}),
		}
		prometheus.MustRegister(executionRegistry.units, executionRegistry.operations)
	})
	return executionRegistry
}

// RecordUnit records one wallet unit's terminal outcome.
func (m *ExecutionMetrics) RecordUnit(opType, outcome string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(labelOrUnknown(opType), labelOrUnknown(outcome)).Inc()
}

// RecordOperation records one operation's terminal status.
func (m *ExecutionMetrics) RecordOperation(opType, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(labelOrUnknown(opType), labelOrUnknown(status)).Inc()
}

// LoopMetrics tracks autonomy and swing tick outcomes, shared by both
// periodic drivers and distinguished by the "loop" label.
type LoopMetrics struct {
	ticks     *prometheus.CounterVec
	tickErrs  *prometheus.CounterVec
	triggered *prometheus.CounterVec
}

// Loops returns the lazily-initialised autonomy/swing loop registry.
func Loops() *LoopMetrics {
	loopMetricsOnce.Do(func() {
		loopRegistry = &LoopMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "loop",
				Name:      "ticks_total",
				Help:      "Count of loop ticks segmented by loop name.",
			}, []string{"loop"}),
			tickErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "loop",
				Name:      "tick_errors_total",
				Help:      "Count of loop ticks that captured an error segmented by loop name.",
			}, []string{"loop"}),
			triggered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fleetctl",
				Subsystem: "loop",
				Name:      "operations_triggered_total",
				Help:      "Count of operations a loop tick synthesized, segmented by loop name.",
			}, []string{"loop"}),
		}
		prometheus.MustRegister(loopRegistry.ticks, loopRegistry.tickErrs, loopRegistry.triggered)
	})
	return loopRegistry
}

// RecordTick records one tick, optionally noting a captured error.
func (m *LoopMetrics) RecordTick(loop string, err error) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(labelOrUnknown(loop)).Inc()
	if err != nil {
		m.tickErrs.WithLabelValues(labelOrUnknown(loop)).Inc()
	}
}

// RecordTriggered records that a tick synthesized an operation.
func (m *LoopMetrics) RecordTriggered(loop string) {
	if m == nil {
		return
	}
	m.triggered.WithLabelValues(labelOrUnknown(loop)).Inc()
}

func labelOrUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}
