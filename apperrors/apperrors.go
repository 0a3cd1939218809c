// Package apperrors defines the error taxonomy shared across the fleet
// controller's components: a small set of sentinel kinds that the execution
// engine, policy layer, and boot sequence classify errors into at their
// boundaries.
package apperrors

import "errors"

// Kind identifies a taxonomy entry. Kinds are not Go error types themselves;
// every sentinel below wraps one via errors.Is so callers can classify any
// error produced deeper in the stack without type assertions.
type Kind string

const (
	KindPolicyReject    Kind = "POLICY_REJECT"
	KindStateConflict   Kind = "STATE_CONFLICT"
	KindNotFound        Kind = "NOT_FOUND"
	KindNoSignal        Kind = "NO_SIGNAL"
	KindQuoteFailed     Kind = "QUOTE_FAILED"
	KindBundlerSendFail Kind = "BUNDLER_SEND_FAIL"
	KindReceiptTimeout  Kind = "RECEIPT_TIMEOUT"
	KindUserOpReverted  Kind = "USEROP_REVERTED"
	KindKeyMismatch     Kind = "KEY_MISMATCH"
	KindConfigInvalid   Kind = "CONFIG_INVALID"
)

var (
	ErrPolicyReject    = errors.New(string(KindPolicyReject))
	ErrStateConflict   = errors.New(string(KindStateConflict))
	ErrNotFound        = errors.New(string(KindNotFound))
	ErrNoSignal        = errors.New(string(KindNoSignal))
	ErrQuoteFailed     = errors.New(string(KindQuoteFailed))
	ErrBundlerSendFail = errors.New(string(KindBundlerSendFail))
	ErrReceiptTimeout  = errors.New(string(KindReceiptTimeout))
	ErrUserOpReverted  = errors.New(string(KindUserOpReverted))
	ErrKeyMismatch     = errors.New(string(KindKeyMismatch))
	ErrConfigInvalid   = errors.New(string(KindConfigInvalid))
)

var sentinelsByKind = map[Kind]error{
	KindPolicyReject:    ErrPolicyReject,
	KindStateConflict:   ErrStateConflict,
	KindNotFound:        ErrNotFound,
	KindNoSignal:        ErrNoSignal,
	KindQuoteFailed:     ErrQuoteFailed,
	KindBundlerSendFail: ErrBundlerSendFail,
	KindReceiptTimeout:  ErrReceiptTimeout,
	KindUserOpReverted:  ErrUserOpReverted,
	KindKeyMismatch:     ErrKeyMismatch,
	KindConfigInvalid:   ErrConfigInvalid,
}

// Violation is a value error carrying a kind plus a single-line human
// readable reason. Propagation-policy callers (the execution engine, the
// policy boundary) wrap a sentinel with disambiguating context this way
// rather than defining one Go type per rejection reason.
type Violation struct {
	Kind   Kind
	Reason string
}

func (v *Violation) Error() string {
	if v.Reason == "" {
		return string(v.Kind)
	}
	return string(v.Kind) + ": " + v.Reason
}

func (v *Violation) Unwrap() error {
	return sentinelsByKind[v.Kind]
}

// New builds a Violation for the given kind and reason.
func New(kind Kind, reason string) *Violation {
	return &Violation{Kind: kind, Reason: reason}
}

// Classify reports which taxonomy kind, if any, an error belongs to.
func Classify(err error) (Kind, bool) {
	for kind, sentinel := range sentinelsByKind {
		if errors.Is(err, sentinel) {
			return kind, true
		}
	}
	return "", false
}

// IsFatal reports whether the error halts the boot sequence rather than
// being surfaced to a caller or absorbed into an operation result.
func IsFatal(err error) bool {
	return errors.Is(err, ErrKeyMismatch) || errors.Is(err, ErrConfigInvalid)
}
