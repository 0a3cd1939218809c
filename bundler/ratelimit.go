package bundler

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedAdapter wraps an Adapter with a client-side token bucket in
// front of SendUserOperation, giving the caller a first line of defence
// against provider rate limits before the classifier ever has to interpret
// a rate_limit error from the wire.
type RateLimitedAdapter struct {
	Adapter
	limiter *rate.Limiter
}

// NewRateLimitedAdapter wraps adapter so every SendUserOperation call waits
// on limiter first. A nil limiter disables throttling entirely.
func NewRateLimitedAdapter(adapter Adapter, limiter *rate.Limiter) *RateLimitedAdapter {
	return &RateLimitedAdapter{Adapter: adapter, limiter: limiter}
}

// SendUserOperation waits for the limiter before forwarding to the wrapped
// adapter.
func (a *RateLimitedAdapter) SendUserOperation(ctx context.Context, op UserOp) (SendResult, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return SendResult{}, err
		}
	}
	return a.Adapter.SendUserOperation(ctx, op)
}
