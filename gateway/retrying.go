package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/graph"
	"github.com/BaSui01/graphrepair/retry"
)

// Retrying retries transient gateway failures with exponential backoff.
// Validation failures are verdicts and are never retried.
type Retrying struct {
	inner   Gateway
	retryer *retry.Retryer
}

// NewRetrying wraps inner. Timeouts and unavailability are retried; anything
// else, including caller cancellation, is returned at once.
func NewRetrying(inner Gateway, policy retry.Policy, logger *zap.Logger) *Retrying {
	policy.ShouldRetry = IsTransient
	return &Retrying{inner: inner, retryer: retry.New(policy, logger)}
}

// Validate implements Gateway. On exhaustion the error wraps both
// retry.ErrExhausted and the last transient cause.
func (r *Retrying) Validate(ctx context.Context, g graph.Graph, correlationID string) (*Result, error) {
	return retry.Do(ctx, r.retryer, func(ctx context.Context) (*Result, error) {
		return r.inner.Validate(ctx, g, correlationID)
	})
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
