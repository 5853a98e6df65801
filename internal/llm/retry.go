package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds a single LLM round-trip.
const DefaultCallTimeout = 120 * time.Second

// RetryProvider bounds every call with a timeout and retries a timed-out call
// exactly once. Cancellation of the parent context is never retried.
type RetryProvider struct {
	inner   Provider
	timeout time.Duration
	logger  *slog.Logger
}

// NewRetryProvider wraps inner. A zero timeout uses DefaultCallTimeout.
func NewRetryProvider(inner Provider, timeout time.Duration, logger *slog.Logger) *RetryProvider {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &RetryProvider{inner: inner, timeout: timeout, logger: logger}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }

func (r *RetryProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	resp, err := r.attempt(ctx, req)
	if err == nil || !r.retryable(ctx, err) {
		return resp, err
	}
	r.logger.WarnContext(ctx, "llm call timed out, retrying once",
		slog.String("provider", r.inner.Name()),
		slog.Duration("timeout", r.timeout),
	)
	return r.attempt(ctx, req)
}

func (r *RetryProvider) attempt(ctx context.Context, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.SendMessage(callCtx, req)
}

func (r *RetryProvider) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded)
}
