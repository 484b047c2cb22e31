// Package dataaccess wraps every storage call with a bounded timeout,
// classified retries and slow-operation logging.
package dataaccess

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"neighbourhood-chat/internal/apperrors"
	"neighbourhood-chat/internal/logger"
	"neighbourhood-chat/internal/observability"
)

// Policy controls one wrapped operation.
type Policy struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	SlowThreshold  time.Duration
	// RetryIf may allow retries of BUSINESS_LOGIC errors, which are never
	// retried otherwise.
	RetryIf func(*apperrors.Error) bool
}

// Executor runs storage operations under a default policy.
type Executor struct {
	defaults Policy
}

// NewExecutor builds an Executor. Zero fields fall back to 10s timeout,
// 200ms initial backoff and a 1s slow threshold.
func NewExecutor(defaults Policy) *Executor {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 10 * time.Second
	}
	if defaults.InitialBackoff <= 0 {
		defaults.InitialBackoff = 200 * time.Millisecond
	}
	if defaults.SlowThreshold <= 0 {
		defaults.SlowThreshold = time.Second
	}
	if defaults.MaxRetries < 0 {
		defaults.MaxRetries = 0
	}
	return &Executor{defaults: defaults}
}

// Option adjusts the policy of a single call.
type Option func(*Policy)

// WithRetries overrides the retry budget.
func WithRetries(n int) Option {
	return func(p *Policy) { p.MaxRetries = n }
}

// NoRetry disables retries, used for non-idempotent writes.
func NoRetry() Option {
	return WithRetries(0)
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) { p.Timeout = d }
}

// WithBackoff overrides the initial backoff interval.
func WithBackoff(d time.Duration) Option {
	return func(p *Policy) { p.InitialBackoff = d }
}

// WithRetryIf installs a custom predicate for business-logic errors.
func WithRetryIf(fn func(*apperrors.Error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

// Do runs fn, retrying transient failures. The returned error is always
// classified.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error, opts ...Option) error {
	policy := e.defaults
	for _, opt := range opts {
		opt(&policy)
	}

	start := time.Now()
	attempt := 0
	run := func() error {
		attempt++
		if attempt > 1 {
			observability.IncDBRetry(operation)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		classified := classifyAttempt(ctx, err)
		if !shouldRetry(classified, policy) {
			return backoff.Permanent(classified)
		}
		return classified
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxElapsedTime = 0
	strategy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)

	err := backoff.RetryNotify(run, strategy, func(err error, wait time.Duration) {
		logger.FromContext(ctx).Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("retrying storage operation")
	})

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveDBOperation(operation, outcome, elapsed)
	if elapsed >= policy.SlowThreshold {
		logger.FromContext(ctx).Warn().
			Str("operation", operation).
			Dur("elapsed", elapsed).
			Int("attempts", attempt).
			Msg("slow storage operation")
	}

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// the caller's deadline ended the retry loop
		return apperrors.Classify(ctxErr)
	}
	return apperrors.Classify(err)
}

// Get runs fn through Do and returns its value.
func Get[T any](ctx context.Context, e *Executor, operation string, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := e.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}

// classifyAttempt distinguishes a per-attempt timeout (retryable) from the
// caller giving up (not retryable).
func classifyAttempt(parent context.Context, err error) *apperrors.Error {
	if parent.Err() != nil {
		e := apperrors.Classify(parent.Err())
		cp := *e
		cp.Retryable = false
		return &cp
	}
	return apperrors.Classify(err)
}

func shouldRetry(err *apperrors.Error, policy Policy) bool {
	switch err.Category {
	case apperrors.CategoryConnection, apperrors.CategoryResource:
		return err.Retryable
	case apperrors.CategoryBusinessLogic:
		return policy.RetryIf != nil && policy.RetryIf(err)
	default:
		return false
	}
}
