package resilience

import (
	"context"
	"log/slog"
	"time"
)

// Operation is a single attempt at an external call. The context carries
// the per-attempt timeout; implementations must honor it.
type Operation func(ctx context.Context) error

// Executor wraps external calls for one dependency with a circuit breaker
// and a retry policy. Construct one per dependency; the breaker inside is
// the only state shared across pipeline workers.
type Executor struct {
	dependency     string
	breaker        *Breaker
	policy         RetryPolicy
	attemptTimeout time.Duration
	log            *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor for the named dependency.
func NewExecutor(dependency string, breaker *Breaker, policy RetryPolicy, attemptTimeout time.Duration, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		dependency:     dependency,
		breaker:        breaker,
		policy:         policy,
		attemptTimeout: attemptTimeout,
		log:            log.With("dependency", dependency),
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Breaker exposes the executor's breaker for health reporting.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Execute runs op through the breaker and retry policy. It returns nil on
// success or a *Failure describing why the call was given up on. Only
// classified-retryable failures are retried; each attempt gets its own
// timeout.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	var lastErr error
	var lastKind FailureKind

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.policy.Delay(attempt-1)); err != nil {
				return &Failure{
					Dependency: e.dependency,
					Kind:       KindTimeout,
					Cause:      CauseRetriesExhausted,
					Attempts:   attempt,
					Err:        err,
				}
			}
		}

		if err := e.breaker.Allow(); err != nil {
			return &Failure{
				Dependency: e.dependency,
				Kind:       lastKindOr(lastKind, KindUnavailable),
				Cause:      CauseBreakerOpen,
				Attempts:   attempt,
				Err:        err,
			}
		}

		err := e.attempt(ctx, op)
		if err == nil {
			e.breaker.RecordSuccess()
			return nil
		}

		lastErr = err
		lastKind = Classify(err)
		e.breaker.RecordFailure()

		if !lastKind.Retryable() {
			return &Failure{
				Dependency: e.dependency,
				Kind:       lastKind,
				Cause:      CauseNotRetryable,
				Attempts:   attempt + 1,
				Err:        lastErr,
			}
		}

		e.log.Warn("retrying external call",
			"attempt", attempt+1,
			"max_attempts", e.policy.MaxAttempts,
			"kind", string(lastKind),
			"error", err.Error(),
		)
	}

	return &Failure{
		Dependency: e.dependency,
		Kind:       lastKind,
		Cause:      CauseRetriesExhausted,
		Attempts:   e.policy.MaxAttempts,
		Err:        lastErr,
	}
}

func (e *Executor) attempt(ctx context.Context, op Operation) error {
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}
	return op(ctx)
}

func lastKindOr(k, fallback FailureKind) FailureKind {
	if k == "" {
		return fallback
	}
	return k
}
