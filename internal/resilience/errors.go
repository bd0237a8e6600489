package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureKind classifies an external call failure for retry decisions.
type FailureKind string

const (
	KindTimeout         FailureKind = "TIMEOUT"
	KindRateLimited     FailureKind = "RATE_LIMITED"
	KindUnavailable     FailureKind = "UNAVAILABLE"
	KindValidation      FailureKind = "VALIDATION"
	KindUnauthorized    FailureKind = "UNAUTHORIZED"
	KindContentRejected FailureKind = "CONTENT_REJECTED"
	KindUnknown         FailureKind = "UNKNOWN"
)

// Retryable reports whether a failure of this kind may succeed on retry.
// Validation, authorization and content-filter outcomes never do.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// ClassifiedError is an external call failure tagged with its kind.
// Clients return these so the executor can decide whether to retry.
type ClassifiedError struct {
	Kind FailureKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classified wraps err with an explicit failure kind.
func Classified(kind FailureKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classify determines the failure kind of an arbitrary error. Errors
// already tagged keep their kind; context deadlines and net timeouts are
// timeouts; everything else is unknown (not retryable).
func Classify(err error) FailureKind {
	if err == nil {
		return KindUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// FailureCause distinguishes why an Execute call gave up.
type FailureCause string

const (
	CauseBreakerOpen      FailureCause = "BREAKER_OPEN"
	CauseRetriesExhausted FailureCause = "RETRIES_EXHAUSTED"
	CauseNotRetryable     FailureCause = "NOT_RETRYABLE"
)

// Failure is the single error surfaced by Executor.Execute after the
// breaker or the retry budget gave up on an operation.
type Failure struct {
	Dependency string
	Kind       FailureKind
	Cause      FailureCause
	Attempts   int
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s call failed (%s after %d attempts): %v",
		f.Dependency, f.Cause, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the underlying failure kind was retryable.
// For observability only; the pipeline treats any Failure as unrecovered.
func (f *Failure) Retryable() bool { return f.Kind.Retryable() }
