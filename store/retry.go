package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/plugin/ai/timeout"
)

// retryPolicy is a bounded exponential backoff for transient driver errors.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.base << (attempt - 1)
	if d <= 0 || d > p.max {
		return p.max
	}
	return d
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Caller errors pass through untouched; everything
// else surfaces as *PersistenceError.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.retry.attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if isCallerError(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrapf(ctxErr, "%s interrupted", op)
		}
		if !s.driver.IsTransient(err) {
			return &PersistenceError{Op: op, Attempts: attempt, Err: err}
		}
		if attempt == s.retry.attempts {
			break
		}

		wait := s.retry.delay(attempt)
		slog.Warn("transient store error, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "%s interrupted", op)
		case <-timer.C:
		}
	}
	return &PersistenceError{Op: op, Attempts: s.retry.attempts, Err: err}
}

func newRetryPolicy(attempts int, base time.Duration) retryPolicy {
	if attempts < 1 {
		attempts = timeout.PersistAttempts
	}
	if base <= 0 {
		base = timeout.PersistBaseBackoff
	}
	return retryPolicy{attempts: attempts, base: base, max: timeout.PersistMaxBackoff}
}
