// Package retry runs an operation a bounded number of times with linear
// backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Policy bounds a retry loop. Attempt n (1-based) that fails is followed by a
// sleep of n*Backoff, except after the last attempt.
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

// Default is three attempts with 1s then 2s between them.
var Default = Policy{Attempts: 3, Backoff: time.Second}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it after the current
// attempt without sleeping.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// OnRetry is invoked after a failed attempt that will be retried.
type OnRetry func(attempt int, err error, wait time.Duration)

// sleep is swapped in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. The returned error is the last one fn produced.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry OnRetry) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == attempts {
			break
		}
		wait := time.Duration(attempt) * p.Backoff
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return errors.WithSecondaryError(errors.Wrap(err, "retry aborted"), serr)
		}
	}
	return err
}

// Do runs fn under the Default policy.
func Do(ctx context.Context, fn func(ctx context.Context) error, onRetry OnRetry) error {
	return Default.Do(ctx, fn, onRetry)
}
