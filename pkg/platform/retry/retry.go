// Package retry runs outbound calls with a small, bounded, fixed-delay retry
// policy. Only transient failures (timeouts, no response, 5xx) are retried.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	dErrors "healthcred/pkg/domain-errors"
)

// Policy configures how many times a transient failure is retried and how
// long to wait between attempts.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultPolicy mirrors the outbound defaults in config.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, Delay: 500 * time.Millisecond}
}

// transient is implemented by errors that know whether they are worth retrying.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is a timeout, a missing response, or a
// server-side failure. Client errors (4xx) are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	if e, ok := dErrors.As(err); ok {
		return e.Code.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Do calls fn until it succeeds, returns a non-transient error, the retry
// budget is spent, or ctx is done. The returned attempts count includes the
// first call.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			case <-time.After(p.Delay):
			}
		}

		attempts++
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !IsTransient(err) {
			return attempts, err
		}
	}
	return attempts, err
}
