// Package retry provides exponential backoff for startup-time network calls.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultJitter      = 0.2
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction (0..1) each delay is randomly spread by.
	Jitter float64
}

// DefaultPolicy returns the package defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if jitter > 0 {
		delay *= 1 - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, the attempts are exhausted or ctx is done.
// onFail, when set, sees every failed attempt (1-based) and the wait before
// the next one.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, onFail func(attempt int, err error, wait time.Duration)) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := Delay(p.BaseDelay, p.MaxDelay, p.Jitter, attempt)
		if onFail != nil {
			onFail(attempt+1, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, err)
}
