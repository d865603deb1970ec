package dbtcloud

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls backoff for transient request failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the
	// first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier scales the delay after each retry.
	Multiplier float64
	// Jitter randomizes each delay by up to the given fraction.
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used when none is
// configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// delay computes the backoff before the retry following the given
// zero-based attempt.
func (r RetryConfig) delay(attempt int) time.Duration {
	d := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if d > float64(r.MaxDelay) {
		d = float64(r.MaxDelay)
	}

	if r.Jitter > 0 {
		spread := d * r.Jitter
		d = d - spread + rand.Float64()*2*spread
	}

	return time.Duration(d)
}

// withRetry runs fn, retrying transient failures per the client's
// retry policy. Non-retryable errors return immediately.
func (c *Client) withRetry(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := c.retry.delay(attempt)

		c.log.WithError(err).
			WithField("endpoint", endpoint).
			WithField("attempt", attempt+1).
			WithField("delay", delay).
			Warn("Retrying request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
