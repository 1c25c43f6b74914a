package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt of a cycle.
	MaxRetries int

	// BaseBackoff is multiplied by 2^attempt before each retry.
	BaseBackoff time.Duration

	// MaxBackoff caps a single sleep.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration:
// sleep min(2^attempt, 60) seconds, three retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

// Backoff returns min(BaseBackoff*2^attempt, MaxBackoff).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.BaseBackoff
	for i := 0; i < attempt; i++ {
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
		d *= 2
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// retryCycle sends body once and retries up to maxRetries times with
// exponential backoff. The request's attempt counter keeps growing across
// cycles, so later cycles start from a longer backoff.
func (r *Request) retryCycle(ctx context.Context, body []byte, maxRetries int) error {
	cfg := r.client.config.Retry

	for retries := 0; ; retries++ {
		err := r.post(ctx, body)
		if err == nil {
			if retries > 0 {
				r.logger.Info().
					Int("attempt", r.attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		if errors.Is(err, ErrInterrupted) {
			return err
		}

		errorClass := classOf(err)
		if retries >= maxRetries {
			etRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			r.logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", r.attempt).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, r.attempt, err)
		}

		backoff := cfg.Backoff(r.attempt)
		etRetriesTotal.WithLabelValues(string(errorClass)).Inc()
		etRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(backoff.Seconds())

		r.logger.Warn().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", r.attempt).
			Int("max_retries", maxRetries).
			Dur("backoff", backoff).
			Msg("Reattempting request")

		select {
		case <-ctx.Done():
			r.logger.Warn().
				Int("attempt", r.attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		case <-time.After(backoff):
		}

		r.attempt++
	}
}
