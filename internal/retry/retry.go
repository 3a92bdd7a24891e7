// Package retry wraps model calls with bounded exponential backoff. Failures
// are classified three ways: success, retryable-transient (rate limits,
// transient network errors), and terminal (auth, policy, malformed request).
// Terminal errors surface immediately; transient ones are retried up to the
// configured budget and only then surfaced, annotated with the attempt count.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Cyclone1070/agentrig/internal/provider/models"
)

// Config tunes the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the engine's default retry tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// ExhaustedError reports that the retry budget ran out. It wraps the last
// transient error and records how many attempts were actually performed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Controller retries a single logical model call. Retries never re-run tool
// calls already dispatched in the same turn; they are local to the wrapped
// call only.
type Controller struct {
	cfg Config
	log zerolog.Logger

	// sleep is swapped out in tests to capture the delay schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller with the given tuning.
func New(cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:   cfg.normalized(),
		log:   log,
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke runs fn until it succeeds, fails terminally, or the attempt budget
// is exhausted. A provider-suggested RetryAfter overrides the computed
// backoff delay for that attempt.
func (c *Controller) Invoke(ctx context.Context, op string, fn func(ctx context.Context) (*models.GenerateResponse, error)) (*models.GenerateResponse, error) {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = c.cfg.BaseDelay
	schedule.MaxInterval = c.cfg.MaxDelay
	schedule.MaxElapsedTime = 0 // bounded by attempts, not elapsed time
	schedule.Reset()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				c.log.Info().
					Str("op", op).
					Int("attempt", attempt).
					Msg("call succeeded after retry")
			}
			return resp, nil
		}
		lastErr = err

		if !models.IsRetryable(err) {
			c.log.Debug().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Msg("terminal error, not retrying")
			return nil, err
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
		if ra := models.GetRetryAfter(err); ra != nil && *ra > 0 {
			delay = *ra
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}

		c.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("retrying after transient error")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &ExhaustedError{Attempts: c.cfg.MaxAttempts, Last: lastErr}
}
