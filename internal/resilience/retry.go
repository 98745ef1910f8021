package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig configures [Retry].
type RetryConfig struct {
	// Name is a label used in log messages.
	Name string

	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int

	// Delay is the fixed pause between attempts. Default: 2s.
	Delay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up or ctx is done. The error of the last attempt is
// returned unchanged; a cancelled ctx returns ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}

	backoff := retry.WithMaxRetries(uint64(cfg.Attempts-1), retry.NewConstant(cfg.Delay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt < cfg.Attempts {
			slog.Warn("attempt failed, retrying",
				"name", cfg.Name,
				"attempt", attempt,
				"max_attempts", cfg.Attempts,
				"delay", cfg.Delay,
				"err", err,
			)
		}
		return retry.RetryableError(err)
	})
}
