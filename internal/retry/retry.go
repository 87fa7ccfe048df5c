// Package retry provides common retry logic with exponential backoff for odoo_bridge.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for retry logic
type Config struct {
	MaxAttempts   uint64
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
	// IsRetryable decides whether an error is worth another attempt.
	// Nil means every error is retried.
	IsRetryable func(error) bool
}

// PostgreSQLDefaults returns sensible defaults for PostgreSQL operations
func PostgreSQLDefaults() *Config {
	return &Config{
		MaxAttempts:   10,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// OdooDefaults returns sensible defaults for Odoo RPC operations
func OdooDefaults() *Config {
	return &Config{
		MaxAttempts:   15, // the ERP can take longer to come back
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		JitterPercent: 15, // Higher jitter to spread reconnect storms
	}
}

// WithOperation performs a general operation with retry logic
func WithOperation(ctx context.Context, config *Config, operation func() error, operationName string) error {
	backoff := config.CreateBackoff()
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := operation()
		if err != nil {
			if config.IsRetryable != nil && !config.IsRetryable(err) {
				logrus.WithError(err).
					WithField("operation", operationName).
					Warn("Operation failed with a non-retryable error, giving up")
				return err
			}
			logrus.WithError(err).
				WithField("operation", operationName).
				Warn("Operation failed, retrying...")
			return retry.RetryableError(err)
		}
		return nil
	})
}

// CreateBackoff creates a reusable backoff strategy from config
func (c *Config) CreateBackoff() retry.Backoff {
	backoff := retry.NewExponential(c.BaseDelay)
	backoff = retry.WithMaxRetries(c.MaxAttempts, backoff)
	backoff = retry.WithCappedDuration(c.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(c.JitterPercent, backoff)
	return backoff
}
