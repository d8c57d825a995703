// Package retry holds the HTTP retry policy shared by the GitHub and Jenkins
// clients.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Config controls how many times a request is attempted and how long to
// wait between attempts.
type Config struct {
	// MaxAttempts includes the first attempt; values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RetryableStatus lists HTTP status codes worth retrying.
	RetryableStatus []int
}

// DefaultConfig retries server errors and throttling three times with
// exponential backoff starting at one second.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		RetryableStatus: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Attempts returns the effective number of attempts.
func (c *Config) Attempts() int {
	if c == nil || c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// GetDelay returns the wait before retry number attempt (zero-based).
func (c *Config) GetDelay(attempt int) time.Duration {
	if c == nil || c.BaseDelay <= 0 {
		return 0
	}
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}

// ShouldRetry reports whether a response with statusCode is retryable.
func (c *Config) ShouldRetry(statusCode int) bool {
	if c == nil {
		return false
	}
	for _, code := range c.RetryableStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

// Wait sleeps for the delay of attempt or until ctx is done.
func (c *Config) Wait(ctx context.Context, attempt int) error {
	delay := c.GetDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryableError reports whether a transport error is likely transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
