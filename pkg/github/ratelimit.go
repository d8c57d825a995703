package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitStatus is the last rate limit state reported by GitHub.
type RateLimitStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimitTracker records X-RateLimit-* headers and blocks requests while
// the quota is exhausted.
type RateLimitTracker struct {
	mu     sync.Mutex
	status RateLimitStatus
	seen   bool

	// maxWait caps how long a request will wait for the reset.
	maxWait time.Duration
}

// NewRateLimitTracker creates a tracker that waits at most five minutes.
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{maxWait: 5 * time.Minute}
}

// Update records the rate limit headers of resp.
func (t *RateLimitTracker) Update(resp *http.Response) {
	if resp == nil {
		return
	}
	limit, errLimit := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	remaining, errRemaining := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	reset, errReset := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if errLimit != nil || errRemaining != nil || errReset != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = true
	t.status = RateLimitStatus{
		Limit:     limit,
		Remaining: remaining,
		Reset:     time.Unix(reset, 0),
	}
}

// GetStatus returns the last observed status.
func (t *RateLimitTracker) GetStatus() RateLimitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// WaitForRateLimitReset blocks while no requests remain, until the reset
// time, maxWait, or ctx cancellation, whichever comes first.
func (t *RateLimitTracker) WaitForRateLimitReset(ctx context.Context) error {
	t.mu.Lock()
	if !t.seen || t.status.Remaining > 0 {
		t.mu.Unlock()
		return nil
	}
	wait := time.Until(t.status.Reset)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	if wait > t.maxWait {
		wait = t.maxWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
