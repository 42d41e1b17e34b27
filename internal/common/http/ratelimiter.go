package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LimitPolicy selects what happens when the window is full.
type LimitPolicy string

const (
	PolicyWait   LimitPolicy = "wait"
	PolicyReject LimitPolicy = "reject"
)

// ErrRateLimitExceeded is returned by Acquire under PolicyReject.
var ErrRateLimitExceeded = errors.New("local rate limit exceeded")

// SlidingWindowLimiter admits at most max requests in any window-long interval.
// It keeps the timestamps of admitted requests and prunes expired ones before
// each decision.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	policy LimitPolicy
	stamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindowLimiter returns a limiter. max <= 0 disables limiting.
func NewSlidingWindowLimiter(max int, window time.Duration, policy LimitPolicy) *SlidingWindowLimiter {
	if policy == "" {
		policy = PolicyWait
	}
	return &SlidingWindowLimiter{
		max:    max,
		window: window,
		policy: policy,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Acquire takes a slot, waiting for the oldest timestamp to expire when the
// policy is wait. It returns how long the caller waited.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	if l.max <= 0 || l.window <= 0 {
		return 0, nil
	}

	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.max {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return waited, nil
		}
		if l.policy == PolicyReject {
			l.mu.Unlock()
			return waited, ErrRateLimitExceeded
		}
		wait := l.stamps[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// InFlight returns the number of timestamps currently inside the window.
func (l *SlidingWindowLimiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

func (l *SlidingWindowLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
