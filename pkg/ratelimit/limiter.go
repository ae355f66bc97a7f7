package ratelimit

import (
	"context"
	"time"
)

// Limiter allows at most limit attempts per key within each window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

type LimiterOption func(*Limiter)

// WithLimiterClock overrides time.Now when computing ResetAt.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter.
func New(store Store, limit int, window time.Duration, opts ...LimiterOption) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidInterval
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records one attempt for key and reports whether it fits the limit.
// Rejected attempts are counted too, so hammering a key keeps it closed
// until the window ends.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	current, ttl, err := l.store.IncrementAndGet(ctx, key, 1, l.window)
	if err != nil {
		return nil, err
	}
	return l.result(current, ttl, current <= int64(l.limit)), nil
}

// Status reports the state of key without recording an attempt.
func (l *Limiter) Status(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	current, ttl, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return l.result(current, ttl, current < int64(l.limit)), nil
}

// Reset forgets all attempts for key, e.g. after a successful sign-in.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	return l.store.Delete(ctx, key)
}

func (l *Limiter) result(current int64, ttl time.Duration, allowed bool) *Result {
	if ttl <= 0 {
		ttl = l.window
	}
	return &Result{
		Allowed:   allowed,
		Limit:     l.limit,
		Remaining: max(0, l.limit-int(current)),
		ResetAt:   l.now().Add(ttl),
	}
}
