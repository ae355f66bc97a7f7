// Package ratelimit counts attempts per key in fixed windows. The server uses
// it to throttle sign-in attempts per client address and email, so password
// guessing stays slow even though failures are reported generically.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Result contains the result of a limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// RetryAfter returns how long to wait before the next attempt is allowed.
// Returns 0 if the attempt was allowed.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Store keeps one counter per key that expires a window after its first
// increment.
type Store interface {
	// IncrementAndGet atomically adds incr and returns the new value and the
	// remaining lifetime of the counter.
	IncrementAndGet(ctx context.Context, key string, incr int, window time.Duration) (current int64, ttl time.Duration, err error)

	// Get returns the counter without changing it. Missing keys read as 0.
	Get(ctx context.Context, key string) (current int64, ttl time.Duration, err error)

	Delete(ctx context.Context, key string) error
}

// Key derives a store key from parts. Parts are hashed so stores never hold
// raw emails or addresses.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
