package ratelimit

import "errors"

var (
	ErrKeyRequired     = errors.New("ratelimit.key_required")
	ErrStoreRequired   = errors.New("ratelimit.store_required")
	ErrInvalidLimit    = errors.New("ratelimit.invalid_limit")
	ErrInvalidInterval = errors.New("ratelimit.invalid_interval")
)
