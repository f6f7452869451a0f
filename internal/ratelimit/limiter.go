package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimitExceeded is returned when a key has used up its window budget.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter enforces a fixed-window request budget per key. The webhook
// handler keys on the client IP for the public password-reset action.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) error
}
