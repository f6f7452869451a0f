package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the single-process default. Entries for past windows
// are replaced lazily on the next hit for the same key.
type MemoryLimiter struct {
	mu   sync.Mutex
	keys map[string]*windowState
}

type windowState struct {
	count     int
	windowEnd time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		keys: make(map[string]*windowState),
	}
}

func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st, exists := l.keys[key]

	if !exists || now.After(st.windowEnd) {
		l.keys[key] = &windowState{
			count:     1,
			windowEnd: now.Add(window),
		}
		return nil
	}

	if st.count >= limit {
		return ErrLimitExceeded
	}

	st.count++
	return nil
}
