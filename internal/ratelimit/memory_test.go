package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterEnforcesLimit(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckAndIncrement(ctx, "10.0.0.1", 3, time.Minute))
	}

	err := limiter.CheckAndIncrement(ctx, "10.0.0.1", 3, time.Minute)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// Other keys are unaffected.
	assert.NoError(t, limiter.CheckAndIncrement(ctx, "10.0.0.2", 3, time.Minute))
}

func TestMemoryLimiterWindowExpiry(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndIncrement(ctx, "10.0.0.1", 1, 10*time.Millisecond))
	assert.ErrorIs(t, limiter.CheckAndIncrement(ctx, "10.0.0.1", 1, 10*time.Millisecond), ErrLimitExceeded)

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, limiter.CheckAndIncrement(ctx, "10.0.0.1", 1, 10*time.Millisecond))
}
