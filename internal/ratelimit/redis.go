package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares the window budget across instances. The check and
// increment run in one Lua script so concurrent callers cannot both pass
// on the last slot.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisLimiter(client *redis.Client, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = "rita-rate:"
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var checkAndIncrScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		redis.call("SET", KEYS[1], 1, "EX", ARGV[2])
		return 1
	end
	local count = tonumber(current)
	if count >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("INCR", KEYS[1])
	return 1
`)

func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) error {
	result, err := checkAndIncrScript.Run(ctx, l.client, []string{l.keyPrefix + key}, limit, int(window.Seconds())).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLimitExceeded
	}

	return nil
}
