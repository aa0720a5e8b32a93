package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock release must only delete our own key; an expired lock may have been
// re-acquired by another node.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLock is a distributed request lock over SET NX PX.
type RedisLock struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// NewRedisLock creates a distributed lock against the given Redis client.
func NewRedisLock(client *redis.Client, logger *slog.Logger) *RedisLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{
		client: client,
		logger: logger,
		prefix: "diaguru:lock:",
	}
}

// Acquire takes the key for at most ttl.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	fullKey := l.prefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// Release runs on a fresh context so it survives request cancellation.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", "key", key, "error", err)
		}
	}
	return release, nil
}
