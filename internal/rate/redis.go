package rate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter shares windows between instances. When Redis is unreachable
// requests are allowed and the failure is logged.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLimiter(client *redis.Client, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, prefix: "rl:", logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			l.logger.Warn("rate limiter expire failed", zap.String("key", key), zap.Error(err))
		}
	}
	return count <= int64(limit)
}
