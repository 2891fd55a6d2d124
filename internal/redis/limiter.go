package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowLimiter is a fixed-window counter shared by all workers.
type WindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewWindowLimiter allows limit hits per window for each key.
func NewWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Allow records one hit for key and reports whether it is within the limit.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}

func (l *WindowLimiter) key(key string) string {
	return l.prefix + ":" + key
}
