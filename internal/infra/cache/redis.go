package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// releaseScript снимает блокировку, только если она всё ещё наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock реализует domain.SourceLock через SETNX.
type RedisLock struct {
	client *redis.Client
	prefix string
}

var _ domain.SourceLock = (*RedisLock)(nil)

// NewRedisLock создаёт распределённую блокировку.
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLock{client: client, prefix: prefix}
}

// TryLock захватывает ключ на ttl.
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	start := time.Now()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "source_lock", start, err)
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		start := time.Now()
		err := releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err()
		metrics.ObserveNetworkRequest("redis", "unlock", "source_lock", start, err)
	}
	return release, true, nil
}
