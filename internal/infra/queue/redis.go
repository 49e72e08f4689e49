package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// RedisClassifyQueue реализует очередь задач классификации на базе Redis lists.
type RedisClassifyQueue struct {
	client *redis.Client
	key    string
}

var _ domain.ClassifyQueue = (*RedisClassifyQueue)(nil)

// NewRedisClassifyQueue создаёт очередь по указанному ключу.
func NewRedisClassifyQueue(client *redis.Client, key string) *RedisClassifyQueue {
	return &RedisClassifyQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisClassifyQueue) Enqueue(ctx context.Context, job domain.ClassifyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisClassifyQueue) Pop(ctx context.Context) (domain.ClassifyJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ClassifyJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ClassifyJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ClassifyJob{}, err
		}
		if len(res) != 2 {
			return domain.ClassifyJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.ClassifyJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.ClassifyJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
