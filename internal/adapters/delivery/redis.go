package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// RedisPublisher рассылает события через Redis pub/sub в канал пользователя.
type RedisPublisher struct {
	client *redis.Client
}

var _ domain.Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher создаёт публикатор Redis.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// UserChannel возвращает имя канала pub/sub пользователя.
func UserChannel(userID int64) string {
	return fmt.Sprintf("notifications:%d", userID)
}

// Publish публикует событие в notifications:<user_id>.
func (p *RedisPublisher) Publish(ctx context.Context, userID int64, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = p.client.Publish(ctx, UserChannel(userID), payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", "notifications", start, err)
	if err != nil {
		metrics.IncDeliveryError("redis")
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
