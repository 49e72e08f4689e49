package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// RabbitPublisher публикует события в topic exchange с ключом notification.<event>.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

var _ domain.Publisher = (*RabbitPublisher)(nil)

// NewRabbitPublisher подключается к брокеру и объявляет долговечный topic exchange.
func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// RoutingKey возвращает ключ маршрутизации события.
func RoutingKey(t domain.EventType) string {
	return "notification." + string(t)
}

// Publish публикует событие; user_id передаётся заголовком.
func (p *RabbitPublisher) Publish(ctx context.Context, userID int64, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(event.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.OccurredAt,
		Headers:     amqp.Table{"user_id": userID},
		Body:        payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		metrics.IncDeliveryError("rabbitmq")
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *RabbitPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
