package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// RabbitClassifyQueue реализует очередь задач классификации через AMQP.
// Подтверждение происходит при получении: потерянные задачи подбирает
// периодический проход по бэклогу, состояние хранится в БД.
type RabbitClassifyQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

var _ domain.ClassifyQueue = (*RabbitClassifyQueue)(nil)

// NewRabbitClassifyQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitClassifyQueue(url, queue string, prefetch int) (*RabbitClassifyQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
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
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("register consumer: %w", err)
	}
	return &RabbitClassifyQueue{conn: conn, channel: ch, queue: queue, deliveries: deliveries}, nil
}

// Enqueue публикует задачу в очередь через default exchange.
func (q *RabbitClassifyQueue) Enqueue(ctx context.Context, job domain.ClassifyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitClassifyQueue) Pop(ctx context.Context) (domain.ClassifyJob, error) {
	select {
	case <-ctx.Done():
		return domain.ClassifyJob{}, ctx.Err()
	case msg, ok := <-q.deliveries:
		if !ok {
			return domain.ClassifyJob{}, errors.New("rabbitmq: delivery channel closed")
		}
		if err := msg.Ack(false); err != nil {
			return domain.ClassifyJob{}, fmt.Errorf("ack job: %w", err)
		}
		var job domain.ClassifyJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			return domain.ClassifyJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitClassifyQueue) Close() {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
}
