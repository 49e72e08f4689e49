package queue

import (
	"context"

	"notify-hub/internal/domain"
)

// MemoryClassifyQueue - очередь в памяти процесса для запуска без Redis.
type MemoryClassifyQueue struct {
	jobs chan domain.ClassifyJob
}

var _ domain.ClassifyQueue = (*MemoryClassifyQueue)(nil)

// NewMemoryClassifyQueue создаёт очередь заданной ёмкости.
func NewMemoryClassifyQueue(capacity int) *MemoryClassifyQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryClassifyQueue{jobs: make(chan domain.ClassifyJob, capacity)}
}

// Enqueue ставит задачу в очередь, блокируясь при переполнении до отмены контекста.
func (q *MemoryClassifyQueue) Enqueue(ctx context.Context, job domain.ClassifyJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop блокирующе читает задачу из очереди.
func (q *MemoryClassifyQueue) Pop(ctx context.Context) (domain.ClassifyJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return domain.ClassifyJob{}, ctx.Err()
	}
}

// Len возвращает число задач в очереди.
func (q *MemoryClassifyQueue) Len() int {
	return len(q.jobs)
}
