package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"notify-hub/internal/domain"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryClassifyQueue(4)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if err := q.Enqueue(ctx, domain.ClassifyJob{NotificationID: i}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := int64(1); i <= 3; i++ {
		job, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if job.NotificationID != i {
			t.Fatalf("ожидали %d, получили %d", i, job.NotificationID)
		}
	}
}

func TestMemoryQueuePopHonoursCancel(t *testing.T) {
	q := NewMemoryClassifyQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидали DeadlineExceeded, получили %v", err)
	}
}
