package domain

import (
	"context"
	"time"
)

// ClassifyJobCause описывает, откуда пришла задача классификации.
type ClassifyJobCause string

const (
	// ClassifyCauseIngest - уведомление только что вставлено коллектором.
	ClassifyCauseIngest ClassifyJobCause = "ingest"
	// ClassifyCauseSweep - уведомление найдено периодическим проходом по бэклогу.
	ClassifyCauseSweep ClassifyJobCause = "sweep"
)

// ClassifyJob содержит задачу на классификацию одного уведомления.
type ClassifyJob struct {
	ID             string           `json:"job_id,omitempty"`
	UserID         int64            `json:"user_id"`
	NotificationID int64            `json:"notification_id"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
	Cause          ClassifyJobCause `json:"cause"`
}

// ClassifyQueue описывает очередь задач классификации.
type ClassifyQueue interface {
	Enqueue(ctx context.Context, job ClassifyJob) error
	// Pop блокирующе читает следующую задачу до отмены контекста.
	Pop(ctx context.Context) (ClassifyJob, error)
}
