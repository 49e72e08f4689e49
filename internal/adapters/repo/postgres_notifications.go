package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

const notificationColumns = `id, user_id, source_id, source_type, external_id, sender, subject, body, url, received_at,
category, priority, sentiment, summary, confidence, spam_score, read, archived, archived_at, tags, embedding,
status, classify_attempts, claimed_at, classified_at, created_at, updated_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n          domain.Notification
		sourceType string
		sentiment  string
		status     string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.SourceID, &sourceType, &n.ExternalID, &n.Sender, &n.Subject, &n.Body, &n.URL, &n.ReceivedAt,
		&n.Category, &n.Priority, &sentiment, &n.Summary, &n.Confidence, &n.SpamScore, &n.Read, &n.Archived, &n.ArchivedAt, &n.Tags, &n.Embedding,
		&status, &n.ClassifyAttempts, &n.ClaimedAt, &n.ClassifiedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	n.SourceType = domain.SourceType(sourceType)
	n.Sentiment = domain.Sentiment(sentiment)
	n.Status = domain.ClassificationStatus(status)
	return n, nil
}

func collectNotifications(rows pgx.Rows) ([]domain.Notification, error) {
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertNotifications сохраняет уведомления батчем. При повторном приёме
// обновляются только сырые поля, состояние классификации и пользователя не трогается.
func (p *Postgres) UpsertNotifications(ctx context.Context, items []domain.Notification) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, n := range items {
		batch.Queue(`
INSERT INTO notifications (user_id, source_id, source_type, external_id, sender, subject, body, url, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (source_id, external_id) DO UPDATE SET
    source_type = EXCLUDED.source_type,
    sender = EXCLUDED.sender,
    subject = EXCLUDED.subject,
    body = EXCLUDED.body,
    url = EXCLUDED.url,
    received_at = EXCLUDED.received_at,
    updated_at = now()
RETURNING id, (xmax = 0) AS inserted
`, n.UserID, n.SourceID, string(n.SourceType), n.ExternalID, n.Sender, n.Subject, n.Body, n.URL, n.ReceivedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "notifications_send_batch", "notifications", start, nil)
	defer br.Close()

	var inserted []int64
	for range items {
		var (
			id    int64
			isNew bool
		)
		start = time.Now()
		err := br.QueryRow().Scan(&id, &isNew)
		metrics.ObserveNetworkRequest("postgres", "notifications_upsert", "notifications", start, err)
		if err != nil {
			return nil, err
		}
		if isNew {
			inserted = append(inserted, id)
		}
	}
	return inserted, nil
}

// GetNotification возвращает уведомление пользователя.
func (p *Postgres) GetNotification(ctx context.Context, userID, id int64) (domain.Notification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	n, err := scanNotification(p.pool.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1 AND user_id = $2`, id, userID))
	metrics.ObserveNetworkRequest("postgres", "notifications_get", "notifications", start, err)
	return n, notFound(err)
}

// ListNotifications возвращает уведомления пользователя по фильтру.
func (p *Postgres) ListNotifications(ctx context.Context, userID int64, filter domain.NotificationFilter) ([]domain.Notification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	where := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		where = append(where, fmt.Sprintf("read = $%d", len(args)))
	}
	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		where = append(where, fmt.Sprintf("archived = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + strings.Join(where, " AND ") + ` ORDER BY received_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "notifications_list", "notifications", start, err)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// ListNotificationsInWindow возвращает уведомления с received_at в [start, end).
func (p *Postgres) ListNotificationsInWindow(ctx context.Context, userID int64, window domain.Window) ([]domain.Notification, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+notificationColumns+` FROM notifications
WHERE user_id = $1 AND received_at >= $2 AND received_at < $3
ORDER BY received_at DESC, id DESC
`, userID, window.Start, window.End)
	metrics.ObserveNetworkRequest("postgres", "notifications_list_window", "notifications", start, err)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

// CountUnread считает непрочитанные неархивные уведомления.
func (p *Postgres) CountUnread(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read AND NOT archived`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "notifications_count_unread", "notifications", start, err)
	return count, err
}

// MarkRead отмечает уведомление прочитанным и сообщает, изменилось ли состояние.
func (p *Postgres) MarkRead(ctx context.Context, userID, id int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE notifications SET read = TRUE, updated_at = now() WHERE id = $1 AND user_id = $2 AND NOT read`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "notifications_mark_read", "notifications", start, err)
	if err != nil {
		return false, err
	}
	if res.RowsAffected() > 0 {
		return true, nil
	}
	ok, err := p.exists(ctx, "notifications", userID, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrNotFound
	}
	return false, nil
}

// MarkAllRead отмечает прочитанными все уведомления пользователя.
func (p *Postgres) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE notifications SET read = TRUE, updated_at = now() WHERE user_id = $1 AND NOT read`, userID)
	metrics.ObserveNetworkRequest("postgres", "notifications_mark_all_read", "notifications", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// DeleteNotification удаляет уведомление по запросу пользователя.
func (p *Postgres) DeleteNotification(ctx context.Context, userID, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "notifications_delete", "notifications", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimForClassification атомарно захватывает уведомление для классификации.
func (p *Postgres) ClaimForClassification(ctx context.Context, userID, id int64, staleBefore time.Time) (domain.Notification, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	n, err := scanNotification(p.pool.QueryRow(ctx, `
UPDATE notifications
SET status = 'processing', claimed_at = now(), classify_attempts = classify_attempts + 1, updated_at = now()
WHERE id = $1 AND user_id = $2
  AND (status IN ('pending', 'failed')
       OR (status = 'processing' AND (claimed_at IS NULL OR claimed_at < $3)))
RETURNING `+notificationColumns, id, userID, staleBefore))
	metrics.ObserveNetworkRequest("postgres", "notifications_claim", "notifications", start, err)
	if err == nil {
		return n, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, false, err
	}
	ok, err := p.exists(ctx, "notifications", userID, id)
	if err != nil {
		return domain.Notification{}, false, err
	}
	if !ok {
		return domain.Notification{}, false, domain.ErrNotFound
	}
	return domain.Notification{}, false, nil
}

// SaveProcessed записывает результат классификации и правил.
// read и archived объединяются с текущими значениями, чтобы не потерять действия пользователя.
func (p *Postgres) SaveProcessed(ctx context.Context, n domain.Notification) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE notifications SET
    category = $3,
    priority = $4,
    sentiment = $5,
    summary = $6,
    confidence = $7,
    spam_score = $8,
    tags = $9,
    read = read OR $10,
    archived_at = CASE WHEN NOT archived AND $11 THEN $12 ELSE archived_at END,
    archived = archived OR $11,
    status = $13,
    classified_at = $14,
    claimed_at = NULL,
    updated_at = now()
WHERE id = $1 AND user_id = $2
`, n.ID, n.UserID, n.Category, n.Priority, string(n.Sentiment), n.Summary, n.Confidence, n.SpamScore, tags,
		n.Read, n.Archived, n.ArchivedAt, string(n.Status), n.ClassifiedAt)
	metrics.ObserveNetworkRequest("postgres", "notifications_save_processed", "notifications", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListClassificationBacklog возвращает задачи для периодического прохода классификатора.
func (p *Postgres) ListClassificationBacklog(ctx context.Context, q domain.BacklogQuery) ([]domain.ClassifyJob, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id FROM notifications
WHERE status = 'pending'
   OR (status = 'failed' AND classify_attempts < $1 AND classified_at < $2)
   OR (status = 'processing' AND (claimed_at IS NULL OR claimed_at < $3))
ORDER BY id
LIMIT $4
`, q.MaxAttempts, q.RetryBefore, q.StaleBefore, q.Limit)
	metrics.ObserveNetworkRequest("postgres", "notifications_backlog", "notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.ClassifyJob
	for rows.Next() {
		job := domain.ClassifyJob{Cause: domain.ClassifyCauseSweep}
		if err := rows.Scan(&job.NotificationID, &job.UserID); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ArchiveSpam архивирует пачку спам-уведомлений.
func (p *Postgres) ArchiveSpam(ctx context.Context, threshold float64, cutoff, archivedAt time.Time, limit int) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE notifications SET archived = TRUE, archived_at = $4, updated_at = now()
WHERE id IN (
    SELECT id FROM notifications
    WHERE NOT archived AND spam_score > $1 AND status IN ('classified', 'failed') AND classified_at <= $2
    ORDER BY id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
`, threshold, cutoff, limit, archivedAt)
	metrics.ObserveNetworkRequest("postgres", "notifications_archive_spam", "notifications", start, err)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}

// PurgeArchived удаляет пачку просроченных архивных уведомлений.
func (p *Postgres) PurgeArchived(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
DELETE FROM notifications
WHERE id IN (
    SELECT id FROM notifications
    WHERE archived AND archived_at < $1
    ORDER BY id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
`, before, limit)
	metrics.ObserveNetworkRequest("postgres", "notifications_purge", "notifications", start, err)
	if err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}
