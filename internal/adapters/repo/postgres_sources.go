package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

const sourceColumns = `id, user_id, type, name, enabled, credentials, cursor, last_error, last_sync_at, next_sync_at, created_at, updated_at`

func scanSource(row pgx.Row) (domain.NotificationSource, error) {
	var (
		s   domain.NotificationSource
		typ string
	)
	if err := row.Scan(&s.ID, &s.UserID, &typ, &s.Name, &s.Enabled, &s.Credentials, &s.Cursor, &s.LastError, &s.LastSyncAt, &s.NextSyncAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.NotificationSource{}, err
	}
	s.Type = domain.SourceType(typ)
	return s, nil
}

func collectSources(rows pgx.Rows) ([]domain.NotificationSource, error) {
	defer rows.Close()
	var out []domain.NotificationSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSource добавляет источник.
func (p *Postgres) CreateSource(ctx context.Context, s domain.NotificationSource) (domain.NotificationSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanSource(p.pool.QueryRow(ctx, `
INSERT INTO notification_sources (user_id, type, name, enabled, credentials)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+sourceColumns, s.UserID, string(s.Type), s.Name, s.Enabled, s.Credentials))
	metrics.ObserveNetworkRequest("postgres", "sources_insert", "notification_sources", start, err)
	return created, err
}

// GetSource возвращает источник пользователя.
func (p *Postgres) GetSource(ctx context.Context, userID, id int64) (domain.NotificationSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	s, err := scanSource(p.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM notification_sources WHERE id = $1 AND user_id = $2`, id, userID))
	metrics.ObserveNetworkRequest("postgres", "sources_get", "notification_sources", start, err)
	return s, notFound(err)
}

// ListSources возвращает источники пользователя.
func (p *Postgres) ListSources(ctx context.Context, userID int64) ([]domain.NotificationSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+sourceColumns+` FROM notification_sources WHERE user_id = $1 ORDER BY id`, userID)
	metrics.ObserveNetworkRequest("postgres", "sources_list", "notification_sources", start, err)
	if err != nil {
		return nil, err
	}
	return collectSources(rows)
}

// UpdateSource изменяет имя, флаг и, если переданы, учётные данные источника.
// Новые учётные данные сбрасывают ошибку и backoff.
func (p *Postgres) UpdateSource(ctx context.Context, s domain.NotificationSource) (domain.NotificationSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var creds []byte
	if len(s.Credentials) > 0 {
		creds = s.Credentials
	}
	start := time.Now()
	updated, err := scanSource(p.pool.QueryRow(ctx, `
UPDATE notification_sources SET
    name = $3,
    enabled = $4,
    credentials = COALESCE($5, credentials),
    last_error = CASE WHEN $5::bytea IS NULL THEN last_error ELSE '' END,
    next_sync_at = CASE WHEN $5::bytea IS NULL THEN next_sync_at ELSE NULL END,
    updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING `+sourceColumns, s.ID, s.UserID, s.Name, s.Enabled, creds))
	metrics.ObserveNetworkRequest("postgres", "sources_update", "notification_sources", start, err)
	return updated, notFound(err)
}

// DeleteSource удаляет источник вместе с его уведомлениями.
func (p *Postgres) DeleteSource(ctx context.Context, userID, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM notification_sources WHERE id = $1 AND user_id = $2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "sources_delete", "notification_sources", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSyncableSources возвращает включённые источники без активного backoff.
func (p *Postgres) ListSyncableSources(ctx context.Context, now time.Time) ([]domain.NotificationSource, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+sourceColumns+` FROM notification_sources
WHERE enabled AND (next_sync_at IS NULL OR next_sync_at <= $1)
ORDER BY id
`, now)
	metrics.ObserveNetworkRequest("postgres", "sources_list_syncable", "notification_sources", start, err)
	if err != nil {
		return nil, err
	}
	return collectSources(rows)
}

// RecordSyncSuccess продвигает курсор и очищает ошибку.
func (p *Postgres) RecordSyncSuccess(ctx context.Context, id int64, cursor string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE notification_sources
SET cursor = $2, last_error = '', last_sync_at = $3, next_sync_at = NULL, updated_at = now()
WHERE id = $1
`, id, cursor, at)
	metrics.ObserveNetworkRequest("postgres", "sources_sync_success", "notification_sources", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordSyncFailure сохраняет ошибку синхронизации, курсор не меняется.
func (p *Postgres) RecordSyncFailure(ctx context.Context, id int64, message string, at time.Time, nextSyncAt *time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE notification_sources
SET last_error = $2, last_sync_at = $3, next_sync_at = $4, updated_at = now()
WHERE id = $1
`, id, message, at, nextSyncAt)
	metrics.ObserveNetworkRequest("postgres", "sources_sync_failure", "notification_sources", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUserIDs возвращает пользователей с настроенными источниками.
func (p *Postgres) ListUserIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT user_id FROM notification_sources ORDER BY user_id`)
	metrics.ObserveNetworkRequest("postgres", "sources_list_users", "notification_sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
