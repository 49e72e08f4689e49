package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

const digestColumns = `id, user_id, type, window_start, window_end, notification_count, categories, summary, generated_at`

func scanDigest(row pgx.Row) (domain.NotificationDigest, error) {
	var (
		d   domain.NotificationDigest
		typ string
	)
	if err := row.Scan(&d.ID, &d.UserID, &typ, &d.Window.Start, &d.Window.End, &d.NotificationCount, &d.Categories, &d.Summary, &d.GeneratedAt); err != nil {
		return domain.NotificationDigest{}, err
	}
	d.Type = domain.DigestType(typ)
	return d, nil
}

// CreateDigest сохраняет дайджест.
func (p *Postgres) CreateDigest(ctx context.Context, d domain.NotificationDigest) (domain.NotificationDigest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	categories := d.Categories
	if categories == nil {
		categories = map[string]int{}
	}
	generatedAt := d.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}
	start := time.Now()
	created, err := scanDigest(p.pool.QueryRow(ctx, `
INSERT INTO notification_digests (user_id, type, window_start, window_end, notification_count, categories, summary, generated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+digestColumns, d.UserID, string(d.Type), d.Window.Start, d.Window.End, d.NotificationCount, categories, d.Summary, generatedAt))
	metrics.ObserveNetworkRequest("postgres", "digests_insert", "notification_digests", start, err)
	return created, err
}

// ListDigests возвращает последние дайджесты пользователя.
func (p *Postgres) ListDigests(ctx context.Context, userID int64, limit int) ([]domain.NotificationDigest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+digestColumns+` FROM notification_digests WHERE user_id = $1 ORDER BY generated_at DESC, id DESC LIMIT $2`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "digests_list", "notification_digests", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.NotificationDigest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LatestDigest возвращает последний дайджест заданного типа.
func (p *Postgres) LatestDigest(ctx context.Context, userID int64, digestType domain.DigestType) (domain.NotificationDigest, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	d, err := scanDigest(p.pool.QueryRow(ctx, `
SELECT `+digestColumns+` FROM notification_digests
WHERE user_id = $1 AND type = $2
ORDER BY generated_at DESC, id DESC
LIMIT 1
`, userID, string(digestType)))
	metrics.ObserveNetworkRequest("postgres", "digests_latest", "notification_digests", start, err)
	return d, notFound(err)
}

// DigestExists проверяет, построен ли уже дайджест за окно.
func (p *Postgres) DigestExists(ctx context.Context, userID int64, digestType domain.DigestType, window domain.Window) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM notification_digests
    WHERE user_id = $1 AND type = $2 AND window_start = $3 AND window_end = $4
)`, userID, string(digestType), window.Start, window.End).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", "digests_exists", "notification_digests", start, err)
	return ok, err
}
