package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

const patternColumns = `id, user_id, pattern_key, pattern_type, category, priority, frequency, confidence, spam_score, version, last_seen_at, created_at`

func scanPattern(row pgx.Row) (domain.NotificationPattern, error) {
	var (
		p   domain.NotificationPattern
		typ string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Key, &typ, &p.Category, &p.Priority, &p.Frequency, &p.Confidence, &p.SpamScore, &p.Version, &p.LastSeenAt, &p.CreatedAt); err != nil {
		return domain.NotificationPattern{}, err
	}
	p.Type = domain.PatternType(typ)
	return p, nil
}

func collectPatterns(rows pgx.Rows) ([]domain.NotificationPattern, error) {
	defer rows.Close()
	var out []domain.NotificationPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPattern возвращает шаблон по ключу.
func (p *Postgres) GetPattern(ctx context.Context, userID int64, key string) (domain.NotificationPattern, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	pattern, err := scanPattern(p.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM notification_patterns WHERE user_id = $1 AND pattern_key = $2`, userID, key))
	metrics.ObserveNetworkRequest("postgres", "patterns_get", "notification_patterns", start, err)
	return pattern, notFound(err)
}

// GetPatternByID возвращает шаблон пользователя по идентификатору.
func (p *Postgres) GetPatternByID(ctx context.Context, userID, id int64) (domain.NotificationPattern, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	pattern, err := scanPattern(p.pool.QueryRow(ctx, `SELECT `+patternColumns+` FROM notification_patterns WHERE id = $1 AND user_id = $2`, id, userID))
	metrics.ObserveNetworkRequest("postgres", "patterns_get_by_id", "notification_patterns", start, err)
	return pattern, notFound(err)
}

// InsertPattern создаёт шаблон; при существующем ключе возвращает ErrPatternConflict.
func (p *Postgres) InsertPattern(ctx context.Context, in domain.NotificationPattern) (domain.NotificationPattern, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanPattern(p.pool.QueryRow(ctx, `
INSERT INTO notification_patterns (user_id, pattern_key, pattern_type, category, priority, frequency, confidence, spam_score, version, last_seen_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9)
ON CONFLICT (user_id, pattern_key) DO NOTHING
RETURNING `+patternColumns, in.UserID, in.Key, string(in.Type), in.Category, in.Priority, in.Frequency, in.Confidence, in.SpamScore, in.LastSeenAt))
	metrics.ObserveNetworkRequest("postgres", "patterns_insert", "notification_patterns", start, err)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.NotificationPattern{}, domain.ErrPatternConflict
	}
	return created, err
}

// UpdatePatternCAS записывает шаблон, если версия не изменилась с момента чтения.
func (p *Postgres) UpdatePatternCAS(ctx context.Context, in domain.NotificationPattern) (domain.NotificationPattern, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	updated, err := scanPattern(p.pool.QueryRow(ctx, `
UPDATE notification_patterns
SET pattern_type = $4, category = $5, priority = $6, frequency = $7, confidence = $8, spam_score = $9, last_seen_at = $10, version = version + 1
WHERE user_id = $1 AND pattern_key = $2 AND version = $3
RETURNING `+patternColumns, in.UserID, in.Key, in.Version, string(in.Type), in.Category, in.Priority, in.Frequency, in.Confidence, in.SpamScore, in.LastSeenAt))
	metrics.ObserveNetworkRequest("postgres", "patterns_update_cas", "notification_patterns", start, err)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.NotificationPattern{}, err
	}
	if _, getErr := p.GetPattern(ctx, in.UserID, in.Key); getErr != nil {
		return domain.NotificationPattern{}, getErr
	}
	return domain.NotificationPattern{}, domain.ErrPatternConflict
}

// TopPatternsByConfidence возвращает самые уверенные шаблоны.
func (p *Postgres) TopPatternsByConfidence(ctx context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	return p.topPatterns(ctx, userID, limit, "confidence DESC, frequency DESC, id ASC", "patterns_top_confidence")
}

// TopPatternsByFrequency возвращает самые частые шаблоны.
func (p *Postgres) TopPatternsByFrequency(ctx context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	return p.topPatterns(ctx, userID, limit, "frequency DESC, confidence DESC, id ASC", "patterns_top_frequency")
}

func (p *Postgres) topPatterns(ctx context.Context, userID int64, limit int, order, op string) ([]domain.NotificationPattern, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 20
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+patternColumns+` FROM notification_patterns WHERE user_id = $1 ORDER BY `+order+` LIMIT $2`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", op, "notification_patterns", start, err)
	if err != nil {
		return nil, err
	}
	return collectPatterns(rows)
}

// PatternStats возвращает число шаблонов и среднюю уверенность.
func (p *Postgres) PatternStats(ctx context.Context, userID int64) (domain.PatternStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var stats domain.PatternStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*), COALESCE(avg(confidence), 0) FROM notification_patterns WHERE user_id = $1`, userID).Scan(&stats.Count, &stats.AverageConfidence)
	metrics.ObserveNetworkRequest("postgres", "patterns_stats", "notification_patterns", start, err)
	return stats, err
}

// ResetPatterns удаляет все шаблоны пользователя.
func (p *Postgres) ResetPatterns(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM notification_patterns WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "patterns_reset", "notification_patterns", start, err)
	return err
}
