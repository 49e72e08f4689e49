package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

const ruleColumns = `id, user_id, name, enabled, priority, condition, action, created_at, updated_at`

// Порядок снимка правил: приоритет по убыванию, затем по времени создания и id.
const ruleOrder = ` ORDER BY priority DESC, created_at ASC, id ASC`

func scanRule(row pgx.Row) (domain.NotificationRule, error) {
	var r domain.NotificationRule
	err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.Enabled, &r.Priority, &r.Condition, &r.Action, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func collectRules(rows pgx.Rows) ([]domain.NotificationRule, error) {
	defer rows.Close()
	var out []domain.NotificationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRule сохраняет правило.
func (p *Postgres) CreateRule(ctx context.Context, r domain.NotificationRule) (domain.NotificationRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	created, err := scanRule(p.pool.QueryRow(ctx, `
INSERT INTO notification_rules (user_id, name, enabled, priority, condition, action)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+ruleColumns, r.UserID, r.Name, r.Enabled, r.Priority, r.Condition, r.Action))
	metrics.ObserveNetworkRequest("postgres", "rules_insert", "notification_rules", start, err)
	return created, err
}

// GetRule возвращает правило пользователя.
func (p *Postgres) GetRule(ctx context.Context, userID, id int64) (domain.NotificationRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	r, err := scanRule(p.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1 AND user_id = $2`, id, userID))
	metrics.ObserveNetworkRequest("postgres", "rules_get", "notification_rules", start, err)
	return r, notFound(err)
}

// ListRules возвращает все правила пользователя в порядке применения.
func (p *Postgres) ListRules(ctx context.Context, userID int64) ([]domain.NotificationRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE user_id = $1`+ruleOrder, userID)
	metrics.ObserveNetworkRequest("postgres", "rules_list", "notification_rules", start, err)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListEnabledRules возвращает включённые правила пользователя в порядке применения.
func (p *Postgres) ListEnabledRules(ctx context.Context, userID int64) ([]domain.NotificationRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+ruleColumns+` FROM notification_rules WHERE user_id = $1 AND enabled`+ruleOrder, userID)
	metrics.ObserveNetworkRequest("postgres", "rules_list_enabled", "notification_rules", start, err)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// UpdateRule изменяет правило пользователя.
func (p *Postgres) UpdateRule(ctx context.Context, r domain.NotificationRule) (domain.NotificationRule, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	updated, err := scanRule(p.pool.QueryRow(ctx, `
UPDATE notification_rules
SET name = $3, enabled = $4, priority = $5, condition = $6, action = $7, updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING `+ruleColumns, r.ID, r.UserID, r.Name, r.Enabled, r.Priority, r.Condition, r.Action))
	metrics.ObserveNetworkRequest("postgres", "rules_update", "notification_rules", start, err)
	return updated, notFound(err)
}

// DeleteRule удаляет правило пользователя.
func (p *Postgres) DeleteRule(ctx context.Context, userID, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM notification_rules WHERE id = $1 AND user_id = $2`, id, userID)
	metrics.ObserveNetworkRequest("postgres", "rules_delete", "notification_rules", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
