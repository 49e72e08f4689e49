package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

//go:embed schema.sql
var schema string

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.NotificationRepo = (*Postgres)(nil)
	_ domain.SourceRepo       = (*Postgres)(nil)
	_ domain.RuleRepo         = (*Postgres)(nil)
	_ domain.PatternRepo      = (*Postgres)(nil)
	_ domain.DigestRepo       = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate применяет встроенную схему. Все выражения идемпотентны.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("применение схемы: %w", err)
	}
	return nil
}

// Ping проверяет доступность БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *Postgres) exists(ctx context.Context, table string, userID, id int64) (bool, error) {
	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", table+"_exists", table, start, err)
	return ok, err
}
