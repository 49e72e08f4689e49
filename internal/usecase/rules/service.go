package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
)

// SnapshotTTL - время жизни закэшированного снимка правил пользователя.
const SnapshotTTL = 30 * time.Second

// Service управляет правилами пользователя и кэширует их снимки.
type Service struct {
	repo  domain.RuleRepo
	cache *gocache.Cache
	log   zerolog.Logger
}

// NewService создаёт сервис правил.
func NewService(repo domain.RuleRepo, logger zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: gocache.New(SnapshotTTL, 2*SnapshotTTL),
		log:   logger,
	}
}

func snapshotKey(userID int64) string {
	return fmt.Sprintf("rules:%d", userID)
}

// Snapshot возвращает упорядоченный снимок включённых правил пользователя.
func (s *Service) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	key := snapshotKey(userID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*Snapshot), nil
	}
	rules, err := s.repo.ListEnabledRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("загрузка правил: %w", err)
	}
	snap := NewSnapshot(rules)
	s.cache.SetDefault(key, snap)
	return snap, nil
}

// Invalidate сбрасывает кэш снимка пользователя.
func (s *Service) Invalidate(userID int64) {
	s.cache.Delete(snapshotKey(userID))
}

func prepare(rule domain.NotificationRule) (domain.NotificationRule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Condition = rule.Condition.Normalize()
	rule.Action.Type = domain.ActionType(strings.ToLower(strings.TrimSpace(string(rule.Action.Type))))
	rule.Action.Value = strings.TrimSpace(rule.Action.Value)
	if err := rule.Validate(); err != nil {
		return domain.NotificationRule{}, err
	}
	return rule, nil
}

// Create проверяет и сохраняет новое правило.
func (s *Service) Create(ctx context.Context, userID int64, rule domain.NotificationRule) (domain.NotificationRule, error) {
	rule.UserID = userID
	rule, err := prepare(rule)
	if err != nil {
		return domain.NotificationRule{}, err
	}
	created, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return domain.NotificationRule{}, fmt.Errorf("сохранение правила: %w", err)
	}
	s.Invalidate(userID)
	return created, nil
}

// Get возвращает правило пользователя.
func (s *Service) Get(ctx context.Context, userID, id int64) (domain.NotificationRule, error) {
	return s.repo.GetRule(ctx, userID, id)
}

// List возвращает все правила пользователя в порядке применения.
func (s *Service) List(ctx context.Context, userID int64) ([]domain.NotificationRule, error) {
	return s.repo.ListRules(ctx, userID)
}

// Update проверяет и перезаписывает правило.
func (s *Service) Update(ctx context.Context, userID int64, rule domain.NotificationRule) (domain.NotificationRule, error) {
	rule.UserID = userID
	rule, err := prepare(rule)
	if err != nil {
		return domain.NotificationRule{}, err
	}
	updated, err := s.repo.UpdateRule(ctx, rule)
	if err != nil {
		return domain.NotificationRule{}, fmt.Errorf("обновление правила: %w", err)
	}
	s.Invalidate(userID)
	return updated, nil
}

// Delete удаляет правило пользователя.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteRule(ctx, userID, id); err != nil {
		return err
	}
	s.Invalidate(userID)
	return nil
}

// Test применяет правила к образцу уведомления без сохранения.
// Если candidate задан, проверяется только он, иначе все включённые правила пользователя.
func (s *Service) Test(ctx context.Context, userID int64, sample domain.Notification, candidate *domain.NotificationRule) (Result, error) {
	sample.UserID = userID
	if candidate != nil {
		rule, err := prepare(*candidate)
		if err != nil {
			return Result{}, err
		}
		rule.Enabled = true
		return Apply(sample, NewSnapshot([]domain.NotificationRule{rule})), nil
	}
	rules, err := s.repo.ListEnabledRules(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("загрузка правил: %w", err)
	}
	return Apply(sample, NewSnapshot(rules)), nil
}

// Run применяет актуальный снимок правил к уведомлению и логирует пропущенные правила.
func (s *Service) Run(ctx context.Context, n domain.Notification) (Result, error) {
	snap, err := s.Snapshot(ctx, n.UserID)
	if err != nil {
		return Result{}, err
	}
	res := Apply(n, snap)
	for _, skipped := range res.Skipped {
		s.log.Warn().Int64("notification_id", n.ID).Int64("rule_id", skipped.RuleID).Str("reason", skipped.Reason).Msg("rules: правило пропущено")
	}
	return res, nil
}
