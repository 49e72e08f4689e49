package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// ErrUnknownType возвращается для неизвестного типа дайджеста.
var ErrUnknownType = errors.New("неизвестный тип дайджеста")

// UserLister перечисляет пользователей для планового построения.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// Service строит и хранит дайджесты уведомлений.
type Service struct {
	notifications domain.NotificationRepo
	digests       domain.DigestRepo
	users         UserLister
	summarizer    domain.DigestSummarizer
	loc           *time.Location
	maxItems      int
	log           zerolog.Logger
	now           func() time.Time
}

// NewService создаёт сервис дайджестов. maxItems ограничивает число уведомлений категории,
// передаваемых в суммаризатор.
func NewService(notifications domain.NotificationRepo, digests domain.DigestRepo, users UserLister, summarizer domain.DigestSummarizer, loc *time.Location, maxItems int, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		notifications: notifications,
		digests:       digests,
		users:         users,
		summarizer:    summarizer,
		loc:           loc,
		maxItems:      maxItems,
		log:           logger,
		now:           time.Now,
	}
}

// WindowFor возвращает окно планового дайджеста относительно now:
// daily - предыдущие календарные сутки, weekly - 7 суток до сегодняшней полуночи,
// monthly - предыдущий календарный месяц.
func WindowFor(t domain.DigestType, now time.Time, loc *time.Location) (domain.Window, error) {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch t {
	case domain.DigestDaily:
		return domain.Window{Start: today.AddDate(0, 0, -1), End: today}, nil
	case domain.DigestWeekly:
		return domain.Window{Start: today.AddDate(0, 0, -7), End: today}, nil
	case domain.DigestMonthly:
		first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return domain.Window{Start: first.AddDate(0, -1, 0), End: first}, nil
	}
	return domain.Window{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Location возвращает часовой пояс окон.
func (s *Service) Location() *time.Location { return s.loc }

// Window возвращает окно планового дайджеста на текущий момент.
func (s *Service) Window(t domain.DigestType) (domain.Window, error) {
	return WindowFor(t, s.now(), s.loc)
}

// Generate строит дайджест за окно и сохраняет его. При ошибке суммаризации ничего не сохраняется.
// Повторный вызов для того же окна создаёт новый дайджест.
func (s *Service) Generate(ctx context.Context, userID int64, t domain.DigestType, window domain.Window) (domain.NotificationDigest, error) {
	if !t.Valid() {
		return domain.NotificationDigest{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if !window.Valid() {
		return domain.NotificationDigest{}, domain.ErrInvalidWindow
	}
	start := time.Now()
	defer func() { metrics.DigestBuildSeconds.WithLabelValues(string(t)).Observe(time.Since(start).Seconds()) }()

	items, err := s.notifications.ListNotificationsInWindow(ctx, userID, window)
	if err != nil {
		return domain.NotificationDigest{}, fmt.Errorf("получение уведомлений: %w", err)
	}
	groups := GroupByCategory(items, s.maxItems)
	input := domain.DigestInput{Type: t, Window: window, Categories: groups, Notifications: len(items)}

	summary, err := s.summarizer.SummarizeDigest(ctx, input)
	if err != nil {
		return domain.NotificationDigest{}, fmt.Errorf("суммаризация: %w", err)
	}

	categories := make(map[string]int, len(groups))
	for _, g := range groups {
		categories[g.Category] = g.Count
	}
	saved, err := s.digests.CreateDigest(ctx, domain.NotificationDigest{
		UserID:            userID,
		Type:              t,
		Window:            window,
		NotificationCount: len(items),
		Categories:        categories,
		Summary:           summary,
		GeneratedAt:       s.now().UTC(),
	})
	if err != nil {
		return domain.NotificationDigest{}, fmt.Errorf("сохранение дайджеста: %w", err)
	}
	return saved, nil
}

// GenerateScheduled строит плановые дайджесты всем пользователям,
// пропуская окна, для которых дайджест уже есть. Возвращает число созданных.
func (s *Service) GenerateScheduled(ctx context.Context, t domain.DigestType) (int, error) {
	window, err := s.Window(t)
	if err != nil {
		return 0, err
	}
	users, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("список пользователей: %w", err)
	}
	log := s.log.With().Str("type", string(t)).Time("window_start", window.Start).Logger()
	created := 0
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		exists, err := s.digests.DigestExists(ctx, userID, t, window)
		if err != nil {
			return created, fmt.Errorf("проверка дайджеста: %w", err)
		}
		if exists {
			continue
		}
		if _, err := s.Generate(ctx, userID, t, window); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("digest: не удалось построить дайджест")
			continue
		}
		created++
	}
	log.Info().Int("users", len(users)).Int("created", created).Msg("digest: плановое построение завершено")
	return created, nil
}

// List возвращает последние дайджесты пользователя.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]domain.NotificationDigest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.digests.ListDigests(ctx, userID, limit)
}

// Latest возвращает последний дайджест заданного типа.
func (s *Service) Latest(ctx context.Context, userID int64, t domain.DigestType) (domain.NotificationDigest, error) {
	if !t.Valid() {
		return domain.NotificationDigest{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return s.digests.LatestDigest(ctx, userID, t)
}

// GroupByCategory группирует уведомления: сначала крупные категории, внутри - от новых к старым.
// perCategory > 0 усекает список уведомлений категории, Count остаётся полным.
func GroupByCategory(items []domain.Notification, perCategory int) []domain.CategoryGroup {
	index := make(map[string]int)
	var groups []domain.CategoryGroup
	for _, n := range items {
		category := n.Category
		if category == "" {
			category = domain.CategoryUnclassified
		}
		idx, ok := index[category]
		if !ok {
			idx = len(groups)
			index[category] = idx
			groups = append(groups, domain.CategoryGroup{Category: category})
		}
		groups[idx].Notifications = append(groups[idx].Notifications, n)
		groups[idx].Count++
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count == groups[j].Count {
			return groups[i].Category < groups[j].Category
		}
		return groups[i].Count > groups[j].Count
	})
	for i := range groups {
		list := groups[i].Notifications
		sort.SliceStable(list, func(a, b int) bool {
			if list[a].ReceivedAt.Equal(list[b].ReceivedAt) {
				return list[a].ID > list[b].ID
			}
			return list[a].ReceivedAt.After(list[b].ReceivedAt)
		})
		if perCategory > 0 && len(list) > perCategory {
			groups[i].Notifications = list[:perCategory]
		}
	}
	return groups
}
