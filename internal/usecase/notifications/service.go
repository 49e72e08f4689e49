package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service отдаёт уведомления пользователю и управляет флагом прочтения.
type Service struct {
	repo      domain.NotificationRepo
	publisher domain.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис уведомлений.
func NewService(repo domain.NotificationRepo, publisher domain.Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, publisher: publisher, log: logger, now: time.Now}
}

// List возвращает уведомления по фильтру, свежие сверху.
func (s *Service) List(ctx context.Context, userID int64, filter domain.NotificationFilter) ([]domain.Notification, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListNotifications(ctx, userID, filter)
}

// Get возвращает одно уведомление пользователя.
func (s *Service) Get(ctx context.Context, userID, id int64) (domain.Notification, error) {
	return s.repo.GetNotification(ctx, userID, id)
}

// UnreadCount возвращает число непрочитанных.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead отмечает уведомление прочитанным. Повторная отметка не порождает событий.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	changed, err := s.repo.MarkRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.publish(ctx, userID, domain.NewReadEvent(userID, []int64{id}, s.now().UTC()))
	s.publishUnread(ctx, userID)
	return nil
}

// MarkAllRead отмечает прочитанными все уведомления и возвращает число изменённых.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	changed, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.publishUnread(ctx, userID)
	}
	return changed, nil
}

// Delete удаляет уведомление по явному запросу пользователя.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if err := s.repo.DeleteNotification(ctx, userID, id); err != nil {
		return err
	}
	s.publishUnread(ctx, userID)
	return nil
}

func (s *Service) publishUnread(ctx context.Context, userID int64) {
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("notifications: не удалось посчитать непрочитанные")
		return
	}
	s.publish(ctx, userID, domain.NewUnreadCountEvent(userID, unread, s.now().UTC()))
}

func (s *Service) publish(ctx context.Context, userID int64, event domain.Event) {
	if err := s.publisher.Publish(ctx, userID, event); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Str("event", string(event.Type)).Msg("notifications: не удалось опубликовать событие")
	}
}
