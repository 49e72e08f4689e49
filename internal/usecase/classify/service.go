package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/circuitbreaker"
	"notify-hub/internal/usecase/patterns"
)

// Outcome - откуда взят результат классификации.
type Outcome string

const (
	OutcomePattern Outcome = "pattern"
	OutcomeModel   Outcome = "model"
	OutcomeFailed  Outcome = "failed"
)

// Decision - результат классификации одного уведомления.
type Decision struct {
	Classification domain.Classification
	Outcome        Outcome
	// HitKey - ключ шаблона при коротком замыкании.
	HitKey *domain.PatternKey
	// Err - причина сбоя модели при OutcomeFailed.
	Err error
}

// Service выбирает между выученным шаблоном и внешней моделью.
type Service struct {
	model    domain.ClassifierModel
	patterns *patterns.Store
	breaker  *circuitbreaker.Breaker
	timeout  time.Duration
	log      zerolog.Logger
}

// NewService создаёт классификатор с предохранителем вокруг модели.
func NewService(model domain.ClassifierModel, store *patterns.Store, breaker *circuitbreaker.Breaker, timeout time.Duration, logger zerolog.Logger) *Service {
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{model: model, patterns: store, breaker: breaker, timeout: timeout, log: logger}
}

// Classify возвращает решение по уведомлению. Ошибка возвращается только
// при сбое хранилища; сбой модели даёт OutcomeFailed с результатом unclassified.
func (s *Service) Classify(ctx context.Context, n domain.Notification) (Decision, error) {
	match, err := s.patterns.Lookup(ctx, n)
	if err != nil {
		return Decision{}, err
	}
	if p := match.Strong; p != nil {
		key := match.StrongKey
		return Decision{
			Classification: domain.Classification{
				Category:    p.Category,
				Priority:    domain.ClampPriority(p.Priority),
				Sentiment:   domain.SentimentNeutral,
				Confidence:  domain.ClampUnit(p.Confidence),
				SpamScore:   domain.ClampUnit(p.SpamScore),
				FromPattern: true,
			},
			Outcome: OutcomePattern,
			HitKey:  &key,
		}, nil
	}

	var result domain.Classification
	err = s.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		var callErr error
		result, callErr = s.model.Classify(callCtx, n, match.Hints)
		return callErr
	}, func(err error) bool {
		// отмена вызывающим не говорит о состоянии модели
		return ctx.Err() != nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
		}
		s.log.Warn().Err(err).Int64("notification_id", n.ID).Msg("classify: модель недоступна, уведомление останется unclassified")
		return Decision{Classification: domain.Unclassified(), Outcome: OutcomeFailed, Err: err}, nil
	}
	result.Priority = domain.ClampPriority(result.Priority)
	result.Confidence = domain.ClampUnit(result.Confidence)
	result.SpamScore = domain.ClampUnit(result.SpamScore)
	if result.Sentiment == "" {
		result.Sentiment = domain.SentimentNeutral
	}
	return Decision{Classification: result, Outcome: OutcomeModel}, nil
}

// ApplyClassification переносит результат классификации в уведомление.
func ApplyClassification(n domain.Notification, d Decision, at time.Time) domain.Notification {
	c := d.Classification
	n.Category = c.Category
	n.Priority = c.Priority
	n.Sentiment = c.Sentiment
	n.Confidence = c.Confidence
	n.SpamScore = c.SpamScore
	if c.Summary != "" || d.Outcome != OutcomePattern {
		n.Summary = c.Summary
	}
	n.Status = domain.StatusClassified
	if d.Outcome == OutcomeFailed {
		n.Status = domain.StatusFailed
		n.Confidence = 0
	}
	n.ClassifiedAt = &at
	return n
}
