package patterns

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
)

const (
	stripes = 64
	// maxCASRetries ограничивает число повторов при гонке версий одного ключа.
	maxCASRetries = 8
)

// ErrContention возвращается, если запись ключа не удалась за отведённые повторы.
var ErrContention = errors.New("pattern store: слишком много конфликтов версий")

// Config задаёт параметры обучения.
type Config struct {
	LearningRate float64
	Threshold    float64
}

// Store - хранилище выученных шаблонов с атомарным обновлением по ключу.
type Store struct {
	repo  domain.PatternRepo
	cfg   Config
	locks [stripes]sync.Mutex
	log   zerolog.Logger
	now   func() time.Time
}

// NewStore создаёт хранилище шаблонов.
func NewStore(repo domain.PatternRepo, cfg Config, logger zerolog.Logger) *Store {
	if cfg.LearningRate <= 0 || cfg.LearningRate >= 1 {
		cfg.LearningRate = 0.2
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.8
	}
	return &Store{repo: repo, cfg: cfg, log: logger, now: time.Now}
}

// Threshold возвращает порог уверенности для короткого замыкания классификатора.
func (s *Store) Threshold() float64 {
	return s.cfg.Threshold
}

func (s *Store) lock(userID int64, key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%stripes]
}

// Learn пересчитывает уверенность шаблона по новому наблюдению.
// Совпадение: c += α(1-c). Расхождение: c *= (1-α), и если c упала ниже α,
// шаблон переходит на новую категорию с c = α.
func Learn(p domain.NotificationPattern, category string, priority int, alpha float64) domain.NotificationPattern {
	if p.Category == category {
		p.Confidence += alpha * (1 - p.Confidence)
		p.Priority = priority
	} else {
		p.Confidence *= 1 - alpha
		if p.Confidence < alpha {
			p.Category = category
			p.Priority = priority
			p.Confidence = alpha
		}
	}
	p.Confidence = domain.ClampUnit(p.Confidence)
	p.Frequency++
	return p
}

// BlendSpam сдвигает оценку спама шаблона к новому наблюдению: s += α(x-s).
// Первое наблюдение берётся как есть.
func BlendSpam(p domain.NotificationPattern, spam, alpha float64, first bool) domain.NotificationPattern {
	spam = domain.ClampUnit(spam)
	if first {
		p.SpamScore = spam
	} else {
		p.SpamScore = domain.ClampUnit(p.SpamScore + alpha*(spam-p.SpamScore))
	}
	return p
}

// Observe учитывает результат успешной классификации моделью для всех ключей уведомления.
func (s *Store) Observe(ctx context.Context, n domain.Notification, c domain.Classification) error {
	category := c.Category
	if category == "" || category == domain.CategoryUnclassified {
		return nil
	}
	priority := domain.ClampPriority(c.Priority)
	for _, key := range domain.PatternKeysFor(n) {
		err := s.update(ctx, n.UserID, key, func(p domain.NotificationPattern, exists bool) (domain.NotificationPattern, bool) {
			if !exists {
				p.Category = category
				p.Priority = priority
				p.Confidence = s.cfg.LearningRate
				p.Frequency = 1
				return BlendSpam(p, c.SpamScore, s.cfg.LearningRate, true), true
			}
			p = Learn(p, category, priority, s.cfg.LearningRate)
			return BlendSpam(p, c.SpamScore, s.cfg.LearningRate, false), true
		})
		if err != nil {
			return fmt.Errorf("шаблон %s: %w", key.Key, err)
		}
	}
	return nil
}

// BumpFrequency увеличивает счётчик шаблона, сработавшего вместо модели.
func (s *Store) BumpFrequency(ctx context.Context, userID int64, key domain.PatternKey) error {
	return s.update(ctx, userID, key, func(p domain.NotificationPattern, exists bool) (domain.NotificationPattern, bool) {
		p.Frequency++
		return p, exists
	})
}

// update выполняет read-modify-write ключа под полосатой блокировкой
// и повторяет запись при конфликте версий. mutate может отказаться от записи.
func (s *Store) update(ctx context.Context, userID int64, key domain.PatternKey, mutate func(domain.NotificationPattern, bool) (domain.NotificationPattern, bool)) error {
	mu := s.lock(userID, key.Key)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.now().UTC()
		current, err := s.repo.GetPattern(ctx, userID, key.Key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			p, write := mutate(domain.NotificationPattern{UserID: userID, Key: key.Key, Type: key.Type}, false)
			if !write {
				return nil
			}
			p.LastSeenAt = now
			_, err = s.repo.InsertPattern(ctx, p)
		case err != nil:
			return err
		default:
			p, write := mutate(current, true)
			if !write {
				return nil
			}
			p.LastSeenAt = now
			_, err = s.repo.UpdatePatternCAS(ctx, p)
		}
		if err == nil {
			return nil
		}
		// NotFound при CAS означает сброс шаблонов между чтением и записью
		if errors.Is(err, domain.ErrPatternConflict) || errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Int64("user_id", userID).Str("key", key.Key).Int("attempt", attempt+1).Msg("patterns: конфликт версии, повтор")
			continue
		}
		return err
	}
	return ErrContention
}

// Match - результат поиска шаблонов для уведомления.
type Match struct {
	// Strong - первый по специфичности шаблон с уверенностью не ниже порога.
	Strong *domain.NotificationPattern
	// StrongKey - ключ сильного шаблона.
	StrongKey domain.PatternKey
	// Hints - остальные найденные шаблоны как подсказки модели.
	Hints []domain.PatternHint
}

// Lookup ищет шаблоны по ключам уведомления.
func (s *Store) Lookup(ctx context.Context, n domain.Notification) (Match, error) {
	var m Match
	for _, key := range domain.PatternKeysFor(n) {
		p, err := s.repo.GetPattern(ctx, n.UserID, key.Key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return Match{}, fmt.Errorf("поиск шаблона: %w", err)
		}
		if m.Strong == nil && p.Confidence >= s.cfg.Threshold {
			found := p
			m.Strong = &found
			m.StrongKey = key
			continue
		}
		m.Hints = append(m.Hints, domain.PatternHint{Key: p.Key, Category: p.Category, Priority: p.Priority, Confidence: p.Confidence})
	}
	return m, nil
}

// Get возвращает шаблон пользователя по идентификатору.
func (s *Store) Get(ctx context.Context, userID, id int64) (domain.NotificationPattern, error) {
	return s.repo.GetPatternByID(ctx, userID, id)
}

// TopByConfidence возвращает самые уверенные шаблоны.
func (s *Store) TopByConfidence(ctx context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	return s.repo.TopPatternsByConfidence(ctx, userID, limit)
}

// TopByFrequency возвращает самые частые шаблоны.
func (s *Store) TopByFrequency(ctx context.Context, userID int64, limit int) ([]domain.NotificationPattern, error) {
	return s.repo.TopPatternsByFrequency(ctx, userID, limit)
}

// Stats возвращает число шаблонов и среднюю уверенность.
func (s *Store) Stats(ctx context.Context, userID int64) (domain.PatternStats, error) {
	return s.repo.PatternStats(ctx, userID)
}

// Reset удаляет все шаблоны пользователя.
func (s *Store) Reset(ctx context.Context, userID int64) error {
	return s.repo.ResetPatterns(ctx, userID)
}
