package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound возвращается, если сущность не найдена или принадлежит другому пользователю.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRule возвращается при ошибке валидации правила.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrInvalidSource возвращается при ошибке валидации источника.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidWindow возвращается для пустого или перевёрнутого окна дайджеста.
	ErrInvalidWindow = errors.New("invalid digest window")
	// ErrPatternConflict сигнализирует о проигранной гонке compare-and-swap.
	ErrPatternConflict = errors.New("pattern version conflict")
	// ErrSourceBusy возвращается, если источник уже синхронизируется другим воркером.
	ErrSourceBusy = errors.New("source sync already in progress")
	// ErrClassifierUnavailable возвращается, когда внешний классификатор отключён предохранителем.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// SourceErrorKind классифицирует ошибки коллекторов.
type SourceErrorKind string

const (
	// SourceErrAuth - учётные данные отклонены.
	SourceErrAuth SourceErrorKind = "auth"
	// SourceErrRateLimit - источник просит повторить позже.
	SourceErrRateLimit SourceErrorKind = "rate_limit"
	// SourceErrMalformed - ответ источника не удалось разобрать.
	SourceErrMalformed SourceErrorKind = "malformed"
	// SourceErrTransient - сетевые и прочие временные сбои.
	SourceErrTransient SourceErrorKind = "transient"
)

// SourceError - типизированная ошибка коллектора.
type SourceError struct {
	Kind       SourceErrorKind
	Source     SourceType
	RetryAfter time.Duration
	Err        error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError создаёт ошибку коллектора заданного вида.
func NewSourceError(source SourceType, kind SourceErrorKind, err error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Err: err}
}

// RateLimited создаёт ошибку превышения лимита с подсказкой повтора.
func RateLimited(source SourceType, retryAfter time.Duration, err error) *SourceError {
	return &SourceError{Kind: SourceErrRateLimit, Source: source, RetryAfter: retryAfter, Err: err}
}

// AsSourceError извлекает SourceError из цепочки ошибок.
func AsSourceError(err error) (*SourceError, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsAuthError сообщает, что источник отклонил учётные данные.
func IsAuthError(err error) bool {
	se, ok := AsSourceError(err)
	return ok && se.Kind == SourceErrAuth
}

// IsRateLimited сообщает, что источник ограничил частоту запросов.
func IsRateLimited(err error) bool {
	se, ok := AsSourceError(err)
	return ok && se.Kind == SourceErrRateLimit
}
