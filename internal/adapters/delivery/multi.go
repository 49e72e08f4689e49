package delivery

import (
	"context"
	"errors"

	"notify-hub/internal/domain"
)

// Nop отбрасывает события.
type Nop struct{}

// Publish ничего не делает.
func (Nop) Publish(context.Context, int64, domain.Event) error { return nil }

// Multi публикует событие во все бэкенды; сбой одного не мешает остальным.
type Multi []domain.Publisher

// Publish возвращает объединённую ошибку бэкендов.
func (m Multi) Publish(ctx context.Context, userID int64, event domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, userID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
