package patterns

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notify-hub/internal/domain"
)

// Observation - результат классификации, который нужно учесть в шаблонах.
type Observation struct {
	Notification   domain.Notification
	Classification domain.Classification
	// HitKey заполнен, если результат взят из шаблона: тогда только растёт частота.
	HitKey *domain.PatternKey
}

// Feeder асинхронно применяет наблюдения к хранилищу.
type Feeder struct {
	store   *Store
	ch      chan Observation
	workers int
	log     zerolog.Logger
}

// NewFeeder создаёт очередь наблюдений с заданным буфером и числом горутин.
func NewFeeder(store *Store, buffer, workers int, logger zerolog.Logger) *Feeder {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 2
	}
	return &Feeder{store: store, ch: make(chan Observation, buffer), workers: workers, log: logger}
}

// Submit ставит наблюдение в очередь; блокируется при заполненном буфере до отмены ctx.
func (f *Feeder) Submit(ctx context.Context, obs Observation) error {
	select {
	case f.ch <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run обрабатывает наблюдения, пока не отменён ctx.
func (f *Feeder) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < f.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case obs := <-f.ch:
					f.apply(gctx, obs)
				}
			}
		})
	}
	return g.Wait()
}

func (f *Feeder) apply(ctx context.Context, obs Observation) {
	var err error
	if obs.HitKey != nil {
		err = f.store.BumpFrequency(ctx, obs.Notification.UserID, *obs.HitKey)
	} else {
		err = f.store.Observe(ctx, obs.Notification, obs.Classification)
	}
	if err != nil && ctx.Err() == nil {
		f.log.Warn().Err(err).Int64("notification_id", obs.Notification.ID).Msg("patterns: не удалось обновить шаблон")
	}
}
