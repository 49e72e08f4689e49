package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job - периодическая задача конвейера.
type Job struct {
	Name string
	// Spec - cron-выражение с секундами: "0 */5 * * * *".
	Spec string
	Run  func(ctx context.Context) error
	// Timeout ограничивает один запуск; 0 - без ограничения.
	Timeout time.Duration
}

// Scheduler запускает задачи по расписанию. Запуск задачи пропускается,
// пока предыдущий ещё выполняется.
type Scheduler struct {
	cron *cron.Cron
	jobs []Job
	log  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	running sync.WaitGroup
}

// New создаёт планировщик в часовом поясе loc.
func New(loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	adapter := cronLogger{log: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		log: logger,
	}
}

// Add регистрирует задачу. Пустой Spec отключает задачу.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.log.Info().Str("job", job.Name).Msg("schedule: задача отключена")
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("schedule: у задачи %s нет функции", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) }); err != nil {
		return fmt.Errorf("schedule: расписание %q задачи %s: %w", job.Spec, job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs возвращает зарегистрированные задачи.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Run запускает расписание и блокируется до отмены ctx, затем дожидается активных задач.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("schedule: планировщик запущен")
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.running.Wait()
	s.log.Info().Msg("schedule: планировщик остановлен")
	return nil
}

// Trigger выполняет задачу немедленно, вне расписания.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, job)
		}
	}
	return fmt.Errorf("schedule: неизвестная задача %s", name)
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.running.Add(1)
	defer s.running.Done()
	if err := s.runJob(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Str("job", job.Name).Msg("schedule: задача завершилась с ошибкой")
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := job.Run(ctx)
	s.log.Debug().Str("job", job.Name).Dur("duration", time.Since(start)).Msg("schedule: задача выполнена")
	return err
}

// cronLogger направляет служебные сообщения cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
