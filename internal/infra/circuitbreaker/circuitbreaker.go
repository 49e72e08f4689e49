package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen возвращается, пока предохранитель разомкнут.
var ErrOpen = errors.New("circuit breaker is open")

// State - состояние предохранителя.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config задаёт пороги предохранителя.
type Config struct {
	// FailureThreshold - подряд идущие сбои до размыкания.
	FailureThreshold int
	// SuccessThreshold - успехи в полуоткрытом состоянии до замыкания.
	SuccessThreshold int
	// Cooldown - время в разомкнутом состоянии до пробных запросов.
	Cooldown time.Duration
	// HalfOpenMaxRequests - одновременные пробные запросы.
	HalfOpenMaxRequests int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 30 * time.Second, HalfOpenMaxRequests: 1}
}

// Breaker защищает внешний вызов от лавины повторов при его недоступности.
type Breaker struct {
	cfg   Config
	clock func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	halfOpenInUse int
	openedAt      time.Time
}

// New создаёт предохранитель.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return &Breaker{cfg: cfg, clock: time.Now}
}

// Execute выполняет fn, если предохранитель пропускает запрос.
// Ошибки, для которых ignore возвращает true, не считаются сбоями.
func (b *Breaker) Execute(fn func() error, ignore func(error) bool) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil || (ignore != nil && ignore(err)))
	return err
}

// State возвращает текущее состояние.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.halfOpenInUse >= b.cfg.HalfOpenMaxRequests {
			return ErrOpen
		}
		b.halfOpenInUse++
	}
	return nil
}

func (b *Breaker) after(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenInUse > 0 {
		b.halfOpenInUse--
	}
	if ok {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.successes = 0
			}
		}
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.clock()
		b.successes = 0
		b.halfOpenInUse = 0
	}
}

func (b *Breaker) advance() {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.successes = 0
		b.halfOpenInUse = 0
	}
}
