package cache

import (
	"context"
	"sync"
	"time"

	"notify-hub/internal/domain"
)

// MemoryLock - блокировка в пределах процесса для запуска без Redis.
type MemoryLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

var _ domain.SourceLock = (*MemoryLock)(nil)

// NewMemoryLock создаёт блокировку в памяти.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]time.Time), clock: time.Now}
}

// TryLock захватывает ключ на ttl; просроченные захваты считаются свободными.
func (l *MemoryLock) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == until {
			delete(l.held, key)
		}
	}, true, nil
}
