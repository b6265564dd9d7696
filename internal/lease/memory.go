// Package lease реализует domain.Lease: аренду ключа на время одного цикла синхронизации.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pms/internal/domain"
)

// Memory выдаёт аренды в пределах одного процесса.
type Memory struct {
	mu     sync.Mutex
	now    domain.Clock
	held   map[string]holder
	serial uint64
}

type holder struct {
	token     uint64
	expiresAt time.Time
}

// NewMemory создаёт in-process аренду. now может быть nil.
func NewMemory(now domain.Clock) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, held: make(map[string]holder)}
}

// TryAcquire захватывает key, если он свободен или аренда истекла.
func (m *Memory) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expiresAt) {
		return nil, false, nil
	}

	m.serial++
	token := m.serial
	m.held[key] = holder{token: token, expiresAt: now.Add(ttl)}

	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
	}
	return release, true, nil
}

// Noop всегда выдаёт аренду. Используется, когда запущен единственный экземпляр.
type Noop struct{}

// TryAcquire всегда успешен.
func (Noop) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

var (
	_ domain.Lease = (*Memory)(nil)
	_ domain.Lease = Noop{}
)
