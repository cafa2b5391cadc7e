package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/clock"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// KeyedLocker is an in-process Locker. Leases expire on the injected clock so
// a holder that never releases cannot block a key forever.
type KeyedLocker struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]lease
}

func NewKeyedLocker(c clock.Clock) *KeyedLocker {
	if c == nil {
		c = clock.Real()
	}
	return &KeyedLocker{clock: c, leases: make(map[string]lease)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if current, held := l.leases[key]; held && now.Before(current.expiresAt) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		if current, held := l.leases[key]; held && current.token == token {
			delete(l.leases, key)
		}
		return nil
	}, nil
}

var _ Locker = (*KeyedLocker)(nil)
