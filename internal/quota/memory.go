package quota

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// MemoryLedger is an in-process Ledger guarded by a single mutex.
type MemoryLedger struct {
	mu           sync.Mutex
	clock        clock.Clock
	accounts     map[string]*domain.QuotaAccount
	reservations map[string]*domain.Reservation
}

func NewMemoryLedger(c clock.Clock) *MemoryLedger {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryLedger{
		clock:        c,
		accounts:     make(map[string]*domain.QuotaAccount),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (l *MemoryLedger) Provision(_ context.Context, holder domain.QuotaHolder) error {
	if holder == nil || strings.TrimSpace(holder.QuotaOwnerID()) == "" {
		return fmt.Errorf("%w: quota holder with owner id is required", domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ownerID := strings.TrimSpace(holder.QuotaOwnerID())
	l.accounts[ownerID] = &domain.QuotaAccount{
		OwnerID:   ownerID,
		Available: holder.QuotaAllowance(),
		UpdatedAt: l.clock.Now(),
	}
	return nil
}

func (l *MemoryLedger) Reserve(_ context.Context, ownerID string) (domain.Reservation, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[ownerID]
	if !ok || account.Available <= 0 {
		return domain.Reservation{}, fmt.Errorf("%w: owner %q", domain.ErrQuotaExhausted, ownerID)
	}

	now := l.clock.Now()
	account.Available--
	account.UpdatedAt = now

	reservation := &domain.Reservation{
		Token:     uuid.NewString(),
		OwnerID:   ownerID,
		Status:    domain.ReservationReserved,
		CreatedAt: now,
	}
	l.reservations[reservation.Token] = reservation
	return *reservation, nil
}

func (l *MemoryLedger) Commit(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[token]
	if !ok {
		return fmt.Errorf("%w: reservation %q", domain.ErrNotFound, token)
	}

	switch reservation.Status {
	case domain.ReservationCommitted:
		return nil
	case domain.ReservationReleased:
		return fmt.Errorf("%w: reservation %q already released", domain.ErrConflict, token)
	}

	reservation.Status = domain.ReservationCommitted
	if account, ok := l.accounts[reservation.OwnerID]; ok {
		account.ConsumedThisPeriod++
		account.UpdatedAt = l.clock.Now()
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reservation, ok := l.reservations[token]
	if !ok {
		return fmt.Errorf("%w: reservation %q", domain.ErrNotFound, token)
	}

	switch reservation.Status {
	case domain.ReservationReleased:
		return nil
	case domain.ReservationCommitted:
		return fmt.Errorf("%w: reservation %q already committed", domain.ErrConflict, token)
	}

	reservation.Status = domain.ReservationReleased
	if account, ok := l.accounts[reservation.OwnerID]; ok {
		account.Available++
		account.UpdatedAt = l.clock.Now()
	}
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, ownerID string) (domain.QuotaAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, ok := l.accounts[strings.TrimSpace(ownerID)]
	if !ok {
		return domain.QuotaAccount{}, fmt.Errorf("%w: quota account %q", domain.ErrNotFound, ownerID)
	}
	return *account, nil
}

var _ Ledger = (*MemoryLedger)(nil)
