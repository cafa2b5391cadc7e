package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = fmt.Errorf("%w: lock held by another holder", domain.ErrConflict)

// Release frees a lease. Releasing a lease that already lapsed is a no-op.
type Release func(ctx context.Context) error

// Locker hands out exclusive, expiring leases on a key. Acquire never waits:
// a held key fails fast with ErrNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// SubjectKey is the lock key guarding issuance for one subject.
func SubjectKey(subjectID string) string {
	return "grant:subject:" + subjectID
}
