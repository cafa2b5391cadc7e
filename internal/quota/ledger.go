package quota

import (
	"context"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// Ledger tracks the consumable token pool of each quota owner.
//
// Reserve must be atomic per owner: concurrent reservations against an owner
// with one available unit yield exactly one success. Commit finalizes a
// reservation once its grant is persisted and is idempotent. Release returns
// the unit of a reservation that was never committed.
type Ledger interface {
	Provision(ctx context.Context, holder domain.QuotaHolder) error
	Reserve(ctx context.Context, ownerID string) (domain.Reservation, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	Balance(ctx context.Context, ownerID string) (domain.QuotaAccount, error)
}
