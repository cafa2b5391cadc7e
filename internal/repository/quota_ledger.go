package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormQuotaLedger keeps quota accounts in Postgres. Reserve relies on a
// guarded decrement so concurrent reservations never overdraw an owner.
type GormQuotaLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormQuotaLedger(db *gorm.DB, now func() time.Time) *GormQuotaLedger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &GormQuotaLedger{db: db, now: now}
}

func (l *GormQuotaLedger) Provision(ctx context.Context, holder domain.QuotaHolder) error {
	if holder == nil || strings.TrimSpace(holder.QuotaOwnerID()) == "" {
		return fmt.Errorf("%w: quota holder with owner id is required", domain.ErrValidation)
	}

	model := &QuotaAccountModel{
		OwnerID:   strings.TrimSpace(holder.QuotaOwnerID()),
		Available: holder.QuotaAllowance(),
		UpdatedAt: l.now(),
	}

	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"available", "consumed_this_period", "updated_at"}),
		}).
		Create(model).Error
}

func (l *GormQuotaLedger) Reserve(ctx context.Context, ownerID string) (domain.Reservation, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	now := l.now()
	reservation := QuotaReservationModel{
		Token:     uuid.NewString(),
		OwnerID:   ownerID,
		Status:    domain.ReservationReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&QuotaAccountModel{}).
			Where("owner_id = ? AND available > 0", ownerID).
			Updates(map[string]any{
				"available":  gorm.Expr("available - 1"),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: owner %q", domain.ErrQuotaExhausted, ownerID)
		}
		return tx.Create(&reservation).Error
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	return reservationModelToDomain(&reservation), nil
}

func (l *GormQuotaLedger) Commit(ctx context.Context, token string) error {
	return l.settle(ctx, token, domain.ReservationCommitted, map[string]any{
		"consumed_this_period": gorm.Expr("consumed_this_period + 1"),
	})
}

func (l *GormQuotaLedger) Release(ctx context.Context, token string) error {
	return l.settle(ctx, token, domain.ReservationReleased, map[string]any{
		"available": gorm.Expr("available + 1"),
	})
}

// settle moves a RESERVED reservation to target and applies accountUpdate to
// its owner. Settling twice into the same status is a no-op.
func (l *GormQuotaLedger) settle(ctx context.Context, token string, target domain.ReservationStatus, accountUpdate map[string]any) error {
	now := l.now()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reservation QuotaReservationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&reservation, "token = ?", token).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: reservation %q", domain.ErrNotFound, token)
		}
		if err != nil {
			return err
		}

		switch reservation.Status {
		case target:
			return nil
		case domain.ReservationReserved:
		default:
			return fmt.Errorf("%w: reservation %q already %s", domain.ErrConflict, token, strings.ToLower(reservation.Status.String()))
		}

		if err := tx.Model(&QuotaReservationModel{}).
			Where("token = ?", token).
			Updates(map[string]any{"status": target, "updated_at": now}).Error; err != nil {
			return err
		}

		accountUpdate["updated_at"] = now
		return tx.Model(&QuotaAccountModel{}).
			Where("owner_id = ?", reservation.OwnerID).
			Updates(accountUpdate).Error
	})
}

func (l *GormQuotaLedger) Balance(ctx context.Context, ownerID string) (domain.QuotaAccount, error) {
	var model QuotaAccountModel
	err := l.db.WithContext(ctx).First(&model, "owner_id = ?", strings.TrimSpace(ownerID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.QuotaAccount{}, fmt.Errorf("%w: quota account %q", domain.ErrNotFound, ownerID)
	}
	if err != nil {
		return domain.QuotaAccount{}, err
	}
	return quotaAccountModelToDomain(&model), nil
}

var _ quota.Ledger = (*GormQuotaLedger)(nil)
