package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/domain"
	"gorm.io/gorm"
)

// GrantRepository persists grants. Create enforces the single OFFERED grant
// per subject and the subject version guard in one transaction.
type GrantRepository interface {
	Create(ctx context.Context, g *domain.Grant, expectedSubjectVersion int64) error
	GetByID(ctx context.Context, id string) (*domain.Grant, error)
	FindOfferedBySubject(ctx context.Context, subjectID string) (*domain.Grant, error)
	ListBySubject(ctx context.Context, subjectID string) ([]domain.Grant, error)
	// ListExpired pages through OFFERED grants that expired before the given
	// time, ordered by (expires_at, id) and starting after the cursor.
	ListExpired(ctx context.Context, before time.Time, after *ExpiredCursor, limit int) ([]domain.Grant, error)
	ConditionalUpdate(ctx context.Context, id string, expected domain.State, update domain.GrantUpdate) (bool, error)
	// Confirm moves an OFFERED grant to CONFIRMED and its OPEN subject to
	// CONFIRMED atomically. It reports false when the grant already left OFFERED.
	Confirm(ctx context.Context, grantID, subjectID string, at time.Time) (bool, error)
}

// ExpiredCursor is the last grant of the previous ListExpired page.
type ExpiredCursor struct {
	ExpiresAt time.Time
	ID        string
}

// CursorAfter returns the cursor that continues a listing after g.
func CursorAfter(g domain.Grant) *ExpiredCursor {
	return &ExpiredCursor{ExpiresAt: g.ExpiresAt, ID: g.ID}
}

type GormGrantRepo struct {
	db *gorm.DB
}

func NewGormGrantRepo(db *gorm.DB) *GormGrantRepo {
	return &GormGrantRepo{db: db}
}

func (r *GormGrantRepo) Create(ctx context.Context, g *domain.Grant, expectedSubjectVersion int64) error {
	model := grantModelFromDomain(g)
	if model == nil {
		return fmt.Errorf("%w: grant is required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&SubjectModel{}).
			Where("id = ? AND version = ? AND status = ? AND attempts < max_attempts",
				model.SubjectID, expectedSubjectVersion, domain.SubjectStatusOpen).
			Updates(map[string]any{
				"attempts":   model.AttemptNumber,
				"version":    gorm.Expr("version + 1"),
				"updated_at": model.CreatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: subject %q changed concurrently", domain.ErrConflict, model.SubjectID)
		}

		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: subject %q already has an offered grant", domain.ErrConflict, model.SubjectID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	*g = *grantModelToDomain(model)
	return nil
}

func (r *GormGrantRepo) GetByID(ctx context.Context, id string) (*domain.Grant, error) {
	var model GrantModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return grantModelToDomain(&model), nil
}

func (r *GormGrantRepo) FindOfferedBySubject(ctx context.Context, subjectID string) (*domain.Grant, error) {
	var model GrantModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND state = ?", subjectID, domain.StateOffered).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return grantModelToDomain(&model), nil
}

func (r *GormGrantRepo) ListBySubject(ctx context.Context, subjectID string) ([]domain.Grant, error) {
	var models []GrantModel
	err := r.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return grantModelsToDomain(models), nil
}

func (r *GormGrantRepo) ListExpired(ctx context.Context, before time.Time, after *ExpiredCursor, limit int) ([]domain.Grant, error) {
	if limit < 1 {
		limit = 100
	}

	query := r.db.WithContext(ctx).
		Where("state = ? AND expires_at < ?", domain.StateOffered, before)
	if after != nil {
		query = query.Where("(expires_at > ? OR (expires_at = ? AND id > ?))", after.ExpiresAt, after.ExpiresAt, after.ID)
	}

	var models []GrantModel
	err := query.
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return grantModelsToDomain(models), nil
}

// ConditionalUpdate applies update only while the grant is still in expected
// state. It reports false when another writer got there first.
func (r *GormGrantRepo) ConditionalUpdate(ctx context.Context, id string, expected domain.State, update domain.GrantUpdate) (bool, error) {
	fields := map[string]any{
		"state":      update.State,
		"updated_at": update.UpdatedAt,
	}
	if update.ConfirmedAt != nil {
		fields["confirmed_at"] = *update.ConfirmedAt
	}
	if update.ExpiredAt != nil {
		fields["expired_at"] = *update.ExpiredAt
	}

	result := r.db.WithContext(ctx).
		Model(&GrantModel{}).
		Where("id = ? AND state = ?", id, expected).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormGrantRepo) Confirm(ctx context.Context, grantID, subjectID string, at time.Time) (bool, error) {
	confirmed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&GrantModel{}).
			Where("id = ? AND state = ?", grantID, domain.StateOffered).
			Updates(map[string]any{
				"state":        domain.StateConfirmed,
				"confirmed_at": at,
				"updated_at":   at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		result = tx.Model(&SubjectModel{}).
			Where("id = ? AND status = ?", subjectID, domain.SubjectStatusOpen).
			Updates(map[string]any{
				"status":     domain.SubjectStatusConfirmed,
				"version":    gorm.Expr("version + 1"),
				"updated_at": at,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: subject %q is no longer open", domain.ErrConflict, subjectID)
		}

		confirmed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

func grantModelsToDomain(models []GrantModel) []domain.Grant {
	grants := make([]domain.Grant, 0, len(models))
	for i := range models {
		grants = append(grants, *grantModelToDomain(&models[i]))
	}
	return grants
}

var _ GrantRepository = (*GormGrantRepo)(nil)
