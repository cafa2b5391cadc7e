package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubjectRepository interface {
	// Ensure stores s unless the subject already exists and returns the stored row.
	Ensure(ctx context.Context, s *domain.Subject) (*domain.Subject, error)
	GetByID(ctx context.Context, id string) (*domain.Subject, error)
	Transition(ctx context.Context, id string, from, to domain.SubjectStatus, at time.Time) (bool, error)
}

type GormSubjectRepo struct {
	db *gorm.DB
}

func NewGormSubjectRepo(db *gorm.DB) *GormSubjectRepo {
	return &GormSubjectRepo{db: db}
}

func (r *GormSubjectRepo) Ensure(ctx context.Context, s *domain.Subject) (*domain.Subject, error) {
	model := subjectModelFromDomain(s)
	if model == nil {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error; err != nil {
		return nil, err
	}

	return r.GetByID(ctx, s.ID)
}

func (r *GormSubjectRepo) GetByID(ctx context.Context, id string) (*domain.Subject, error) {
	var model SubjectModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return subjectModelToDomain(&model), nil
}

func (r *GormSubjectRepo) Transition(ctx context.Context, id string, from, to domain.SubjectStatus, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&SubjectModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

var _ SubjectRepository = (*GormSubjectRepo)(nil)
