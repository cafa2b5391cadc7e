package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"gorm.io/gorm"
)

// GormCandidateSource reads eligibility data from grant_candidates.
type GormCandidateSource struct {
	db *gorm.DB
}

func NewGormCandidateSource(db *gorm.DB) *GormCandidateSource {
	return &GormCandidateSource{db: db}
}

func (s *GormCandidateSource) Candidates(ctx context.Context, subjectID string) ([]domain.CandidateRecord, error) {
	var models []CandidateModel
	err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("eligibility_score DESC, grantee_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.CandidateRecord, 0, len(models))
	for _, m := range models {
		records = append(records, domain.CandidateRecord{
			GranteeID:        m.GranteeID,
			EligibilityScore: m.EligibilityScore,
		})
	}
	return records, nil
}

func (s *GormCandidateSource) DesignatedGrantee(ctx context.Context, subjectID string) (string, error) {
	var model CandidateModel
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND designated = ?", subjectID, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.GranteeID, nil
}

// ReplaceCandidates swaps the candidate pool of a subject in one transaction.
func (s *GormCandidateSource) ReplaceCandidates(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}

	now := time.Now().UTC()
	models := make([]CandidateModel, 0, len(records))
	foundDesignated := designatedID == ""
	for _, r := range candidate.Rank(records, nil) {
		isDesignated := r.GranteeID == designatedID
		foundDesignated = foundDesignated || isDesignated
		models = append(models, CandidateModel{
			SubjectID:        subjectID,
			GranteeID:        r.GranteeID,
			EligibilityScore: r.EligibilityScore,
			Designated:       isDesignated,
			CreatedAt:        now,
		})
	}
	if !foundDesignated {
		return fmt.Errorf("%w: designated grantee %q is not a candidate", domain.ErrValidation, designatedID)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subject_id = ?", subjectID).Delete(&CandidateModel{}).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.CreateInBatches(&models, 100).Error
	})
}

var (
	_ candidate.Source           = (*GormCandidateSource)(nil)
	_ candidate.DesignatedSource = (*GormCandidateSource)(nil)
	_ candidate.Writer           = (*GormCandidateSource)(nil)
)
