package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	"go.uber.org/zap"
)

type PartnerKind string

const (
	PartnerClinic   PartnerKind = "CLINIC"
	PartnerPharmacy PartnerKind = "PHARMACY"
	PartnerService  PartnerKind = "SERVICE"
)

// ProvisionQuotaRequest resets the token pool of one partner. Tokens is the
// monthly pool, available tokens or plan limit depending on Kind.
type ProvisionQuotaRequest struct {
	Kind        PartnerKind
	OwnerID     string
	Name        string
	Tokens      int
	BonusTokens int
}

// AdminService maintains the inputs of issuance: partner quotas and the
// candidate pools of subjects.
type AdminService struct {
	ledger     quota.Ledger
	candidates candidate.Writer
	logger     *zap.Logger
}

func NewAdminService(ledger quota.Ledger, candidates candidate.Writer, logger *zap.Logger) (*AdminService, error) {
	if ledger == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	if candidates == nil {
		return nil, fmt.Errorf("candidate writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminService{ledger: ledger, candidates: candidates, logger: logger}, nil
}

func (s *AdminService) ProvisionQuota(ctx context.Context, req ProvisionQuotaRequest) (domain.QuotaAccount, error) {
	holder, err := partnerFromRequest(req)
	if err != nil {
		return domain.QuotaAccount{}, err
	}

	if err := s.ledger.Provision(ctx, holder); err != nil {
		return domain.QuotaAccount{}, fmt.Errorf("failed to provision quota: %w", err)
	}

	s.logger.Info("quota provisioned",
		zap.String("ownerId", holder.QuotaOwnerID()),
		zap.String("kind", string(req.Kind)),
		zap.Int("allowance", holder.QuotaAllowance()),
	)
	return s.ledger.Balance(ctx, holder.QuotaOwnerID())
}

func (s *AdminService) QuotaBalance(ctx context.Context, ownerID string) (domain.QuotaAccount, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.QuotaAccount{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	return s.ledger.Balance(ctx, ownerID)
}

func (s *AdminService) ReplaceCandidates(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}
	for _, r := range records {
		if strings.TrimSpace(r.GranteeID) == "" {
			return fmt.Errorf("%w: candidate grantee id is required", domain.ErrValidation)
		}
		if r.PriorAttempts < 0 {
			return fmt.Errorf("%w: priorAttempts must be >= 0", domain.ErrValidation)
		}
	}

	if err := s.candidates.ReplaceCandidates(ctx, subjectID, records, strings.TrimSpace(designatedID)); err != nil {
		return err
	}

	s.logger.Info("candidates replaced",
		zap.String("subjectId", subjectID),
		zap.Int("count", len(records)),
	)
	return nil
}

func partnerFromRequest(req ProvisionQuotaRequest) (domain.QuotaHolder, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if req.Tokens < 0 || req.BonusTokens < 0 {
		return nil, fmt.Errorf("%w: token counts must be >= 0", domain.ErrValidation)
	}

	switch PartnerKind(strings.ToUpper(strings.TrimSpace(string(req.Kind)))) {
	case PartnerClinic:
		return domain.ClinicPartner{ID: ownerID, Name: req.Name, MonthlyDiscountPool: req.Tokens}, nil
	case PartnerPharmacy:
		return domain.PharmacyPartner{ID: ownerID, Name: req.Name, AvailableTokens: req.Tokens}, nil
	case PartnerService:
		return domain.ServicePartner{ID: ownerID, Name: req.Name, PlanLimit: req.Tokens, BonusTokens: req.BonusTokens}, nil
	default:
		return nil, fmt.Errorf("%w: invalid partner kind %q", domain.ErrValidation, req.Kind)
	}
}
