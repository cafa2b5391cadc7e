package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/service"
)

type AdminService interface {
	ProvisionQuota(ctx context.Context, req service.ProvisionQuotaRequest) (domain.QuotaAccount, error)
	QuotaBalance(ctx context.Context, ownerID string) (domain.QuotaAccount, error)
	ReplaceCandidates(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error
}

type AdminHandler struct {
	service AdminService
}

func RegisterAdminRoutes(router fiber.Router, service AdminService) error {
	if service == nil {
		return fmt.Errorf("admin service is required")
	}
	h := &AdminHandler{service: service}

	v1 := router.Group("/v1")
	v1.Get("/quotas/:ownerId", h.GetQuota)
	v1.Put("/quotas/:ownerId", h.ProvisionQuota)
	v1.Put("/subjects/:subjectId/candidates", h.ReplaceCandidates)

	return nil
}

type provisionQuotaRequest struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Tokens      int    `json:"tokens"`
	BonusTokens int    `json:"bonusTokens"`
}

type quotaResponse struct {
	OwnerID            string    `json:"ownerId"`
	Available          int       `json:"available"`
	ConsumedThisPeriod int       `json:"consumedThisPeriod"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type candidateItem struct {
	GranteeID        string  `json:"granteeId"`
	EligibilityScore float64 `json:"eligibilityScore"`
	PriorAttempts    int     `json:"priorAttempts"`
}

type replaceCandidatesRequest struct {
	Candidates          []candidateItem `json:"candidates"`
	DesignatedGranteeID string          `json:"designatedGranteeId"`
}

func (h *AdminHandler) GetQuota(c *fiber.Ctx) error {
	account, err := h.service.QuotaBalance(c.UserContext(), strings.TrimSpace(c.Params("ownerId")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toQuotaResponse(account))
}

func (h *AdminHandler) ProvisionQuota(c *fiber.Ctx) error {
	var req provisionQuotaRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	account, err := h.service.ProvisionQuota(c.UserContext(), service.ProvisionQuotaRequest{
		Kind:        service.PartnerKind(req.Kind),
		OwnerID:     strings.TrimSpace(c.Params("ownerId")),
		Name:        strings.TrimSpace(req.Name),
		Tokens:      req.Tokens,
		BonusTokens: req.BonusTokens,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toQuotaResponse(account))
}

func (h *AdminHandler) ReplaceCandidates(c *fiber.Ctx) error {
	var req replaceCandidatesRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	records := make([]domain.CandidateRecord, 0, len(req.Candidates))
	for _, item := range req.Candidates {
		records = append(records, domain.CandidateRecord{
			GranteeID:        strings.TrimSpace(item.GranteeID),
			EligibilityScore: item.EligibilityScore,
			PriorAttempts:    item.PriorAttempts,
		})
	}

	subjectID := strings.TrimSpace(c.Params("subjectId"))
	if err := h.service.ReplaceCandidates(c.UserContext(), subjectID, records, req.DesignatedGranteeID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subjectId": subjectID,
		"count":     len(records),
	})
}

func toQuotaResponse(account domain.QuotaAccount) quotaResponse {
	return quotaResponse{
		OwnerID:            account.OwnerID,
		Available:          account.Available,
		ConsumedThisPeriod: account.ConsumedThisPeriod,
		UpdatedAt:          account.UpdatedAt,
	}
}
