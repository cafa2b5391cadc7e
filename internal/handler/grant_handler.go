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

type GrantService interface {
	Issue(ctx context.Context, req service.IssueRequest) (*domain.Grant, error)
	Confirm(ctx context.Context, grantID string, actingGranteeID string) (*domain.Grant, error)
	GetGrant(ctx context.Context, grantID string) (*domain.Grant, error)
	ListSubjectGrants(ctx context.Context, subjectID string) ([]domain.Grant, error)
}

type SweepRunner interface {
	Run(ctx context.Context) (service.SweepReport, error)
}

type GrantHandler struct {
	service GrantService
	sweeper SweepRunner
}

func NewGrantHandler(service GrantService, sweeper SweepRunner) (*GrantHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("grant service is required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	return &GrantHandler{service: service, sweeper: sweeper}, nil
}

func RegisterGrantRoutes(router fiber.Router, service GrantService, sweeper SweepRunner) error {
	h, err := NewGrantHandler(service, sweeper)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/grants", h.IssueGrant)
	v1.Get("/grants/:id", h.GetGrant)
	v1.Post("/grants/:id/confirm", h.ConfirmGrant)
	v1.Get("/subjects/:subjectId/grants", h.ListSubjectGrants)
	v1.Post("/sweeps", h.RunSweep)

	return nil
}

type issueGrantRequest struct {
	SubjectType string `json:"subjectType"`
	SubjectID   string `json:"subjectId"`
	IssuerID    string `json:"issuerId"`
	TTLSeconds  *int64 `json:"ttlSeconds,omitempty"`
	MaxAttempts *int   `json:"maxAttempts,omitempty"`
}

type confirmGrantRequest struct {
	GranteeID string `json:"granteeId"`
}

type grantResponse struct {
	ID            string     `json:"id"`
	SubjectType   string     `json:"subjectType"`
	SubjectID     string     `json:"subjectId"`
	GranteeID     string     `json:"granteeId"`
	IssuerID      *string    `json:"issuerId,omitempty"`
	State         string     `json:"state"`
	AttemptNumber int        `json:"attemptNumber"`
	MaxAttempts   int        `json:"maxAttempts"`
	IssuedAt      time.Time  `json:"issuedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	ExpiredAt     *time.Time `json:"expiredAt,omitempty"`
}

type subjectGrantsResponse struct {
	SubjectID string          `json:"subjectId"`
	Data      []grantResponse `json:"data"`
}

func (h *GrantHandler) IssueGrant(c *fiber.Ctx) error {
	var req issueGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	issueReq, err := requestToIssueRequest(req)
	if err != nil {
		return toHTTPError(err)
	}

	grant, err := h.service.Issue(c.UserContext(), issueReq)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toGrantResponse(grant))
}

func (h *GrantHandler) ConfirmGrant(c *fiber.Ctx) error {
	var req confirmGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	grant, err := h.service.Confirm(c.UserContext(), strings.TrimSpace(c.Params("id")), req.GranteeID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toGrantResponse(grant))
}

func (h *GrantHandler) GetGrant(c *fiber.Ctx) error {
	grant, err := h.service.GetGrant(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toGrantResponse(grant))
}

func (h *GrantHandler) ListSubjectGrants(c *fiber.Ctx) error {
	subjectID := strings.TrimSpace(c.Params("subjectId"))
	grants, err := h.service.ListSubjectGrants(c.UserContext(), subjectID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]grantResponse, 0, len(grants))
	for i := range grants {
		data = append(data, toGrantResponse(&grants[i]))
	}

	return c.Status(fiber.StatusOK).JSON(subjectGrantsResponse{
		SubjectID: subjectID,
		Data:      data,
	})
}

func (h *GrantHandler) RunSweep(c *fiber.Ctx) error {
	report, err := h.sweeper.Run(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func requestToIssueRequest(req issueGrantRequest) (service.IssueRequest, error) {
	subjectType, err := domain.ParseSubjectTypeFromString(req.SubjectType)
	if err != nil {
		return service.IssueRequest{}, err
	}

	out := service.IssueRequest{
		SubjectType: subjectType,
		SubjectID:   strings.TrimSpace(req.SubjectID),
		IssuerID:    strings.TrimSpace(req.IssuerID),
	}

	if req.TTLSeconds != nil {
		if *req.TTLSeconds <= 0 {
			return service.IssueRequest{}, fmt.Errorf("%w: ttlSeconds must be positive", domain.ErrValidation)
		}
		out.TTL = time.Duration(*req.TTLSeconds) * time.Second
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			return service.IssueRequest{}, fmt.Errorf("%w: maxAttempts must be >= 1", domain.ErrValidation)
		}
		out.MaxAttempts = *req.MaxAttempts
	}

	return out, nil
}

func toGrantResponse(g *domain.Grant) grantResponse {
	if g == nil {
		return grantResponse{}
	}

	return grantResponse{
		ID:            g.ID,
		SubjectType:   g.SubjectType.String(),
		SubjectID:     g.SubjectID,
		GranteeID:     g.GranteeID,
		IssuerID:      g.IssuerID,
		State:         g.State.String(),
		AttemptNumber: g.AttemptNumber,
		MaxAttempts:   g.MaxAttempts,
		IssuedAt:      g.IssuedAt,
		ExpiresAt:     g.ExpiresAt,
		ConfirmedAt:   g.ConfirmedAt,
		ExpiredAt:     g.ExpiredAt,
	}
}
