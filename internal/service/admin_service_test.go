package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/quota"
)

type fakeCandidateWriter struct {
	replaceFn func(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error
}

func (f *fakeCandidateWriter) ReplaceCandidates(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error {
	if f.replaceFn != nil {
		return f.replaceFn(ctx, subjectID, records, designatedID)
	}
	return nil
}

func newTestAdmin(t *testing.T, writer candidate.Writer) *AdminService {
	t.Helper()

	admin, err := NewAdminService(quota.NewMemoryLedger(clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))), writer, nil)
	if err != nil {
		t.Fatalf("NewAdminService() error = %v", err)
	}
	return admin
}

func TestNewAdminServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewAdminService(nil, candidate.NewStaticSource(), nil); err == nil {
		t.Fatal("expected error for nil ledger")
	}
	if _, err := NewAdminService(quota.NewMemoryLedger(nil), nil, nil); err == nil {
		t.Fatal("expected error for nil candidate writer")
	}
}

func TestAdminServiceProvisionQuotaByPartnerKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  ProvisionQuotaRequest
		want int
	}{
		{name: "clinic pool", req: ProvisionQuotaRequest{Kind: "clinic", OwnerID: "clinic-1", Tokens: 5}, want: 5},
		{name: "pharmacy tokens", req: ProvisionQuotaRequest{Kind: PartnerPharmacy, OwnerID: "ph-1", Tokens: 3}, want: 3},
		{name: "service plan with bonus", req: ProvisionQuotaRequest{Kind: PartnerService, OwnerID: "svc-1", Tokens: 2, BonusTokens: 1}, want: 3},
		{name: "service without plan gets courtesy token", req: ProvisionQuotaRequest{Kind: PartnerService, OwnerID: "svc-2"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			admin := newTestAdmin(t, candidate.NewStaticSource())
			account, err := admin.ProvisionQuota(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("ProvisionQuota() error = %v", err)
			}
			if account.Available != tt.want || account.ConsumedThisPeriod != 0 {
				t.Fatalf("account = %+v, want available %d", account, tt.want)
			}
		})
	}
}

func TestAdminServiceProvisionQuotaValidation(t *testing.T) {
	t.Parallel()

	admin := newTestAdmin(t, candidate.NewStaticSource())
	tests := []ProvisionQuotaRequest{
		{Kind: "bank", OwnerID: "x", Tokens: 1},
		{Kind: PartnerClinic, OwnerID: " ", Tokens: 1},
		{Kind: PartnerClinic, OwnerID: "clinic-1", Tokens: -1},
	}

	for _, req := range tests {
		if _, err := admin.ProvisionQuota(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ProvisionQuota(%+v) error = %v, want ErrValidation", req, err)
		}
	}
}

func TestAdminServiceQuotaBalanceUnknownOwner(t *testing.T) {
	t.Parallel()

	admin := newTestAdmin(t, candidate.NewStaticSource())
	if _, err := admin.QuotaBalance(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("QuotaBalance(\"\") error = %v, want ErrValidation", err)
	}
	if _, err := admin.QuotaBalance(context.Background(), "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("QuotaBalance(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestAdminServiceReplaceCandidates(t *testing.T) {
	t.Parallel()

	var gotSubject, gotDesignated string
	var gotCount int
	writer := &fakeCandidateWriter{
		replaceFn: func(_ context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error {
			gotSubject, gotDesignated, gotCount = subjectID, designatedID, len(records)
			return nil
		},
	}
	admin := newTestAdmin(t, writer)

	err := admin.ReplaceCandidates(context.Background(), " offer-1 ", []domain.CandidateRecord{{GranteeID: "user-1"}}, " user-1 ")
	if err != nil {
		t.Fatalf("ReplaceCandidates() error = %v", err)
	}
	if gotSubject != "offer-1" || gotDesignated != "user-1" || gotCount != 1 {
		t.Fatalf("writer got subject=%q designated=%q count=%d", gotSubject, gotDesignated, gotCount)
	}

	invalid := [][]domain.CandidateRecord{
		{{GranteeID: ""}},
		{{GranteeID: "pro-1", PriorAttempts: -1}},
	}
	for _, records := range invalid {
		if err := admin.ReplaceCandidates(context.Background(), "shift-1", records, ""); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ReplaceCandidates(%+v) error = %v, want ErrValidation", records, err)
		}
	}
}
