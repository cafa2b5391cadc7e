package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/lock"
	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"github.com/kursadbilgin/grant-engine/internal/repository/memory"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type sentNotification struct {
	recipientID string
	kind        notify.TemplateKind
	payload     notify.Payload
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeDispatcher) Dispatch(_ context.Context, recipientID string, kind notify.TemplateKind, payload notify.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{recipientID: recipientID, kind: kind, payload: payload})
}

func (f *fakeDispatcher) byKind(kind notify.TemplateKind) []sentNotification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentNotification, 0)
	for _, n := range f.sent {
		if n.kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// hookGrantRepo lets a test intercept writes of the memory repository.
type hookGrantRepo struct {
	*memory.GrantRepo
	createFn        func(ctx context.Context, g *domain.Grant, expectedSubjectVersion int64) error
	beforeConfirmFn func(ctx context.Context, grantID string)
	confirmFn       func(ctx context.Context, grantID, subjectID string, at time.Time) (bool, error)
}

func (r *hookGrantRepo) Create(ctx context.Context, g *domain.Grant, expectedSubjectVersion int64) error {
	if r.createFn != nil {
		return r.createFn(ctx, g, expectedSubjectVersion)
	}
	return r.GrantRepo.Create(ctx, g, expectedSubjectVersion)
}

func (r *hookGrantRepo) Confirm(ctx context.Context, grantID, subjectID string, at time.Time) (bool, error) {
	if r.beforeConfirmFn != nil {
		r.beforeConfirmFn(ctx, grantID)
	}
	if r.confirmFn != nil {
		return r.confirmFn(ctx, grantID, subjectID, at)
	}
	return r.GrantRepo.Confirm(ctx, grantID, subjectID, at)
}

type fixture struct {
	svc        *GrantService
	sweeper    *Sweeper
	store      *memory.Store
	grants     *hookGrantRepo
	source     *candidate.StaticSource
	ledger     *quota.MemoryLedger
	clock      *clock.FakeClock
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := clock.Fake(t0)
	store := memory.NewStore()
	grants := &hookGrantRepo{GrantRepo: store.Grants()}
	source := candidate.NewStaticSource()

	substitution, err := candidate.NewSubstitutionQueue(source, 1)
	if err != nil {
		t.Fatalf("NewSubstitutionQueue() error = %v", err)
	}
	discount, err := candidate.NewDiscountTokenQueue(source)
	if err != nil {
		t.Fatalf("NewDiscountTokenQueue() error = %v", err)
	}
	registry := candidate.NewRegistry()
	registry.Register(domain.SubjectTypeSubstitution, substitution)
	registry.Register(domain.SubjectTypeDiscountToken, discount)

	ledger := quota.NewMemoryLedger(c)
	dispatcher := &fakeDispatcher{}

	svc, err := NewGrantService(GrantServiceDeps{
		Grants:     grants,
		Subjects:   store.Subjects(),
		Queues:     registry,
		Ledger:     ledger,
		Locker:     lock.NewKeyedLocker(c),
		Dispatcher: dispatcher,
		Clock:      c,
	}, GrantServiceConfig{})
	if err != nil {
		t.Fatalf("NewGrantService() error = %v", err)
	}

	sweeper, err := NewSweeper(grants, svc, c, SweeperConfig{BatchSize: 50, Concurrency: 4}, nil, nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	return &fixture{
		svc:        svc,
		sweeper:    sweeper,
		store:      store,
		grants:     grants,
		source:     source,
		ledger:     ledger,
		clock:      c,
		dispatcher: dispatcher,
	}
}

func (f *fixture) provision(t *testing.T, holder domain.QuotaHolder) {
	t.Helper()
	if err := f.ledger.Provision(context.Background(), holder); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
}

func (f *fixture) sweep(t *testing.T) SweepReport {
	t.Helper()
	report, err := f.sweeper.Run(context.Background())
	if err != nil {
		t.Fatalf("Sweeper.Run() error = %v", err)
	}
	return report
}

func (f *fixture) subject(t *testing.T, id string) *domain.Subject {
	t.Helper()
	s, err := f.store.Subjects().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return s
}

func (f *fixture) grant(t *testing.T, id string) *domain.Grant {
	t.Helper()
	g, err := f.store.Grants().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return g
}

func TestNewGrantServiceValidation(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	valid := GrantServiceDeps{
		Grants:     store.Grants(),
		Subjects:   store.Subjects(),
		Queues:     candidate.NewRegistry(),
		Ledger:     quota.NewMemoryLedger(nil),
		Locker:     lock.NewKeyedLocker(nil),
		Dispatcher: &fakeDispatcher{},
	}

	tests := []struct {
		name   string
		mutate func(d *GrantServiceDeps)
	}{
		{name: "missing grants", mutate: func(d *GrantServiceDeps) { d.Grants = nil }},
		{name: "missing subjects", mutate: func(d *GrantServiceDeps) { d.Subjects = nil }},
		{name: "missing queues", mutate: func(d *GrantServiceDeps) { d.Queues = nil }},
		{name: "missing ledger", mutate: func(d *GrantServiceDeps) { d.Ledger = nil }},
		{name: "missing locker", mutate: func(d *GrantServiceDeps) { d.Locker = nil }},
		{name: "missing dispatcher", mutate: func(d *GrantServiceDeps) { d.Dispatcher = nil }},
	}

	for _, tt := range tests {
		deps := valid
		tt.mutate(&deps)
		if _, err := NewGrantService(deps, GrantServiceConfig{}); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}

	if _, err := NewGrantService(valid, GrantServiceConfig{}); err != nil {
		t.Fatalf("NewGrantService() error = %v", err)
	}
}

func TestIssueValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name string
		req  IssueRequest
	}{
		{name: "missing subject id", req: IssueRequest{SubjectType: domain.SubjectTypeSubstitution}},
		{name: "invalid subject type", req: IssueRequest{SubjectType: "LOTTERY", SubjectID: "s-1"}},
		{name: "negative ttl", req: IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "s-1", TTL: -time.Second}},
		{name: "negative max attempts", req: IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "s-1", MaxAttempts: -1}},
	}

	for _, tt := range tests {
		if _, err := f.svc.Issue(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: Issue() error = %v, want ErrValidation", tt.name, err)
		}
	}
}

func TestIssueAndConfirmIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{
		SubjectType: domain.SubjectTypeSubstitution,
		SubjectID:   "shift-1",
		TTL:         time.Hour,
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if grant.State != domain.StateOffered || grant.GranteeID != "pro-1" || grant.AttemptNumber != 1 {
		t.Fatalf("grant = %+v", grant)
	}
	if !grant.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expiresAt = %s, want %s", grant.ExpiresAt, t0.Add(time.Hour))
	}

	f.clock.Advance(59 * time.Minute)
	confirmed, err := f.svc.Confirm(ctx, grant.ID, "pro-1")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if confirmed.State != domain.StateConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("confirmed grant = %+v", confirmed)
	}

	f.clock.Advance(2 * time.Minute)
	again, err := f.svc.Confirm(ctx, grant.ID, "pro-1")
	if err != nil {
		t.Fatalf("second Confirm() error = %v", err)
	}
	if again.State != domain.StateConfirmed || !again.ConfirmedAt.Equal(*confirmed.ConfirmedAt) {
		t.Fatalf("second confirm changed grant: %+v", again)
	}

	if got := f.subject(t, "shift-1").Status; got != domain.SubjectStatusConfirmed {
		t.Fatalf("subject status = %s, want CONFIRMED", got)
	}
	if got := len(f.dispatcher.byKind(notify.KindGrantOffered)); got != 1 {
		t.Fatalf("offered notifications = %d, want 1", got)
	}

	if _, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"}); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("Issue() after confirm error = %v, want ErrAlreadyTerminal", err)
	}
}

func TestConfirmNotifiesIssuer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ClinicPartner{ID: "clinic-1", MonthlyDiscountPool: 5})
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", IssuerID: "clinic-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-1"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	sent := f.dispatcher.byKind(notify.KindGrantConfirmed)
	if len(sent) != 1 || sent[0].recipientID != "clinic-1" || sent[0].payload.GrantID != grant.ID {
		t.Fatalf("confirmed notifications = %+v", sent)
	}
}

func TestConfirmRejectsOtherGrantee(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("Confirm() error = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Confirm(ctx, "missing", "pro-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Confirm() error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Confirm(ctx, grant.ID, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Confirm() error = %v, want ErrValidation", err)
	}

	if got := f.grant(t, grant.ID).State; got != domain.StateOffered {
		t.Fatalf("state = %s, want OFFERED", got)
	}
}

func TestSweepExhaustsSingleAttemptSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ClinicPartner{ID: "clinic-1", MonthlyDiscountPool: 5})
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.5},
	)
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{
		SubjectType: domain.SubjectTypeSubstitution,
		SubjectID:   "shift-1",
		IssuerID:    "clinic-1",
		TTL:         time.Hour,
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.clock.Advance(61 * time.Minute)
	report := f.sweep(t)
	if report.Scanned != 1 || report.Expired != 1 || report.Exhausted != 1 || report.Reissued != 0 {
		t.Fatalf("report = %+v", report)
	}

	if got := f.grant(t, grant.ID); got.State != domain.StateExhausted || got.ExpiredAt == nil {
		t.Fatalf("grant = %+v, want EXHAUSTED with expiredAt", got)
	}
	if got := f.subject(t, "shift-1"); got.Status != domain.SubjectStatusExhausted || got.Attempts != 1 {
		t.Fatalf("subject = %+v", got)
	}

	unfulfilled := f.dispatcher.byKind(notify.KindGrantUnfulfilled)
	if len(unfulfilled) != 1 || unfulfilled[0].recipientID != "clinic-1" {
		t.Fatalf("unfulfilled notifications = %+v", unfulfilled)
	}
	expired := f.dispatcher.byKind(notify.KindGrantExpired)
	if len(expired) != 1 || expired[0].recipientID != "pro-1" {
		t.Fatalf("expired notifications = %+v", expired)
	}

	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-1"); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("Confirm() error = %v, want ErrAlreadyTerminal", err)
	}
	if report := f.sweep(t); report.Scanned != 0 {
		t.Fatalf("second sweep report = %+v, want empty", report)
	}
}

func TestDiscountTokenReissuesToSameGrantee(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetDesignated("offer-1", "user-1")
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, IssueRequest{
		SubjectType: domain.SubjectTypeDiscountToken,
		SubjectID:   "offer-1",
		TTL:         48 * time.Hour,
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.clock.Advance(49 * time.Hour)
	report := f.sweep(t)
	if report.Expired != 1 || report.Reissued != 1 {
		t.Fatalf("report = %+v", report)
	}

	offered, err := f.store.Grants().FindOfferedBySubject(ctx, "offer-1")
	if err != nil {
		t.Fatalf("FindOfferedBySubject() error = %v", err)
	}
	if offered.ID == first.ID || offered.GranteeID != "user-1" || offered.AttemptNumber != 2 {
		t.Fatalf("reissued grant = %+v", offered)
	}
	if !offered.ExpiresAt.Equal(f.clock.Now().Add(48 * time.Hour)) {
		t.Fatalf("reissued expiresAt = %s", offered.ExpiresAt)
	}

	f.clock.Advance(49 * time.Hour)
	report = f.sweep(t)
	if report.Expired != 1 || report.Exhausted != 1 {
		t.Fatalf("report = %+v", report)
	}

	if _, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeDiscountToken, SubjectID: "offer-1"}); !errors.Is(err, domain.ErrMaxAttemptsReached) {
		t.Fatalf("third Issue() error = %v, want ErrMaxAttemptsReached", err)
	}
}

func TestConcurrentIssueSharesSingleQuotaUnit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.PharmacyPartner{ID: "pharm-1", AvailableTokens: 1})
	f.source.SetDesignated("offer-a", "user-a")
	f.source.SetDesignated("offer-b", "user-b")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		exhausted atomic.Int32
	)
	for _, subjectID := range []string{"offer-a", "offer-b"} {
		wg.Add(1)
		go func(subjectID string) {
			defer wg.Done()
			_, err := f.svc.Issue(context.Background(), IssueRequest{
				SubjectType: domain.SubjectTypeDiscountToken,
				SubjectID:   subjectID,
				IssuerID:    "pharm-1",
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrQuotaExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("Issue(%s) unexpected error = %v", subjectID, err)
			}
		}(subjectID)
	}
	wg.Wait()

	if successes.Load() != 1 || exhausted.Load() != 1 {
		t.Fatalf("successes=%d exhausted=%d, want 1 and 1", successes.Load(), exhausted.Load())
	}

	account, err := f.ledger.Balance(context.Background(), "pharm-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if account.Available != 0 || account.ConsumedThisPeriod != 1 {
		t.Fatalf("account = %+v, want available=0 consumed=1", account)
	}
}

func TestConcurrentIssueSameSubjectSingleOffer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.9},
	)

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(context.Background(), IssueRequest{
				SubjectType: domain.SubjectTypeSubstitution,
				SubjectID:   "shift-1",
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrConflict):
			default:
				t.Errorf("Issue() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("successes = %d, want 1", got)
	}

	grants, err := f.store.Grants().ListBySubject(context.Background(), "shift-1")
	if err != nil {
		t.Fatalf("ListBySubject() error = %v", err)
	}
	if len(grants) != 1 || grants[0].State != domain.StateOffered {
		t.Fatalf("grants = %+v, want a single OFFERED grant", grants)
	}
	if got := f.subject(t, "shift-1").Attempts; got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestIssueWhileOfferedConflicts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.9},
	)
	ctx := context.Background()
	req := IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"}

	if _, err := f.svc.Issue(ctx, req); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := f.svc.Issue(ctx, req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Issue() error = %v, want ErrConflict", err)
	}

	mismatched := IssueRequest{SubjectType: domain.SubjectTypeDiscountToken, SubjectID: "shift-1"}
	if _, err := f.svc.Issue(ctx, mismatched); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Issue() with other type error = %v, want ErrValidation", err)
	}
}

func TestIssueExpiresOverdueOfferFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.9},
	)
	ctx := context.Background()
	req := IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", MaxAttempts: 2}

	first, err := f.svc.Issue(ctx, req)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.Issue(ctx, req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Issue() error = %v, want ErrConflict for the reissued offer", err)
	}

	if got := f.grant(t, first.ID).State; got != domain.StateExpired {
		t.Fatalf("first grant state = %s, want EXPIRED", got)
	}
	offered, err := f.store.Grants().FindOfferedBySubject(ctx, "shift-1")
	if err != nil {
		t.Fatalf("FindOfferedBySubject() error = %v", err)
	}
	if offered.GranteeID != "pro-2" || offered.AttemptNumber != 2 {
		t.Fatalf("offered = %+v", offered)
	}
}

func TestIssueNoEligibleCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ClinicPartner{ID: "clinic-1", MonthlyDiscountPool: 1})

	_, err := f.svc.Issue(context.Background(), IssueRequest{
		SubjectType: domain.SubjectTypeSubstitution,
		SubjectID:   "shift-empty",
		IssuerID:    "clinic-1",
	})
	if !errors.Is(err, domain.ErrNoEligibleCandidate) {
		t.Fatalf("Issue() error = %v, want ErrNoEligibleCandidate", err)
	}

	account, _ := f.ledger.Balance(context.Background(), "clinic-1")
	if account.Available != 1 || account.ConsumedThisPeriod != 0 {
		t.Fatalf("account = %+v, want untouched", account)
	}
}

func TestIssueReleasesReservationWhenCreateFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ServicePartner{ID: "svc-1", PlanLimit: 1})
	f.source.SetCandidates("voucher-1", domain.CandidateRecord{GranteeID: "user-1", EligibilityScore: 1})
	f.grants.createFn = func(ctx context.Context, g *domain.Grant, expectedSubjectVersion int64) error {
		return errors.New("db unavailable")
	}

	_, err := f.svc.Issue(context.Background(), IssueRequest{
		SubjectType: domain.SubjectTypeSubstitution,
		SubjectID:   "voucher-1",
		IssuerID:    "svc-1",
	})
	if err == nil {
		t.Fatal("Issue() expected error")
	}

	account, _ := f.ledger.Balance(context.Background(), "svc-1")
	if account.Available != 1 || account.ConsumedThisPeriod != 0 {
		t.Fatalf("account = %+v, want reservation released", account)
	}
	if got := len(f.dispatcher.byKind(notify.KindGrantOffered)); got != 0 {
		t.Fatalf("offered notifications = %d, want 0", got)
	}
}

func TestConfirmAfterDeadlineExpiresAndReissues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.9},
	)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.clock.Advance(time.Hour + time.Second)
	if _, err := f.svc.Confirm(ctx, first.ID, "pro-1"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Confirm() error = %v, want ErrExpired", err)
	}

	grants, err := f.svc.ListSubjectGrants(ctx, "shift-1")
	if err != nil {
		t.Fatalf("ListSubjectGrants() error = %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("grants = %+v, want 2", grants)
	}
	if grants[0].State != domain.StateExpired || grants[1].State != domain.StateOffered || grants[1].GranteeID != "pro-2" {
		t.Fatalf("grants = %+v", grants)
	}
	if f.subject(t, "shift-1").Status != domain.SubjectStatusOpen {
		t.Fatal("subject should stay OPEN while the reissued offer is pending")
	}
}

func TestConfirmLosesRaceToExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var once sync.Once
	f.grants.beforeConfirmFn = func(ctx context.Context, id string) {
		once.Do(func() {
			now := f.clock.Now()
			if _, err := f.store.Grants().ConditionalUpdate(ctx, id, domain.StateOffered, domain.GrantUpdate{
				State:     domain.StateExpired,
				ExpiredAt: &now,
				UpdatedAt: now,
			}); err != nil {
				t.Errorf("ConditionalUpdate() error = %v", err)
			}
		})
	}

	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-1"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Confirm() error = %v, want ErrExpired", err)
	}
	if got := f.grant(t, grant.ID).State; got != domain.StateExpired {
		t.Fatalf("state = %s, want EXPIRED", got)
	}
	if got := f.subject(t, "shift-1").Status; got != domain.SubjectStatusOpen {
		t.Fatalf("subject status = %s, want OPEN", got)
	}
}

func TestIssueDuringConfirmCannotReofferSubject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ClinicPartner{ID: "clinic-1", MonthlyDiscountPool: 5})
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 2},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 1},
	)
	ctx := context.Background()
	req := IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", IssuerID: "clinic-1"}

	grant, err := f.svc.Issue(ctx, req)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var interleavedErr error
	f.grants.beforeConfirmFn = func(ctx context.Context, _ string) {
		_, interleavedErr = f.svc.Issue(ctx, req)
	}

	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-1"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !errors.Is(interleavedErr, domain.ErrConflict) {
		t.Fatalf("Issue() during confirm error = %v, want ErrConflict", interleavedErr)
	}

	f.grants.beforeConfirmFn = nil
	if _, err := f.svc.Issue(ctx, req); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("Issue() after confirm error = %v, want ErrAlreadyTerminal", err)
	}

	history, _ := f.store.Grants().ListBySubject(ctx, "shift-1")
	if len(history) != 1 || history[0].State != domain.StateConfirmed {
		t.Fatalf("history = %+v, want the single confirmed grant", history)
	}
	if got := f.subject(t, "shift-1").Status; got != domain.SubjectStatusConfirmed {
		t.Fatalf("subject status = %s, want CONFIRMED", got)
	}
	account, _ := f.ledger.Balance(ctx, "clinic-1")
	if account.Available != 4 {
		t.Fatalf("available = %d, want 4", account.Available)
	}
}

func TestConfirmSurfacesRepositoryError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 2},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 1},
	)
	ctx := context.Background()
	req := IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"}

	grant, err := f.svc.Issue(ctx, req)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.grants.confirmFn = func(context.Context, string, string, time.Time) (bool, error) {
		return false, errors.New("db unavailable")
	}
	if _, err := f.svc.Confirm(ctx, grant.ID, "pro-1"); err == nil {
		t.Fatal("Confirm() should surface the repository error")
	}
	if got := f.grant(t, grant.ID).State; got != domain.StateOffered {
		t.Fatalf("state = %s, want OFFERED", got)
	}
	if _, err := f.svc.Issue(ctx, req); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Issue() error = %v, want ErrConflict while the offer is pending", err)
	}
	if got := len(f.dispatcher.byKind(notify.KindGrantConfirmed)); got != 0 {
		t.Fatalf("confirmed notifications = %d, want 0", got)
	}
}

func TestIssueRejectsSubjectWithConfirmedGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 2},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 1},
	)
	ctx := context.Background()
	req := IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"}

	grant, err := f.svc.Issue(ctx, req)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Confirmed grant with the subject left OPEN.
	now := f.clock.Now()
	if ok, err := f.store.Grants().ConditionalUpdate(ctx, grant.ID, domain.StateOffered, domain.GrantUpdate{
		State:       domain.StateConfirmed,
		ConfirmedAt: &now,
		UpdatedAt:   now,
	}); err != nil || !ok {
		t.Fatalf("ConditionalUpdate() = (%v, %v)", ok, err)
	}

	if _, err := f.svc.Issue(ctx, req); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("Issue() error = %v, want ErrAlreadyTerminal", err)
	}
	history, _ := f.store.Grants().ListBySubject(ctx, "shift-1")
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
}

func TestConcurrentConfirmAndExpireSingleOutcome(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		f := newFixture(t)
		f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
		ctx := context.Background()

		grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", MaxAttempts: 1})
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		f.clock.Advance(time.Hour + time.Millisecond)

		var (
			wg         sync.WaitGroup
			confirmErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = f.svc.Confirm(ctx, grant.ID, "pro-1")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Expire(ctx, grant.ID)
		}()
		wg.Wait()

		if confirmErr == nil {
			t.Fatal("Confirm() after deadline should fail")
		}
		if got := f.grant(t, grant.ID).State; got == domain.StateConfirmed || got == domain.StateOffered {
			t.Fatalf("state = %s, want EXPIRED or EXHAUSTED", got)
		}
	}
}

func TestAttemptNumbersIncreaseAcrossReissues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.ClinicPartner{ID: "clinic-1", MonthlyDiscountPool: 10})
	f.source.SetCandidates("shift-1",
		domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 0.9},
		domain.CandidateRecord{GranteeID: "pro-2", EligibilityScore: 0.8},
		domain.CandidateRecord{GranteeID: "pro-3", EligibilityScore: 0.7},
	)
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", IssuerID: "clinic-1", MaxAttempts: 3}); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		f.clock.Advance(2 * time.Hour)
		f.sweep(t)
	}

	grants, err := f.svc.ListSubjectGrants(ctx, "shift-1")
	if err != nil {
		t.Fatalf("ListSubjectGrants() error = %v", err)
	}
	if len(grants) != 3 {
		t.Fatalf("grants = %d, want 3", len(grants))
	}
	for i, g := range grants {
		if g.AttemptNumber != i+1 {
			t.Fatalf("grants[%d].AttemptNumber = %d, want %d", i, g.AttemptNumber, i+1)
		}
		if want := []string{"pro-1", "pro-2", "pro-3"}[i]; g.GranteeID != want {
			t.Fatalf("grants[%d].GranteeID = %s, want %s", i, g.GranteeID, want)
		}
	}
	if grants[2].State != domain.StateExhausted {
		t.Fatalf("final grant state = %s, want EXHAUSTED", grants[2].State)
	}

	account, _ := f.ledger.Balance(ctx, "clinic-1")
	if account.ConsumedThisPeriod != 3 || account.Available != 7 {
		t.Fatalf("account = %+v, want consumed=3 available=7", account)
	}
}

func TestFallbackExhaustsWhenQuotaRunsOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provision(t, domain.PharmacyPartner{ID: "pharm-1", AvailableTokens: 1})
	f.source.SetDesignated("offer-1", "user-1")
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeDiscountToken, SubjectID: "offer-1", IssuerID: "pharm-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	f.clock.Advance(49 * time.Hour)
	report := f.sweep(t)
	if report.Exhausted != 1 || report.Reissued != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := f.grant(t, grant.ID).State; got != domain.StateExhausted {
		t.Fatalf("state = %s, want EXHAUSTED", got)
	}

	account, _ := f.ledger.Balance(ctx, "pharm-1")
	if account.Available != 0 || account.ConsumedThisPeriod != 1 {
		t.Fatalf("account = %+v, expired grant must not be refunded", account)
	}

	if _, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeDiscountToken, SubjectID: "offer-1"}); !errors.Is(err, domain.ErrNoEligibleCandidate) {
		t.Fatalf("Issue() error = %v, want ErrNoEligibleCandidate", err)
	}
}

func TestGetGrantExpiresLazily(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1", MaxAttempts: 1})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := f.svc.GetGrant(ctx, grant.ID)
	if err != nil || got.State != domain.StateOffered {
		t.Fatalf("GetGrant() = (%+v, %v), want OFFERED", got, err)
	}

	f.clock.Advance(90 * time.Minute)
	got, err = f.svc.GetGrant(ctx, grant.ID)
	if err != nil {
		t.Fatalf("GetGrant() error = %v", err)
	}
	if got.State != domain.StateExhausted {
		t.Fatalf("state = %s, want EXHAUSTED", got.State)
	}
	if f.subject(t, "shift-1").Status != domain.SubjectStatusExhausted {
		t.Fatal("subject should be exhausted after lazy expiry")
	}

	if _, err := f.svc.GetGrant(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetGrant() error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.ListSubjectGrants(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ListSubjectGrants() error = %v, want ErrNotFound", err)
	}
}

func TestExpireSkipsNonOfferedAndBusySubjects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.source.SetCandidates("shift-1", domain.CandidateRecord{GranteeID: "pro-1", EligibilityScore: 1})
	ctx := context.Background()

	grant, err := f.svc.Issue(ctx, IssueRequest{SubjectType: domain.SubjectTypeSubstitution, SubjectID: "shift-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	result, err := f.svc.Expire(ctx, grant.ID)
	if err != nil || result.Outcome != ExpireSkipped {
		t.Fatalf("Expire() before deadline = (%+v, %v), want skipped", result, err)
	}

	f.clock.Advance(2 * time.Hour)
	release, err := f.svc.locker.Acquire(ctx, lock.SubjectKey("shift-1"), time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	result, err = f.svc.Expire(ctx, grant.ID)
	if err != nil || result.Outcome != ExpireSkipped {
		t.Fatalf("Expire() while locked = (%+v, %v), want skipped", result, err)
	}
	if view, _ := f.svc.GetGrant(ctx, grant.ID); view.State != domain.StateExpired {
		t.Fatalf("GetGrant() while locked state = %s, want EXPIRED view", view.State)
	}
	_ = release(ctx)

	result, err = f.svc.Expire(ctx, grant.ID)
	if err != nil || result.Outcome != ExpireExhausted {
		t.Fatalf("Expire() = (%+v, %v), want exhausted", result, err)
	}
	result, err = f.svc.Expire(ctx, grant.ID)
	if err != nil || result.Outcome != ExpireSkipped {
		t.Fatalf("Expire() repeated = (%+v, %v), want skipped", result, err)
	}
}

var _ repository.GrantRepository = (*hookGrantRepo)(nil)
