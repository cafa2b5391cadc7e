package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/candidate"
	"github.com/kursadbilgin/grant-engine/internal/clock"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/lock"
	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	"github.com/kursadbilgin/grant-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLockTTL          = 10 * time.Second
	defaultOperationTimeout = 5 * time.Second
	compensationTimeout     = 5 * time.Second
)

// NotificationDispatcher schedules a best-effort notification.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, recipientID string, kind notify.TemplateKind, payload notify.Payload)
}

// IssueRequest asks for the next grant of a subject. Zero TTL and
// MaxAttempts select the subject type's default policy.
type IssueRequest struct {
	SubjectType domain.SubjectType
	SubjectID   string
	IssuerID    string
	TTL         time.Duration
	MaxAttempts int
}

// ExpireOutcome names what Expire did with a grant.
type ExpireOutcome string

const (
	ExpireSkipped   ExpireOutcome = "skipped"
	ExpireExpired   ExpireOutcome = "expired"
	ExpireReissued  ExpireOutcome = "reissued"
	ExpireExhausted ExpireOutcome = "exhausted"
)

// ExpireResult describes what one Expire call did. Next is set when the
// fallback issued a new grant.
type ExpireResult struct {
	Outcome ExpireOutcome
	Grant   *domain.Grant
	Next    *domain.Grant
}

// GrantServiceDeps are the collaborators of a GrantService.
type GrantServiceDeps struct {
	Grants     repository.GrantRepository
	Subjects   repository.SubjectRepository
	Queues     *candidate.Registry
	Ledger     quota.Ledger
	Locker     lock.Locker
	Dispatcher NotificationDispatcher
	Clock      clock.Clock
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// GrantServiceConfig holds the lock and per-call timeouts.
type GrantServiceConfig struct {
	LockTTL          time.Duration
	OperationTimeout time.Duration
}

// GrantService owns the grant state machine. Every write that issues or
// expires a grant runs under the subject lock. Confirm takes no lock: it moves
// the grant and its subject in one repository transaction, and the subject
// version bump fails any Issue that read the subject before it.
type GrantService struct {
	grants     repository.GrantRepository
	subjects   repository.SubjectRepository
	queues     *candidate.Registry
	ledger     quota.Ledger
	locker     lock.Locker
	dispatcher NotificationDispatcher
	clock      clock.Clock
	metrics    *observability.Metrics
	logger     *zap.Logger

	lockTTL   time.Duration
	opTimeout time.Duration
}

func NewGrantService(deps GrantServiceDeps, cfg GrantServiceConfig) (*GrantService, error) {
	if deps.Grants == nil {
		return nil, fmt.Errorf("grant repository is required")
	}
	if deps.Subjects == nil {
		return nil, fmt.Errorf("subject repository is required")
	}
	if deps.Queues == nil {
		return nil, fmt.Errorf("candidate queue registry is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("subject locker is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}

	return &GrantService{
		grants:     deps.Grants,
		subjects:   deps.Subjects,
		queues:     deps.Queues,
		ledger:     deps.Ledger,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		lockTTL:    cfg.LockTTL,
		opTimeout:  cfg.OperationTimeout,
	}, nil
}

// Issue offers the subject to its next eligible grantee.
func (s *GrantService) Issue(ctx context.Context, req IssueRequest) (*domain.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grant, err := s.issue(ctx, req)
	if err != nil {
		s.metrics.IncIssueRejected(errorReason(err))
		return nil, err
	}
	return grant, nil
}

func (s *GrantService) issue(ctx context.Context, req IssueRequest) (*domain.Grant, error) {
	policy, err := normalizeIssueRequest(&req)
	if err != nil {
		return nil, err
	}

	release, err := s.lockSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	subject, err := s.subjects.Ensure(ctx, &domain.Subject{
		ID:          req.SubjectID,
		Type:        req.SubjectType,
		IssuerID:    optionalString(req.IssuerID),
		Status:      domain.SubjectStatusOpen,
		MaxAttempts: policy.MaxAttempts,
		TTL:         policy.TTL,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	if subject.Type != req.SubjectType {
		return nil, fmt.Errorf("%w: subject %q is registered as %s", domain.ErrValidation, subject.ID, subject.Type)
	}

	// One restart covers an overdue offer that is expired on the spot.
	for restart := 0; ; restart++ {
		if err := subjectIssuable(subject); err != nil {
			return nil, err
		}

		offered, err := s.grants.FindOfferedBySubject(ctx, subject.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return s.issueLocked(ctx, subject)
		case err != nil:
			return nil, fmt.Errorf("failed to look up offered grant: %w", err)
		}

		if !offered.IsOverdue(s.clock.Now()) || restart > 0 {
			return nil, fmt.Errorf("%w: subject %q already has offered grant %s", domain.ErrConflict, subject.ID, offered.ID)
		}

		if _, err := s.expireLocked(ctx, offered.ID); err != nil {
			return nil, err
		}
		if subject, err = s.subjects.GetByID(ctx, subject.ID); err != nil {
			return nil, fmt.Errorf("failed to reload subject: %w", err)
		}
	}
}

// issueLocked creates the next grant of subject. The caller holds the
// subject lock and has checked that no OFFERED grant exists.
func (s *GrantService) issueLocked(ctx context.Context, subject *domain.Subject) (*domain.Grant, error) {
	if subject.Attempts >= subject.MaxAttempts {
		return nil, fmt.Errorf("%w: subject %q used %d of %d attempts", domain.ErrMaxAttemptsReached, subject.ID, subject.Attempts, subject.MaxAttempts)
	}

	queue, err := s.queues.For(subject.Type)
	if err != nil {
		return nil, err
	}

	history, err := s.grants.ListBySubject(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject history: %w", err)
	}
	exclude := make([]string, 0, len(history))
	for _, g := range history {
		if g.State == domain.StateConfirmed {
			return nil, fmt.Errorf("%w: subject %q was confirmed by grant %s", domain.ErrAlreadyTerminal, subject.ID, g.ID)
		}
		exclude = append(exclude, g.GranteeID)
	}

	granteeID, ok, err := queue.Next(ctx, subject.ID, exclude)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: subject %q", domain.ErrNoEligibleCandidate, subject.ID)
	}

	var reservation *domain.Reservation
	if issuer := subject.Issuer(); issuer != "" {
		r, err := s.ledger.Reserve(ctx, issuer)
		if err != nil {
			return nil, err
		}
		reservation = &r
	}

	now := s.clock.Now()
	grant := &domain.Grant{
		ID:            uuid.NewString(),
		SubjectType:   subject.Type,
		SubjectID:     subject.ID,
		GranteeID:     granteeID,
		IssuerID:      subject.IssuerID,
		State:         domain.StateOffered,
		AttemptNumber: subject.Attempts + 1,
		MaxAttempts:   subject.MaxAttempts,
		IssuedAt:      now,
		ExpiresAt:     now.Add(subject.TTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := grant.Validate(); err != nil {
		s.releaseReservation(ctx, reservation)
		return nil, err
	}
	if err := s.grants.Create(ctx, grant, subject.Version); err != nil {
		s.releaseReservation(ctx, reservation)
		return nil, err
	}

	if reservation != nil {
		if err := s.ledger.Commit(ctx, reservation.Token); err != nil {
			s.logger.Error("failed to commit quota reservation",
				zap.String("grantId", grant.ID),
				zap.String("issuerId", reservation.OwnerID),
				zap.String("reservation", reservation.Token),
				zap.Error(err),
			)
		}
	}

	ctx = observability.WithGrant(ctx, grant.ID, grant.SubjectID)
	s.metrics.IncGrantTransition(grant.SubjectType.String(), domain.StateOffered.String())
	s.contextLogger(ctx).Info("grant offered",
		zap.String("granteeId", grant.GranteeID),
		zap.Int("attemptNumber", grant.AttemptNumber),
		zap.Time("expiresAt", grant.ExpiresAt),
	)
	s.dispatcher.Dispatch(ctx, grant.GranteeID, notify.KindGrantOffered, payloadFor(grant))

	return grant, nil
}

// Confirm accepts an offer on behalf of its grantee. Confirming an already
// confirmed grant again is a no-op success.
func (s *GrantService) Confirm(ctx context.Context, grantID string, actingGranteeID string) (*domain.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grantID = strings.TrimSpace(grantID)
	actingGranteeID = strings.TrimSpace(actingGranteeID)
	if grantID == "" || actingGranteeID == "" {
		return nil, fmt.Errorf("%w: grant id and grantee id are required", domain.ErrValidation)
	}

	grant, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant.GranteeID != actingGranteeID {
		return nil, fmt.Errorf("%w: grant %s is not held by %q", domain.ErrForbidden, grant.ID, actingGranteeID)
	}

	switch grant.State {
	case domain.StateConfirmed:
		return grant, nil
	case domain.StateOffered:
	default:
		return nil, fmt.Errorf("%w: grant %s is %s", domain.ErrAlreadyTerminal, grant.ID, grant.State)
	}

	now := s.clock.Now()
	if grant.IsOverdue(now) {
		if _, err := s.Expire(ctx, grant.ID); err != nil {
			s.logger.Error("failed to expire overdue grant on confirm",
				zap.String("grantId", grant.ID),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%w: grant %s expired at %s", domain.ErrExpired, grant.ID, grant.ExpiresAt.Format(time.RFC3339))
	}

	updated, err := s.grants.Confirm(ctx, grant.ID, grant.SubjectID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm grant: %w", err)
	}
	if !updated {
		return s.resolveLostConfirm(ctx, grant.ID)
	}

	grant.State = domain.StateConfirmed
	grant.ConfirmedAt = &now
	grant.UpdatedAt = now

	ctx = observability.WithGrant(ctx, grant.ID, grant.SubjectID)
	s.metrics.IncGrantTransition(grant.SubjectType.String(), domain.StateConfirmed.String())
	s.contextLogger(ctx).Info("grant confirmed", zap.String("granteeId", grant.GranteeID))
	if issuer := grant.Issuer(); issuer != "" {
		s.dispatcher.Dispatch(ctx, issuer, notify.KindGrantConfirmed, payloadFor(grant))
	}

	return grant, nil
}

// resolveLostConfirm reports the state a concurrent writer left the grant in.
func (s *GrantService) resolveLostConfirm(ctx context.Context, grantID string) (*domain.Grant, error) {
	current, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	switch current.State {
	case domain.StateConfirmed:
		return current, nil
	case domain.StateExpired, domain.StateExhausted:
		return nil, fmt.Errorf("%w: grant %s expired concurrently", domain.ErrExpired, grantID)
	default:
		return nil, fmt.Errorf("%w: grant %s is %s", domain.ErrAlreadyTerminal, grantID, current.State)
	}
}

// Expire moves an overdue OFFERED grant to EXPIRED and runs its fallback:
// reissue while attempts remain, otherwise exhaust the subject. It is a
// logged no-op for any other grant, and skips subjects another caller is
// working on.
func (s *GrantService) Expire(ctx context.Context, grantID string) (ExpireResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grant, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return ExpireResult{}, err
	}
	if grant.State != domain.StateOffered {
		s.logger.Warn("expire skipped, grant not offered",
			zap.String("grantId", grant.ID),
			zap.String("state", grant.State.String()),
		)
		return ExpireResult{Outcome: ExpireSkipped, Grant: grant}, nil
	}

	release, err := s.lockSubject(ctx, grant.SubjectID)
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Debug("expire skipped, subject busy",
			zap.String("grantId", grant.ID),
			zap.String("subjectId", grant.SubjectID),
		)
		return ExpireResult{Outcome: ExpireSkipped, Grant: grant}, nil
	}
	if err != nil {
		return ExpireResult{}, err
	}
	defer release()

	return s.expireLocked(ctx, grant.ID)
}

func (s *GrantService) expireLocked(ctx context.Context, grantID string) (ExpireResult, error) {
	grant, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return ExpireResult{}, err
	}

	now := s.clock.Now()
	if !grant.IsOverdue(now) {
		if grant.State != domain.StateOffered {
			s.logger.Warn("expire skipped, grant not offered",
				zap.String("grantId", grant.ID),
				zap.String("state", grant.State.String()),
			)
		}
		return ExpireResult{Outcome: ExpireSkipped, Grant: grant}, nil
	}

	updated, err := s.grants.ConditionalUpdate(ctx, grant.ID, domain.StateOffered, domain.GrantUpdate{
		State:     domain.StateExpired,
		ExpiredAt: &now,
		UpdatedAt: now,
	})
	if err != nil {
		return ExpireResult{}, fmt.Errorf("failed to expire grant: %w", err)
	}
	if !updated {
		s.logger.Warn("expire skipped, grant transitioned concurrently", zap.String("grantId", grant.ID))
		return ExpireResult{Outcome: ExpireSkipped, Grant: grant}, nil
	}

	grant.State = domain.StateExpired
	grant.ExpiredAt = &now
	grant.UpdatedAt = now

	logger := s.contextLogger(observability.WithGrant(ctx, grant.ID, grant.SubjectID)).
		With(zap.Int("attemptNumber", grant.AttemptNumber))
	s.metrics.IncGrantTransition(grant.SubjectType.String(), domain.StateExpired.String())
	logger.Info("grant expired")
	s.dispatcher.Dispatch(ctx, grant.GranteeID, notify.KindGrantExpired, payloadFor(grant))

	subject, err := s.subjects.GetByID(ctx, grant.SubjectID)
	if err != nil {
		return ExpireResult{Outcome: ExpireExpired, Grant: grant}, fmt.Errorf("failed to load subject for fallback: %w", err)
	}

	if grant.AttemptNumber < grant.MaxAttempts && subject.Status == domain.SubjectStatusOpen {
		next, err := s.issueLocked(ctx, subject)
		switch {
		case err == nil:
			return ExpireResult{Outcome: ExpireReissued, Grant: grant, Next: next}, nil
		case errors.Is(err, domain.ErrConflict):
			logger.Warn("fallback issue lost to a concurrent writer", zap.Error(err))
			return ExpireResult{Outcome: ExpireExpired, Grant: grant}, nil
		case isFallbackExhausted(err):
			logger.Info("fallback unavailable, exhausting subject", zap.Error(err))
		default:
			return ExpireResult{Outcome: ExpireExpired, Grant: grant}, fmt.Errorf("fallback issue failed: %w", err)
		}
	}

	if err := s.exhaust(ctx, grant, subject, now); err != nil {
		return ExpireResult{Outcome: ExpireExpired, Grant: grant}, err
	}
	return ExpireResult{Outcome: ExpireExhausted, Grant: grant}, nil
}

func (s *GrantService) exhaust(ctx context.Context, grant *domain.Grant, subject *domain.Subject, now time.Time) error {
	moved, err := s.subjects.Transition(ctx, subject.ID, domain.SubjectStatusOpen, domain.SubjectStatusExhausted, now)
	if err != nil {
		return fmt.Errorf("failed to exhaust subject: %w", err)
	}

	marked, err := s.grants.ConditionalUpdate(ctx, grant.ID, domain.StateExpired, domain.GrantUpdate{
		State:     domain.StateExhausted,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to mark final grant exhausted: %w", err)
	}
	if marked {
		grant.State = domain.StateExhausted
		grant.UpdatedAt = now
	}

	if !moved {
		return nil
	}

	s.metrics.IncSubjectExhausted(subject.Type.String())
	s.metrics.IncGrantTransition(grant.SubjectType.String(), domain.StateExhausted.String())
	s.contextLogger(ctx).Info("subject exhausted",
		zap.String("subjectId", subject.ID),
		zap.Int("attempts", subject.Attempts),
	)
	if issuer := subject.Issuer(); issuer != "" {
		s.dispatcher.Dispatch(ctx, issuer, notify.KindGrantUnfulfilled, payloadFor(grant))
	}
	return nil
}

// GetGrant returns a grant, expiring it first if its deadline has passed.
func (s *GrantService) GetGrant(ctx context.Context, grantID string) (*domain.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grant, err := s.grants.GetByID(ctx, strings.TrimSpace(grantID))
	if err != nil {
		return nil, err
	}
	if !grant.IsOverdue(s.clock.Now()) {
		return grant, nil
	}

	if _, err := s.Expire(ctx, grant.ID); err != nil {
		s.logger.Error("failed to expire overdue grant on read", zap.String("grantId", grant.ID), zap.Error(err))
	}
	if grant, err = s.grants.GetByID(ctx, grant.ID); err != nil {
		return nil, err
	}
	return s.presentable(grant), nil
}

// ListSubjectGrants returns every grant of a subject ordered by attempt.
func (s *GrantService) ListSubjectGrants(ctx context.Context, subjectID string) ([]domain.Grant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subjectID = strings.TrimSpace(subjectID)
	if _, err := s.subjects.GetByID(ctx, subjectID); err != nil {
		return nil, err
	}

	grants, err := s.grants.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	for i := range grants {
		if !grants[i].IsOverdue(now) {
			continue
		}
		if _, err := s.Expire(ctx, grants[i].ID); err != nil {
			s.logger.Error("failed to expire overdue grant on read", zap.String("grantId", grants[i].ID), zap.Error(err))
		}
		if grants, err = s.grants.ListBySubject(ctx, subjectID); err != nil {
			return nil, err
		}
		break
	}

	for i := range grants {
		grants[i] = *s.presentable(&grants[i])
	}
	return grants, nil
}

// presentable hides an overdue offer that another caller holding the subject
// lock is about to expire.
func (s *GrantService) presentable(g *domain.Grant) *domain.Grant {
	if !g.IsOverdue(s.clock.Now()) {
		return g
	}
	view := *g
	expiredAt := g.ExpiresAt
	view.State = domain.StateExpired
	view.ExpiredAt = &expiredAt
	return &view
}

func (s *GrantService) lockSubject(ctx context.Context, subjectID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, lock.SubjectKey(subjectID), s.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: subject %q is being modified", domain.ErrConflict, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subject: %w", err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("failed to release subject lock", zap.String("subjectId", subjectID), zap.Error(err))
		}
	}, nil
}

func (s *GrantService) releaseReservation(ctx context.Context, reservation *domain.Reservation) {
	if reservation == nil {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.ledger.Release(releaseCtx, reservation.Token); err != nil {
		s.logger.Error("failed to release quota reservation",
			zap.String("issuerId", reservation.OwnerID),
			zap.String("reservation", reservation.Token),
			zap.Error(err),
		)
	}
}

func (s *GrantService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *GrantService) contextLogger(ctx context.Context) *zap.Logger {
	return observability.WithContextLogger(s.logger, ctx)
}

func normalizeIssueRequest(req *IssueRequest) (domain.Policy, error) {
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	req.IssuerID = strings.TrimSpace(req.IssuerID)

	if req.SubjectID == "" {
		return domain.Policy{}, fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}
	if !req.SubjectType.IsValid() {
		return domain.Policy{}, fmt.Errorf("%w: invalid subject type %q", domain.ErrValidation, req.SubjectType)
	}
	if req.TTL < 0 {
		return domain.Policy{}, fmt.Errorf("%w: ttl must be positive", domain.ErrValidation)
	}
	if req.MaxAttempts < 0 {
		return domain.Policy{}, fmt.Errorf("%w: maxAttempts must be >= 1", domain.ErrValidation)
	}

	policy := domain.DefaultPolicy(req.SubjectType).WithOverrides(req.TTL, req.MaxAttempts)
	if err := policy.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return policy, nil
}

func subjectIssuable(subject *domain.Subject) error {
	switch subject.Status {
	case domain.SubjectStatusConfirmed:
		return fmt.Errorf("%w: subject %q is already confirmed", domain.ErrAlreadyTerminal, subject.ID)
	case domain.SubjectStatusExhausted:
		if subject.Attempts >= subject.MaxAttempts {
			return fmt.Errorf("%w: subject %q used %d of %d attempts", domain.ErrMaxAttemptsReached, subject.ID, subject.Attempts, subject.MaxAttempts)
		}
		return fmt.Errorf("%w: subject %q ran out of candidates", domain.ErrNoEligibleCandidate, subject.ID)
	}
	return nil
}

func isFallbackExhausted(err error) bool {
	return errors.Is(err, domain.ErrNoEligibleCandidate) ||
		errors.Is(err, domain.ErrQuotaExhausted) ||
		errors.Is(err, domain.ErrMaxAttemptsReached)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return "already_terminal"
	case errors.Is(err, domain.ErrNoEligibleCandidate):
		return "no_eligible_candidate"
	case errors.Is(err, domain.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, domain.ErrMaxAttemptsReached):
		return "max_attempts_reached"
	default:
		return "internal"
	}
}

func payloadFor(g *domain.Grant) notify.Payload {
	return notify.Payload{
		GrantID:       g.ID,
		SubjectType:   g.SubjectType.String(),
		SubjectID:     g.SubjectID,
		GranteeID:     g.GranteeID,
		State:         g.State.String(),
		AttemptNumber: g.AttemptNumber,
		MaxAttempts:   g.MaxAttempts,
		ExpiresAt:     g.ExpiresAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
