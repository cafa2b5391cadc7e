package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/repository"
)

// Store holds grants and subjects behind one mutex so grant creation can
// check and bump the subject in the same critical section, mirroring the
// transactional Gorm repositories.
type Store struct {
	mu       sync.Mutex
	grants   map[string]*domain.Grant
	subjects map[string]*domain.Subject
}

func NewStore() *Store {
	return &Store{
		grants:   make(map[string]*domain.Grant),
		subjects: make(map[string]*domain.Subject),
	}
}

func (s *Store) Grants() *GrantRepo { return &GrantRepo{store: s} }

func (s *Store) Subjects() *SubjectRepo { return &SubjectRepo{store: s} }

type GrantRepo struct {
	store *Store
}

func (r *GrantRepo) Create(_ context.Context, g *domain.Grant, expectedSubjectVersion int64) error {
	if g == nil {
		return fmt.Errorf("%w: grant is required", domain.ErrValidation)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[g.SubjectID]
	if !ok || subject.Version != expectedSubjectVersion ||
		subject.Status != domain.SubjectStatusOpen || subject.Attempts >= subject.MaxAttempts {
		return fmt.Errorf("%w: subject %q changed concurrently", domain.ErrConflict, g.SubjectID)
	}
	for _, existing := range s.grants {
		if existing.SubjectID == g.SubjectID && existing.State == domain.StateOffered {
			return fmt.Errorf("%w: subject %q already has an offered grant", domain.ErrConflict, g.SubjectID)
		}
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if _, dup := s.grants[g.ID]; dup {
		return fmt.Errorf("%w: grant %q already exists", domain.ErrConflict, g.ID)
	}

	subject.Attempts = g.AttemptNumber
	subject.Version++
	subject.UpdatedAt = g.CreatedAt

	stored := *g
	s.grants[g.ID] = &stored
	return nil
}

func (r *GrantRepo) GetByID(_ context.Context, id string) (*domain.Grant, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *g
	return &out, nil
}

func (r *GrantRepo) FindOfferedBySubject(_ context.Context, subjectID string) (*domain.Grant, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.grants {
		if g.SubjectID == subjectID && g.State == domain.StateOffered {
			out := *g
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *GrantRepo) ListBySubject(_ context.Context, subjectID string) ([]domain.Grant, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Grant, 0)
	for _, g := range s.grants {
		if g.SubjectID == subjectID {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *GrantRepo) ListExpired(_ context.Context, before time.Time, after *repository.ExpiredCursor, limit int) ([]domain.Grant, error) {
	if limit < 1 {
		limit = 100
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Grant, 0)
	for _, g := range s.grants {
		if g.State == domain.StateOffered && g.ExpiresAt.Before(before) && pastCursor(g, after) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *GrantRepo) ConditionalUpdate(_ context.Context, id string, expected domain.State, update domain.GrantUpdate) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[id]
	if !ok || g.State != expected {
		return false, nil
	}

	g.State = update.State
	g.UpdatedAt = update.UpdatedAt
	if update.ConfirmedAt != nil {
		at := *update.ConfirmedAt
		g.ConfirmedAt = &at
	}
	if update.ExpiredAt != nil {
		at := *update.ExpiredAt
		g.ExpiredAt = &at
	}
	return true, nil
}

func (r *GrantRepo) Confirm(_ context.Context, grantID, subjectID string, at time.Time) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok || g.State != domain.StateOffered {
		return false, nil
	}
	subject, ok := s.subjects[subjectID]
	if !ok || subject.Status != domain.SubjectStatusOpen {
		return false, fmt.Errorf("%w: subject %q is no longer open", domain.ErrConflict, subjectID)
	}

	confirmedAt := at
	g.State = domain.StateConfirmed
	g.ConfirmedAt = &confirmedAt
	g.UpdatedAt = at
	subject.Status = domain.SubjectStatusConfirmed
	subject.Version++
	subject.UpdatedAt = at
	return true, nil
}

func pastCursor(g *domain.Grant, after *repository.ExpiredCursor) bool {
	if after == nil {
		return true
	}
	if !g.ExpiresAt.Equal(after.ExpiresAt) {
		return g.ExpiresAt.After(after.ExpiresAt)
	}
	return g.ID > after.ID
}

type SubjectRepo struct {
	store *Store
}

func (r *SubjectRepo) Ensure(_ context.Context, subject *domain.Subject) (*domain.Subject, error) {
	if subject == nil || subject.ID == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subjects[subject.ID]; ok {
		out := *existing
		return &out, nil
	}

	stored := *subject
	s.subjects[subject.ID] = &stored
	out := stored
	return &out, nil
}

func (r *SubjectRepo) GetByID(_ context.Context, id string) (*domain.Subject, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *subject
	return &out, nil
}

func (r *SubjectRepo) Transition(_ context.Context, id string, from, to domain.SubjectStatus, at time.Time) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[id]
	if !ok || subject.Status != from {
		return false, nil
	}
	subject.Status = to
	subject.UpdatedAt = at
	return true, nil
}

var (
	_ repository.GrantRepository   = (*GrantRepo)(nil)
	_ repository.SubjectRepository = (*SubjectRepo)(nil)
)
