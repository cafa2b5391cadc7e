package candidate

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// Queue yields the next grantee for a subject. ok is false once the queue is
// exhausted; exclude carries the grantee of every prior grant of the subject,
// one entry per grant.
type Queue interface {
	Next(ctx context.Context, subjectID string, exclude []string) (granteeID string, ok bool, err error)
}

// Source lists the eligible candidates of a subject with their scores.
type Source interface {
	Candidates(ctx context.Context, subjectID string) ([]domain.CandidateRecord, error)
}

// DesignatedSource resolves the single end-user a subject was created for.
// It returns domain.ErrNotFound when the subject has no designated grantee.
type DesignatedSource interface {
	DesignatedGrantee(ctx context.Context, subjectID string) (string, error)
}

// Writer replaces the candidate pool of a subject. designatedID, when set,
// marks the single end-user of the subject and must be among records.
type Writer interface {
	ReplaceCandidates(ctx context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error
}

// Registry maps subject types to their queue policy.
type Registry struct {
	mu     sync.RWMutex
	queues map[domain.SubjectType]Queue
}

func NewRegistry() *Registry {
	return &Registry{queues: make(map[domain.SubjectType]Queue)}
}

func (r *Registry) Register(subjectType domain.SubjectType, q Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[subjectType] = q
}

func (r *Registry) For(subjectType domain.SubjectType) (Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[subjectType]
	if !ok {
		return nil, fmt.Errorf("%w: no candidate queue for subject type %q", domain.ErrValidation, subjectType)
	}
	return q, nil
}
