package candidate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

// StaticSource is an in-memory Source and DesignatedSource.
type StaticSource struct {
	mu         sync.RWMutex
	candidates map[string][]domain.CandidateRecord
	designated map[string]string
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		candidates: make(map[string][]domain.CandidateRecord),
		designated: make(map[string]string),
	}
}

// SetCandidates replaces the candidate pool of a subject.
func (s *StaticSource) SetCandidates(subjectID string, records ...domain.CandidateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[subjectID] = append([]domain.CandidateRecord(nil), records...)
}

// SetDesignated records the single grantee of a subject.
func (s *StaticSource) SetDesignated(subjectID, granteeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.designated[subjectID] = granteeID
}

func (s *StaticSource) ReplaceCandidates(_ context.Context, subjectID string, records []domain.CandidateRecord, designatedID string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return fmt.Errorf("%w: subject id is required", domain.ErrValidation)
	}

	ranked := Rank(records, nil)
	if designatedID != "" && !containsGrantee(ranked, designatedID) {
		return fmt.Errorf("%w: designated grantee %q is not a candidate", domain.ErrValidation, designatedID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates[subjectID] = ranked
	if designatedID == "" {
		delete(s.designated, subjectID)
	} else {
		s.designated[subjectID] = designatedID
	}
	return nil
}

func (s *StaticSource) Candidates(_ context.Context, subjectID string) ([]domain.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CandidateRecord(nil), s.candidates[subjectID]...), nil
}

func (s *StaticSource) DesignatedGrantee(_ context.Context, subjectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	granteeID, ok := s.designated[subjectID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return granteeID, nil
}

func containsGrantee(records []domain.CandidateRecord, granteeID string) bool {
	for _, r := range records {
		if r.GranteeID == granteeID {
			return true
		}
	}
	return false
}

var (
	_ Source           = (*StaticSource)(nil)
	_ DesignatedSource = (*StaticSource)(nil)
	_ Writer           = (*StaticSource)(nil)
)
