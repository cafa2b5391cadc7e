package candidate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kursadbilgin/grant-engine/internal/domain"
)

const defaultMaxPriorAttempts = 1

// SubstitutionQueue ranks professionals eligible for a shift by score and
// skips anyone who already held an offer for it.
type SubstitutionQueue struct {
	source           Source
	maxPriorAttempts int
}

// NewSubstitutionQueue builds the substitution policy. A grantee with
// maxPriorAttempts or more prior grants on the subject is no longer eligible.
func NewSubstitutionQueue(source Source, maxPriorAttempts int) (*SubstitutionQueue, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	if maxPriorAttempts < 1 {
		maxPriorAttempts = defaultMaxPriorAttempts
	}
	return &SubstitutionQueue{source: source, maxPriorAttempts: maxPriorAttempts}, nil
}

func (q *SubstitutionQueue) Next(ctx context.Context, subjectID string, exclude []string) (string, bool, error) {
	records, err := q.source.Candidates(ctx, subjectID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load candidates for subject %q: %w", subjectID, err)
	}

	ranked := Rank(records, exclude)
	for _, record := range ranked {
		if record.PriorAttempts < q.maxPriorAttempts {
			return record.GranteeID, true, nil
		}
	}
	return "", false, nil
}

// Rank deduplicates records, fills PriorAttempts from exclude and orders by
// score descending, then grantee id for a deterministic tie-break.
func Rank(records []domain.CandidateRecord, exclude []string) []domain.CandidateRecord {
	prior := make(map[string]int, len(exclude))
	for _, id := range exclude {
		prior[strings.TrimSpace(id)]++
	}

	seen := make(map[string]struct{}, len(records))
	ranked := make([]domain.CandidateRecord, 0, len(records))
	for _, record := range records {
		id := strings.TrimSpace(record.GranteeID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		record.GranteeID = id
		record.PriorAttempts = prior[id]
		ranked = append(ranked, record)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].EligibilityScore != ranked[j].EligibilityScore {
			return ranked[i].EligibilityScore > ranked[j].EligibilityScore
		}
		return ranked[i].GranteeID < ranked[j].GranteeID
	})
	return ranked
}

// DiscountTokenQueue always yields the designated end-user of the offer. The
// retry dimension of discount tokens is attempts, not queue depth.
type DiscountTokenQueue struct {
	source DesignatedSource
}

func NewDiscountTokenQueue(source DesignatedSource) (*DiscountTokenQueue, error) {
	if source == nil {
		return nil, fmt.Errorf("designated grantee source is required")
	}
	return &DiscountTokenQueue{source: source}, nil
}

func (q *DiscountTokenQueue) Next(ctx context.Context, subjectID string, _ []string) (string, bool, error) {
	granteeID, err := q.source.DesignatedGrantee(ctx, subjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve designated grantee for subject %q: %w", subjectID, err)
	}

	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return "", false, nil
	}
	return granteeID, true, nil
}

var (
	_ Queue = (*SubstitutionQueue)(nil)
	_ Queue = (*DiscountTokenQueue)(nil)
)
