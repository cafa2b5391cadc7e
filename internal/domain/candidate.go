package domain

// CandidateRecord is one potential grantee of a subject.
type CandidateRecord struct {
	GranteeID        string
	EligibilityScore float64
	PriorAttempts    int
}
