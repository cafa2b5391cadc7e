package domain

import (
	"fmt"
	"time"
)

// SubjectStatus is the aggregate outcome of all grants issued for a subject.
type SubjectStatus string

const (
	SubjectStatusOpen      SubjectStatus = "OPEN"
	SubjectStatusConfirmed SubjectStatus = "CONFIRMED"
	SubjectStatusExhausted SubjectStatus = "EXHAUSTED"
)

func (s SubjectStatus) String() string { return string(s) }

func (s SubjectStatus) IsValid() bool {
	switch s {
	case SubjectStatusOpen, SubjectStatusConfirmed, SubjectStatusExhausted:
		return true
	}
	return false
}

// Subject tracks the attempt cycle of one scarce resource. Version is bumped by
// every grant creation and is the compare-and-swap guard for Issue.
type Subject struct {
	ID          string
	Type        SubjectType
	IssuerID    *string
	Status      SubjectStatus
	Attempts    int
	MaxAttempts int
	TTL         time.Duration
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Policy returns the issuance policy recorded with the first grant.
func (s *Subject) Policy() Policy {
	return Policy{TTL: s.TTL, MaxAttempts: s.MaxAttempts}
}

// Issuer returns the quota owner id or an empty string for unbounded subjects.
func (s *Subject) Issuer() string {
	if s.IssuerID == nil {
		return ""
	}
	return *s.IssuerID
}

// Policy bounds one subject's attempt cycle.
type Policy struct {
	TTL         time.Duration
	MaxAttempts int
}

func (p Policy) Validate() error {
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be >= 1", ErrValidation)
	}
	return nil
}

// DefaultPolicy returns the standard policy for a subject type: one hour to
// confirm an urgent substitution, 48 hours to redeem a discount token.
func DefaultPolicy(subjectType SubjectType) Policy {
	switch subjectType {
	case SubjectTypeDiscountToken:
		return Policy{TTL: 48 * time.Hour, MaxAttempts: 2}
	default:
		return Policy{TTL: time.Hour, MaxAttempts: 3}
	}
}

// WithOverrides returns p with any positive override applied.
func (p Policy) WithOverrides(ttl time.Duration, maxAttempts int) Policy {
	if ttl > 0 {
		p.TTL = ttl
	}
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	return p
}
