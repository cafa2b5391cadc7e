package domain

import (
	"fmt"
	"strings"
	"time"
)

// State represents the lifecycle state of a grant.
type State string

const (
	StateOffered   State = "OFFERED"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
	StateExhausted State = "EXHAUSTED"
)

func (s State) String() string { return string(s) }

func (s State) IsValid() bool {
	switch s {
	case StateOffered, StateConfirmed, StateExpired, StateExhausted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave this state.
// EXPIRED is terminal for the attempt; only the exhaustion mark may follow it.
func (s State) IsTerminal() bool {
	return s != StateOffered
}

func ParseStateFromString(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid state %q", ErrValidation, s)
	}
	return st, nil
}

// SubjectType identifies what kind of scarce resource is being granted.
type SubjectType string

const (
	SubjectTypeSubstitution  SubjectType = "SUBSTITUTION"
	SubjectTypeDiscountToken SubjectType = "DISCOUNT_TOKEN"
)

func (t SubjectType) String() string { return string(t) }

func (t SubjectType) IsValid() bool {
	switch t {
	case SubjectTypeSubstitution, SubjectTypeDiscountToken:
		return true
	}
	return false
}

func ParseSubjectTypeFromString(s string) (SubjectType, error) {
	st := SubjectType(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid subject type %q", ErrValidation, s)
	}
	return st, nil
}

// Grant is a time-bounded exclusive claim on a subject held by one grantee.
type Grant struct {
	ID            string
	SubjectType   SubjectType
	SubjectID     string
	GranteeID     string
	IssuerID      *string
	State         State
	AttemptNumber int
	MaxAttempts   int
	IssuedAt      time.Time
	ExpiresAt     time.Time
	ConfirmedAt   *time.Time
	ExpiredAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (g *Grant) Validate() error {
	if strings.TrimSpace(g.SubjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrValidation)
	}
	if strings.TrimSpace(g.GranteeID) == "" {
		return fmt.Errorf("%w: grantee id is required", ErrValidation)
	}
	if !g.SubjectType.IsValid() {
		return fmt.Errorf("%w: invalid subject type %q", ErrValidation, g.SubjectType)
	}
	if !g.State.IsValid() {
		return fmt.Errorf("%w: invalid state %q", ErrValidation, g.State)
	}
	if g.AttemptNumber < 1 {
		return fmt.Errorf("%w: attempt number must be >= 1", ErrValidation)
	}
	if g.MaxAttempts < 1 || g.AttemptNumber > g.MaxAttempts {
		return fmt.Errorf("%w: attempt %d exceeds max attempts %d", ErrValidation, g.AttemptNumber, g.MaxAttempts)
	}
	if !g.ExpiresAt.After(g.IssuedAt) {
		return fmt.Errorf("%w: expiresAt must be after issuedAt", ErrValidation)
	}
	return nil
}

// IsOverdue reports whether an OFFERED grant is past its deadline at now.
func (g *Grant) IsOverdue(now time.Time) bool {
	return g.State == StateOffered && now.After(g.ExpiresAt)
}

// Issuer returns the quota owner id or an empty string for unbounded grants.
func (g *Grant) Issuer() string {
	if g.IssuerID == nil {
		return ""
	}
	return *g.IssuerID
}

// GrantUpdate carries the fields written by a conditional state transition.
type GrantUpdate struct {
	State       State
	ConfirmedAt *time.Time
	ExpiredAt   *time.Time
	UpdatedAt   time.Time
}
