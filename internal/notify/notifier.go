package notify

import (
	"context"
	"time"
)

// TemplateKind selects the message template rendered for a recipient.
type TemplateKind string

const (
	KindGrantOffered     TemplateKind = "grant_offered"
	KindGrantConfirmed   TemplateKind = "grant_confirmed"
	KindGrantExpired     TemplateKind = "grant_expired"
	KindGrantUnfulfilled TemplateKind = "grant_unfulfilled"
)

func (k TemplateKind) String() string { return string(k) }

func (k TemplateKind) IsValid() bool {
	switch k {
	case KindGrantOffered, KindGrantConfirmed, KindGrantExpired, KindGrantUnfulfilled:
		return true
	}
	return false
}

// Payload is the template data attached to a grant notification.
type Payload struct {
	GrantID       string    `json:"grantId"`
	SubjectType   string    `json:"subjectType"`
	SubjectID     string    `json:"subjectId"`
	GranteeID     string    `json:"granteeId"`
	State         string    `json:"state"`
	AttemptNumber int       `json:"attemptNumber"`
	MaxAttempts   int       `json:"maxAttempts"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Notifier delivers one templated message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, kind TemplateKind, payload Payload) error
}
