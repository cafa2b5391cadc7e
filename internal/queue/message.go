package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/grant-engine/internal/notify"
)

// GrantNotificationMessage is the broker payload consumed by delivery workers.
type GrantNotificationMessage struct {
	MessageID     string              `json:"messageId"`
	CorrelationID string              `json:"correlationId,omitempty"`
	RecipientID   string              `json:"recipientId"`
	Kind          notify.TemplateKind `json:"kind"`
	Payload       notify.Payload      `json:"payload"`
}

func (m GrantNotificationMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("recipientId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid template kind %q", m.Kind)
	}
	return nil
}
