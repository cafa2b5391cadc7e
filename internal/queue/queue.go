package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/grant-engine/internal/notify"
)

// Publisher publishes grant notification messages for delivery workers.
type Publisher interface {
	Publish(ctx context.Context, msg GrantNotificationMessage) error
	Close() error
}

var supportedKinds = []notify.TemplateKind{
	notify.KindGrantOffered,
	notify.KindGrantConfirmed,
	notify.KindGrantExpired,
	notify.KindGrantUnfulfilled,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for notification queues.
	queueMaxPriority int32 = 3
)

// QueueName returns the work queue for a template kind, e.g. grant.offered.
func QueueName(kind notify.TemplateKind) string {
	return "grant." + strings.TrimPrefix(strings.ToLower(kind.String()), "grant_")
}

// DLQName returns the dead-letter queue for a template kind, e.g. dlq.grant.offered.
func DLQName(kind notify.TemplateKind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

// PriorityValue maps a template kind to RabbitMQ message priority. Offers
// carry a confirmation deadline and jump the queue.
func PriorityValue(kind notify.TemplateKind) uint8 {
	switch kind {
	case notify.KindGrantOffered:
		return 3
	case notify.KindGrantExpired, notify.KindGrantConfirmed:
		return 2
	case notify.KindGrantUnfulfilled:
		return 1
	default:
		return 0
	}
}
