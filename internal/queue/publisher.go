package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher hands grant notifications to RabbitMQ for delivery.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// Publish routes msg through the notifications exchange to the work queue of
// its template kind.
func (p *RabbitMQPublisher) Publish(ctx context.Context, msg GrantNotificationMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid grant notification message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal grant notification message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Kind),
		Type:          msg.Kind.String(),
		Body:          payload,
	}

	routingKey := kindRoutingKey(msg.Kind)
	if err := ch.PublishWithContext(ctx, notificationsExchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", routingKey, err)
	}

	return nil
}

// Notify publishes the notification for delivery workers. Broker failures
// are transient.
func (p *RabbitMQPublisher) Notify(ctx context.Context, recipientID string, kind notify.TemplateKind, payload notify.Payload) error {
	msg := NewGrantNotificationMessage(ctx, recipientID, kind, payload)
	if err := p.Publish(ctx, msg); err != nil {
		return &notify.DeliveryError{Message: "broker publish failed", Transient: true, Cause: err}
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func NewGrantNotificationMessage(ctx context.Context, recipientID string, kind notify.TemplateKind, payload notify.Payload) GrantNotificationMessage {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	return GrantNotificationMessage{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		RecipientID:   recipientID,
		Kind:          kind,
		Payload:       payload,
	}
}

var (
	_ Publisher       = (*RabbitMQPublisher)(nil)
	_ notify.Notifier = (*RabbitMQPublisher)(nil)
)
