package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	notificationsExchange = "grant.notifications"
	dlxExchangeName       = "grant.dlx"
	connectionName        = "grant-engine"

	connectTimeout   = 15 * time.Second
	heartbeat        = 10 * time.Second
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// queueSpec describes one declared queue and the exchange binding that feeds it.
type queueSpec struct {
	name       string
	exchange   string
	routingKey string
	args       amqp.Table
}

// topology lists the work queue and dead-letter queue of every template kind.
// Work queues are fed by the notifications exchange and dead-letter into the
// DLX under the same routing key.
func topology() []queueSpec {
	specs := make([]queueSpec, 0, 2*len(supportedKinds))
	for _, kind := range supportedKinds {
		routingKey := kindRoutingKey(kind)
		specs = append(specs,
			queueSpec{
				name:       DLQName(kind),
				exchange:   dlxExchangeName,
				routingKey: routingKey,
			},
			queueSpec{
				name:       QueueName(kind),
				exchange:   notificationsExchange,
				routingKey: routingKey,
				args: amqp.Table{
					"x-dead-letter-exchange":    dlxExchangeName,
					"x-dead-letter-routing-key": routingKey,
					"x-max-priority":            queueMaxPriority,
				},
			},
		)
	}
	return specs
}

// RabbitMQ owns the broker connection and declares the grant notification
// topology on every channel it opens.
type RabbitMQ struct {
	url string

	mu       sync.RWMutex
	redialMu sync.Mutex
	conn     *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// Ping reports whether the broker connection is open, reconnecting if needed.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("rabbitmq is not initialized")
	}
	return r.ensureConnected(ctx)
}

// channel opens a channel with the topology declared. A failure to open the
// channel on a live connection forces one redial.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		if err := r.redial(ctx, true); err != nil {
			return nil, err
		}
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if err := r.ensureConnected(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil, fmt.Errorf("rabbitmq connection closed")
	}
	return r.conn, nil
}

func (r *RabbitMQ) ensureConnected(ctx context.Context) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return r.redial(ctx, false)
}

// redial replaces the connection, backing off exponentially until ctx is
// done. Without force a connection another goroutine already restored is kept.
func (r *RabbitMQ) redial(ctx context.Context, force bool) error {
	r.redialMu.Lock()
	defer r.redialMu.Unlock()

	r.mu.RLock()
	current := r.conn
	r.mu.RUnlock()
	if !force && current != nil && !current.IsClosed() {
		return nil
	}

	cfg := amqp.Config{
		Heartbeat:  heartbeat,
		Properties: amqp.NewConnectionProperties(),
	}
	cfg.Properties.SetClientConnectionName(connectionName)

	wait := reconnectBackoff
	for {
		conn, err := amqp.DialConfig(r.url, cfg)
		if err == nil {
			r.mu.Lock()
			old := r.conn
			r.conn = conn
			r.mu.Unlock()

			if old != nil && !old.IsClosed() {
				_ = old.Close()
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []string{notificationsExchange, dlxExchangeName} {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
		}
	}

	for _, spec := range topology() {
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
		if err := ch.QueueBind(spec.name, spec.routingKey, spec.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", spec.name, spec.exchange, err)
		}
	}

	return nil
}

func kindRoutingKey(kind notify.TemplateKind) string {
	return strings.ToLower(kind.String())
}
