package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/notify"
	"github.com/kursadbilgin/grant-engine/internal/observability"
	"github.com/kursadbilgin/grant-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency  = 1
	defaultDeliverTimeout = 10 * time.Second
)

// DeliveryWorker drains the grant notification queues and hands every
// message to the configured gateway.
type DeliveryWorker struct {
	consumer    queue.Consumer
	notifier    notify.Notifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

func NewDeliveryWorker(
	consumer queue.Consumer,
	notifier notify.Notifier,
	concurrency int,
	timeout time.Duration,
	logger *zap.Logger,
) (*DeliveryWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryWorker{
		consumer:    consumer,
		notifier:    notifier,
		logger:      logger,
		concurrency: concurrency,
		timeout:     timeout,
		now:         time.Now,
	}, nil
}

func (w *DeliveryWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes every work queue until ctx is cancelled. Consumers are
// spread round-robin over the queues, at least one per queue.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	consumers := w.concurrency
	if consumers < len(queueNames) {
		consumers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("delivery worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("delivery worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *DeliveryWorker) processMessage(ctx context.Context, msg queue.GrantNotificationMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	ctx = observability.WithGrant(ctx, msg.Payload.GrantID, msg.Payload.SubjectID)
	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("messageId", msg.MessageID),
		zap.String("template", msg.Kind.String()),
	)

	kind := msg.Kind.String()
	w.metrics.IncNotificationsInflight()
	defer w.metrics.DecNotificationsInflight()

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := w.now()
	err := w.notifier.Notify(sendCtx, msg.RecipientID, msg.Kind, msg.Payload)
	w.metrics.ObserveNotificationSendDuration(kind, w.now().Sub(started))

	if err != nil {
		reason := "permanent_error"
		if notify.IsTransient(err) {
			reason = "transient_error"
		}
		w.metrics.IncNotificationFailed(kind, reason)
		logger.Warn("grant notification not delivered", zap.String("reason", reason), zap.Error(err))
		return err
	}

	w.metrics.IncNotificationSent(kind)
	logger.Debug("grant notification delivered")
	return nil
}
