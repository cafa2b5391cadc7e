package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/grant-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultDispatchTimeout = 10 * time.Second
	defaultMaxAttempts     = 3
	defaultRetryBackoff    = 200 * time.Millisecond
)

type DispatcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	// RetryBackoff grows linearly per attempt; a negative value disables it.
	RetryBackoff time.Duration
}

// Dispatcher sends notifications off the caller's goroutine. A send never
// blocks a state transition: failures are logged and counted, transient ones
// are retried within the send deadline.
type Dispatcher struct {
	notifier    Notifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

func NewDispatcher(notifier Notifier, logger *zap.Logger, metrics *observability.Metrics, cfg DispatcherConfig) (*Dispatcher, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDispatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	} else if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	return &Dispatcher{
		notifier:    notifier,
		logger:      logger,
		metrics:     metrics,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		sleep:       sleepWithContext,
	}, nil
}

// Dispatch schedules a send and returns immediately. The send outlives the
// caller's cancellation but not its deadline; a caller whose context is
// already done gets no send at all.
func (d *Dispatcher) Dispatch(ctx context.Context, recipientID string, kind TemplateKind, payload Payload) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = observability.WithGrant(ctx, payload.GrantID, payload.SubjectID)
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("template", kind.String()),
		zap.String("recipientId", recipientID),
	)

	if err := ctx.Err(); err != nil {
		logger.Warn("notification skipped, caller context done", zap.Error(err))
		d.metrics.IncNotificationFailed(kind.String(), "skipped")
		return
	}

	deadline := time.Now().Add(d.timeout)
	if callerDeadline, ok := ctx.Deadline(); ok && callerDeadline.Before(deadline) {
		deadline = callerDeadline
	}
	sendCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)

	d.wg.Add(1)
	d.metrics.IncNotificationsInflight()
	go func() {
		defer d.wg.Done()
		defer d.metrics.DecNotificationsInflight()
		defer cancel()

		d.deliver(sendCtx, logger, recipientID, kind, payload)
	}()
}

// Wait blocks until every scheduled send has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, logger *zap.Logger, recipientID string, kind TemplateKind, payload Payload) {
	start := time.Now()
	defer func() {
		d.metrics.ObserveNotificationSendDuration(kind.String(), time.Since(start))
	}()

	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.notifier.Notify(ctx, recipientID, kind, payload)
		if err == nil {
			d.metrics.IncNotificationSent(kind.String())
			logger.Debug("notification delivered", zap.Int("attempt", attempt))
			return
		}
		if !IsTransient(err) || attempt == d.maxAttempts {
			break
		}

		logger.Warn("notification attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := d.sleep(ctx, d.backoff*time.Duration(attempt)); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	d.metrics.IncNotificationFailed(kind.String(), failureReason(err))
	logger.Error("notification delivery failed", zap.Error(err))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
