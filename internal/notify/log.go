package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the structured log. It is the fallback
// when no broker or webhook is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, recipientID string, kind TemplateKind, payload Payload) error {
	n.logger.Info("grant notification",
		zap.String("recipientId", recipientID),
		zap.String("template", kind.String()),
		zap.String("grantId", payload.GrantID),
		zap.String("subjectId", payload.SubjectID),
		zap.String("state", payload.State),
		zap.Int("attemptNumber", payload.AttemptNumber),
	)
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, recipientID string, kind TemplateKind, payload Payload) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, recipientID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
