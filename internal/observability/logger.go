package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "grant-engine"

type logScopeKey struct{}

// logScope is what a context contributes to log entries: the correlation id
// of the request or queue message that started the work, and the grant the
// work is about.
type logScope struct {
	correlationID string
	grantID       string
	subjectID     string
}

// NewLogger builds the JSON logger shared by every binary. component names
// the binary (api, sweeper, worker) and is attached to every entry.
func NewLogger(level string, component string) (*zap.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = zapcore.InfoLevel.String()
	}
	atomicLevel, err := zap.ParseAtomicLevel(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	initial := map[string]interface{}{"service": serviceName}
	if component = strings.TrimSpace(component); component != "" {
		initial["component"] = component
	}

	cfg := zap.Config{
		Level:             atomicLevel,
		Encoding:          "json",
		DisableStacktrace: true,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    initial,
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func scopeFrom(ctx context.Context) logScope {
	if ctx == nil {
		return logScope{}
	}
	scope, _ := ctx.Value(logScopeKey{}).(logScope)
	return scope
}

func withScope(ctx context.Context, scope logScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, logScopeKey{}, scope)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	scope := scopeFrom(ctx)
	scope.correlationID = correlationID
	return withScope(ctx, scope)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).correlationID
	return id, id != ""
}

// WithGrant scopes ctx to one grant. Loggers derived from the context carry
// grantId and subjectId, and a later call replaces both.
func WithGrant(ctx context.Context, grantID, subjectID string) context.Context {
	scope := scopeFrom(ctx)
	scope.grantID = grantID
	scope.subjectID = subjectID
	return withScope(ctx, scope)
}

// WithContextLogger adds the correlation id and grant scope of ctx to logger.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope := scopeFrom(ctx)
	fields := make([]zap.Field, 0, 3)
	if scope.correlationID != "" {
		fields = append(fields, zap.String("correlationId", scope.correlationID))
	}
	if scope.grantID != "" {
		fields = append(fields, zap.String("grantId", scope.grantID))
	}
	if scope.subjectID != "" {
		fields = append(fields, zap.String("subjectId", scope.subjectID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
