package pubsub

import (
	"context"

	"go.uber.org/zap"
)

type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Hooks observe client operations. All fields are optional.
type Hooks struct {
	OnPublish       func(ctx context.Context, topic string, messageID string)
	OnPublishFail   func(ctx context.Context, topic string, err error)
	OnPull          func(ctx context.Context, subscription string, received int)
	OnAcknowledge   func(ctx context.Context, subscription string, acked int)
	OnReceive       func(ctx context.Context, subscription string, messageID string)
	OnHandleFail    func(ctx context.Context, subscription string, messageID string, err error)
	OnConnectionErr func(ctx context.Context, subscription string, err error)
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Info(context.Context, string, ...any)  {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

type zapLogger struct {
	lg *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to the package Logger interface.
func NewZapLogger(lg *zap.Logger) Logger {
	return zapLogger{lg: lg.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z zapLogger) Debug(_ context.Context, msg string, kv ...any) { z.lg.Debugw(msg, kv...) }
func (z zapLogger) Info(_ context.Context, msg string, kv ...any)  { z.lg.Infow(msg, kv...) }
func (z zapLogger) Warn(_ context.Context, msg string, kv ...any)  { z.lg.Warnw(msg, kv...) }
func (z zapLogger) Error(_ context.Context, msg string, kv ...any) { z.lg.Errorw(msg, kv...) }
