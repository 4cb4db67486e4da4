package sockline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Handler receives events dispatched by a Manager. Handlers run on the
// dispatcher goroutine and should return quickly.
//
// The payload of an application event is the decoded JSON value sent by the
// server (string, float64, bool, nil, []any or map[string]any). The connect
// event has a nil payload, disconnect carries the reason string and
// connect_error carries the error.
type Handler interface {
	OnEvent(ctx context.Context, eventType string, payload any) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, eventType string, payload any) error

func (f HandlerFunc) OnEvent(ctx context.Context, eventType string, payload any) error {
	return f(ctx, eventType, payload)
}

// LoggingHandler is a Handler that logs every event it receives
type LoggingHandler struct {
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingHandler creates a new LoggingHandler with the specified logger and log level
func NewLoggingHandler(logger *zap.Logger, logLevel zapcore.Level) *LoggingHandler {
	return NewNamedLoggingHandler(logger, logLevel, "LoggingHandler")
}

// NewNamedLoggingHandler creates a new LoggingHandler with a custom name for identification
func NewNamedLoggingHandler(logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHandler{
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingHandler) OnEvent(ctx context.Context, eventType string, payload any) error {
	var payloadStr string
	switch v := payload.(type) {
	case string:
		payloadStr = v
	case error:
		payloadStr = v.Error()
	case nil:
		payloadStr = "<nil>"
	default:
		payloadStr = fmt.Sprintf("%v", v)
	}

	l.logger.Log(l.logLevel, "OnEvent called",
		zap.String("handler", l.name),
		zap.String("event", eventType),
		zap.String("payload", payloadStr),
	)
	return nil
}
