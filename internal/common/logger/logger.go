package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Logger is the map-field logging interface used across the service.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	With(fields map[string]interface{}) Logger
}

// New builds a zap logger. format "json" selects the production encoder,
// anything else the human readable console encoder. output is a zap sink
// path ("stdout", "stderr" or a file); empty means stdout.
func New(levelStr, format string, output ...string) *zap.Logger {
	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(levelStr))
	if len(output) > 0 && output[0] != "" {
		cfg.OutputPaths = []string{output[0]}
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapWrapper adapts zap.Logger to the Logger interface.
type zapWrapper struct {
	l *zap.Logger
}

func (z *zapWrapper) Debug(msg string, fields map[string]interface{}) {
	z.l.Debug(msg, mapToZapFields(fields)...)
}

func (z *zapWrapper) Info(msg string, fields map[string]interface{}) {
	z.l.Info(msg, mapToZapFields(fields)...)
}

func (z *zapWrapper) Warn(msg string, fields map[string]interface{}) {
	z.l.Warn(msg, mapToZapFields(fields)...)
}

func (z *zapWrapper) Error(msg string, fields map[string]interface{}) {
	z.l.Error(msg, mapToZapFields(fields)...)
}

func (z *zapWrapper) WithFields(fields map[string]interface{}) Logger {
	return &zapWrapper{l: z.l.With(mapToZapFields(fields)...)}
}

func (z *zapWrapper) WithError(err error) Logger {
	return &zapWrapper{l: z.l.With(zap.Error(err))}
}

// With is an alias for WithFields.
func (z *zapWrapper) With(fields map[string]interface{}) Logger {
	return z.WithFields(fields)
}

func mapToZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

// NewStructured creates a Logger that logs using zap under the hood.
func NewStructured(levelStr, format string) Logger {
	return &zapWrapper{l: New(levelStr, format)}
}

// NewZapAdapter wraps an existing *zap.Logger to implement the Logger interface
func NewZapAdapter(l *zap.Logger) Logger {
	return &zapWrapper{l: l}
}

// NewTestLogger creates a Logger that writes to testing.TB.
func NewTestLogger(t testing.TB) Logger {
	return &zapWrapper{l: zaptest.NewLogger(t)}
}

// NewNoOpLogger creates a Logger that discards everything.
func NewNoOpLogger() Logger {
	return &zapWrapper{l: zap.NewNop()}
}
