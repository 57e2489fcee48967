package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/securelens/securelens/internal/domain/elevation"
)

// NewLogger creates a structured logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.DisableStacktrace = true

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithTrace returns a logger annotated with the trace and span IDs of the
// span in ctx, if any.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}

	fields := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}
	if span.SpanContext().IsSampled() {
		fields = append(fields, zap.Bool("sampled", true))
	}
	return logger.With(fields...)
}

// LogDiagnostic writes a diagnostic at the level matching its severity.
func LogDiagnostic(logger *zap.Logger, d elevation.Diagnostic) {
	fields := []zap.Field{
		zap.String("kind", string(d.Kind)),
	}
	if d.Subject != "" {
		fields = append(fields, zap.String("subject", d.Subject))
	}

	switch d.Severity {
	case elevation.SeverityError:
		logger.Error(d.Message, fields...)
	case elevation.SeverityWarning:
		logger.Warn(d.Message, fields...)
	default:
		logger.Info(d.Message, fields...)
	}
}

// LoggingSink forwards every diagnostic to a logger and then to next,
// which may be nil.
type LoggingSink struct {
	logger *zap.Logger
	next   elevation.DiagnosticSink
}

func NewLoggingSink(logger *zap.Logger, next elevation.DiagnosticSink) *LoggingSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSink{logger: logger, next: next}
}

func (s *LoggingSink) Emit(d elevation.Diagnostic) {
	LogDiagnostic(s.logger, d)
	if s.next != nil {
		s.next.Emit(d)
	}
}
