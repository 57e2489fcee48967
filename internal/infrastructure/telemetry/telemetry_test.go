package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/securelens/securelens/internal/domain/elevation"
	"github.com/securelens/securelens/internal/infrastructure/config"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"json info", "info", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"console debug", "debug", "console", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warning alias", "warning", "json", zapcore.WarnLevel, zapcore.InfoLevel},
		{"unknown defaults to info", "loud", "json", zapcore.InfoLevel, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := telemetry.NewLogger(tt.level, tt.format)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.muted))
		})
	}
}

func TestLoggingSink_ForwardsBySeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	collector := elevation.NewDiagnosticCollector()
	sink := telemetry.NewLoggingSink(zap.New(core), collector)

	sink.Emit(elevation.Info(elevation.KindUnmatchedRecords, "", "3 unmatched"))
	sink.Emit(elevation.Warning(elevation.KindGroupNotFound, "IT-Admins", "group missing"))
	sink.Emit(elevation.Error(elevation.KindSourceFailure, "audit", "fetch failed"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "IT-Admins", entries[1].ContextMap()["subject"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Len(t, collector.Diagnostics(), 3)
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	telemetry.WithTrace(context.Background(), logger).Info("no span")

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(tracetest.NewInMemoryExporter())))
	ctx, span := telemetry.StartStageSpan(context.Background(), tp.Tracer("test"), "classify")
	telemetry.WithTrace(ctx, logger).Info("with span")
	span.End()

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "trace_id")
	assert.Equal(t, span.SpanContext().TraceID().String(), entries[1].ContextMap()["trace_id"])
}

func TestInitializeOpenTelemetry_Disabled(t *testing.T) {
	cfg := config.Defaults().Telemetry
	cfg.Enabled = false

	provider, err := telemetry.InitializeOpenTelemetry(context.Background(), cfg,
		telemetry.RunAttributes{Version: "1.2.3", Mode: config.ModeCached, Settings: 3})
	require.NoError(t, err)
	assert.NotNil(t, provider.TracerProvider)
	assert.NotNil(t, provider.MeterProvider)
	assert.NoError(t, provider.Shutdown(context.Background()))

	attrs := provider.Resource.Set()
	mode, ok := attrs.Value(telemetry.AttrMode)
	require.True(t, ok)
	assert.Equal(t, "cached", mode.AsString())
	settings, ok := attrs.Value(telemetry.AttrSettings)
	require.True(t, ok)
	assert.Equal(t, int64(3), settings.AsInt64())
}

func TestNewResource(t *testing.T) {
	res, err := telemetry.NewResource(config.TelemetryConfig{Environment: "staging"},
		telemetry.RunAttributes{Mode: config.ModeLive})
	require.NoError(t, err)

	attrs := res.Set()
	name, ok := attrs.Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "securelens", name.AsString())
	env, ok := attrs.Value(attribute.Key("deployment.environment"))
	require.True(t, ok)
	assert.Equal(t, "staging", env.AsString())
	_, ok = attrs.Value(attribute.Key("service.version"))
	assert.False(t, ok, "no version means no service.version attribute")
}
