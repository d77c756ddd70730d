package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestWithLoggerRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx := WithLogger(context.Background(), logger)

	assert.True(t, HasLogger(ctx))
	assert.Same(t, logger, LoggerFromContext(ctx))
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	ctx := context.Background()

	assert.False(t, HasLogger(ctx))
	assert.Same(t, slog.Default(), LoggerFromContext(ctx))
}

func TestHandlerInjectsSpanIDs(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, slog.LevelDebug))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "download")
	logger.InfoContext(ctx, "tier failed, escalating", "tier", "direct")
	span.End()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
	assert.Equal(t, "direct", record["tier"])
}

func TestHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("no span here")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "span_id")
}

func TestHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, slog.LevelWarn))
	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestHandlerKeepsAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, slog.LevelInfo)).
		With("component", "transport").
		WithGroup("cascade")
	logger.Info("escalating", "tier", "direct")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "transport", record["component"])

	group, ok := record["cascade"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "direct", group["tier"])
}
