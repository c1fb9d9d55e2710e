package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
)

// Logger test constants.
const (
	testTraceHex = "0102030405060708090a0b0c0d0e0f10"
	testSpanHex  = "0102030405060708"
	testService  = "ivtree-test"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any

	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

// TestTracingHandler_InjectsTraceContext verifies trace and service attributes on records.
func TestTracingHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, testService, "test", observability.ModeStress))

	traceID, err := trace.TraceIDFromHex(testTraceHex)
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex(testSpanHex)
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "validated")

	record := decodeRecord(t, &buf)
	assert.Equal(t, testTraceHex, record["trace_id"])
	assert.Equal(t, testSpanHex, record["span_id"])
	assert.Equal(t, testService, record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "stress", record["mode"])
}

// TestTracingHandler_NoSpan verifies that records without a span carry only service metadata.
func TestTracingHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, testService, "", observability.ModeBench))

	logger.InfoContext(context.Background(), "no span")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "env")
	assert.Equal(t, "bench", record["mode"])
}

// TestTracingHandler_WithGroup verifies that service metadata stays at the top level.
func TestTracingHandler_WithGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, testService, "", observability.ModeCLI))

	logger.WithGroup("tree").With(slog.Int("size", 3)).Info("loaded")

	record := decodeRecord(t, &buf)
	assert.Equal(t, testService, record["service"])

	group, ok := record["tree"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 3, group["size"], 0)
}

// TestNewLogger_JSONAndLevel verifies format and level selection.
func TestNewLogger_JSONAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogLevel = slog.LevelWarn

	logger := observability.NewLogger(&buf, cfg)
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "ivtree", record["service"])
}

// TestParseLevel verifies level parsing.
func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := observability.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = observability.ParseLevel(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = observability.ParseLevel("loud")
	require.Error(t, err)
}

// TestParseOTLPHeaders verifies header parsing.
func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage,=x"))
	assert.Equal(t,
		map[string]string{"api-key": "secret", "team": "infra"},
		observability.ParseOTLPHeaders(" api-key = secret ,team=infra,broken"),
	)
}
