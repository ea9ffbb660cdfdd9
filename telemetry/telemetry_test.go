package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	previous := Tracer
	Tracer = provider.Tracer("test")
	return exporter, func() { Tracer = previous }
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &fields))
	return fields
}

func TestOTELHook_Run(t *testing.T) {
	exporter, restore := newTestTracer(t)
	defer restore()
	_ = exporter

	tests := []struct {
		name        string
		ctx         func() context.Context
		expectTrace bool
	}{
		{name: "context without span", ctx: context.Background, expectTrace: false},
		{
			name: "context with valid span",
			ctx: func() context.Context {
				ctx, _ := Tracer.Start(context.Background(), "test-span")
				return ctx
			},
			expectTrace: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerTo(&buf, "warden-test")
			logger.WithContext(tt.ctx()).Info().Msg("hello")

			fields := decodeLine(t, &buf)
			assert.Equal(t, "warden-test", fields["service"])
			_, hasTrace := fields["trace_id"]
			_, hasSpan := fields["span_id"]
			assert.Equal(t, tt.expectTrace, hasTrace)
			assert.Equal(t, tt.expectTrace, hasSpan)
		})
	}
}

func TestOTELHook_ErrorLevelMarksSpan(t *testing.T) {
	exporter, restore := newTestTracer(t)
	defer restore()

	ctx, span := Tracer.Start(context.Background(), "failing")
	var buf bytes.Buffer
	NewLoggerTo(&buf, "warden-test").WithContext(ctx).Error().Msg("boom")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
}

func TestLogger_LogSpanStartAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warden-test")

	logger.LogSpanStart(context.Background(), "materialize",
		attribute.String("account", "123"),
		attribute.Int64("pages", 4),
		attribute.Float64("ratio", 0.5),
		attribute.Bool("dry_run", true),
	)

	fields := decodeLine(t, &buf)
	assert.Equal(t, "materialize", fields["span_name"])
	assert.Equal(t, "123", fields["account"])
	assert.Equal(t, float64(4), fields["pages"])
	assert.Equal(t, 0.5, fields["ratio"])
	assert.Equal(t, true, fields["dry_run"])
}

func TestLogger_ConvenienceMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warden-test")
	ctx := context.Background()

	logger.LogDocumentSkipped(ctx, "doc-1", "malformed", errors.New("reported is not an object"))
	fields := decodeLine(t, &buf)
	assert.Equal(t, zerolog.WarnLevel.String(), fields["level"])
	assert.Equal(t, "doc-1", fields["document_key"])
	assert.Equal(t, "reported is not an object", fields["error"])

	buf.Reset()
	logger.LogMaterializeComplete(ctx, "123", 3, 2, 1, 4, 1500*time.Millisecond)
	fields = decodeLine(t, &buf)
	assert.Equal(t, float64(3), fields["total"])
	assert.Equal(t, float64(4), fields["skipped"])
	assert.Equal(t, 1500.0, fields["duration_ms"])

	buf.Reset()
	logger.LogRuleConfigError(ctx, "CC6.1", "bucket-1", errors.New("unknown operator"))
	fields = decodeLine(t, &buf)
	assert.Equal(t, zerolog.ErrorLevel.String(), fields["level"])
	assert.Equal(t, "CC6.1", fields["rule_id"])
}

func TestRunSpan_Materialize(t *testing.T) {
	exporter, restore := newTestTracer(t)
	defer restore()

	ctx, span := StartMaterialize(context.Background(), "123456789012")
	require.NotNil(t, ctx)
	span.SetAssetCounts(3, 2, 1, 5)
	RecordDocumentSkippedEvent(span.Span(), "doc-9", "invalid_id")
	span.Fail(errors.New("scan failed"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "materialize", got.Name)
	assert.Equal(t, codes.Error, got.Status.Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "123456789012", attrs["account"].AsString())
	assert.Equal(t, int64(3), attrs["assets.total"].AsInt64())
	assert.Equal(t, int64(5), attrs["documents.skipped"].AsInt64())

	var names []string
	for _, e := range got.Events {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "document.skipped")
}

func TestRecordEventsWithNilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDocumentSkippedEvent(nil, "k", "r")
		RecordRuleErrorEvent(nil, "r", "id", "msg")
	})
}

func TestInitMetrics_RecordsRuns(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, InitMetrics(provider.Meter("test")))
	defer func() { _ = InitMetrics(Meter) }()

	ctx := context.Background()
	RecordMaterializeRun(ctx, "123", 7, 2, time.Second, nil)
	RecordMaterializeRun(ctx, "123", 0, 0, time.Second, errors.New("boom"))
	RecordEvaluation(ctx, "123", "SOC2", true)
	RecordDriftItems(ctx, "123", 1, 0, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(2), sums["warden.materialize.runs.total"])
	assert.Equal(t, int64(7), sums["warden.materialize.assets.total"])
	assert.Equal(t, int64(2), sums["warden.materialize.documents.skipped.total"])
	assert.Equal(t, int64(1), sums["warden.compliance.evaluations.total"])
	assert.Equal(t, int64(3), sums["warden.drift.items.total"])
}
