// Package telemetry holds the global OTEL handles, span helpers and the
// zerolog logger shared by the engine.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/yairfalse/warden"

// Global telemetry handles. They are created from the global providers and
// start exporting once a provider is installed.
var (
	Tracer = otel.Tracer(instrumentationName)
	Meter  = otel.Meter(instrumentationName)

	MaterializeRuns       metric.Int64Counter
	MaterializeAssets     metric.Int64Counter
	MaterializeDuration   metric.Float64Histogram
	DocumentsSkipped      metric.Int64Counter
	DocumentsImported     metric.Int64Counter
	ComplianceEvaluations metric.Int64Counter
	DriftItems            metric.Int64Counter
)

func init() {
	if err := InitMetrics(Meter); err != nil {
		_ = InitMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
}

// InitMetrics creates every instrument from meter
func InitMetrics(meter metric.Meter) error {
	var err error

	MaterializeRuns, err = meter.Int64Counter("warden.materialize.runs.total",
		metric.WithDescription("Total number of materialization runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create materialize_runs counter: %w", err)
	}

	MaterializeAssets, err = meter.Int64Counter("warden.materialize.assets.total",
		metric.WithDescription("Total number of assets written by materialization"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create materialize_assets counter: %w", err)
	}

	MaterializeDuration, err = meter.Float64Histogram("warden.materialize.duration.seconds",
		metric.WithDescription("Duration of materialization runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create materialize_duration histogram: %w", err)
	}

	DocumentsSkipped, err = meter.Int64Counter("warden.materialize.documents.skipped.total",
		metric.WithDescription("Documents skipped during materialization"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create documents_skipped counter: %w", err)
	}

	DocumentsImported, err = meter.Int64Counter("warden.documents.imported.total",
		metric.WithDescription("Documents imported into the document store"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create documents_imported counter: %w", err)
	}

	ComplianceEvaluations, err = meter.Int64Counter("warden.compliance.evaluations.total",
		metric.WithDescription("Total number of compliance evaluations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create compliance_evaluations counter: %w", err)
	}

	DriftItems, err = meter.Int64Counter("warden.drift.items.total",
		metric.WithDescription("Drifting resources reported by drift scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create drift_items counter: %w", err)
	}

	return nil
}

// RecordMaterializeRun records one materialization run
func RecordMaterializeRun(ctx context.Context, account string, assets, skipped int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("status", status),
	)

	MaterializeRuns.Add(ctx, 1, attrs)
	MaterializeDuration.Record(ctx, duration.Seconds(), attrs)
	if err == nil {
		MaterializeAssets.Add(ctx, int64(assets), metric.WithAttributes(attribute.String("account", account)))
	}
	if skipped > 0 {
		DocumentsSkipped.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("account", account)))
	}
}

// RecordEvaluation records one compliance evaluation
func RecordEvaluation(ctx context.Context, account, framework string, passed bool) {
	ComplianceEvaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("framework", framework),
		attribute.Bool("passed", passed),
	))
}

// RecordDriftItems records the drifting resources of one scan by severity
func RecordDriftItems(ctx context.Context, account string, high, medium, low int) {
	for severity, n := range map[string]int{"high": high, "medium": medium, "low": low} {
		if n == 0 {
			continue
		}
		DriftItems.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("account", account),
			attribute.String("severity", severity),
		))
	}
}
