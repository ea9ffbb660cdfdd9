package emitter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/warden/pkg/resource"
)

// PrometheusEmitter exposes the latest asset set of every account as OTEL
// gauges scraped through the Prometheus exporter.
type PrometheusEmitter struct {
	meter metric.Meter

	assetInfo          metric.Int64ObservableGauge
	postureScore       metric.Float64ObservableGauge
	statusChangesTotal metric.Int64Counter

	// State for observable gauges, keyed by account id
	mu     sync.RWMutex
	latest map[string]resource.RunReport

	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on meter, or on the
// global meter provider when meter is nil.
func NewPrometheusEmitter(meter metric.Meter) (*PrometheusEmitter, error) {
	if meter == nil {
		meter = otel.Meter("github.com/yairfalse/warden")
	}

	e := &PrometheusEmitter{
		meter:       meter,
		latest:      make(map[string]resource.RunReport),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.assetInfo, err = e.meter.Int64ObservableGauge(
		"warden_asset_info",
		metric.WithDescription("Materialized asset with its protection status"),
		metric.WithInt64Callback(e.observeAssets),
	)
	if err != nil {
		return fmt.Errorf("create asset_info gauge: %w", err)
	}

	e.postureScore, err = e.meter.Float64ObservableGauge(
		"warden_posture_score",
		metric.WithDescription("Share of protected assets per account, 0 to 100"),
		metric.WithFloat64Callback(e.observeScores),
	)
	if err != nil {
		return fmt.Errorf("create posture_score gauge: %w", err)
	}

	e.statusChangesTotal, err = e.meter.Int64Counter(
		"warden_asset_status_changes_total",
		metric.WithDescription("Asset changes detected between materialization runs"),
	)
	if err != nil {
		return fmt.Errorf("create status_changes counter: %w", err)
	}

	return nil
}

// Emit records the run's asset set. Failed runs keep the previous state.
func (e *PrometheusEmitter) Emit(ctx context.Context, report resource.RunReport) error {
	if report.Error != nil {
		log.Warn().
			Err(report.Error).
			Str("account", report.Identifier).
			Msg("materialization failed, keeping previous asset gauges")
		return nil
	}

	e.emitDiffs(ctx, report)

	e.mu.Lock()
	e.latest[report.AccountID] = report
	e.mu.Unlock()

	e.diffTracker.Update(report.AccountID, report.Assets)

	log.Debug().
		Str("account", report.Identifier).
		Int("assets", len(report.Assets)).
		Dur("duration", report.Duration).
		Msg("asset gauges updated")

	return nil
}

func (e *PrometheusEmitter) emitDiffs(ctx context.Context, report resource.RunReport) {
	diffs := e.diffTracker.ComputeDiff(report.AccountID, report.Assets)
	if diffs == nil {
		// First run of the account establishes the baseline
		return
	}

	for _, diff := range diffs {
		e.statusChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("account", report.Identifier),
			attribute.String("service", diff.Asset.Service),
			attribute.String("kind", diff.Asset.Kind),
			attribute.String("change_type", string(diff.Type)),
		))

		logEvent := log.Info().
			Str("account", report.Identifier).
			Str("resource_id", diff.Asset.ResourceID).
			Str("kind", diff.Asset.Kind).
			Str("change", string(diff.Type))

		if diff.Type == resource.DiffModified {
			for field, change := range diff.Changes {
				logEvent = logEvent.
					Str(field+".from", change.Previous).
					Str(field+".to", change.Current)
			}
		}

		logEvent.Msg("asset changed")
	}
}

func (e *PrometheusEmitter) observeAssets(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, report := range e.latest {
		for _, a := range report.Assets {
			attrs := []attribute.KeyValue{
				attribute.String("account", report.Identifier),
				attribute.String("provider", string(a.Provider)),
				attribute.String("service", a.Service),
				attribute.String("kind", a.Kind),
				attribute.String("resource_id", a.ResourceID),
				attribute.String("status", string(a.Status)),
			}
			if a.Region != "" {
				attrs = append(attrs, attribute.String("region", a.Region))
			}
			o.Observe(1, metric.WithAttributes(attrs...))
		}
	}

	return nil
}

func (e *PrometheusEmitter) observeScores(_ context.Context, o metric.Float64Observer) error {
	for identifier, score := range e.Scores() {
		o.Observe(score, metric.WithAttributes(attribute.String("account", identifier)))
	}
	return nil
}

// Scores returns the protected share of every emitted account, keyed by
// account identifier.
func (e *PrometheusEmitter) Scores() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	scores := make(map[string]float64, len(e.latest))
	for _, report := range e.latest {
		score := 0.0
		if report.Result.Total > 0 {
			score = math.Round(float64(report.Result.Protected) / float64(report.Result.Total) * 100)
		}
		scores[report.Identifier] = score
	}
	return scores
}

// Accounts returns the identifiers of every emitted account, sorted.
func (e *PrometheusEmitter) Accounts() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts := make([]string, 0, len(e.latest))
	for _, report := range e.latest {
		accounts = append(accounts, report.Identifier)
	}
	sort.Strings(accounts)
	return accounts
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
