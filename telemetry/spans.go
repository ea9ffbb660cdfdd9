package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunSpan represents one materialization, evaluation or drift run
type RunSpan struct {
	span trace.Span
}

// StartMaterialize starts a materialization span
func StartMaterialize(ctx context.Context, account string) (context.Context, *RunSpan) {
	ctx, span := Tracer.Start(ctx, "materialize",
		trace.WithAttributes(attribute.String("account", account)),
	)
	return ctx, &RunSpan{span: span}
}

// StartEvaluation starts a compliance evaluation span
func StartEvaluation(ctx context.Context, account, framework string) (context.Context, *RunSpan) {
	ctx, span := Tracer.Start(ctx, "compliance.evaluate",
		trace.WithAttributes(
			attribute.String("account", account),
			attribute.String("framework", framework),
		),
	)
	return ctx, &RunSpan{span: span}
}

// StartDriftScan starts a drift overview span
func StartDriftScan(ctx context.Context, account string) (context.Context, *RunSpan) {
	ctx, span := Tracer.Start(ctx, "drift.scan",
		trace.WithAttributes(attribute.String("account", account)),
	)
	return ctx, &RunSpan{span: span}
}

// Span returns the underlying span
func (r *RunSpan) Span() trace.Span {
	return r.span
}

// SetAssetCounts sets the materialized asset counts
func (r *RunSpan) SetAssetCounts(total, protected, unprotected, skipped int) {
	r.span.SetAttributes(
		attribute.Int("assets.total", total),
		attribute.Int("assets.protected", protected),
		attribute.Int("assets.unprotected", unprotected),
		attribute.Int("documents.skipped", skipped),
	)
}

// SetRuleCounts sets the evaluated rule counts
func (r *RunSpan) SetRuleCounts(total, passed, failed int, score float64) {
	r.span.SetAttributes(
		attribute.Int("rules.total", total),
		attribute.Int("rules.passed", passed),
		attribute.Int("rules.failed", failed),
		attribute.Float64("score", score),
	)
}

// SetDriftCounts sets the drift summary counts
func (r *RunSpan) SetDriftCounts(total, drifting int) {
	r.span.SetAttributes(
		attribute.Int("resources.total", total),
		attribute.Int("resources.drifting", drifting),
	)
}

// Fail records err on the span
func (r *RunSpan) Fail(err error) {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
}

// End ends the span
func (r *RunSpan) End() {
	r.span.End()
}

// RecordDocumentSkippedEvent records a document the materializer dropped
func RecordDocumentSkippedEvent(span trace.Span, key, reason string) {
	if span == nil {
		return
	}
	span.AddEvent("document.skipped", trace.WithAttributes(
		attribute.String("document.key", key),
		attribute.String("reason", reason),
	))
}

// RecordRuleErrorEvent records a rule configuration error
func RecordRuleErrorEvent(span trace.Span, ruleID, resourceID, message string) {
	if span == nil {
		return
	}
	span.AddEvent("compliance.rule.error", trace.WithAttributes(
		attribute.String("rule.id", ruleID),
		attribute.String("resource.id", resourceID),
		attribute.String("message", message),
	))
}
