// Package observer classifies imported documents against the stored corpus
// and records the outcome as change metrics.
package observer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/storage"
	"github.com/yairfalse/warden/telemetry"
)

// ChangeType says how an imported document relates to the stored one.
type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
)

// ChangeEvent is the classification of one imported document.
type ChangeEvent struct {
	Key        string
	Kind       string
	Region     string
	ChangeType ChangeType
}

// Observe classifies docs against their current stored versions. It must
// run before the documents are written.
func Observe(ctx context.Context, corpus storage.DocumentReader, docs []document.Document) ([]ChangeEvent, error) {
	events := make([]ChangeEvent, 0, len(docs))
	for _, doc := range docs {
		previous, err := corpus.GetDocument(ctx, doc.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			events = append(events, Classify(nil, doc))
		case err != nil:
			return nil, fmt.Errorf("failed to read %s: %w", doc.Key, err)
		default:
			events = append(events, Classify(&previous, doc))
		}
	}
	return events, nil
}

// Classify compares the reported fields of current with previous. A nil
// previous means the document is new.
func Classify(previous *document.Document, current document.Document) ChangeEvent {
	event := ChangeEvent{
		Key:        current.Key,
		Kind:       extractKind(current),
		Region:     extractRegion(current),
		ChangeType: ChangeModified,
	}
	switch {
	case previous == nil:
		event.ChangeType = ChangeCreated
	case previous.Reported.Equal(current.Reported):
		event.ChangeType = ChangeUnchanged
	}
	return event
}

// Summary counts events by change type.
type Summary struct {
	Created   int `json:"created"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// Summarize counts events by change type.
func Summarize(events []ChangeEvent) Summary {
	var s Summary
	for _, e := range events {
		switch e.ChangeType {
		case ChangeCreated:
			s.Created++
		case ChangeModified:
			s.Modified++
		case ChangeUnchanged:
			s.Unchanged++
		}
	}
	return s
}

// ChangeEventMetrics records change events as OTEL metrics
type ChangeEventMetrics struct {
	documentsCreated   metric.Int64Counter
	documentsModified  metric.Int64Counter
	documentsUnchanged metric.Int64Counter
}

// NewChangeEventMetrics creates the counters on the global meter provider
func NewChangeEventMetrics() (*ChangeEventMetrics, error) {
	return newChangeEventMetrics(otel.Meter("warden.observer"))
}

func newChangeEventMetrics(meter metric.Meter) (*ChangeEventMetrics, error) {
	created, err := meter.Int64Counter(
		"warden.documents.created.total",
		metric.WithDescription("Imported documents not seen before"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	modified, err := meter.Int64Counter(
		"warden.documents.modified.total",
		metric.WithDescription("Imported documents whose reported fields changed"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	unchanged, err := meter.Int64Counter(
		"warden.documents.unchanged.total",
		metric.WithDescription("Imported documents identical to the stored version"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return &ChangeEventMetrics{
		documentsCreated:   created,
		documentsModified:  modified,
		documentsUnchanged: unchanged,
	}, nil
}

// RecordChangeEvents records a batch of change events
func (m *ChangeEventMetrics) RecordChangeEvents(ctx context.Context, events []ChangeEvent) {
	for _, event := range events {
		m.recordSingleEvent(ctx, event)
	}

	telemetry.DocumentsImported.Add(ctx, int64(len(events)))
}

func (m *ChangeEventMetrics) recordSingleEvent(ctx context.Context, event ChangeEvent) {
	attrs := metric.WithAttributes(
		attribute.String("kind", event.Kind),
		attribute.String("region", event.Region),
	)

	switch event.ChangeType {
	case ChangeCreated:
		m.documentsCreated.Add(ctx, 1, attrs)
	case ChangeModified:
		m.documentsModified.Add(ctx, 1, attrs)
	case ChangeUnchanged:
		m.documentsUnchanged.Add(ctx, 1, attrs)
	}
}

// extractKind returns the most specific kind tag
func extractKind(doc document.Document) string {
	if len(doc.Kinds) == 0 {
		return "unknown"
	}
	return doc.Kinds[len(doc.Kinds)-1]
}

func extractRegion(doc document.Document) string {
	if region := document.FirstString(doc.Raw, "reported.region", "region", "ancestors.region.reported.id"); region != "" {
		return region
	}
	return "unknown"
}
