package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a JSON logger on stdout with OTEL hooks
func NewLogger(service string) *Logger {
	return NewLoggerTo(os.Stdout, service)
}

// NewLoggerTo creates a logger writing to w
func NewLoggerTo(w io.Writer, service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for engine runs

func (l *Logger) LogRunStart(ctx context.Context, operation, account string) {
	l.WithContext(ctx).Info().
		Str("operation", operation).
		Str("account", account).
		Msg("run started")
}

func (l *Logger) LogMaterializeComplete(ctx context.Context, account string, total, protected, unprotected, skipped int, duration time.Duration) {
	l.WithContext(ctx).Info().
		Str("operation", "materialize").
		Str("account", account).
		Int("total", total).
		Int("protected", protected).
		Int("unprotected", unprotected).
		Int("skipped", skipped).
		Float64("duration_ms", float64(duration.Microseconds())/1000).
		Msg("materialization completed")
}

func (l *Logger) LogDocumentSkipped(ctx context.Context, key, reason string, err error) {
	event := l.WithContext(ctx).Warn().
		Str("document_key", key).
		Str("reason", reason)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("document skipped")
}

func (l *Logger) LogRuleConfigError(ctx context.Context, ruleID, resourceID string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("rule_id", ruleID).
		Str("resource_id", resourceID).
		Msg("rule configuration error")
}

func (l *Logger) LogStorageError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("storage operation failed")
}
