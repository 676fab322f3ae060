package engine

import (
	"context"
	"time"

	"github.com/roach88/relfill/internal/schema"
)

// Attr is a key/value annotation on a span.
type Attr struct {
	Key   string
	Value string
}

// Span is one traced unit of work. End records err (nil on success) and
// closes the span.
type Span interface {
	End(err error)
}

// Tracer opens spans around fills and relation writes. The tracing package
// provides an OpenTelemetry implementation.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attr) (context.Context, Span)
}

// MetricsRecorder receives fill and relation outcomes. The metrics package
// provides a Prometheus implementation.
type MetricsRecorder interface {
	// FillCompleted is called once per Fill or Create with its error, nil
	// on success. Use CodeOf to classify it.
	FillCompleted(entityType string, err error, elapsed time.Duration)

	// RelationWritten is called after every successful relation write.
	RelationWritten(kind schema.RelationKind, report ChangeReport)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...Attr) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopMetrics struct{}

func (noopMetrics) FillCompleted(string, error, time.Duration) {}
func (noopMetrics) RelationWritten(schema.RelationKind, ChangeReport) {}
