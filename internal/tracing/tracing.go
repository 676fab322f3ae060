// Package tracing adapts OpenTelemetry to the engine's Tracer interface.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/relfill/internal/engine"
)

// InstrumentationName identifies relfill spans.
const InstrumentationName = "github.com/roach88/relfill"

// Tracer implements engine.Tracer on an OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

var _ engine.Tracer = (*Tracer)(nil)

// New returns a Tracer backed by tp. A nil tp uses the global provider.
func New(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(InstrumentationName)}
}

// Start implements engine.Tracer.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...engine.Attr) (context.Context, engine.Span) {
	kv := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		kv[i] = attribute.String(a.Key, a.Value)
	}
	ctx, s := t.tracer.Start(ctx, name, trace.WithAttributes(kv...))
	return ctx, span{s}
}

type span struct {
	s trace.Span
}

// End records err on the span, tagging fill errors with their code.
func (sp span) End(err error) {
	if err != nil {
		sp.s.RecordError(err)
		sp.s.SetStatus(codes.Error, err.Error())
		if code := engine.CodeOf(err); code != "" {
			sp.s.SetAttributes(attribute.String("relfill.error_code", string(code)))
		}
	} else {
		sp.s.SetStatus(codes.Ok, "")
	}
	sp.s.End()
}

// NewStdoutProvider returns a provider that writes every span to w as
// indented JSON as soon as it ends. Shut it down to flush the exporter.
func NewStdoutProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", "relfill"))
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	), nil
}
