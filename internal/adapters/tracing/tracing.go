package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ScopeName names the tracer handed to the relay.
const ScopeName = "github.com/ZanzyTHEbar/visionrelay"

// Provider owns a tracer and how to flush it.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// New builds a provider for mode. "none" and "" return a no-op provider;
// "stdout" writes finished spans to w as JSON.
func New(mode string, w io.Writer) (*Provider, error) {
	switch mode {
	case "", "none":
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return NewWithProcessor(sdktrace.NewBatchSpanProcessor(exp)), nil
	default:
		return nil, fmt.Errorf("unknown tracing mode %q", mode)
	}
}

// NewWithProcessor builds an SDK provider around sp.
func NewWithProcessor(sp sdktrace.SpanProcessor) *Provider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sp))
	return &Provider{tp: tp, shutdown: tp.Shutdown}
}

// Tracer returns the relay's tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tp.Tracer(ScopeName) }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }
