package service

import "context"

// Tracer is a narrow span-emitting seam for components that want optional
// tracing without taking a hard dependency on a tracing backend. It is
// satisfied trivially by NoopTracer and can be adapted to any real tracer.
type Tracer interface {
	// StartSpan begins a span named name and returns a context carrying it
	// plus a function that ends the span.
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

// NoopTracer discards all spans.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}
