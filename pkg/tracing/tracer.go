// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package tracing wires the OpenTelemetry SDK for the worker and exposes a
// small span API used by the durable runtime and the NATS transports.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracingManager owns the tracer provider and the propagator.
type TracingManager interface {
	// Initialize builds the pipeline described by config.
	Initialize(ctx context.Context, config *TracingConfig) error

	// StartSpan starts a span named operationName as a child of ctx.
	StartSpan(ctx context.Context, operationName string, opts ...SpanOption) (context.Context, Span)

	// SpanFromContext returns the active span, or a no-op span.
	SpanFromContext(ctx context.Context) Span

	// Inject writes the span context of ctx into carrier.
	Inject(ctx context.Context, carrier propagation.TextMapCarrier)

	// Extract returns ctx enriched with the span context found in carrier.
	Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context

	// Shutdown flushes and stops the provider.
	Shutdown(ctx context.Context) error
}

// Span is the subset of the OpenTelemetry span used by opsflow.
type Span interface {
	SetAttribute(key string, value interface{})
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, opts ...oteltrace.EventOption)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...oteltrace.EventOption)
	End(opts ...oteltrace.SpanEndOption)
	SpanContext() oteltrace.SpanContext
}

// SpanOption configures StartSpan.
type SpanOption func(*spanConfig)

type spanConfig struct {
	spanKind   oteltrace.SpanKind
	attributes []attribute.KeyValue
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind oteltrace.SpanKind) SpanOption {
	return func(c *spanConfig) {
		c.spanKind = kind
	}
}

// WithAttributes adds attributes at span start.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(c *spanConfig) {
		c.attributes = append(c.attributes, attrs...)
	}
}

// ManagerOption configures a TracingManager.
type ManagerOption func(*tracingManager)

// WithSpanExporter bypasses the exporter factory. Tests pass an in-memory exporter.
func WithSpanExporter(exporter trace.SpanExporter) ManagerOption {
	return func(tm *tracingManager) {
		tm.exporter = exporter
	}
}

type tracingManager struct {
	provider   *trace.TracerProvider
	tracer     oteltrace.Tracer
	propagator propagation.TextMapPropagator
	exporter   trace.SpanExporter
}

// NewTracingManager creates an uninitialized manager. Until Initialize is
// called every span it hands out is a no-op.
func NewTracingManager(opts ...ManagerOption) TracingManager {
	tm := &tracingManager{}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// NewNoopManager returns a manager that never records.
func NewNoopManager() TracingManager {
	return &tracingManager{}
}

func (tm *tracingManager) Initialize(ctx context.Context, config *TracingConfig) error {
	if config == nil {
		return fmt.Errorf("tracing config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid tracing config: %w", err)
	}

	tm.propagator = newPropagator(config.Propagators)
	if !config.Enabled {
		tm.tracer = otel.Tracer(config.ServiceName)
		return nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(resourceAttributes(config)...))
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := tm.exporter
	if exporter == nil {
		exporter, err = NewExporterFactory().CreateSpanExporter(ctx, config.Exporter)
		if err != nil {
			return fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	var processor trace.SpanProcessor
	if config.Exporter.Type == ExporterConsole || tm.exporter != nil {
		processor = CreateSimpleSpanProcessor(exporter)
	} else {
		processor = CreateBatchSpanProcessor(exporter)
	}

	sampler, err := newSampler(config.Sampling)
	if err != nil {
		return err
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSpanProcessor(processor),
		trace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(tm.propagator)
	tm.tracer = tm.provider.Tracer(config.ServiceName)
	return nil
}

func resourceAttributes(config *TracingConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	for key, value := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

func newSampler(config SamplingConfig) (trace.Sampler, error) {
	switch config.Type {
	case "always_on":
		return trace.AlwaysSample(), nil
	case "always_off":
		return trace.NeverSample(), nil
	case "traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(config.Rate)), nil
	default:
		return nil, fmt.Errorf("unsupported sampling type: %s", config.Type)
	}
}

func newPropagator(names []string) propagation.TextMapPropagator {
	var propagators []propagation.TextMapPropagator
	for _, name := range names {
		switch name {
		case "tracecontext":
			propagators = append(propagators, propagation.TraceContext{})
		case "baggage":
			propagators = append(propagators, propagation.Baggage{})
		}
	}
	if len(propagators) == 0 {
		propagators = append(propagators, propagation.TraceContext{})
	}
	return propagation.NewCompositeTextMapPropagator(propagators...)
}

func (tm *tracingManager) StartSpan(ctx context.Context, operationName string, opts ...SpanOption) (context.Context, Span) {
	if tm.tracer == nil {
		return ctx, noOpSpan{}
	}

	cfg := &spanConfig{spanKind: oteltrace.SpanKindInternal}
	for _, opt := range opts {
		opt(cfg)
	}
	startOpts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(cfg.spanKind)}
	if len(cfg.attributes) > 0 {
		startOpts = append(startOpts, oteltrace.WithAttributes(cfg.attributes...))
	}

	ctx, span := tm.tracer.Start(ctx, operationName, startOpts...)
	return ctx, &spanWrapper{span: span}
}

func (tm *tracingManager) SpanFromContext(ctx context.Context) Span {
	span := oteltrace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return noOpSpan{}
	}
	return &spanWrapper{span: span}
}

func (tm *tracingManager) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if tm.propagator != nil {
		tm.propagator.Inject(ctx, carrier)
	}
}

func (tm *tracingManager) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if tm.propagator == nil {
		return ctx
	}
	return tm.propagator.Extract(ctx, carrier)
}

func (tm *tracingManager) Shutdown(ctx context.Context) error {
	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// TraceIDFromContext returns the hex trace id of the active span, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type spanWrapper struct {
	span oteltrace.Span
}

func (s *spanWrapper) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *spanWrapper) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }

func (s *spanWrapper) AddEvent(name string, opts ...oteltrace.EventOption) {
	s.span.AddEvent(name, opts...)
}

func (s *spanWrapper) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *spanWrapper) RecordError(err error, opts ...oteltrace.EventOption) {
	s.span.RecordError(err, opts...)
}

func (s *spanWrapper) End(opts ...oteltrace.SpanEndOption) { s.span.End(opts...) }

func (s *spanWrapper) SpanContext() oteltrace.SpanContext { return s.span.SpanContext() }

type noOpSpan struct{}

func (noOpSpan) SetAttribute(string, interface{})            {}
func (noOpSpan) SetAttributes(...attribute.KeyValue)         {}
func (noOpSpan) AddEvent(string, ...oteltrace.EventOption)   {}
func (noOpSpan) SetStatus(codes.Code, string)                {}
func (noOpSpan) RecordError(error, ...oteltrace.EventOption) {}
func (noOpSpan) End(...oteltrace.SpanEndOption)              {}
func (noOpSpan) SpanContext() oteltrace.SpanContext          { return oteltrace.SpanContext{} }
