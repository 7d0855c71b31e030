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

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingManager(t *testing.T) (TracingManager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tm := NewTracingManager(WithSpanExporter(exporter))
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Sampling = SamplingConfig{Type: "always_on"}
	require.NoError(t, tm.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = tm.Shutdown(context.Background()) })
	return tm, exporter
}

func TestTracingManager_Initialize(t *testing.T) {
	tests := []struct {
		name    string
		config  *TracingConfig
		wantErr string
	}{
		{name: "nil config", config: nil, wantErr: "tracing config cannot be nil"},
		{name: "missing service name", config: &TracingConfig{Enabled: true}, wantErr: "invalid tracing config"},
		{name: "disabled", config: &TracingConfig{ServiceName: "opsflow-test"}},
		{
			name: "console",
			config: &TracingConfig{
				Enabled:     true,
				ServiceName: "opsflow-test",
				Sampling:    SamplingConfig{Type: "always_on"},
				Exporter:    ExporterConfig{Type: ExporterConsole},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTracingManager()
			err := tm.Initialize(context.Background(), tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, tm.Shutdown(context.Background()))
		})
	}
}

func TestTracingManager_StartSpanRecords(t *testing.T) {
	tm, exporter := newRecordingManager(t)

	ctx, span := tm.StartSpan(context.Background(), "activity capability.execute",
		WithAttributes(attribute.String("opsflow.workflow_id", "wf-1")))
	span.SetAttribute("attempt", 2)
	span.RecordError(errors.New("boom"))
	span.SetStatus(codes.Error, "boom")
	assert.True(t, tm.SpanFromContext(ctx).SpanContext().IsValid())
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "activity capability.execute", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("opsflow.workflow_id", "wf-1"))
	assert.Contains(t, spans[0].Attributes, attribute.Int("attempt", 2))
}

func TestTracingManager_PropagatesThroughCarrier(t *testing.T) {
	tm, _ := newRecordingManager(t)

	ctx, span := tm.StartSpan(context.Background(), "publish")
	defer span.End()

	carrier := propagation.MapCarrier{}
	tm.Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))

	remote := tm.Extract(context.Background(), carrier)
	assert.Equal(t, TraceIDFromContext(ctx), TraceIDFromContext(remote))
}

func TestTracingManager_Uninitialized(t *testing.T) {
	tm := NewNoopManager()

	ctx, span := tm.StartSpan(context.Background(), "noop")
	span.SetAttribute("k", "v")
	span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.False(t, tm.SpanFromContext(ctx).SpanContext().IsValid())
	assert.Equal(t, "", TraceIDFromContext(ctx))

	carrier := propagation.MapCarrier{}
	tm.Inject(ctx, carrier)
	assert.Empty(t, carrier.Keys())
	assert.NoError(t, tm.Shutdown(context.Background()))
}
