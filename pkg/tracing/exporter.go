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
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ExporterFactory builds span exporters from configuration.
type ExporterFactory interface {
	CreateSpanExporter(ctx context.Context, config ExporterConfig) (trace.SpanExporter, error)
}

type exporterFactory struct{}

// NewExporterFactory returns the default factory.
func NewExporterFactory() ExporterFactory {
	return &exporterFactory{}
}

// CreateSpanExporter builds a console or OTLP exporter.
func (f *exporterFactory) CreateSpanExporter(ctx context.Context, config ExporterConfig) (trace.SpanExporter, error) {
	switch config.Type {
	case ExporterConsole:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		return exporter, nil
	case ExporterOTLP:
		if config.Endpoint == "" {
			return nil, fmt.Errorf("otlp exporter requires endpoint")
		}
		if usesHTTPProtocol(config.Endpoint) {
			return f.createOTLPHTTPExporter(ctx, config)
		}
		return f.createOTLPGRPCExporter(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.Type)
	}
}

// usesHTTPProtocol treats endpoints on the standard OTLP/HTTP path as HTTP, everything else as gRPC.
func usesHTTPProtocol(endpoint string) bool {
	return strings.HasSuffix(endpoint, "/v1/traces")
}

func (f *exporterFactory) createOTLPHTTPExporter(ctx context.Context, config ExporterConfig) (trace.SpanExporter, error) {
	endpoint := config.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	host, path, _ := strings.Cut(endpoint, "/")

	options := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithURLPath("/" + path),
		otlptracehttp.WithTimeout(config.GetTimeout()),
	}
	if config.Insecure || strings.HasPrefix(config.Endpoint, "http://") {
		options = append(options, otlptracehttp.WithInsecure())
	}
	if len(config.Headers) > 0 {
		options = append(options, otlptracehttp.WithHeaders(config.Headers))
	}
	switch config.Compression {
	case "gzip":
		options = append(options, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	case "none":
		options = append(options, otlptracehttp.WithCompression(otlptracehttp.NoCompression))
	}

	exporter, err := otlptracehttp.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp http exporter: %w", err)
	}
	return exporter, nil
}

func (f *exporterFactory) createOTLPGRPCExporter(ctx context.Context, config ExporterConfig) (trace.SpanExporter, error) {
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithTimeout(config.GetTimeout()),
	}
	if config.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	if len(config.Headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(config.Headers))
	}
	if config.Compression == "gzip" {
		options = append(options, otlptracegrpc.WithCompressor("gzip"))
	}

	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp grpc exporter: %w", err)
	}
	return exporter, nil
}

// CreateBatchSpanProcessor wraps exporter in a batching processor.
func CreateBatchSpanProcessor(exporter trace.SpanExporter) trace.SpanProcessor {
	return trace.NewBatchSpanProcessor(exporter,
		trace.WithBatchTimeout(5*time.Second),
		trace.WithMaxExportBatchSize(512),
		trace.WithMaxQueueSize(2048),
	)
}

// CreateSimpleSpanProcessor exports every span synchronously on End.
func CreateSimpleSpanProcessor(exporter trace.SpanExporter) trace.SpanProcessor {
	return trace.NewSimpleSpanProcessor(exporter)
}
