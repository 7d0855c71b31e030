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
	"fmt"
	"time"
)

// Exporter types understood by the exporter factory.
const (
	ExporterConsole = "console"
	ExporterOTLP    = "otlp"
)

// TracingConfig configures the OpenTelemetry pipeline of the worker.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	Sampling SamplingConfig `yaml:"sampling" mapstructure:"sampling"`
	Exporter ExporterConfig `yaml:"exporter" mapstructure:"exporter"`

	ResourceAttributes map[string]string `yaml:"resource_attributes" mapstructure:"resource_attributes"`
	Propagators        []string          `yaml:"propagators" mapstructure:"propagators"`
}

// SamplingConfig selects the sampler. Type is one of always_on, always_off or traceidratio.
type SamplingConfig struct {
	Type string  `yaml:"type" mapstructure:"type"`
	Rate float64 `yaml:"rate" mapstructure:"rate"`
}

// ExporterConfig selects where spans go.
type ExporterConfig struct {
	Type     string            `yaml:"type" mapstructure:"type"`
	Endpoint string            `yaml:"endpoint" mapstructure:"endpoint"`
	Headers  map[string]string `yaml:"headers" mapstructure:"headers"`
	Timeout  string            `yaml:"timeout" mapstructure:"timeout"`
	Insecure bool              `yaml:"insecure" mapstructure:"insecure"`

	// Compression is gzip or none.
	Compression string `yaml:"compression" mapstructure:"compression"`
}

// DefaultTracingConfig returns tracing disabled with a console exporter preset.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		Enabled:     false,
		ServiceName: "opsflow-worker",
		Sampling: SamplingConfig{
			Type: "traceidratio",
			Rate: 0.1,
		},
		Exporter: ExporterConfig{
			Type:    ExporterConsole,
			Timeout: "10s",
		},
		ResourceAttributes: map[string]string{
			"deployment.environment": "development",
		},
		Propagators: []string{"tracecontext", "baggage"},
	}
}

// Validate checks the configuration. A disabled configuration is always valid.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when tracing is enabled")
	}
	if err := c.Sampling.Validate(); err != nil {
		return fmt.Errorf("sampling configuration invalid: %w", err)
	}
	if err := c.Exporter.Validate(); err != nil {
		return fmt.Errorf("exporter configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the sampler type and rate.
func (s *SamplingConfig) Validate() error {
	switch s.Type {
	case "always_on", "always_off":
	case "traceidratio":
		if s.Rate < 0.0 || s.Rate > 1.0 {
			return fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %f", s.Rate)
		}
	case "":
		return fmt.Errorf("sampling type is required")
	default:
		return fmt.Errorf("unsupported sampling type: %s", s.Type)
	}
	return nil
}

// Validate checks the exporter type, endpoint and timeout.
func (e *ExporterConfig) Validate() error {
	switch e.Type {
	case ExporterConsole:
	case ExporterOTLP:
		if e.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires endpoint")
		}
	case "":
		return fmt.Errorf("exporter type is required")
	default:
		return fmt.Errorf("unsupported exporter type: %s", e.Type)
	}

	switch e.Compression {
	case "", "gzip", "none":
	default:
		return fmt.Errorf("unsupported compression: %s", e.Compression)
	}

	if e.Timeout != "" {
		if _, err := time.ParseDuration(e.Timeout); err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
	}
	return nil
}

// GetTimeout returns the parsed timeout, or 10s when unset or malformed.
func (e *ExporterConfig) GetTimeout() time.Duration {
	if e.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
