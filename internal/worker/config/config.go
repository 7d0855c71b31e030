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

// Package config holds the settings of the opsflow worker process.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/innovationmech/opsflow/pkg/config"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/flags"
	"github.com/innovationmech/opsflow/pkg/notify"
	"github.com/innovationmech/opsflow/pkg/tracing"
)

// History store kinds.
const (
	HistoryMemory   = "memory"
	HistoryPostgres = "postgres"
)

// WorkerConfig is the root of opsflow.yaml.
type WorkerConfig struct {
	Logging      LoggingConfig          `mapstructure:"logging" yaml:"logging"`
	HTTP         HTTPConfig             `mapstructure:"http" yaml:"http"`
	NATS         NATSConfig             `mapstructure:"nats" yaml:"nats"`
	History      HistoryConfig          `mapstructure:"history" yaml:"history"`
	Flags        FlagsConfig            `mapstructure:"flags" yaml:"flags"`
	Notify       notify.Config          `mapstructure:"notify" yaml:"notify"`
	Capabilities []RemoteCapability     `mapstructure:"capabilities" yaml:"capabilities"`
	Tracing      *tracing.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics      MetricsConfig          `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// HTTPConfig configures the health and metrics endpoint.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// NATSConfig configures the NATS connection and the control plane.
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	QueueGroup    string        `mapstructure:"queue_group" yaml:"queue_group"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	Store    string                 `mapstructure:"store" yaml:"store"`
	Postgres durable.PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// FlagsConfig configures flag evaluation.
type FlagsConfig struct {
	// File is the YAML flag file. Empty evaluates every flag to its default.
	File  string      `mapstructure:"file" yaml:"file"`
	Watch bool        `mapstructure:"watch" yaml:"watch"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig enables Redis kill-switch overrides.
type RedisConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	flags.RedisConfig `mapstructure:",squash" yaml:",inline"`
}

// RemoteCapability binds a capability id to a NATS subject.
type RemoteCapability struct {
	ID      string        `mapstructure:"id" yaml:"id"`
	Subject string        `mapstructure:"subject" yaml:"subject"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Default returns the built-in configuration.
func Default() *WorkerConfig {
	return &WorkerConfig{
		Logging: LoggingConfig{Level: "info"},
		HTTP:    HTTPConfig{Enabled: true, Address: ":9464"},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Name:          "opsflow-worker",
			SubjectPrefix: "opsflow",
			QueueGroup:    "opsflow-workers",
			Timeout:       5 * time.Second,
		},
		History: HistoryConfig{Store: HistoryMemory},
		Notify: notify.Config{
			SubjectPrefix:  notify.DefaultSubjectPrefix,
			DefaultChannel: "#ops-approvals",
			Timeout:        10 * time.Second,
		},
		Tracing: tracing.DefaultTracingConfig(),
		Metrics: MetricsConfig{Namespace: "opsflow"},
	}
}

// Load registers Default() with m, reads the layered configuration and
// validates it.
func Load(m *pkgconfig.Manager) (*WorkerConfig, error) {
	if err := m.SetDefaults(Default()); err != nil {
		return nil, fmt.Errorf("failed to register worker defaults: %w", err)
	}
	cfg := &WorkerConfig{}
	if err := m.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills the postgres defaults.
func (c *WorkerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.NATS.URL) == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if strings.TrimSpace(c.NATS.SubjectPrefix) == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required"))
	}
	switch c.History.Store {
	case HistoryMemory:
	case HistoryPostgres:
		c.History.Postgres.ApplyDefaults()
		if err := c.History.Postgres.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("history.postgres: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("history.store must be %q or %q, got %q", HistoryMemory, HistoryPostgres, c.History.Store))
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required when http is enabled"))
	}
	seen := make(map[string]struct{}, len(c.Capabilities))
	for i, capability := range c.Capabilities {
		if capability.ID == "" {
			errs = append(errs, fmt.Errorf("capabilities[%d].id is required", i))
			continue
		}
		if _, dup := seen[capability.ID]; dup {
			errs = append(errs, fmt.Errorf("capabilities[%d]: duplicate id %s", i, capability.ID))
		}
		seen[capability.ID] = struct{}{}
	}
	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
