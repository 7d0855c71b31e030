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

// Package worker runs blueprint executions: it wires the durable runtime to
// the capability registry, flag evaluation, the chat bridge and the NATS
// control plane.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/internal/worker/blueprints"
	"github.com/innovationmech/opsflow/internal/worker/config"
	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/capability"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/flags"
	"github.com/innovationmech/opsflow/pkg/logger"
	"github.com/innovationmech/opsflow/pkg/notify"
	"github.com/innovationmech/opsflow/pkg/retry"
	"github.com/innovationmech/opsflow/pkg/tracing"
)

// Conn is the NATS surface the worker needs. *nats.Conn satisfies it.
type Conn interface {
	Requester
	Subscriber
}

// Option configures a Server.
type Option func(*Server)

// WithConn uses conn instead of dialing cfg.NATS.URL.
func WithConn(conn Conn) Option {
	return func(s *Server) { s.conn = conn }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHistoryStore overrides the configured history store.
func WithHistoryStore(store durable.HistoryStore) Option {
	return func(s *Server) { s.history = store }
}

// Server is one worker process.
type Server struct {
	cfg    *config.WorkerConfig
	logger *zap.Logger

	conn    Conn
	nc      *nats.Conn
	history durable.HistoryStore

	metrics   *prometheus.Registry
	tracer    tracing.TracingManager
	registry  *capability.Registry
	overrides flags.OverrideStore
	evaluator *flags.Evaluator
	watcher   *flags.FileWatcher
	runtime   *durable.Runtime
	control   *ControlPlane
	relay     *notify.ActionRelay
	http      *HTTPServer

	closers []func() error

	mu      sync.Mutex
	started bool
	subs    []*nats.Subscription
}

// NewServer builds a worker from cfg. Nothing is served until Start.
func NewServer(ctx context.Context, cfg *config.WorkerConfig, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger().Named("worker")
	}

	if err := s.build(ctx); err != nil {
		if closeErr := s.close(); closeErr != nil {
			s.logger.Warn("cleanup after failed start", zap.Error(closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg

	s.metrics = prometheus.NewRegistry()
	s.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	durableMetrics, err := durable.NewMetricsCollector(cfg.Metrics.Namespace, s.metrics)
	if err != nil {
		return err
	}
	retryMetrics, err := retry.NewMetricsCollector(cfg.Metrics.Namespace, s.metrics)
	if err != nil {
		return err
	}
	blueprintMetrics, err := blueprint.NewMetricsCollector(cfg.Metrics.Namespace, s.metrics)
	if err != nil {
		return err
	}

	s.tracer = tracing.NewNoopManager()
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tm := tracing.NewTracingManager()
		if err := tm.Initialize(ctx, cfg.Tracing); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.tracer = tm
	}

	if s.conn == nil {
		nc, err := s.connect()
		if err != nil {
			return err
		}
		s.nc, s.conn = nc, nc
	}

	if s.history == nil {
		switch cfg.History.Store {
		case config.HistoryPostgres:
			store, err := durable.NewPostgresHistoryStore(&cfg.History.Postgres)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			s.history = store
			s.closers = append(s.closers, store.Close)
		default:
			s.history = durable.NewMemoryHistoryStore()
		}
	}

	if cfg.Flags.Redis.Enabled {
		store, err := flags.NewRedisOverrideStore(ctx, cfg.Flags.Redis.RedisConfig)
		if err != nil {
			return fmt.Errorf("failed to connect flag override store: %w", err)
		}
		s.overrides = store
		s.closers = append(s.closers, store.Close)
	} else {
		s.overrides = flags.NewMemoryOverrideStore()
	}
	s.evaluator = flags.NewEvaluator(nil, flags.WithOverrideStore(s.overrides))
	if cfg.Flags.File != "" {
		if s.watcher, err = flags.NewFileWatcher(cfg.Flags.File, s.evaluator); err != nil {
			return err
		}
		s.watcher.OnReload(func(set *flags.Set, err error) {
			if err != nil {
				s.logger.Warn("flag file rejected, keeping previous flags", zap.Error(err))
			}
		})
	}

	if s.registry, err = s.buildRegistry(); err != nil {
		return err
	}

	s.runtime = durable.NewRuntime(
		durable.WithHistoryStore(s.history),
		durable.WithLogger(s.logger.Named("durable")),
		durable.WithMetrics(durableMetrics),
		durable.WithRetryMetrics(retryMetrics),
		durable.WithTracer(s.tracer),
	)
	capability.RegisterActivities(s.runtime, s.registry)
	flags.RegisterActivities(s.runtime, s.evaluator)
	notify.RegisterActivities(s.runtime, notify.NewNotifier(s.conn, cfg.Notify))
	if err := blueprints.Register(s.runtime, blueprintMetrics); err != nil {
		return fmt.Errorf("failed to register blueprints: %w", err)
	}

	s.control = NewControlPlane(s.runtime, cfg.NATS.SubjectPrefix)
	s.relay = notify.NewActionRelay(s.runtime)

	if cfg.HTTP.Enabled {
		s.http = NewHTTPServer(cfg.HTTP.Address, s.metrics, map[string]HealthCheck{
			"nats": s.checkNATS,
		}, s.logger.Named("http"))
	}
	return nil
}

func (s *Server) connect() (*nats.Conn, error) {
	log := s.logger.Named("nats")
	nc, err := nats.Connect(s.cfg.NATS.URL,
		nats.Name(s.cfg.NATS.Name),
		nats.Timeout(s.cfg.NATS.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", s.cfg.NATS.URL, err)
	}
	return nc, nil
}

// buildRegistry registers the flag capabilities, every configured remote
// and a default remote for each capability a shipped blueprint needs.
func (s *Server) buildRegistry() (*capability.Registry, error) {
	registry := capability.NewRegistry().WithLogger(s.logger.Named("capability"))
	local, err := flagCapabilities(s.overrides)
	if err != nil {
		return nil, err
	}
	for _, c := range local {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	configured := make(map[string]struct{}, len(s.cfg.Capabilities))
	for _, rc := range s.cfg.Capabilities {
		if err := registry.Register(capability.NewRemote(rc.ID, rc.Subject, s.conn, rc.Timeout)); err != nil {
			return nil, err
		}
		configured[rc.ID] = struct{}{}
	}
	for _, id := range blueprints.RequiredCapabilities {
		if _, ok := configured[id]; ok {
			continue
		}
		if err := registry.Register(capability.NewRemote(id, "", s.conn, 0)); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	s.logger.Info("capability registry sealed", zap.Strings("capabilities", registry.IDs()))
	return registry, nil
}

func (s *Server) checkNATS(context.Context) error {
	if s.nc != nil && !s.nc.IsConnected() {
		return errors.New(s.nc.Status().String())
	}
	return nil
}

// Start loads flags, resumes open executions and begins serving.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("worker already started")
	}

	if s.watcher != nil {
		var err error
		if s.cfg.Flags.Watch {
			err = s.watcher.Start(ctx)
		} else {
			err = s.watcher.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load flags: %w", err)
		}
	}

	resumed, err := s.runtime.ResumeAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to resume executions: %w", err)
	}
	if len(resumed) > 0 {
		s.logger.Info("resumed open executions", zap.Strings("workflow_ids", resumed))
	}

	queue := s.cfg.NATS.QueueGroup
	subs, err := s.control.Serve(ctx, s.conn, queue)
	s.subs = append(s.subs, subs...)
	if err != nil {
		return err
	}
	relaySub, err := s.relay.Serve(s.conn, s.cfg.Notify.SubjectPrefix, queue)
	if err != nil {
		return fmt.Errorf("failed to subscribe chat actions: %w", err)
	}
	s.subs = append(s.subs, relaySub)

	if s.http != nil {
		if err := s.http.Start(); err != nil {
			return err
		}
	}
	s.started = true
	s.logger.Info("worker started",
		zap.String("subject_prefix", s.cfg.NATS.SubjectPrefix),
		zap.String("queue_group", queue))
	return nil
}

// Stop unsubscribes, stops every collaborator and releases connections.
// In-flight executions stay in the history store and resume on the next
// start.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.started = false
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}
	if s.http != nil {
		errs = append(errs, s.http.Stop(ctx))
	}
	if s.watcher != nil {
		errs = append(errs, s.watcher.Stop())
	}
	s.runtime.Close()
	errs = append(errs, s.tracer.Shutdown(ctx), s.close())
	s.logger.Info("worker stopped")
	return errors.Join(errs...)
}

func (s *Server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	return errors.Join(errs...)
}

// Runtime returns the durable runtime.
func (s *Server) Runtime() *durable.Runtime { return s.runtime }

// Registry returns the sealed capability registry.
func (s *Server) Registry() *capability.Registry { return s.registry }

// Evaluator returns the flag evaluator.
func (s *Server) Evaluator() *flags.Evaluator { return s.evaluator }

// Gatherer returns the metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer { return s.metrics }

// HTTP returns the HTTP server, or nil when disabled.
func (s *Server) HTTP() *HTTPServer { return s.http }
