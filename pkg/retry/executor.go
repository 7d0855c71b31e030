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

package retry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/logger"
)

// RetryableFunc is a function that can be retried. attempt is 1-indexed.
type RetryableFunc func(ctx context.Context, attempt int) (interface{}, error)

// RetryPolicy decides whether and when to retry.
type RetryPolicy interface {
	// ShouldRetry determines if an operation should be retried.
	ShouldRetry(err error, attempt int) bool

	// GetRetryDelay returns the delay before the next retry attempt.
	GetRetryDelay(attempt int) time.Duration

	// GetMaxAttempts returns the maximum number of attempts.
	GetMaxAttempts() int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor executes operations with retry logic based on a retry policy.
type Executor struct {
	policy  RetryPolicy
	logger  *zap.Logger
	metrics *MetricsCollector
	sleep   SleepFunc
	name    string

	// onRetry is called before each retry attempt (optional)
	onRetry func(attempt int, err error, delay time.Duration)
}

// ExecutorOption is a functional option for configuring the Executor.
type ExecutorOption func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithMetrics adds metrics collection to the executor.
func WithMetrics(collector *MetricsCollector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = collector
	}
}

// WithSleeper replaces the wait between attempts. Tests use it to avoid real delays.
func WithSleeper(sleep SleepFunc) ExecutorOption {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithOperationName labels log lines and metrics with the operation being retried.
func WithOperationName(name string) ExecutorOption {
	return func(e *Executor) {
		e.name = name
	}
}

// NewExecutor creates a new retry executor with the given policy and options.
func NewExecutor(policy RetryPolicy, opts ...ExecutorOption) *Executor {
	if policy == nil {
		policy = NewFixedIntervalPolicy(NoRetryConfig(), 0)
	}

	executor := &Executor{
		policy: policy,
		logger: logger.GetLogger().Named("retry"),
		sleep:  contextSleep,
		name:   "operation",
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// OnRetry sets a callback that is called before each retry attempt.
func (e *Executor) OnRetry(callback func(attempt int, err error, delay time.Duration)) *Executor {
	e.onRetry = callback
	return e
}

// Execute runs fn until it succeeds, the policy gives up, or ctx is done.
// The error returned after exhaustion wraps both ErrMaxRetriesExceeded and the last error.
func (e *Executor) Execute(ctx context.Context, fn RetryableFunc) (*RetryResult, error) {
	startTime := time.Now()
	maxAttempts := e.policy.GetMaxAttempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			e.metrics.recordAborted(e.name, "context_cancelled")
			return nil, err
		}

		e.metrics.recordAttempt(e.name, attempt)
		result, err := fn(ctx, attempt)
		if err == nil {
			e.metrics.recordSuccess(e.name, attempt, time.Since(startTime))
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					zap.String("operation", e.name),
					zap.Int("attempt", attempt),
				)
			}
			return &RetryResult{
				Result:        result,
				Attempts:      attempt,
				TotalDuration: time.Since(startTime),
			}, nil
		}
		lastErr = err

		if !e.policy.ShouldRetry(err, attempt) {
			if attempt < maxAttempts {
				e.logger.Warn("non-retryable error, giving up",
					zap.String("operation", e.name),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				e.metrics.recordFailure(e.name, time.Since(startTime), "non_retryable")
				return nil, err
			}
			break
		}

		delay := e.policy.GetRetryDelay(attempt)
		e.logger.Info("retrying after error",
			zap.String("operation", e.name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.onRetry != nil {
			e.onRetry(attempt, err, delay)
		}
		if delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				e.metrics.recordAborted(e.name, "context_cancelled")
				return nil, err
			}
		}
	}

	e.metrics.recordFailure(e.name, time.Since(startTime), "max_attempts_exceeded")
	if maxAttempts <= 1 {
		return nil, lastErr
	}
	e.logger.Error("all retry attempts exhausted",
		zap.String("operation", e.name),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, maxAttempts, lastErr)
}

// Do executes fn with retry and returns only its result.
func (e *Executor) Do(ctx context.Context, fn RetryableFunc) (interface{}, error) {
	result, err := e.Execute(ctx, fn)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MetricsCollector records retry behaviour in Prometheus.
type MetricsCollector struct {
	attemptsTotal     *prometheus.CounterVec
	successTotal      *prometheus.CounterVec
	failureTotal      *prometheus.CounterVec
	abortedTotal      *prometheus.CounterVec
	durationHistogram *prometheus.HistogramVec
}

// NewMetricsCollector creates a collector and registers it with registerer.
func NewMetricsCollector(namespace string, registerer prometheus.Registerer) (*MetricsCollector, error) {
	if namespace == "" {
		namespace = "opsflow"
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	c := &MetricsCollector{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of attempts made by the retry executor",
		}, []string{"operation", "attempt"}),
		successTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "success_total",
			Help:      "Total number of operations that eventually succeeded",
		}, []string{"operation", "attempts"}),
		failureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "failure_total",
			Help:      "Total number of operations that failed after retrying",
		}, []string{"operation", "reason"}),
		abortedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "aborted_total",
			Help:      "Total number of retry loops aborted by cancellation",
		}, []string{"operation", "reason"}),
		durationHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "duration_seconds",
			Help:      "Duration of retried operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		}, []string{"operation", "status"}),
	}

	for _, metric := range []prometheus.Collector{
		c.attemptsTotal, c.successTotal, c.failureTotal, c.abortedTotal, c.durationHistogram,
	} {
		if err := registerer.Register(metric); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return c, nil
}

func attemptLabel(attempt int) string {
	if attempt > 5 {
		return "5+"
	}
	return strconv.Itoa(attempt)
}

func (c *MetricsCollector) recordAttempt(op string, attempt int) {
	if c == nil {
		return
	}
	c.attemptsTotal.WithLabelValues(op, attemptLabel(attempt)).Inc()
}

func (c *MetricsCollector) recordSuccess(op string, attempts int, d time.Duration) {
	if c == nil {
		return
	}
	c.successTotal.WithLabelValues(op, attemptLabel(attempts)).Inc()
	c.durationHistogram.WithLabelValues(op, "success").Observe(d.Seconds())
}

func (c *MetricsCollector) recordFailure(op string, d time.Duration, reason string) {
	if c == nil {
		return
	}
	c.failureTotal.WithLabelValues(op, reason).Inc()
	c.durationHistogram.WithLabelValues(op, "failure").Observe(d.Seconds())
}

func (c *MetricsCollector) recordAborted(op, reason string) {
	if c == nil {
		return
	}
	c.abortedTotal.WithLabelValues(op, reason).Inc()
}
