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

package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/innovationmech/opsflow/pkg/retry"
	"github.com/innovationmech/opsflow/pkg/tracing"
)

type activityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// RegisterActivity registers a typed activity under name. Input and output
// cross the workflow boundary as JSON.
func RegisterActivity[In, Out any](r *Runtime, name string, fn func(ctx context.Context, input In) (Out, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[name] = func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("failed to decode activity input: %w", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}

// HasActivity reports whether name is registered.
func (r *Runtime) HasActivity(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.activities[name]
	return ok
}

func (p *RetryPolicy) toRetryPolicy() retry.RetryPolicy {
	if p == nil {
		return retry.NewFixedIntervalPolicy(retry.NoRetryConfig(), 0)
	}
	attempts := p.MaximumAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.NewExponentialBackoffPolicy(&retry.RetryConfig{
		MaxAttempts:        attempts,
		InitialDelay:       p.InitialInterval,
		MaxDelay:           p.MaximumInterval,
		NonRetryableErrors: p.NonRetryableErrors,
	}, p.BackoffCoefficient)
}

// runActivity executes one activity invocation with its retry policy and
// per-attempt timeout. It runs without the execution lock.
func (r *Runtime) runActivity(e *execution, name string, opts ActivityOptions, input json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	fn, ok := r.activities[name]
	r.mu.RUnlock()
	if !ok {
		return nil, newExecutionError(ErrCodeActivityNotRegistered, e.id,
			fmt.Sprintf("activity '%s' is not registered", name))
	}

	// Activities run under the runtime context, not the execution's, so
	// cleanup activities still complete after Cancel.
	ctx, span := r.tracer.StartSpan(r.baseCtx, "activity "+name,
		tracing.WithAttributes(
			attribute.String("opsflow.workflow_id", e.id),
			attribute.String("opsflow.workflow_type", e.workflowType),
			attribute.String("opsflow.activity", name),
		))
	defer span.End()

	executor := retry.NewExecutor(opts.RetryPolicy.toRetryPolicy(),
		retry.WithLogger(e.logger),
		retry.WithMetrics(r.retryMetrics),
		retry.WithSleeper(r.sleep),
		retry.WithOperationName(name),
	)

	start := time.Now()
	result, err := executor.Execute(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
		actx := withActivityInfo(ctx, ActivityInfo{
			WorkflowID:   e.id,
			WorkflowType: e.workflowType,
			ActivityName: name,
			Attempt:      attempt,
		})
		if opts.StartToCloseTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, opts.StartToCloseTimeout)
			defer cancel()
		}
		return invokeActivity(actx, fn, input)
	})
	if err != nil {
		r.metrics.recordActivity(name, "failed", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r.metrics.recordActivity(name, "completed", time.Since(start))
	span.SetAttribute("opsflow.activity.attempts", result.Attempts)
	span.SetStatus(codes.Ok, "")
	out, _ := result.Result.(json.RawMessage)
	return out, nil
}

func invokeActivity(ctx context.Context, fn activityFunc, input json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity panic: %v", r)
		}
	}()
	return fn(ctx, input)
}
