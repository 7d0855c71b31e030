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
	"time"

	"go.uber.org/zap"
)

// Context is the primitive set available to workflow code.
type Context interface {
	// Info describes the running execution.
	Info() WorkflowInfo

	// Memo returns the raw start-time memo entry stored under key.
	Memo(key string) (json.RawMessage, bool)

	// Logger returns a logger bound to the execution. It discards
	// everything while the execution is replaying.
	Logger() *zap.Logger

	// IsReplaying reports whether the current step is served from history.
	IsReplaying() bool

	// Now returns the recorded current time.
	Now() time.Time

	// NewUUID returns a recorded random UUID string.
	NewUUID() string

	// Sleep suspends the workflow for d. It returns ErrCanceled if the
	// execution is cancelled first.
	Sleep(d time.Duration) error

	// Await suspends until cond returns true. cond is re-evaluated after
	// signals are delivered.
	Await(cond func() bool) error

	// AwaitWithTimeout is Await bounded by timeout. It returns false when
	// the timeout elapsed first. A condition that turns true in the same
	// step the timer fires wins over the timer.
	AwaitWithTimeout(timeout time.Duration, cond func() bool) (bool, error)

	// SetSignalHandler installs handler for signal name, replacing any
	// previous one. Signals delivered while no handler was installed are
	// buffered per name and handed to handler in arrival order.
	SetSignalHandler(name string, handler SignalHandler)

	// RemoveSignalHandler uninstalls the handler for name.
	RemoveSignalHandler(name string)

	// SetQueryHandler installs handler for query name.
	SetQueryHandler(name string, handler QueryHandler)

	// ExecuteActivity runs the activity registered as name with input and
	// decodes its result into out, which may be nil. Failures are
	// returned as *ActivityError.
	ExecuteActivity(opts ActivityOptions, name string, input interface{}, out interface{}) error

	// GoContext returns a context that is done once the execution is cancelled.
	GoContext() context.Context
}

// WorkflowInfo describes an execution.
type WorkflowInfo struct {
	WorkflowID   string
	WorkflowType string
	StartTime    time.Time
}

// SignalHandler receives the JSON payload of a delivered signal.
type SignalHandler func(payload json.RawMessage)

// QueryHandler returns a value that is JSON encoded for the caller.
type QueryHandler func() (interface{}, error)

// WorkflowFunc is the entry point of a registered workflow.
type WorkflowFunc func(ctx Context, input json.RawMessage) (interface{}, error)

// ActivityOptions bound a single activity invocation.
type ActivityOptions struct {
	// StartToCloseTimeout bounds each attempt. Zero means unbounded.
	StartToCloseTimeout time.Duration

	// RetryPolicy controls retries. Nil means exactly one attempt.
	RetryPolicy *RetryPolicy
}

// RetryPolicy describes activity retries with exponential backoff.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration

	// MaximumAttempts includes the first attempt. Values below 1 mean 1.
	MaximumAttempts int

	// NonRetryableErrors stop retrying when matched with errors.Is.
	NonRetryableErrors []error
}

// ActivityInfo is attached to the context passed to activity functions.
type ActivityInfo struct {
	WorkflowID   string
	WorkflowType string
	ActivityName string
	Attempt      int
}

type activityInfoKey struct{}

// GetActivityInfo returns the info of the running activity.
func GetActivityInfo(ctx context.Context) (ActivityInfo, bool) {
	info, ok := ctx.Value(activityInfoKey{}).(ActivityInfo)
	return info, ok
}

func withActivityInfo(ctx context.Context, info ActivityInfo) context.Context {
	return context.WithValue(ctx, activityInfoKey{}, info)
}
