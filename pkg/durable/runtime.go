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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/logger"
	"github.com/innovationmech/opsflow/pkg/retry"
	"github.com/innovationmech/opsflow/pkg/tracing"
)

// StartOptions identify a new execution.
type StartOptions struct {
	// ID of the execution. A random id is generated when empty.
	ID string

	// WorkflowType selects the registered workflow.
	WorkflowType string

	// Memo holds immutable start-time metadata readable through Context.Memo.
	Memo map[string]interface{}
}

// Runtime runs workflows in-process and records their history.
type Runtime struct {
	baseCtx context.Context
	stop    context.CancelFunc

	store        HistoryStore
	clock        Clock
	logger       *zap.Logger
	metrics      *MetricsCollector
	retryMetrics *retry.MetricsCollector
	tracer       tracing.TracingManager
	sleep        retry.SleepFunc
	newUUID      func() string

	mu         sync.RWMutex
	workflows  map[string]WorkflowFunc
	activities map[string]activityFunc
	executions map[string]*execution
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithHistoryStore sets where histories are persisted. Default: in memory.
func WithHistoryStore(store HistoryStore) Option {
	return func(r *Runtime) { r.store = store }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(r *Runtime) { r.clock = clock }
}

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics records execution metrics.
func WithMetrics(collector *MetricsCollector) Option {
	return func(r *Runtime) { r.metrics = collector }
}

// WithRetryMetrics records activity retry metrics.
func WithRetryMetrics(collector *retry.MetricsCollector) Option {
	return func(r *Runtime) { r.retryMetrics = collector }
}

// WithTracer traces activity executions.
func WithTracer(tm tracing.TracingManager) Option {
	return func(r *Runtime) { r.tracer = tm }
}

// WithRetrySleeper replaces the wait between activity attempts.
func WithRetrySleeper(sleep retry.SleepFunc) Option {
	return func(r *Runtime) { r.sleep = sleep }
}

// WithUUIDGenerator replaces the source of execution ids and NewUUID values.
func WithUUIDGenerator(gen func() string) Option {
	return func(r *Runtime) { r.newUUID = gen }
}

// NewRuntime creates a runtime with no registered workflows or activities.
func NewRuntime(opts ...Option) *Runtime {
	ctx, stop := context.WithCancel(context.Background())
	r := &Runtime{
		baseCtx:    ctx,
		stop:       stop,
		store:      NewMemoryHistoryStore(),
		clock:      RealClock{},
		logger:     logger.GetLogger().Named("durable"),
		tracer:     tracing.NewNoopManager(),
		newUUID:    uuid.NewString,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]activityFunc),
		executions: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sleep == nil {
		r.sleep = r.clockSleep
	}
	return r
}

// RegisterWorkflow registers fn under workflowType.
func (r *Runtime) RegisterWorkflow(workflowType string, fn WorkflowFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[workflowType] = fn
}

// Start records the start of a new execution and runs it in the background.
func (r *Runtime) Start(ctx context.Context, opts StartOptions, input interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fn, err := r.workflow(opts.WorkflowType)
	if err != nil {
		return "", err
	}

	started := startedPayload{Memo: make(map[string]json.RawMessage, len(opts.Memo))}
	if started.Input, err = encodeJSON(input); err != nil {
		return "", fmt.Errorf("failed to encode workflow input: %w", err)
	}
	for key, value := range opts.Memo {
		raw, err := encodeJSON(value)
		if err != nil {
			return "", fmt.Errorf("failed to encode memo %q: %w", key, err)
		}
		started.Memo[key] = raw
	}
	payload, err := json.Marshal(started)
	if err != nil {
		return "", err
	}

	id := opts.ID
	if id == "" {
		id = r.newUUID()
	}

	r.mu.Lock()
	if _, exists := r.executions[id]; exists {
		r.mu.Unlock()
		return "", newExecutionError(ErrCodeAlreadyStarted, id,
			fmt.Sprintf("workflow execution '%s' already exists", id))
	}
	startTime := r.clock.Now().UTC().Round(0)
	e := newExecution(r, id, opts.WorkflowType, started, startTime)
	r.executions[id] = e
	r.mu.Unlock()

	first := HistoryEvent{
		Sequence:   1,
		Type:       EventExecutionStarted,
		Name:       opts.WorkflowType,
		Value:      startTime.Format(time.RFC3339Nano),
		Payload:    payload,
		RecordedAt: startTime,
	}
	if err := r.store.Append(ctx, id, first); err != nil {
		r.mu.Lock()
		delete(r.executions, id)
		r.mu.Unlock()
		return "", NewStorageError(id, "append", err)
	}
	e.seq = 1

	r.metrics.recordStarted(opts.WorkflowType)
	e.logger.Info("workflow execution started")
	go e.run(fn)
	return id, nil
}

// Resume reloads the history of workflowID and continues the execution
// from where it stopped. Recorded steps are replayed without side effects.
func (r *Runtime) Resume(ctx context.Context, workflowID string) error {
	history, err := r.store.Load(ctx, workflowID)
	if err != nil {
		return err
	}
	first := history[0]
	if first.Type != EventExecutionStarted {
		return NewStorageError(workflowID, "load",
			fmt.Errorf("history starts with %s", first.Type))
	}
	if history[len(history)-1].Type.IsTerminal() {
		return newExecutionError(ErrCodeExecutionClosed, workflowID,
			fmt.Sprintf("workflow execution '%s' already finished", workflowID))
	}

	fn, err := r.workflow(first.Name)
	if err != nil {
		return err
	}
	var started startedPayload
	if err := json.Unmarshal(first.Payload, &started); err != nil {
		return NewStorageError(workflowID, "load", err)
	}
	startTime, err := time.Parse(time.RFC3339Nano, first.Value)
	if err != nil {
		return NewStorageError(workflowID, "load", err)
	}

	r.mu.Lock()
	if existing, ok := r.executions[workflowID]; ok && !existing.isDone() {
		r.mu.Unlock()
		return newExecutionError(ErrCodeAlreadyStarted, workflowID,
			fmt.Sprintf("workflow execution '%s' is already running", workflowID))
	}
	e := newExecution(r, workflowID, first.Name, started, startTime)
	e.history = history
	e.cursor = 1
	e.seq = first.Sequence
	r.executions[workflowID] = e
	r.mu.Unlock()

	e.logger.Info("resuming workflow execution", zap.Int("history_events", len(history)))
	go e.run(fn)
	return nil
}

// ResumeAll resumes every open execution found in the history store.
func (r *Runtime) ResumeAll(ctx context.Context) ([]string, error) {
	ids, err := r.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	var resumed []string
	for _, id := range ids {
		if err := r.Resume(ctx, id); err != nil {
			r.logger.Error("failed to resume workflow execution", zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		resumed = append(resumed, id)
	}
	return resumed, nil
}

// Signal queues a signal for workflowID. It is handed to the registered
// handler at the execution's next suspension point.
func (r *Runtime) Signal(workflowID, name string, payload interface{}) error {
	e, err := r.execution(workflowID)
	if err != nil {
		return err
	}
	if e.isDone() {
		return newExecutionError(ErrCodeExecutionClosed, workflowID,
			fmt.Sprintf("workflow execution '%s' already finished", workflowID))
	}
	raw, err := encodeJSON(payload)
	if err != nil {
		return fmt.Errorf("failed to encode signal %s: %w", name, err)
	}
	e.inbox.push(name, raw)
	return nil
}

// Query runs the query handler name of workflowID and returns its JSON
// encoded result. Signals already queued are delivered first when the
// execution is suspended, so the answer reflects them.
func (r *Runtime) Query(workflowID, name string) (json.RawMessage, error) {
	e, err := r.execution(workflowID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.suspended && !e.isDone() {
		e.deliverSignals()
	}
	handler, ok := e.queryHandlers[name]
	if !ok {
		return nil, newExecutionError(ErrCodeQueryNotFound, workflowID,
			fmt.Sprintf("query '%s' is not registered", name))
	}
	value, err := handler()
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// Cancel requests cancellation. Pending and future waits of the execution
// return ErrCanceled; how the workflow reacts is up to its code.
func (r *Runtime) Cancel(workflowID string) error {
	e, err := r.execution(workflowID)
	if err != nil {
		return err
	}
	if e.isDone() {
		return newExecutionError(ErrCodeExecutionClosed, workflowID,
			fmt.Sprintf("workflow execution '%s' already finished", workflowID))
	}
	e.requestCancel()
	e.logger.Info("workflow cancellation requested")
	return nil
}

// Result waits for workflowID to finish. The workflow error is returned
// unchanged; on success the result is decoded into out when out is not nil.
func (r *Runtime) Result(ctx context.Context, workflowID string, out interface{}) error {
	e, err := r.execution(workflowID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
	}

	_, result, runErr := e.snapshot()
	if runErr != nil {
		return runErr
	}
	if out != nil && len(result) > 0 {
		return json.Unmarshal(result, out)
	}
	return nil
}

// Status reports the lifecycle state of workflowID.
func (r *Runtime) Status(workflowID string) (ExecutionStatus, error) {
	e, err := r.execution(workflowID)
	if err != nil {
		return StatusRunning, err
	}
	status, _, _ := e.snapshot()
	return status, nil
}

// Close cancels the context every activity runs under.
func (r *Runtime) Close() {
	r.stop()
}

func (r *Runtime) workflow(workflowType string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.workflows[workflowType]
	if !ok {
		return nil, newExecutionError(ErrCodeWorkflowNotRegistered, "",
			fmt.Sprintf("workflow type '%s' is not registered", workflowType))
	}
	return fn, nil
}

func (r *Runtime) execution(workflowID string) (*execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[workflowID]
	if !ok {
		return nil, NewWorkflowNotFoundError(workflowID)
	}
	return e, nil
}

func (r *Runtime) clockSleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func encodeJSON(v interface{}) (json.RawMessage, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return value, nil
	default:
		return json.Marshal(v)
	}
}
