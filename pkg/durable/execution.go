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
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus int

const (
	StatusRunning ExecutionStatus = iota
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type nondeterminismPanic struct {
	err *NondeterminismError
}

type waitOutcome int

const (
	waitSatisfied waitOutcome = iota
	waitTimedOut
	waitCanceled
)

// execution is one workflow run. It implements Context for the workflow
// goroutine. mu is held by that goroutine except while suspended is true.
type execution struct {
	rt           *Runtime
	id           string
	workflowType string
	startTime    time.Time
	input        json.RawMessage
	memo         map[string]json.RawMessage
	logger       *zap.Logger

	mu        sync.Mutex
	suspended bool

	history []HistoryEvent
	cursor  int
	seq     int64

	inbox          *signalInbox
	signalHandlers map[string]SignalHandler
	unhandled      map[string][]bufferedSignal
	queryHandlers  map[string]QueryHandler

	cancelCh   chan struct{}
	cancelOnce sync.Once
	cancelSeen bool
	goCtx      context.Context
	goCancel   context.CancelFunc

	done     chan struct{}
	resultMu sync.RWMutex
	status   ExecutionStatus
	result   json.RawMessage
	err      error
}

// newExecution returns an execution whose lock is already held; run releases it.
func newExecution(rt *Runtime, id, workflowType string, started startedPayload, startTime time.Time) *execution {
	goCtx, goCancel := context.WithCancel(rt.baseCtx)
	e := &execution{
		rt:             rt,
		id:             id,
		workflowType:   workflowType,
		startTime:      startTime,
		input:          started.Input,
		memo:           started.Memo,
		logger:         rt.logger.With(zap.String("workflow_id", id), zap.String("workflow_type", workflowType)),
		inbox:          newSignalInbox(),
		signalHandlers: make(map[string]SignalHandler),
		unhandled:      make(map[string][]bufferedSignal),
		queryHandlers:  make(map[string]QueryHandler),
		cancelCh:       make(chan struct{}),
		goCtx:          goCtx,
		goCancel:       goCancel,
		done:           make(chan struct{}),
	}
	e.mu.Lock()
	return e
}

func (e *execution) run(fn WorkflowFunc) {
	result, err := e.invoke(fn)
	e.finish(result, err)
	e.mu.Unlock()
	e.goCancel()
	close(e.done)
}

func (e *execution) invoke(fn WorkflowFunc) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			if nd, ok := r.(nondeterminismPanic); ok {
				result, err = nil, nd.err
				return
			}
			result, err = nil, &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	out, err := fn(e, e.input)
	if err != nil {
		return nil, err
	}
	if raw, ok := out.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(out)
}

func (e *execution) finish(result json.RawMessage, err error) {
	if e.replaying() && !IsNondeterminismError(err) {
		next := e.history[e.cursor]
		err = &NondeterminismError{
			WorkflowID: e.id,
			Sequence:   next.Sequence,
			Expected:   describeEvent(next),
			Actual:     "workflow completion",
		}
	}

	status := StatusCompleted
	switch {
	case err == nil:
		e.record(HistoryEvent{Type: EventExecutionCompleted, Payload: result})
	case IsNondeterminismError(err):
		// The stored history no longer matches the code; leave it untouched.
		status = StatusFailed
	default:
		status = StatusFailed
		if errors.Is(err, ErrCanceled) {
			status = StatusCanceled
		}
		e.record(HistoryEvent{Type: EventExecutionFailed, Error: err.Error()})
	}

	for name, buffered := range e.unhandled {
		for _, sig := range buffered {
			if sig.live {
				e.logger.Warn("dropping signal never handled", zap.String("signal", name))
				e.rt.metrics.recordSignal(name, "dropped")
			}
		}
	}

	e.resultMu.Lock()
	e.status = status
	e.result = result
	e.err = err
	e.resultMu.Unlock()

	e.rt.metrics.recordFinished(e.workflowType, status)
	if err != nil {
		e.logger.Warn("workflow execution failed", zap.String("status", status.String()), zap.Error(err))
	} else {
		e.logger.Info("workflow execution completed")
	}
}

func (e *execution) snapshot() (ExecutionStatus, json.RawMessage, error) {
	e.resultMu.RLock()
	defer e.resultMu.RUnlock()
	return e.status, e.result, e.err
}

func (e *execution) isDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *execution) requestCancel() {
	e.cancelOnce.Do(func() {
		close(e.cancelCh)
		e.goCancel()
	})
}

func (e *execution) cancelRequested() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// History bookkeeping.

func (e *execution) replaying() bool {
	return e.cursor < len(e.history)
}

func (e *execution) record(ev HistoryEvent) HistoryEvent {
	e.seq++
	ev.Sequence = e.seq
	ev.RecordedAt = e.rt.clock.Now().UTC()
	if err := e.rt.store.Append(e.rt.baseCtx, e.id, ev); err != nil {
		e.logger.Error("failed to persist history event",
			zap.Int64("seq", ev.Sequence),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
	}
	return ev
}

// replayEvent consumes the next recorded event. It returns false once the
// history is exhausted and panics with a nondeterminism error when the
// recorded event is not one of types (or has a different name).
func (e *execution) replayEvent(name string, types ...EventType) (HistoryEvent, bool) {
	if !e.replaying() {
		return HistoryEvent{}, false
	}
	ev := e.history[e.cursor]
	matched := false
	for _, t := range types {
		if ev.Type == t {
			matched = true
			break
		}
	}
	if !matched || (name != "" && ev.Name != name) {
		want := string(types[0])
		if name != "" {
			want += "(" + name + ")"
		}
		panic(nondeterminismPanic{&NondeterminismError{
			WorkflowID: e.id,
			Sequence:   ev.Sequence,
			Expected:   describeEvent(ev),
			Actual:     want,
		}})
	}
	e.cursor++
	e.seq = ev.Sequence
	return ev, true
}

func (e *execution) nondeterministic(ev HistoryEvent, actual string) {
	panic(nondeterminismPanic{&NondeterminismError{
		WorkflowID: e.id,
		Sequence:   ev.Sequence,
		Expected:   describeEvent(ev),
		Actual:     actual,
	}})
}

func describeEvent(ev HistoryEvent) string {
	if ev.Name != "" {
		return fmt.Sprintf("%s(%s)", ev.Type, ev.Name)
	}
	return string(ev.Type)
}

// deliverSignals hands queued signals to their handlers. Recorded
// deliveries are replayed first; live signals are drained only after the
// history is exhausted.
func (e *execution) deliverSignals() {
	for e.replaying() && e.history[e.cursor].Type == EventSignalDelivered {
		ev := e.history[e.cursor]
		e.cursor++
		e.seq = ev.Sequence
		e.dispatchSignal(ev.Name, ev.Payload, false)
	}
	if e.replaying() {
		return
	}
	for _, sig := range e.inbox.drain() {
		e.record(HistoryEvent{Type: EventSignalDelivered, Name: sig.name, Payload: sig.payload})
		e.dispatchSignal(sig.name, sig.payload, true)
	}
}

// bufferedSignal is a delivered signal waiting for its handler.
type bufferedSignal struct {
	payload json.RawMessage
	live    bool
}

// dispatchSignal runs the handler for name, or buffers the signal until
// SetSignalHandler installs one. Replay rebuilds the buffer from recorded
// deliveries.
func (e *execution) dispatchSignal(name string, payload json.RawMessage, live bool) {
	handler, ok := e.signalHandlers[name]
	if !ok {
		e.unhandled[name] = append(e.unhandled[name], bufferedSignal{payload: payload, live: live})
		if live {
			e.logger.Debug("buffering signal until a handler is set", zap.String("signal", name))
			e.rt.metrics.recordSignal(name, "buffered")
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if IsNondeterminismPanic(r) {
				panic(r)
			}
			e.logger.Error("signal handler panicked", zap.String("signal", name), zap.Any("panic", r))
		}
	}()
	handler(payload)
	if live {
		e.rt.metrics.recordSignal(name, "delivered")
	}
}

// suspend releases the execution lock around a blocking section.
func (e *execution) suspend(block func()) {
	e.suspended = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.suspended = false
	}()
	block()
}

// Context implementation.

func (e *execution) Info() WorkflowInfo {
	return WorkflowInfo{WorkflowID: e.id, WorkflowType: e.workflowType, StartTime: e.startTime}
}

func (e *execution) Memo(key string) (json.RawMessage, bool) {
	v, ok := e.memo[key]
	return v, ok
}

func (e *execution) Logger() *zap.Logger {
	if e.replaying() {
		return zap.NewNop()
	}
	return e.logger
}

func (e *execution) IsReplaying() bool { return e.replaying() }

func (e *execution) GoContext() context.Context { return e.goCtx }

func (e *execution) Now() time.Time {
	if ev, ok := e.replayEvent("", EventTimeRecorded); ok {
		t, err := time.Parse(time.RFC3339Nano, ev.Value)
		if err != nil {
			e.nondeterministic(ev, "a parseable timestamp")
		}
		return t
	}
	now := e.rt.clock.Now().UTC().Round(0)
	e.record(HistoryEvent{Type: EventTimeRecorded, Value: now.Format(time.RFC3339Nano)})
	return now
}

func (e *execution) NewUUID() string {
	if ev, ok := e.replayEvent("", EventUUIDGenerated); ok {
		return ev.Value
	}
	id := e.rt.newUUID()
	e.record(HistoryEvent{Type: EventUUIDGenerated, Value: id})
	return id
}

func (e *execution) SetSignalHandler(name string, handler SignalHandler) {
	e.signalHandlers[name] = handler
	buffered := e.unhandled[name]
	delete(e.unhandled, name)
	for _, sig := range buffered {
		e.dispatchSignal(name, sig.payload, sig.live)
	}
}

func (e *execution) RemoveSignalHandler(name string) {
	delete(e.signalHandlers, name)
}

func (e *execution) SetQueryHandler(name string, handler QueryHandler) {
	e.queryHandlers[name] = handler
}

func (e *execution) Sleep(d time.Duration) error {
	outcome := e.wait(EventTimerStarted, "sleep", d, true, nil)
	if outcome == waitCanceled {
		return ErrCanceled
	}
	return nil
}

func (e *execution) Await(cond func() bool) error {
	if e.wait(EventAwaitStarted, "await", 0, false, cond) == waitCanceled {
		return ErrCanceled
	}
	return nil
}

func (e *execution) AwaitWithTimeout(timeout time.Duration, cond func() bool) (bool, error) {
	switch e.wait(EventAwaitStarted, "await", timeout, true, cond) {
	case waitSatisfied:
		return true, nil
	case waitCanceled:
		return false, ErrCanceled
	default:
		return false, nil
	}
}

// wait is the common suspension point of Sleep and the Await family. The
// wait is bracketed in history by a start event and exactly one of
// AwaitSatisfied, TimerFired or CancelRequested; signals delivered while
// waiting are recorded in between.
func (e *execution) wait(startType EventType, name string, timeout time.Duration, hasTimer bool, cond func() bool) waitOutcome {
	e.deliverSignals()
	if e.cancelSeen {
		return waitCanceled
	}

	var deadline time.Time
	if ev, ok := e.replayEvent(name, startType); ok {
		if hasTimer {
			t, err := time.Parse(time.RFC3339Nano, ev.Value)
			if err != nil {
				e.nondeterministic(ev, "a timer deadline")
			}
			deadline = t
		}
	} else {
		ev := HistoryEvent{Type: startType, Name: name}
		if hasTimer {
			deadline = e.rt.clock.Now().UTC().Round(0).Add(timeout)
			ev.Value = deadline.Format(time.RFC3339Nano)
		}
		e.record(ev)
	}

	e.deliverSignals()
	if ev, ok := e.replayEvent("", EventAwaitSatisfied, EventTimerFired, EventCancelRequested); ok {
		switch ev.Type {
		case EventAwaitSatisfied:
			if cond == nil || !cond() {
				e.nondeterministic(ev, "an unsatisfied condition")
			}
			return waitSatisfied
		case EventTimerFired:
			return waitTimedOut
		default:
			e.cancelSeen = true
			return waitCanceled
		}
	}

	var timer Timer
	var timerC <-chan time.Time
	if hasTimer {
		timer = e.rt.clock.NewTimer(deadline.Sub(e.rt.clock.Now()))
		defer timer.Stop()
		timerC = timer.C()
	}

	for {
		if cond != nil && cond() {
			e.record(HistoryEvent{Type: EventAwaitSatisfied, Name: name})
			return waitSatisfied
		}

		var fired, canceled bool
		e.suspend(func() {
			select {
			case <-e.inbox.wake:
			case <-timerC:
				fired = true
			case <-e.cancelCh:
				canceled = true
			}
		})

		e.deliverSignals()
		if cond != nil && cond() {
			e.record(HistoryEvent{Type: EventAwaitSatisfied, Name: name})
			return waitSatisfied
		}
		if fired {
			e.record(HistoryEvent{Type: EventTimerFired, Name: name})
			return waitTimedOut
		}
		if canceled {
			e.record(HistoryEvent{Type: EventCancelRequested, Name: name})
			e.cancelSeen = true
			return waitCanceled
		}
	}
}

func (e *execution) ExecuteActivity(opts ActivityOptions, name string, input interface{}, out interface{}) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to encode input of activity %s: %w", name, err)
	}

	e.deliverSignals()
	if _, ok := e.replayEvent(name, EventActivityScheduled); !ok {
		e.record(HistoryEvent{Type: EventActivityScheduled, Name: name, Payload: payload})
	}

	e.deliverSignals()
	completed, ok := e.replayEvent(name, EventActivityCompleted)
	if !ok {
		var (
			result json.RawMessage
			runErr error
		)
		e.suspend(func() {
			result, runErr = e.rt.runActivity(e, name, opts, payload)
		})
		ev := HistoryEvent{Type: EventActivityCompleted, Name: name, Payload: result}
		if runErr != nil {
			ev.Payload = nil
			ev.Error = runErr.Error()
		}
		completed = e.record(ev)
		if runErr != nil {
			return &ActivityError{ActivityName: name, Message: runErr.Error(), Cause: runErr}
		}
	}

	if completed.Error != "" {
		return &ActivityError{ActivityName: name, Message: completed.Error}
	}
	if out == nil || len(completed.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(completed.Payload, out); err != nil {
		return fmt.Errorf("failed to decode result of activity %s: %w", name, err)
	}
	return nil
}
