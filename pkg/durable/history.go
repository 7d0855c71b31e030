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
	"sort"
	"sync"
	"time"
)

// EventType names a history event.
type EventType string

// History event types. Every nondeterministic step of a workflow appends one.
const (
	EventExecutionStarted   EventType = "ExecutionStarted"
	EventTimeRecorded       EventType = "TimeRecorded"
	EventUUIDGenerated      EventType = "UUIDGenerated"
	EventActivityScheduled  EventType = "ActivityScheduled"
	EventActivityCompleted  EventType = "ActivityCompleted"
	EventSignalDelivered    EventType = "SignalDelivered"
	EventTimerStarted       EventType = "TimerStarted"
	EventTimerFired         EventType = "TimerFired"
	EventAwaitStarted       EventType = "AwaitStarted"
	EventAwaitSatisfied     EventType = "AwaitSatisfied"
	EventCancelRequested    EventType = "CancelRequested"
	EventExecutionCompleted EventType = "ExecutionCompleted"
	EventExecutionFailed    EventType = "ExecutionFailed"
)

// IsTerminal reports whether no event can follow t.
func (t EventType) IsTerminal() bool {
	return t == EventExecutionCompleted || t == EventExecutionFailed
}

// HistoryEvent is one entry of an execution's append-only history.
//
// Name holds the workflow type, activity name or signal name. Value holds
// scalar results: a generated uuid, or an RFC 3339 timestamp for recorded
// times and timer deadlines. Payload holds JSON results and inputs.
type HistoryEvent struct {
	Sequence   int64           `json:"seq"`
	Type       EventType       `json:"type"`
	Name       string          `json:"name,omitempty"`
	Value      string          `json:"value,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// startedPayload is the Payload of EventExecutionStarted.
type startedPayload struct {
	Input json.RawMessage            `json:"input,omitempty"`
	Memo  map[string]json.RawMessage `json:"memo,omitempty"`
}

// HistoryStore persists execution histories.
type HistoryStore interface {
	// Append adds event to the history of workflowID. Sequences are
	// assigned by the runtime and start at 1.
	Append(ctx context.Context, workflowID string, event HistoryEvent) error

	// Load returns the history of workflowID ordered by sequence, or an
	// error satisfying IsWorkflowNotFound.
	Load(ctx context.Context, workflowID string) ([]HistoryEvent, error)

	// ListOpen returns the ids of executions without a terminal event.
	ListOpen(ctx context.Context) ([]string, error)
}

// MemoryHistoryStore keeps histories in process memory.
type MemoryHistoryStore struct {
	mu        sync.RWMutex
	histories map[string][]HistoryEvent
}

// NewMemoryHistoryStore creates an empty store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{histories: make(map[string][]HistoryEvent)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, workflowID string, event HistoryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[workflowID] = append(s.histories[workflowID], event)
	return nil
}

func (s *MemoryHistoryStore) Load(ctx context.Context, workflowID string) ([]HistoryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.histories[workflowID]
	if !ok {
		return nil, NewWorkflowNotFoundError(workflowID)
	}
	out := make([]HistoryEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryHistoryStore) ListOpen(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []string
	for id, events := range s.histories {
		if len(events) > 0 && !events[len(events)-1].Type.IsTerminal() {
			open = append(open, id)
		}
	}
	sort.Strings(open)
	return open, nil
}

// Truncate keeps only the first n events of workflowID. It simulates a
// crash part way through an execution.
func (s *MemoryHistoryStore) Truncate(workflowID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if events, ok := s.histories[workflowID]; ok && n < len(events) {
		s.histories[workflowID] = events[:n]
	}
}
