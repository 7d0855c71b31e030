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

package blueprint

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	testSecurity = &SecurityContext{InitiatorID: "alice", Roles: []string{"sre"}}
	testGolden   = &GoldenContext{AppID: "payments", Environment: "prod", CostCenter: "cc-42"}
)

// harness runs blueprints on a local runtime with fake collaborators.
type harness struct {
	t     *testing.T
	rt    *durable.Runtime
	clock *durable.ManualClock

	flags     map[string]bool
	flagErr   error
	capErr    error
	capOutput json.RawMessage
	notifyErr error

	flagCalls   atomic.Int32
	capCalls    atomic.Int32
	sendCalls   atomic.Int32
	updateCalls atomic.Int32

	mu           sync.Mutex
	flagRequests []FlagRequest
	envelopes    []CapabilityEnvelope
	capTimeouts  []time.Duration
	requests     []NotificationRequest
	updates      []NotificationUpdate
	retryDelays  []time.Duration
}

func newHarness(t *testing.T, opts ...durable.Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: durable.NewManualClock(t0), flags: map[string]bool{}}
	opts = append([]durable.Option{
		durable.WithLogger(zap.NewNop()),
		durable.WithClock(h.clock),
		durable.WithRetrySleeper(func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.retryDelays = append(h.retryDelays, d)
			h.mu.Unlock()
			return nil
		}),
	}, opts...)
	h.rt = durable.NewRuntime(opts...)
	t.Cleanup(h.rt.Close)

	durable.RegisterActivity(h.rt, FlagEvaluateActivity, func(ctx context.Context, req FlagRequest) (FlagResult, error) {
		h.flagCalls.Add(1)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.flagRequests = append(h.flagRequests, req)
		if h.flagErr != nil {
			return FlagResult{}, h.flagErr
		}
		value, ok := h.flags[req.Key]
		if !ok {
			return FlagResult{Key: req.Key, Value: req.Default, Reason: "default"}, nil
		}
		return FlagResult{Key: req.Key, Value: value, Reason: "rule"}, nil
	})
	durable.RegisterActivity(h.rt, CapabilityExecuteActivity, func(ctx context.Context, env CapabilityEnvelope) (json.RawMessage, error) {
		h.capCalls.Add(1)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.envelopes = append(h.envelopes, env)
		if deadline, ok := ctx.Deadline(); ok {
			h.capTimeouts = append(h.capTimeouts, time.Until(deadline))
		}
		if h.capErr != nil {
			return nil, h.capErr
		}
		if h.capOutput == nil {
			return json.RawMessage(`{}`), nil
		}
		return h.capOutput, nil
	})
	durable.RegisterActivity(h.rt, NotifyApprovalRequestActivity, func(ctx context.Context, req NotificationRequest) (NotificationResponse, error) {
		h.sendCalls.Add(1)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.requests = append(h.requests, req)
		if h.notifyErr != nil {
			return NotificationResponse{}, h.notifyErr
		}
		return NotificationResponse{MessageHandle: "msg-1"}, nil
	})
	durable.RegisterActivity(h.rt, NotifyApprovalUpdateActivity, func(ctx context.Context, upd NotificationUpdate) (struct{}, error) {
		h.updateCalls.Add(1)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.updates = append(h.updates, upd)
		return struct{}{}, nil
	})
	return h
}

func testDescriptor(id string) Descriptor {
	return Descriptor{
		ID:         id,
		Version:    "1.0.0",
		Name:       "Test blueprint",
		Owner:      "sre-team",
		Operations: OperationsPolicy{SLA: SLA{TargetDuration: "1m", MaxDuration: "5m"}},
	}
}

// run starts logic as its own blueprint type and returns the execution id.
func (h *harness) run(id string, sc *SecurityContext, gc *GoldenContext, logic func(b *Blueprint) (interface{}, error)) string {
	h.t.Helper()
	def := &Definition[json.RawMessage, json.RawMessage, interface{}]{
		Descriptor: testDescriptor("test." + id),
		Logic: func(b *Blueprint, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
			return logic(b)
		},
	}
	require.NoError(h.t, def.Register(h.rt))
	return h.start(id, def.Descriptor.ID, sc, gc, StartRequest{})
}

func (h *harness) start(id, blueprintID string, sc *SecurityContext, gc *GoldenContext, req StartRequest) string {
	h.t.Helper()
	started, err := h.rt.Start(context.Background(), NewStartOptions(id, blueprintID, sc, gc), req)
	require.NoError(h.t, err)
	return started
}

func (h *harness) result(id string, out interface{}) error {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.rt.Result(ctx, id, out)
	require.NotErrorIs(h.t, err, context.DeadlineExceeded, "blueprint did not finish")
	return err
}

func (h *harness) approvalState(id string) ApprovalState {
	h.t.Helper()
	raw, err := h.rt.Query(id, ApprovalQuery)
	require.NoError(h.t, err)
	var state ApprovalState
	require.NoError(h.t, json.Unmarshal(raw, &state))
	return state
}

func (h *harness) signal(id string, d ApprovalDecision) {
	h.t.Helper()
	require.NoError(h.t, h.rt.Signal(id, ApprovalSignal, d))
}
