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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/opsflow/pkg/durable"
)

type restartInput struct {
	Service  string `json:"service"`
	Replicas int    `json:"replicas"`
}

type restartConfig struct {
	Namespace string `json:"namespace"`
}

type restartOutput struct {
	Service   string `json:"service"`
	RunID     string `json:"runId"`
	Restarted int    `json:"restarted"`
}

const restartInputSchema = `{
	"type": "object",
	"required": ["service"],
	"properties": {
		"service": {"type": "string", "minLength": 1},
		"replicas": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`

const restartConfigSchema = `{
	"type": "object",
	"properties": {"namespace": {"type": "string"}}
}`

func restartDefinition(logicCalls *int) *Definition[restartInput, restartConfig, restartOutput] {
	desc := testDescriptor("ops.restart")
	desc.Schemas = Schemas{Input: restartInputSchema, Config: restartConfigSchema}
	return &Definition[restartInput, restartConfig, restartOutput]{
		Descriptor: desc,
		Logic: func(b *Blueprint, in restartInput, cfg restartConfig) (restartOutput, error) {
			*logicCalls++
			res, err := ExecuteTyped[map[string]int](b, "k8s.restart", map[string]interface{}{
				"service":   in.Service,
				"namespace": cfg.Namespace,
				"replicas":  in.Replicas,
			}, nil)
			if err != nil {
				return restartOutput{}, err
			}
			return restartOutput{Service: in.Service, RunID: b.UUID(), Restarted: res["restarted"]}, nil
		},
	}
}

func TestMain_RunsTypedLogic(t *testing.T) {
	h := newHarness(t, durable.WithUUIDGenerator(func() string { return "run-1" }))
	h.capOutput = json.RawMessage(`{"restarted":2}`)
	calls := 0
	def := restartDefinition(&calls)
	require.NoError(t, def.Register(h.rt))

	id := h.start("main-1", "ops.restart", testSecurity, testGolden, StartRequest{
		Input:  json.RawMessage(`{"service":"payments-api","replicas":2}`),
		Config: json.RawMessage(`{"namespace":"payments"}`),
	})

	var out restartOutput
	require.NoError(t, h.result(id, &out))
	assert.Equal(t, restartOutput{Service: "payments-api", RunID: "run-1", Restarted: 2}, out)
	require.Len(t, h.envelopes, 1)
	assert.JSONEq(t, `{"service":"payments-api","namespace":"payments","replicas":2}`, string(h.envelopes[0].Input))
}

func TestMain_ValidationFailsBeforeAnySideEffect(t *testing.T) {
	tests := []struct {
		name   string
		req    StartRequest
		target string
	}{
		{name: "missing service", req: StartRequest{Input: json.RawMessage(`{"replicas":1}`)}, target: "input"},
		{name: "unknown field", req: StartRequest{Input: json.RawMessage(`{"service":"a","force":true}`)}, target: "input"},
		{name: "absent input", req: StartRequest{}, target: "input"},
		{name: "bad config", req: StartRequest{Input: json.RawMessage(`{"service":"a"}`), Config: json.RawMessage(`{"namespace":7}`)}, target: "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			calls := 0
			require.NoError(t, restartDefinition(&calls).Register(h.rt))

			id := h.start("main-2", "ops.restart", testSecurity, testGolden, tt.req)
			err := h.result(id, nil)

			var invalid *ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.target, invalid.Target)
			assert.Zero(t, calls)
			assert.Zero(t, h.flagCalls.Load())
			assert.Zero(t, h.capCalls.Load())
		})
	}
}

func TestRegister_RejectsInvalidDescriptor(t *testing.T) {
	h := newHarness(t)

	noSLA := &Definition[restartInput, restartConfig, restartOutput]{
		Descriptor: Descriptor{ID: "ops.broken", Version: "1", Name: "Broken", Owner: "sre"},
		Logic: func(b *Blueprint, in restartInput, cfg restartConfig) (restartOutput, error) {
			return restartOutput{}, nil
		},
	}
	err := noSLA.Register(h.rt)
	var invalid *ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "descriptor", invalid.Target)
	assert.Contains(t, err.Error(), "MaxDuration")

	badSchema := &Definition[restartInput, restartConfig, restartOutput]{
		Descriptor: testDescriptor("ops.bad-schema"),
		Logic:      noSLA.Logic,
	}
	badSchema.Descriptor.Schemas.Input = `{"type": 12}`
	assert.True(t, IsValidationError(badSchema.Register(h.rt)))

	noLogic := &Definition[restartInput, restartConfig, restartOutput]{Descriptor: testDescriptor("ops.no-logic")}
	assert.True(t, IsValidationError(noLogic.Register(h.rt)))
}

func TestMain_CompensatesInReverseOrderAndReturnsOriginalError(t *testing.T) {
	h := newHarness(t)
	h.capErr = errors.New("deploy failed")
	var order []string

	id := h.run("main-3", testSecurity, testGolden, func(b *Blueprint) (interface{}, error) {
		b.AddCompensation("A", func() error { order = append(order, "A"); return nil })
		b.AddCompensation("B", func() error { order = append(order, "B"); return nil })
		return b.ExecuteByID("k8s.deploy", nil, nil)
	})

	err := h.result(id, nil)
	assert.Equal(t, []string{"B", "A"}, order)
	var compensated *CompensatedError
	assert.False(t, errors.As(err, &compensated))
	var activityErr *durable.ActivityError
	require.ErrorAs(t, err, &activityErr)
	assert.Equal(t, CapabilityExecuteActivity, activityErr.ActivityName)
	assert.ErrorIs(t, err, h.capErr)
}

func TestMain_CompensationFailuresAreReportedAlongside(t *testing.T) {
	h := newHarness(t)
	h.flags["cap-k8s.deploy-enabled"] = false
	undoErr := errors.New("undo failed")

	id := h.run("main-4", testSecurity, testGolden, func(b *Blueprint) (interface{}, error) {
		b.AddCompensation("release", func() error { return nil })
		b.AddCompensation("rollback", func() error { return undoErr })
		return b.ExecuteByID("k8s.deploy", nil, nil)
	})

	err := h.result(id, nil)
	var compensated *CompensatedError
	require.ErrorAs(t, err, &compensated)
	assert.True(t, IsCapabilityDisabled(err), "original error stays reachable")
	require.Len(t, compensated.Failures, 1)
	assert.Equal(t, "rollback", compensated.Failures[0].Name)
	assert.Equal(t, 1, compensated.Failures[0].Index)
	assert.ErrorIs(t, compensated.Failures[0], undoErr)
	assert.Equal(t, ErrCodeCompensationFailed, ErrorCode(err))
	assert.Zero(t, h.capCalls.Load())
}

func TestMain_CompensationsMayCallActivities(t *testing.T) {
	h := newHarness(t)
	id := h.run("main-5", testSecurity, testGolden, func(b *Blueprint) (interface{}, error) {
		if _, err := b.ExecuteByID("k8s.scale", map[string]int{"replicas": 0}, &ExecuteOptions{SkipFlagCheck: true}); err != nil {
			return nil, err
		}
		b.AddCompensation("scale-back", func() error {
			_, err := b.ExecuteByID("k8s.scale", map[string]int{"replicas": 3}, &ExecuteOptions{SkipFlagCheck: true})
			return err
		})
		_, err := b.WaitForApproval(ApprovalParams{Reason: "keep scaled down?", Timeout: "1m"})
		return nil, err
	})
	h.clock.BlockUntil(1)
	h.clock.Advance(time.Minute)

	assert.True(t, IsApprovalTimeout(h.result(id, nil)))
	require.Len(t, h.envelopes, 2)
	assert.JSONEq(t, `{"replicas":3}`, string(h.envelopes[1].Input))
}

func TestMain_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMetricsCollector("test", reg)
	require.NoError(t, err)

	h := newHarness(t)
	h.capErr = errors.New("boom")
	def := &Definition[json.RawMessage, json.RawMessage, interface{}]{
		Descriptor: testDescriptor("ops.metrics"),
		Metrics:    collector,
		Logic: func(b *Blueprint, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
			b.AddCompensation("a", func() error { return nil })
			b.AddCompensation("b", func() error { return nil })
			return b.ExecuteByID("k8s.restart", nil, nil)
		},
	}
	require.NoError(t, def.Register(h.rt))
	id := h.start("main-6", "ops.metrics", testSecurity, testGolden, StartRequest{})
	require.Error(t, h.result(id, nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.executionsTotal.WithLabelValues("ops.metrics", "compensated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.compensationsTotal.WithLabelValues("ops.metrics", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.dispatchesTotal.WithLabelValues("k8s.restart", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.flagChecksTotal.WithLabelValues("on")))

	_, err = NewMetricsCollector("test", reg)
	assert.Error(t, err, "registering twice must fail")
}
