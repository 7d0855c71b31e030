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

package flags

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
)

const testFlagFile = `
flags:
  - key: cap-ops.restart-enabled
    description: restart capability
    enabled: true
    value: true
    rules:
      - name: freeze-prod-for-contractors
        when: environment == "prod" && initiatorId startsWith "ext-"
        value: false
  - key: new-approval-ui
    enabled: true
    value: false
    rules:
      - when: appId in ["payments", "ledger"]
        value: true
  - key: legacy-path
    enabled: false
    value: true
`

func mustParse(t *testing.T, data string) *Set {
	t.Helper()
	set, err := ParseFile([]byte(data))
	require.NoError(t, err)
	return set
}

func request(key string, def bool, initiator, app, env string) blueprint.FlagRequest {
	return blueprint.FlagRequest{
		Key:     key,
		Default: def,
		Targeting: blueprint.FlagTargeting{
			InitiatorID: initiator,
			AppID:       app,
			Environment: env,
			WorkflowID:  "wf-1",
		},
	}
}

func TestParseFile(t *testing.T) {
	set := mustParse(t, testFlagFile)
	assert.Equal(t, 3, set.Len())

	tests := []struct {
		name string
		data string
	}{
		{"invalid yaml", "flags: [\n"},
		{"missing key", "flags:\n  - enabled: true\n"},
		{"duplicate key", "flags:\n  - key: a\n  - key: a\n"},
		{"empty condition", "flags:\n  - key: a\n    rules:\n      - when: ''\n"},
		{"unknown variable", "flags:\n  - key: a\n    rules:\n      - when: tenant == 'x'\n"},
		{"non boolean rule", "flags:\n  - key: a\n    rules:\n      - when: appId\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestEvaluator_Resolution(t *testing.T) {
	e := NewEvaluator(mustParse(t, testFlagFile), WithLogger(zap.NewNop()))

	tests := []struct {
		name       string
		req        blueprint.FlagRequest
		wantValue  bool
		wantReason string
	}{
		{
			name:       "rule matches",
			req:        request("cap-ops.restart-enabled", true, "ext-bob", "payments", "prod"),
			wantValue:  false,
			wantReason: "rule:freeze-prod-for-contractors",
		},
		{
			name:       "no rule matches",
			req:        request("cap-ops.restart-enabled", true, "alice", "payments", "prod"),
			wantValue:  true,
			wantReason: ReasonFallthrough,
		},
		{
			name:       "unnamed rule",
			req:        request("new-approval-ui", false, "alice", "ledger", "dev"),
			wantValue:  true,
			wantReason: "rule:rule-0",
		},
		{
			name:       "disabled flag",
			req:        request("legacy-path", true, "alice", "payments", "prod"),
			wantValue:  false,
			wantReason: ReasonDisabled,
		},
		{
			name:       "unknown flag uses default",
			req:        request("does-not-exist", true, "alice", "payments", "prod"),
			wantValue:  true,
			wantReason: ReasonDefault,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Evaluate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.req.Key, result.Key)
			assert.Equal(t, tt.wantValue, result.Value)
			assert.Equal(t, tt.wantReason, result.Reason)
		})
	}
}

func TestEvaluator_OverrideWins(t *testing.T) {
	store := NewMemoryOverrideStore()
	e := NewEvaluator(mustParse(t, testFlagFile), WithOverrideStore(store), WithLogger(zap.NewNop()))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cap-ops.restart-enabled", false, 0))
	result, err := e.Evaluate(ctx, request("cap-ops.restart-enabled", true, "alice", "payments", "prod"))
	require.NoError(t, err)
	assert.False(t, result.Value)
	assert.Equal(t, ReasonOverride, result.Reason)

	require.NoError(t, store.Clear(ctx, "cap-ops.restart-enabled"))
	result, err = e.Evaluate(ctx, request("cap-ops.restart-enabled", true, "alice", "payments", "prod"))
	require.NoError(t, err)
	assert.True(t, result.Value)
	assert.Equal(t, ReasonFallthrough, result.Reason)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (bool, bool, error) {
	return false, false, errors.New("redis down")
}

func (failingStore) Set(context.Context, string, bool, time.Duration) error { return nil }

func (failingStore) Clear(context.Context, string) error { return nil }

func TestEvaluator_OverrideErrorPropagates(t *testing.T) {
	e := NewEvaluator(nil, WithOverrideStore(failingStore{}), WithLogger(zap.NewNop()))
	_, err := e.Evaluate(context.Background(), request("x", true, "alice", "", ""))
	assert.EqualError(t, err, "redis down")
}

func TestEvaluator_Replace(t *testing.T) {
	e := NewEvaluator(nil, WithLogger(zap.NewNop()))
	result, err := e.Evaluate(context.Background(), request("legacy-path", true, "alice", "", ""))
	require.NoError(t, err)
	assert.Equal(t, ReasonDefault, result.Reason)

	e.Replace(mustParse(t, testFlagFile))
	result, err = e.Evaluate(context.Background(), request("legacy-path", true, "alice", "", ""))
	require.NoError(t, err)
	assert.Equal(t, ReasonDisabled, result.Reason)
}

// The evaluator serves CheckFlag end to end through the runtime.
func TestRegisterActivities_ServesCheckFlag(t *testing.T) {
	rt := durable.NewRuntime(
		durable.WithLogger(zap.NewNop()),
		durable.WithClock(durable.NewManualClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))),
	)
	t.Cleanup(rt.Close)
	RegisterActivities(rt, NewEvaluator(mustParse(t, testFlagFile), WithLogger(zap.NewNop())))

	def := &blueprint.Definition[json.RawMessage, json.RawMessage, []bool]{
		Descriptor: blueprint.Descriptor{
			ID:         "test.flags",
			Version:    "1.0.0",
			Name:       "Flag probe",
			Owner:      "sre-team",
			Operations: blueprint.OperationsPolicy{SLA: blueprint.SLA{MaxDuration: "1m"}},
		},
		Logic: func(b *blueprint.Blueprint, _ json.RawMessage, _ json.RawMessage) ([]bool, error) {
			restart, err := b.CheckFlag("cap-ops.restart-enabled", true)
			if err != nil {
				return nil, err
			}
			ui, err := b.CheckFlag("new-approval-ui", false)
			if err != nil {
				return nil, err
			}
			return []bool{restart, ui}, nil
		},
	}
	require.NoError(t, def.Register(rt))

	sc := &blueprint.SecurityContext{InitiatorID: "ext-bob"}
	gc := &blueprint.GoldenContext{AppID: "payments", Environment: "prod"}
	id, err := rt.Start(context.Background(), blueprint.NewStartOptions("flags-1", def.Descriptor.ID, sc, gc), blueprint.StartRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []bool
	require.NoError(t, rt.Result(ctx, id, &out))
	assert.Equal(t, []bool{false, true}, out)
}
