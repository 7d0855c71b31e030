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

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
)

type restartInput struct {
	Service string `json:"service"`
}

type restartOutput struct {
	Restarted string `json:"restarted"`
	RunAs     string `json:"runAs"`
}

const restartSchema = `{
	"type": "object",
	"required": ["service"],
	"properties": {"service": {"type": "string", "minLength": 1}}
}`

func newRestart(t *testing.T) *Func[restartInput, restartOutput] {
	t.Helper()
	c, err := New("ops.service.restart", restartSchema,
		func(ctx context.Context, in restartInput, env blueprint.CapabilityEnvelope) (restartOutput, error) {
			return restartOutput{Restarted: in.Service, RunAs: env.RunAs}, nil
		})
	require.NoError(t, err)
	return c
}

func envelope(id, input string) blueprint.CapabilityEnvelope {
	return blueprint.CapabilityEnvelope{
		CapabilityID:  id,
		Input:         json.RawMessage(input),
		RunAs:         "alice",
		TraceID:       "trace-1",
		GoldenContext: &blueprint.GoldenContext{AppID: "payments", Environment: "prod"},
	}
}

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context, struct{}, blueprint.CapabilityEnvelope) (struct{}, error) { return struct{}{}, nil }

	_, err := New("", "", noop)
	assert.Error(t, err)
	_, err = New[struct{}, struct{}]("x", "", nil)
	assert.Error(t, err)
	_, err = New("x", `{"type": 12}`, noop)
	assert.Error(t, err)
}

func TestFunc_Invoke(t *testing.T) {
	c := newRestart(t)

	out, err := c.Invoke(context.Background(), envelope(c.ID(), `{"service":"api"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"restarted":"api","runAs":"alice"}`, string(out))

	_, err = c.Invoke(context.Background(), envelope(c.ID(), `{"service":""}`))
	assert.True(t, IsInvalidInput(err))

	_, err = c.Invoke(context.Background(), envelope(c.ID(), `{"service":`))
	assert.True(t, IsInvalidInput(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry().WithLogger(zap.NewNop())
	c := newRestart(t)

	require.NoError(t, r.Register(c))
	assert.ErrorIs(t, r.Register(c), ErrDuplicateCapability)

	resolved, err := r.Resolve("ops.service.restart")
	require.NoError(t, err)
	assert.Same(t, c, resolved)

	_, err = r.Resolve("ops.unknown")
	assert.True(t, IsNotFound(err))

	r.Seal()
	other, err := New("ops.other", "", func(context.Context, struct{}, blueprint.CapabilityEnvelope) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(other), ErrRegistrySealed)
	assert.Equal(t, []string{"ops.service.restart"}, r.IDs())
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry().WithLogger(zap.NewNop())
	require.NoError(t, r.Register(newRestart(t)))

	out, err := r.Execute(context.Background(), envelope("ops.service.restart", `{"service":"db"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"restarted":"db","runAs":"alice"}`, string(out))

	_, err = r.Execute(context.Background(), envelope("ops.missing", `{}`))
	assert.True(t, IsNotFound(err))
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	args := m.Called(ctx, subj, data)
	msg, _ := args.Get(0).(*nats.Msg)
	return msg, args.Error(1)
}

func TestRemote_Invoke(t *testing.T) {
	req := &mockRequester{}
	var sent blueprint.CapabilityEnvelope
	req.On("RequestWithContext", mock.Anything, "opsflow.capability.ops.dns.flush", mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			require.NoError(t, json.Unmarshal(args.Get(2).([]byte), &sent))
		}).
		Return(&nats.Msg{Data: []byte(`{"output":{"flushed":3}}`)}, nil).Once()

	remote := NewRemote("ops.dns.flush", "", req, time.Second)
	out, err := remote.Invoke(context.Background(), envelope("ops.dns.flush", `{"zone":"a"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"flushed":3}`, string(out))
	assert.Equal(t, "trace-1", sent.TraceID)
	assert.JSONEq(t, `{"zone":"a"}`, string(sent.Input))
	req.AssertExpectations(t)
}

func TestRemote_Errors(t *testing.T) {
	tests := []struct {
		name     string
		msg      *nats.Msg
		err      error
		wantCode string
	}{
		{"no responders", nil, nats.ErrNoResponders, CodeUnavailable},
		{"timeout", nil, nats.ErrTimeout, CodeTimeout},
		{"deadline", nil, context.DeadlineExceeded, CodeTimeout},
		{"other", nil, errors.New("conn closed"), CodeFailed},
		{"malformed reply", &nats.Msg{Data: []byte("nope")}, nil, CodeFailed},
		{"remote error", &nats.Msg{Data: []byte(`{"error":{"code":"QUOTA","message":"too many"}}`)}, nil, "QUOTA"},
		{"remote error without code", &nats.Msg{Data: []byte(`{"error":{"message":"boom"}}`)}, nil, CodeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &mockRequester{}
			req.On("RequestWithContext", mock.Anything, "custom.subject", mock.Anything).Return(tt.msg, tt.err)

			_, err := NewRemote("ops.x", "custom.subject", req, 0).Invoke(context.Background(), envelope("ops.x", `{}`))
			var capErr *Error
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, tt.wantCode, capErr.Code)
			assert.Equal(t, "ops.x", capErr.CapabilityID)
		})
	}

	_, err := NewRemote("ops.x", "", nil, 0).Invoke(context.Background(), envelope("ops.x", `{}`))
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, CodeUnavailable, capErr.Code)
}

func TestHandleRequest(t *testing.T) {
	c := newRestart(t)
	data, err := json.Marshal(envelope(c.ID(), `{"service":"api"}`))
	require.NoError(t, err)

	var reply Reply
	require.NoError(t, json.Unmarshal(HandleRequest(context.Background(), c, data), &reply))
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `{"restarted":"api","runAs":"alice"}`, string(reply.Output))

	data, err = json.Marshal(envelope(c.ID(), `{}`))
	require.NoError(t, err)
	reply = Reply{}
	require.NoError(t, json.Unmarshal(HandleRequest(context.Background(), c, data), &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeInvalidInput, reply.Error.Code)

	reply = Reply{}
	require.NoError(t, json.Unmarshal(HandleRequest(context.Background(), c, []byte("{")), &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeInvalidInput, reply.Error.Code)
}

// A blueprint dispatch reaches the registered capability through the runtime.
func TestRegisterActivities_ServesExecuteByID(t *testing.T) {
	rt := durable.NewRuntime(durable.WithLogger(zap.NewNop()))
	t.Cleanup(rt.Close)

	registry := NewRegistry().WithLogger(zap.NewNop())
	require.NoError(t, registry.Register(newRestart(t)))
	registry.Seal()
	RegisterActivities(rt, registry)

	def := &blueprint.Definition[restartInput, json.RawMessage, restartOutput]{
		Descriptor: blueprint.Descriptor{
			ID:         "test.dispatch",
			Version:    "1.0.0",
			Name:       "Dispatch probe",
			Owner:      "sre-team",
			Operations: blueprint.OperationsPolicy{SLA: blueprint.SLA{MaxDuration: "1m"}},
		},
		Logic: func(b *blueprint.Blueprint, in restartInput, _ json.RawMessage) (restartOutput, error) {
			return blueprint.ExecuteTyped[restartOutput](b, "ops.service.restart", in, &blueprint.ExecuteOptions{SkipFlagCheck: true})
		},
	}
	require.NoError(t, def.Register(rt))

	sc := &blueprint.SecurityContext{InitiatorID: "alice"}
	gc := &blueprint.GoldenContext{AppID: "payments", Environment: "prod"}
	id, err := rt.Start(context.Background(), blueprint.NewStartOptions("dispatch-1", def.Descriptor.ID, sc, gc),
		blueprint.StartRequest{Input: json.RawMessage(`{"service":"api"}`)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out restartOutput
	require.NoError(t, rt.Result(ctx, id, &out))
	assert.Equal(t, restartOutput{Restarted: "api", RunAs: "alice"}, out)
}
