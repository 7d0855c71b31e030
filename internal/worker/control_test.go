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

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Start(ctx context.Context, opts durable.StartOptions, input interface{}) (string, error) {
	args := m.Called(ctx, opts, input)
	return args.String(0), args.Error(1)
}

func (m *mockEngine) Signal(workflowID, name string, payload interface{}) error {
	return m.Called(workflowID, name, payload).Error(0)
}

func (m *mockEngine) Query(workflowID, name string) (json.RawMessage, error) {
	args := m.Called(workflowID, name)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockEngine) Cancel(workflowID string) error {
	return m.Called(workflowID).Error(0)
}

func (m *mockEngine) Status(workflowID string) (durable.ExecutionStatus, error) {
	args := m.Called(workflowID)
	return args.Get(0).(durable.ExecutionStatus), args.Error(1)
}

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	args := m.Called(ctx, subj, data)
	msg, _ := args.Get(0).(*nats.Msg)
	return msg, args.Error(1)
}

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subj, queue, cb)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

func TestControlSubject(t *testing.T) {
	assert.Equal(t, "ops.start", ControlSubject("ops", OpStart))
	assert.Equal(t, "ops.query.wf-1.approvalState", ControlSubject("ops", OpQuery, "wf-1", "approvalState"))
}

func TestControlPlane_HandleStart(t *testing.T) {
	engine := &mockEngine{}
	cp := NewControlPlane(engine, "ops")

	engine.On("Start", mock.Anything, mock.MatchedBy(func(opts durable.StartOptions) bool {
		_, hasSecurity := opts.Memo[blueprint.SecurityContextKey]
		return opts.ID == "wf-1" && opts.WorkflowType == "ops.restart-service" && hasSecurity
	}), mock.MatchedBy(func(req blueprint.StartRequest) bool {
		return string(req.Input) == `{"service":"api"}`
	})).Return("wf-1", nil).Once()

	reply := cp.HandleStart(context.Background(), []byte(`{
		"id": "wf-1",
		"blueprintId": "ops.restart-service",
		"input": {"service":"api"},
		"securityContext": {"initiatorId": "alice"}
	}`))
	require.Nil(t, reply.Error)
	assert.Equal(t, "wf-1", reply.WorkflowID)
	assert.Equal(t, "running", reply.Status)
	engine.AssertExpectations(t)
}

func TestControlPlane_BadRequests(t *testing.T) {
	cp := NewControlPlane(&mockEngine{}, "ops")
	ctx := context.Background()

	tests := []struct {
		name    string
		subject string
		data    string
		message string
	}{
		{"malformed start", "ops.start", "{", "malformed start command"},
		{"missing blueprint", "ops.start", `{"id":"x"}`, "blueprintId is required"},
		{"dotted id", "ops.start", `{"id":"a.b","blueprintId":"bp"}`, "must not contain"},
		{"malformed signal", "ops.signal.wf-1", "nope", "malformed signal command"},
		{"foreign prefix", "other.start", "{}", "outside the control prefix"},
		{"unknown op", "ops.pause.wf-1", "{}", "unknown control subject"},
		{"query without name", "ops.query.wf-1", "{}", "unknown control subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := cp.Dispatch(ctx, tt.subject, []byte(tt.data))
			require.NotNil(t, reply.Error)
			assert.Equal(t, ErrCodeBadRequest, reply.Error.Code)
			assert.Contains(t, reply.Error.Message, tt.message)
		})
	}
}

func TestControlPlane_Dispatch(t *testing.T) {
	engine := &mockEngine{}
	cp := NewControlPlane(engine, "ops")
	ctx := context.Background()

	engine.On("Signal", "wf-1", blueprint.ApprovalSignal, json.RawMessage(`{"decision":"approved"}`)).Return(nil).Once()
	engine.On("Signal", "wf-1", "custom", json.RawMessage(`1`)).Return(nil).Once()
	engine.On("Query", "wf-1", "approvalState").Return(json.RawMessage(`{"status":"pending"}`), nil).Once()
	engine.On("Cancel", "wf-1").Return(nil).Once()
	engine.On("Status", "wf-1").Return(durable.StatusCanceled, nil).Once()

	reply := cp.Dispatch(ctx, "ops.signal.wf-1", []byte(`{"payload":{"decision":"approved"}}`))
	assert.Nil(t, reply.Error)
	reply = cp.Dispatch(ctx, "ops.signal.wf-1", []byte(`{"name":"custom","payload":1}`))
	assert.Nil(t, reply.Error)

	reply = cp.Dispatch(ctx, "ops.query.wf-1.approvalState", nil)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"status":"pending"}`, string(reply.Result))

	reply = cp.Dispatch(ctx, "ops.cancel.wf-1", nil)
	assert.Nil(t, reply.Error)

	reply = cp.Dispatch(ctx, "ops.status.wf-1", nil)
	require.Nil(t, reply.Error)
	assert.Equal(t, "canceled", reply.Status)

	engine.AssertExpectations(t)
}

func TestControlPlane_ErrorCodes(t *testing.T) {
	engine := &mockEngine{}
	cp := NewControlPlane(engine, "ops")

	engine.On("Cancel", "missing").Return(durable.NewWorkflowNotFoundError("missing")).Once()
	engine.On("Query", "wf-2", "approvalState").Return(nil,
		&blueprint.MissingSecurityContextError{WorkflowID: "wf-2", Reason: "not supplied at start"}).Once()
	engine.On("Status", "wf-3").Return(durable.StatusRunning, errors.New("boom")).Once()

	reply := cp.HandleCancel("missing")
	require.NotNil(t, reply.Error)
	assert.Equal(t, durable.ErrCodeWorkflowNotFound, reply.Error.Code)

	reply = cp.HandleQuery("wf-2", "approvalState")
	require.NotNil(t, reply.Error)
	assert.Equal(t, blueprint.ErrCodeMissingSecurityContext, reply.Error.Code)

	reply = cp.HandleStatus("wf-3")
	require.NotNil(t, reply.Error)
	assert.Equal(t, "INTERNAL", reply.Error.Code)
	assert.Equal(t, "boom", reply.Error.Message)
}

func TestControlPlane_Serve(t *testing.T) {
	sub := &mockSubscriber{}
	for _, subject := range []string{"ops.start", "ops.signal.*", "ops.query.*.*", "ops.cancel.*", "ops.status.*"} {
		sub.On("QueueSubscribe", subject, "workers", mock.Anything).Return(&nats.Subscription{Subject: subject}, nil).Once()
	}

	subs, err := NewControlPlane(&mockEngine{}, "ops").Serve(context.Background(), sub, "workers")
	require.NoError(t, err)
	assert.Len(t, subs, 5)
	sub.AssertExpectations(t)
}

func TestControlPlane_ServeSubscribeError(t *testing.T) {
	sub := &mockSubscriber{}
	sub.On("QueueSubscribe", "ops.start", "workers", mock.Anything).Return(&nats.Subscription{}, nil).Once()
	sub.On("QueueSubscribe", "ops.signal.*", "workers", mock.Anything).Return(nil, nats.ErrConnectionClosed).Once()

	subs, err := NewControlPlane(&mockEngine{}, "ops").Serve(context.Background(), sub, "workers")
	require.Error(t, err)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
	assert.Len(t, subs, 1, "subscriptions made before the failure are returned for cleanup")
}

func TestControlClient(t *testing.T) {
	req := &mockRequester{}
	client := NewControlClient(req, "ops")
	ctx := context.Background()

	req.On("RequestWithContext", ctx, "ops.start", mock.MatchedBy(func(data []byte) bool {
		var cmd StartCommand
		return json.Unmarshal(data, &cmd) == nil && cmd.BlueprintID == "bp"
	})).Return(&nats.Msg{Data: []byte(`{"workflowId":"wf-9","status":"running"}`)}, nil).Once()
	req.On("RequestWithContext", ctx, "ops.signal.wf-9", mock.MatchedBy(func(data []byte) bool {
		var cmd SignalCommand
		return json.Unmarshal(data, &cmd) == nil && cmd.Name == blueprint.ApprovalSignal &&
			string(cmd.Payload) == `{"decision":"approved"}`
	})).Return(&nats.Msg{Data: []byte(`{"workflowId":"wf-9"}`)}, nil).Once()
	req.On("RequestWithContext", ctx, "ops.query.wf-9.approvalState", mock.Anything).
		Return(&nats.Msg{Data: []byte(`{"result":{"status":"approved"}}`)}, nil).Once()
	req.On("RequestWithContext", ctx, "ops.status.wf-9", mock.Anything).
		Return(&nats.Msg{Data: []byte(`{"status":"completed"}`)}, nil).Once()
	req.On("RequestWithContext", ctx, "ops.cancel.wf-9", mock.Anything).
		Return(&nats.Msg{Data: []byte(`{"error":{"code":"EXECUTION_CLOSED","message":"already finished"}}`)}, nil).Once()

	id, err := client.Start(ctx, StartCommand{BlueprintID: "bp"})
	require.NoError(t, err)
	assert.Equal(t, "wf-9", id)

	require.NoError(t, client.Signal(ctx, "wf-9", blueprint.ApprovalSignal, map[string]string{"decision": "approved"}))

	result, err := client.Query(ctx, "wf-9", blueprint.ApprovalQuery)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"approved"}`, string(result))

	status, err := client.Status(ctx, "wf-9")
	require.NoError(t, err)
	assert.Equal(t, "completed", status)

	err = client.Cancel(ctx, "wf-9")
	var controlErr *ControlError
	require.ErrorAs(t, err, &controlErr)
	assert.Equal(t, durable.ErrCodeExecutionClosed, controlErr.Code)

	req.AssertExpectations(t)
}

func TestControlClient_TransportError(t *testing.T) {
	req := &mockRequester{}
	req.On("RequestWithContext", mock.Anything, "ops.status.wf-1", mock.Anything).Return(nil, nats.ErrNoResponders).Once()
	req.On("RequestWithContext", mock.Anything, "ops.status.wf-2", mock.Anything).Return(&nats.Msg{Data: []byte("<html>")}, nil).Once()

	client := NewControlClient(req, "ops")
	_, err := client.Status(context.Background(), "wf-1")
	assert.ErrorIs(t, err, nats.ErrNoResponders)

	_, err = client.Status(context.Background(), "wf-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed control reply")
}
