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
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// Control operations. A request for operation op on execution id is sent
// to <prefix>.<op>.<id>; queries append .<query name>. Start has no id.
const (
	OpStart  = "start"
	OpSignal = "signal"
	OpQuery  = "query"
	OpCancel = "cancel"
	OpStatus = "status"
)

// ErrCodeBadRequest marks malformed control requests.
const ErrCodeBadRequest = "BAD_REQUEST"

// Engine is the part of the durable runtime the control plane drives.
// *durable.Runtime satisfies it.
type Engine interface {
	Start(ctx context.Context, opts durable.StartOptions, input interface{}) (string, error)
	Signal(workflowID, name string, payload interface{}) error
	Query(workflowID, name string) (json.RawMessage, error)
	Cancel(workflowID string) error
	Status(workflowID string) (durable.ExecutionStatus, error)
}

// StartCommand starts a blueprint execution.
type StartCommand struct {
	ID          string                     `json:"id,omitempty"`
	BlueprintID string                     `json:"blueprintId"`
	Input       json.RawMessage            `json:"input,omitempty"`
	Config      json.RawMessage            `json:"config,omitempty"`
	Security    *blueprint.SecurityContext `json:"securityContext,omitempty"`
	Golden      *blueprint.GoldenContext   `json:"goldenContext,omitempty"`
}

// SignalCommand delivers a signal. Name defaults to the approval signal.
type SignalCommand struct {
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ControlReply is the answer to every control request.
type ControlReply struct {
	WorkflowID string          `json:"workflowId,omitempty"`
	Status     string          `json:"status,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ControlError   `json:"error,omitempty"`
}

// ControlError describes a failed control request.
type ControlError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ControlError) Error() string {
	return e.Code + ": " + e.Message
}

// ControlPlane serves control requests against an Engine.
type ControlPlane struct {
	engine Engine
	prefix string
	logger *zap.Logger
}

// NewControlPlane creates a control plane for subjects under prefix.
func NewControlPlane(engine Engine, prefix string) *ControlPlane {
	return &ControlPlane{
		engine: engine,
		prefix: prefix,
		logger: logger.GetLogger().Named("worker.control"),
	}
}

// ControlSubject returns the subject of operation op. Parts are appended
// as additional tokens.
func ControlSubject(prefix, op string, parts ...string) string {
	return strings.Join(append([]string{prefix, op}, parts...), ".")
}

// HandleStart starts the execution described by data.
func (c *ControlPlane) HandleStart(ctx context.Context, data []byte) ControlReply {
	var cmd StartCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return badRequest("malformed start command: " + err.Error())
	}
	if cmd.BlueprintID == "" {
		return badRequest("blueprintId is required")
	}
	if strings.Contains(cmd.ID, ".") {
		return badRequest("execution id must not contain '.'")
	}
	opts := blueprint.NewStartOptions(cmd.ID, cmd.BlueprintID, cmd.Security, cmd.Golden)
	id, err := c.engine.Start(ctx, opts, blueprint.StartRequest{Input: cmd.Input, Config: cmd.Config})
	if err != nil {
		return errorReply(cmd.ID, err)
	}
	c.logger.Info("execution started", zap.String("workflow_id", id), zap.String("blueprint", cmd.BlueprintID))
	return ControlReply{WorkflowID: id, Status: durable.StatusRunning.String()}
}

// HandleSignal delivers the signal in data to id.
func (c *ControlPlane) HandleSignal(id string, data []byte) ControlReply {
	var cmd SignalCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return badRequest("malformed signal command: " + err.Error())
	}
	if cmd.Name == "" {
		cmd.Name = blueprint.ApprovalSignal
	}
	if err := c.engine.Signal(id, cmd.Name, cmd.Payload); err != nil {
		return errorReply(id, err)
	}
	c.logger.Info("signal delivered", zap.String("workflow_id", id), zap.String("signal", cmd.Name))
	return ControlReply{WorkflowID: id}
}

// HandleQuery runs query name against id.
func (c *ControlPlane) HandleQuery(id, name string) ControlReply {
	result, err := c.engine.Query(id, name)
	if err != nil {
		return errorReply(id, err)
	}
	return ControlReply{WorkflowID: id, Result: result}
}

// HandleCancel requests cancellation of id.
func (c *ControlPlane) HandleCancel(id string) ControlReply {
	if err := c.engine.Cancel(id); err != nil {
		return errorReply(id, err)
	}
	c.logger.Info("cancellation requested", zap.String("workflow_id", id))
	return ControlReply{WorkflowID: id}
}

// HandleStatus reports the lifecycle state of id.
func (c *ControlPlane) HandleStatus(id string) ControlReply {
	status, err := c.engine.Status(id)
	if err != nil {
		return errorReply(id, err)
	}
	return ControlReply{WorkflowID: id, Status: status.String()}
}

// Dispatch routes one request by subject.
func (c *ControlPlane) Dispatch(ctx context.Context, subject string, data []byte) ControlReply {
	rest, ok := strings.CutPrefix(subject, c.prefix+".")
	if !ok {
		return badRequest("subject outside the control prefix: " + subject)
	}
	tokens := strings.Split(rest, ".")
	switch {
	case tokens[0] == OpStart && len(tokens) == 1:
		return c.HandleStart(ctx, data)
	case tokens[0] == OpSignal && len(tokens) == 2:
		return c.HandleSignal(tokens[1], data)
	case tokens[0] == OpQuery && len(tokens) == 3:
		return c.HandleQuery(tokens[1], tokens[2])
	case tokens[0] == OpCancel && len(tokens) == 2:
		return c.HandleCancel(tokens[1])
	case tokens[0] == OpStatus && len(tokens) == 2:
		return c.HandleStatus(tokens[1])
	}
	return badRequest("unknown control subject: " + subject)
}

// Subscriber is the NATS subscription surface. *nats.Conn satisfies it.
type Subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Serve subscribes the control plane to its subjects.
func (c *ControlPlane) Serve(ctx context.Context, sub Subscriber, queue string) ([]*nats.Subscription, error) {
	handler := func(msg *nats.Msg) {
		reply := c.Dispatch(ctx, msg.Subject, msg.Data)
		data, err := json.Marshal(reply)
		if err != nil {
			c.logger.Error("failed to encode control reply", zap.Error(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			c.logger.Warn("failed to answer control request", zap.String("subject", msg.Subject), zap.Error(err))
		}
	}
	subjects := []string{
		ControlSubject(c.prefix, OpStart),
		ControlSubject(c.prefix, OpSignal, "*"),
		ControlSubject(c.prefix, OpQuery, "*", "*"),
		ControlSubject(c.prefix, OpCancel, "*"),
		ControlSubject(c.prefix, OpStatus, "*"),
	}
	subs := make([]*nats.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		s, err := sub.QueueSubscribe(subject, queue, handler)
		if err != nil {
			return subs, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func badRequest(message string) ControlReply {
	return ControlReply{Error: &ControlError{Code: ErrCodeBadRequest, Message: message}}
}

func errorReply(id string, err error) ControlReply {
	code := blueprint.ErrorCode(err)
	var execErr *durable.ExecutionError
	if code == "" && errors.As(err, &execErr) {
		code = execErr.Code
	}
	if code == "" {
		code = "INTERNAL"
	}
	return ControlReply{WorkflowID: id, Error: &ControlError{Code: code, Message: err.Error()}}
}

// Requester is the NATS request/reply surface. *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// ControlClient sends control requests to a worker.
type ControlClient struct {
	requester Requester
	prefix    string
}

// NewControlClient creates a client for the control plane under prefix.
func NewControlClient(requester Requester, prefix string) *ControlClient {
	return &ControlClient{requester: requester, prefix: prefix}
}

// Start starts an execution and returns its id.
func (c *ControlClient) Start(ctx context.Context, cmd StartCommand) (string, error) {
	reply, err := c.call(ctx, ControlSubject(c.prefix, OpStart), cmd)
	if err != nil {
		return "", err
	}
	return reply.WorkflowID, nil
}

// Signal delivers a signal to id.
func (c *ControlClient) Signal(ctx context.Context, id, name string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode signal payload: %w", err)
	}
	_, err = c.call(ctx, ControlSubject(c.prefix, OpSignal, id), SignalCommand{Name: name, Payload: raw})
	return err
}

// Query runs query name against id.
func (c *ControlClient) Query(ctx context.Context, id, name string) (json.RawMessage, error) {
	reply, err := c.call(ctx, ControlSubject(c.prefix, OpQuery, id, name), struct{}{})
	if err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// Cancel requests cancellation of id.
func (c *ControlClient) Cancel(ctx context.Context, id string) error {
	_, err := c.call(ctx, ControlSubject(c.prefix, OpCancel, id), struct{}{})
	return err
}

// Status returns the lifecycle state of id.
func (c *ControlClient) Status(ctx context.Context, id string) (string, error) {
	reply, err := c.call(ctx, ControlSubject(c.prefix, OpStatus, id), struct{}{})
	if err != nil {
		return "", err
	}
	return reply.Status, nil
}

func (c *ControlClient) call(ctx context.Context, subject string, body interface{}) (*ControlReply, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	msg, err := c.requester.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("control request %s: %w", subject, err)
	}
	var reply ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("malformed control reply: %w", err)
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return &reply, nil
}
