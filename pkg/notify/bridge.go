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

// Package notify talks to the chat bridge that posts approval requests and
// relays the approve/reject button clicks back as approval signals.
//
// The bridge is reached over NATS request/reply:
//
//	<prefix>.post    post a new message, reply {"messageHandle": "..."}
//	<prefix>.update  rewrite a posted message, reply {}
//	<prefix>.action  published by the bridge when a button is clicked
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// DefaultSubjectPrefix is the subject namespace of the chat bridge.
const DefaultSubjectPrefix = "opsflow.chat"

// ErrBridge wraps failures reported by the chat bridge.
var ErrBridge = errors.New("chat bridge error")

// Requester is the NATS request/reply surface. *nats.Conn satisfies it.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Config configures the bridge client.
type Config struct {
	SubjectPrefix  string        `mapstructure:"subject_prefix" json:"subject_prefix" yaml:"subject_prefix"`
	DefaultChannel string        `mapstructure:"default_channel" json:"default_channel" yaml:"default_channel"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = "#ops-approvals"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Message is the payload of post and update requests.
type Message struct {
	Channel       string            `json:"channel"`
	MessageHandle string            `json:"messageHandle,omitempty"`
	WorkflowID    string            `json:"workflowId,omitempty"`
	Text          string            `json:"text"`
	Blocks        []blueprint.Block `json:"blocks"`
}

type bridgeReply struct {
	MessageHandle string `json:"messageHandle,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Notifier posts and updates approval cards through the bridge.
type Notifier struct {
	requester Requester
	config    Config
	logger    *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(requester Requester, cfg Config) *Notifier {
	cfg.ApplyDefaults()
	return &Notifier{
		requester: requester,
		config:    cfg,
		logger:    logger.GetLogger().Named("notify"),
	}
}

// WithLogger replaces the notifier logger and returns n.
func (n *Notifier) WithLogger(l *zap.Logger) *Notifier {
	n.logger = l
	return n
}

func (n *Notifier) subject(op string) string {
	return n.config.SubjectPrefix + "." + op
}

func (n *Notifier) channel(requested string) string {
	if requested != "" {
		return requested
	}
	return n.config.DefaultChannel
}

// SendApprovalRequest posts the approval card for req.
func (n *Notifier) SendApprovalRequest(ctx context.Context, req blueprint.NotificationRequest) (blueprint.NotificationResponse, error) {
	msg := Message{
		Channel:    n.channel(req.Channel),
		WorkflowID: req.WorkflowID,
		Text:       "Approval required: " + req.Reason,
		Blocks:     blueprint.BuildApprovalRequestBlocks(req),
	}
	reply, err := n.call(ctx, "post", msg)
	if err != nil {
		return blueprint.NotificationResponse{}, err
	}
	if reply.MessageHandle == "" {
		return blueprint.NotificationResponse{}, fmt.Errorf("%w: post returned no message handle", ErrBridge)
	}
	n.logger.Info("approval request posted",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("channel", msg.Channel),
		zap.String("message_handle", reply.MessageHandle))
	return blueprint.NotificationResponse{MessageHandle: reply.MessageHandle}, nil
}

// UpdateApproval replaces the posted card with the resolved one.
func (n *Notifier) UpdateApproval(ctx context.Context, upd blueprint.NotificationUpdate) (struct{}, error) {
	msg := Message{
		Channel:       n.channel(upd.Channel),
		MessageHandle: upd.MessageHandle,
		Text:          fmt.Sprintf("Approval %s: %s", upd.Status, upd.OriginalReason),
		Blocks:        blueprint.BuildApprovalResolvedBlocks(upd),
	}
	if _, err := n.call(ctx, "update", msg); err != nil {
		return struct{}{}, err
	}
	return struct{}{}, nil
}

func (n *Notifier) call(ctx context.Context, op string, msg Message) (*bridgeReply, error) {
	if n.requester == nil {
		return nil, fmt.Errorf("%w: nats connection not configured", ErrBridge)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat message: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
	}

	resp, err := n.requester.RequestWithContext(ctx, n.subject(op), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request failed: %w", ErrBridge, op, err)
	}
	var reply bridgeReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed %s reply: %w", ErrBridge, op, err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBridge, reply.Error)
	}
	return &reply, nil
}

// RegisterActivities registers the notification activities with rt.
func RegisterActivities(rt *durable.Runtime, n *Notifier) {
	durable.RegisterActivity(rt, blueprint.NotifyApprovalRequestActivity, n.SendApprovalRequest)
	durable.RegisterActivity(rt, blueprint.NotifyApprovalUpdateActivity, n.UpdateApproval)
}

// trimmed returns s without surrounding whitespace, or fallback when empty.
func trimmed(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}
