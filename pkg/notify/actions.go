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

package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// ErrUnknownAction is returned for button clicks that are not approval buttons.
var ErrUnknownAction = errors.New("unknown chat action")

// ChatUser identifies who clicked a button.
type ChatUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Action is a button click relayed by the chat bridge.
type Action struct {
	ActionID string   `json:"actionId"`
	Value    string   `json:"value"`
	User     ChatUser `json:"user"`
	Comment  string   `json:"comment,omitempty"`
}

// Signaler delivers signals to running executions. *durable.Runtime
// satisfies it.
type Signaler interface {
	Signal(workflowID, name string, payload interface{}) error
}

// DecisionFromAction maps an approve/reject click to the workflow it
// targets and the approval decision to signal.
func DecisionFromAction(a Action, now time.Time) (string, blueprint.ApprovalDecision, error) {
	var decision string
	switch a.ActionID {
	case blueprint.ApproveActionID:
		decision = blueprint.DecisionApproved
	case blueprint.RejectActionID:
		decision = blueprint.DecisionRejected
	default:
		return "", blueprint.ApprovalDecision{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.ActionID)
	}
	if a.Value == "" {
		return "", blueprint.ApprovalDecision{}, errors.New("chat action carries no workflow id")
	}
	if a.User.ID == "" {
		return "", blueprint.ApprovalDecision{}, errors.New("chat action carries no user id")
	}
	return a.Value, blueprint.ApprovalDecision{
		Decision:      decision,
		ApproverID:    a.User.ID,
		ApproverName:  trimmed(a.User.Name, a.User.ID),
		ApproverRoles: append([]string{}, a.User.Roles...),
		Reason:        a.Comment,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Source:        blueprint.SourceChat,
	}, nil
}

// ActionRelay turns chat button clicks into approval signals.
type ActionRelay struct {
	signaler Signaler
	now      func() time.Time
	logger   *zap.Logger
}

// NewActionRelay creates a relay delivering to signaler.
func NewActionRelay(signaler Signaler) *ActionRelay {
	return &ActionRelay{
		signaler: signaler,
		now:      time.Now,
		logger:   logger.GetLogger().Named("notify.actions"),
	}
}

// Handle decodes one action payload and signals the target execution.
func (r *ActionRelay) Handle(data []byte) error {
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		return fmt.Errorf("malformed chat action: %w", err)
	}
	workflowID, decision, err := DecisionFromAction(action, r.now())
	if err != nil {
		return err
	}
	if err := r.signaler.Signal(workflowID, blueprint.ApprovalSignal, decision); err != nil {
		return fmt.Errorf("failed to signal %s: %w", workflowID, err)
	}
	r.logger.Info("approval decision relayed from chat",
		zap.String("workflow_id", workflowID),
		zap.String("decision", decision.Decision),
		zap.String("approver", decision.ApproverID))
	return nil
}

// Subscriber is the NATS subscription surface. *nats.Conn satisfies it.
type Subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Serve subscribes the relay to the bridge's action subject.
func (r *ActionRelay) Serve(sub Subscriber, subjectPrefix, queue string) (*nats.Subscription, error) {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return sub.QueueSubscribe(subjectPrefix+".action", queue, func(msg *nats.Msg) {
		if err := r.Handle(msg.Data); err != nil {
			r.logger.Warn("dropping chat action", zap.Error(err))
		}
	})
}
