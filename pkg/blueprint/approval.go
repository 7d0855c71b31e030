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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// Signal and query names of the approval protocol.
const (
	ApprovalSignal = "approval"
	ApprovalQuery  = "approvalState"
)

// DefaultApprovalTimeout applies when ApprovalParams.Timeout is empty.
const DefaultApprovalTimeout = "1h"

var notifyActivityOptions = durable.ActivityOptions{StartToCloseTimeout: 30 * time.Second}

// WaitForApproval blocks until an eligible approver decides or the timeout
// elapses. A decision only counts when the approver holds one of
// p.RequiredRoles (any approver when empty); the first one wins. The
// current state is served by the approvalState query.
//
// It returns *ApprovalTimeoutError, *ApprovalRejectedError or, when the
// execution is cancelled, *ApprovalCancelledError. Notification failures
// are logged and never fail the wait.
func (b *Blueprint) WaitForApproval(p ApprovalParams) (*ApprovalResult, error) {
	timeout := p.Timeout
	if timeout == "" {
		timeout = DefaultApprovalTimeout
	}
	roles := p.RequiredRoles
	if roles == nil {
		roles = []string{}
	}
	start := b.Now()
	workflowID := b.ctx.Info().WorkflowID

	incidentID, severity := p.IncidentID, p.IncidentSeverity
	if gc := GetGoldenContext(b.ctx); gc != nil && incidentID == "" {
		incidentID = gc.IncidentID
		severity = firstNonEmpty(severity, gc.IncidentSeverity)
	}

	state := &ApprovalState{
		Status:        ApprovalPending,
		RequestedAt:   start,
		RequestReason: p.Reason,
		RequiredRoles: roles,
		Timeout:       timeout,
		WorkflowID:    workflowID,
	}
	b.ctx.SetSignalHandler(ApprovalSignal, func(payload json.RawMessage) {
		b.ingestDecision(state, payload)
	})
	defer b.ctx.RemoveSignalHandler(ApprovalSignal)
	b.ctx.SetQueryHandler(ApprovalQuery, func() (interface{}, error) {
		return state.snapshot(), nil
	})

	notified := false
	if p.NotificationChannel != "" {
		requestedBy := "unknown"
		if sc, err := GetSecurityContext(b.ctx); err == nil {
			requestedBy = sc.InitiatorID
		}
		handle, err := b.sendApprovalRequest(NotificationRequest{
			Channel:          p.NotificationChannel,
			WorkflowID:       workflowID,
			Reason:           p.Reason,
			RequiredRoles:    roles,
			Timeout:          timeout,
			RequestedBy:      requestedBy,
			IncidentID:       incidentID,
			IncidentSeverity: severity,
		})
		if err != nil {
			b.ctx.Logger().Warn("approval notification not sent", zap.Error(err))
		} else {
			notified = true
			state.NotificationChannel = p.NotificationChannel
			state.NotificationHandle = handle
		}
	}

	b.ctx.Logger().Info("waiting for approval",
		zap.String("reason", p.Reason),
		zap.Strings("required_roles", roles),
		zap.String("timeout", timeout),
	)
	decided, waitErr := b.ctx.AwaitWithTimeout(ParseTimeout(timeout), func() bool {
		return state.Status.IsTerminal()
	})
	end := b.Now()
	elapsed := end.Sub(start).Milliseconds()

	// A decision that landed together with the cancellation still counts.
	var systemDecision *ApprovalDecision
	switch {
	case state.Status.IsTerminal():
	case waitErr != nil:
		state.Status = ApprovalCancelled
		systemDecision = b.systemDecision(end, "Workflow execution was cancelled")
	case !decided:
		state.Status = ApprovalTimeout
		systemDecision = b.systemDecision(end, fmt.Sprintf("No decision received within %s", timeout))
	}
	b.live().recordApproval(b.descriptor.ID, state.Status, elapsed)

	if notified {
		decision := state.Decision
		if decision == nil {
			decision = systemDecision
		}
		err := b.updateApprovalNotification(NotificationUpdate{
			Channel:          state.NotificationChannel,
			MessageHandle:    state.NotificationHandle,
			OriginalReason:   p.Reason,
			Status:           state.Status,
			Decision:         decision,
			DurationMs:       elapsed,
			RequiredRoles:    roles,
			IncidentID:       incidentID,
			IncidentSeverity: severity,
		})
		if err != nil {
			b.ctx.Logger().Warn("approval notification not updated", zap.Error(err))
		}
	}

	switch state.Status {
	case ApprovalApproved:
		b.ctx.Logger().Info("approval granted",
			zap.String("approver", state.Decision.ApproverID), zap.Int64("duration_ms", elapsed))
		return &ApprovalResult{Approved: true, Decision: state.Decision, DurationMs: elapsed}, nil
	case ApprovalRejected:
		return nil, &ApprovalRejectedError{Decision: *state.Decision}
	case ApprovalCancelled:
		return nil, &ApprovalCancelledError{WorkflowID: workflowID, RequestReason: p.Reason}
	default:
		return nil, &ApprovalTimeoutError{WorkflowID: workflowID, Timeout: timeout, RequestReason: p.Reason}
	}
}

// ingestDecision applies one approval signal to state. Signals after the
// first accepted decision, malformed payloads and approvers without a
// required role leave state untouched.
func (b *Blueprint) ingestDecision(state *ApprovalState, payload json.RawMessage) {
	logger := b.ctx.Logger()
	if state.Status.IsTerminal() {
		logger.Info("approval already resolved, ignoring signal", zap.String("status", string(state.Status)))
		return
	}

	var d ApprovalDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		logger.Warn("ignoring malformed approval signal", zap.Error(err))
		return
	}
	if d.Decision != DecisionApproved && d.Decision != DecisionRejected {
		logger.Warn("ignoring approval signal with unknown decision", zap.String("decision", d.Decision))
		return
	}
	if len(state.RequiredRoles) > 0 && !intersects(state.RequiredRoles, d.ApproverRoles) {
		logger.Warn("ignoring approval signal from approver without a required role",
			zap.String("approver", d.ApproverID),
			zap.Strings("approver_roles", d.ApproverRoles),
		)
		return
	}

	state.Decision = &d
	if d.Decision == DecisionApproved {
		state.Status = ApprovalApproved
	} else {
		state.Status = ApprovalRejected
	}
	logger.Info("approval decision recorded",
		zap.String("decision", d.Decision),
		zap.String("approver", d.ApproverID),
		zap.String("source", d.Source),
	)
}

func (b *Blueprint) systemDecision(at time.Time, reason string) *ApprovalDecision {
	return &ApprovalDecision{
		Decision:      DecisionRejected,
		ApproverID:    "system",
		ApproverName:  "System",
		ApproverRoles: []string{},
		Reason:        reason,
		Timestamp:     at.Format(time.RFC3339),
		Source:        SourceAPI,
	}
}

func (b *Blueprint) sendApprovalRequest(req NotificationRequest) (string, error) {
	var resp NotificationResponse
	if err := b.ctx.ExecuteActivity(notifyActivityOptions, NotifyApprovalRequestActivity, req, &resp); err != nil {
		return "", err
	}
	return resp.MessageHandle, nil
}

func (b *Blueprint) updateApprovalNotification(upd NotificationUpdate) error {
	return b.ctx.ExecuteActivity(notifyActivityOptions, NotifyApprovalUpdateActivity, upd, nil)
}

func intersects(required, granted []string) bool {
	set := make(map[string]struct{}, len(required))
	for _, r := range required {
		set[r] = struct{}{}
	}
	for _, g := range granted {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}
