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
	"fmt"
	"strings"
	"time"
)

// Activities that talk to the chat bridge.
const (
	NotifyApprovalRequestActivity = "notify.approval.request"
	NotifyApprovalUpdateActivity  = "notify.approval.update"
)

// Action ids of the approval buttons. Their value is the workflow id.
const (
	ApproveActionID = "approval_approve"
	RejectActionID  = "approval_reject"
)

// NotificationRequest asks the chat bridge to post an approval request.
type NotificationRequest struct {
	Channel          string   `json:"channel"`
	WorkflowID       string   `json:"workflowId"`
	Reason           string   `json:"reason"`
	RequiredRoles    []string `json:"requiredRoles"`
	Timeout          string   `json:"timeout"`
	RequestedBy      string   `json:"requestedBy"`
	IncidentID       string   `json:"incidentId,omitempty"`
	IncidentSeverity string   `json:"incidentSeverity,omitempty"`
}

// NotificationResponse identifies the posted message.
type NotificationResponse struct {
	MessageHandle string `json:"messageHandle"`
}

// NotificationUpdate rewrites a posted request once the cycle resolved.
type NotificationUpdate struct {
	Channel          string            `json:"channel"`
	MessageHandle    string            `json:"messageHandle"`
	OriginalReason   string            `json:"originalReason"`
	Status           ApprovalStatus    `json:"status"`
	Decision         *ApprovalDecision `json:"decision"`
	DurationMs       int64             `json:"durationMs"`
	RequiredRoles    []string          `json:"requiredRoles,omitempty"`
	IncidentID       string            `json:"incidentId,omitempty"`
	IncidentSeverity string            `json:"incidentSeverity,omitempty"`
}

// Block is one rich-card layout block.
type Block struct {
	Type     string        `json:"type"`
	BlockID  string        `json:"block_id,omitempty"`
	Text     *TextObject   `json:"text,omitempty"`
	Fields   []*TextObject `json:"fields,omitempty"`
	Elements []interface{} `json:"elements,omitempty"`
}

// TextObject is plain or markdown text.
type TextObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// ButtonElement is an interactive button of an actions block.
type ButtonElement struct {
	Type     string      `json:"type"`
	Text     *TextObject `json:"text"`
	ActionID string      `json:"action_id"`
	Value    string      `json:"value"`
	Style    string      `json:"style,omitempty"`
}

func plainText(s string) *TextObject { return &TextObject{Type: "plain_text", Text: s, Emoji: true} }
func markdown(s string) *TextObject  { return &TextObject{Type: "mrkdwn", Text: s} }

func headerBlock(text string) Block {
	return Block{Type: "header", Text: plainText(text)}
}

func incidentBlock(id, severity string) (Block, bool) {
	if id == "" {
		return Block{}, false
	}
	text := "*Incident:* " + id
	if severity != "" {
		text += fmt.Sprintf(" (severity %s)", severity)
	}
	return Block{Type: "section", Text: markdown(text)}, true
}

func rolesBlock(roles []string) (Block, bool) {
	if len(roles) == 0 {
		return Block{}, false
	}
	return Block{
		Type:     "context",
		Elements: []interface{}{markdown("Required roles: " + strings.Join(roles, ", "))},
	}, true
}

// BuildApprovalRequestBlocks renders the initial approval card with the
// approve and reject buttons.
func BuildApprovalRequestBlocks(req NotificationRequest) []Block {
	blocks := []Block{
		headerBlock("🔐 Approval Required"),
		{Type: "section", Text: markdown("*Reason:*\n" + req.Reason)},
		{Type: "section", Fields: []*TextObject{
			markdown("*Requested by:*\n" + req.RequestedBy),
			markdown("*Timeout:*\n" + req.Timeout),
		}},
	}
	if b, ok := incidentBlock(req.IncidentID, req.IncidentSeverity); ok {
		blocks = append(blocks, b)
	}
	if b, ok := rolesBlock(req.RequiredRoles); ok {
		blocks = append(blocks, b)
	}
	blocks = append(blocks, Block{
		Type:    "actions",
		BlockID: "approval_actions",
		Elements: []interface{}{
			ButtonElement{Type: "button", Text: plainText("Approve"), ActionID: ApproveActionID, Value: req.WorkflowID, Style: "primary"},
			ButtonElement{Type: "button", Text: plainText("Reject"), ActionID: RejectActionID, Value: req.WorkflowID, Style: "danger"},
		},
	})
	return blocks
}

// BuildApprovalResolvedBlocks renders the card that replaces the request
// once the cycle ended. It has no buttons.
func BuildApprovalResolvedBlocks(upd NotificationUpdate) []Block {
	approver := "System"
	comment := ""
	if upd.Decision != nil {
		approver = firstNonEmpty(upd.Decision.ApproverName, upd.Decision.ApproverID, approver)
		comment = upd.Decision.Reason
	}

	blocks := []Block{
		headerBlock(resolvedHeader(upd.Status)),
		{Type: "section", Text: markdown("*Reason:*\n" + upd.OriginalReason)},
		{Type: "section", Fields: []*TextObject{
			markdown("*Approver:*\n" + approver),
			markdown("*Response time:*\n" + formatElapsed(upd.DurationMs)),
		}},
	}
	if comment != "" {
		blocks = append(blocks, Block{Type: "section", Text: markdown("*Comment:*\n" + comment)})
	}
	if b, ok := incidentBlock(upd.IncidentID, upd.IncidentSeverity); ok {
		blocks = append(blocks, b)
	}
	if b, ok := rolesBlock(upd.RequiredRoles); ok {
		blocks = append(blocks, b)
	}
	return blocks
}

func resolvedHeader(status ApprovalStatus) string {
	switch status {
	case ApprovalApproved:
		return "✅ Approved"
	case ApprovalRejected:
		return "❌ Rejected"
	case ApprovalTimeout:
		return "⏰ Timed Out"
	case ApprovalCancelled:
		return "🚫 Cancelled"
	default:
		return "🔐 Approval " + string(status)
	}
}

func formatElapsed(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	if d < time.Second {
		return "<1s"
	}
	return d.String()
}
