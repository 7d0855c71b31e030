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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApprovalRequestBlocks(t *testing.T) {
	blocks := BuildApprovalRequestBlocks(NotificationRequest{
		Channel:          "#ops",
		WorkflowID:       "wf-9",
		Reason:           "Restart payments-api",
		RequiredRoles:    []string{"sre", "dba"},
		Timeout:          "30m",
		RequestedBy:      "alice",
		IncidentID:       "INC-7",
		IncidentSeverity: "sev2",
	})
	require.Len(t, blocks, 6)

	assert.Equal(t, "header", blocks[0].Type)
	assert.Equal(t, "🔐 Approval Required", blocks[0].Text.Text)
	assert.Contains(t, blocks[1].Text.Text, "Restart payments-api")
	require.Len(t, blocks[2].Fields, 2)
	assert.Contains(t, blocks[2].Fields[0].Text, "alice")
	assert.Contains(t, blocks[2].Fields[1].Text, "30m")
	assert.Contains(t, blocks[3].Text.Text, "INC-7")
	assert.Contains(t, blocks[3].Text.Text, "sev2")
	assert.Equal(t, "context", blocks[4].Type)

	actions := blocks[5]
	assert.Equal(t, "actions", actions.Type)
	require.Len(t, actions.Elements, 2)
	approve := actions.Elements[0].(ButtonElement)
	reject := actions.Elements[1].(ButtonElement)
	assert.Equal(t, ApproveActionID, approve.ActionID)
	assert.Equal(t, "primary", approve.Style)
	assert.Equal(t, "wf-9", approve.Value)
	assert.Equal(t, RejectActionID, reject.ActionID)
	assert.Equal(t, "danger", reject.Style)
	assert.Equal(t, "wf-9", reject.Value)

	raw, err := json.Marshal(blocks)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action_id":"approval_approve"`)
}

func TestBuildApprovalRequestBlocks_OptionalSections(t *testing.T) {
	blocks := BuildApprovalRequestBlocks(NotificationRequest{WorkflowID: "wf-1", Reason: "r", Timeout: "1h", RequestedBy: "bob"})
	require.Len(t, blocks, 4)
	assert.Equal(t, "actions", blocks[3].Type)
}

func TestBuildApprovalResolvedBlocks(t *testing.T) {
	blocks := BuildApprovalResolvedBlocks(NotificationUpdate{
		OriginalReason: "Restart payments-api",
		Status:         ApprovalApproved,
		Decision:       &ApprovalDecision{Decision: DecisionApproved, ApproverID: "u-1", ApproverName: "Carol", Reason: "go ahead"},
		DurationMs:     90_000,
	})
	require.Len(t, blocks, 4)
	assert.Equal(t, "✅ Approved", blocks[0].Text.Text)
	assert.Contains(t, blocks[2].Fields[0].Text, "Carol")
	assert.Contains(t, blocks[2].Fields[1].Text, "1m30s")
	assert.Contains(t, blocks[3].Text.Text, "go ahead")
	for _, b := range blocks {
		assert.NotEqual(t, "actions", b.Type)
	}
}

func TestBuildApprovalResolvedBlocks_Headers(t *testing.T) {
	tests := map[ApprovalStatus]string{
		ApprovalRejected:  "❌ Rejected",
		ApprovalTimeout:   "⏰ Timed Out",
		ApprovalCancelled: "🚫 Cancelled",
	}
	for status, header := range tests {
		blocks := BuildApprovalResolvedBlocks(NotificationUpdate{Status: status, RequiredRoles: []string{"sre"}})
		assert.Equal(t, header, blocks[0].Text.Text)
		assert.Contains(t, blocks[2].Fields[0].Text, "System")
		assert.Contains(t, blocks[2].Fields[1].Text, "<1s")
		assert.Equal(t, "context", blocks[len(blocks)-1].Type)
	}
}
