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

import "time"

// Memo keys under which the caller of an execution stores the two context
// objects. They are read-only for the lifetime of the execution.
const (
	SecurityContextKey = "opsflow.security-context"
	GoldenContextKey   = "opsflow.golden-context"
)

// Descriptor is the static description of one blueprint type.
type Descriptor struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Version     string `json:"version" yaml:"version" validate:"required"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description"`
	Owner       string `json:"owner" yaml:"owner" validate:"required"`
	CostCenter  string `json:"costCenter,omitempty" yaml:"cost_center"`

	Security   SecurityPolicy   `json:"security" yaml:"security"`
	Operations OperationsPolicy `json:"operations" yaml:"operations"`
	Schemas    Schemas          `json:"schemas" yaml:"schemas"`
}

// SecurityPolicy lists who may run a blueprint and what data it touches.
type SecurityPolicy struct {
	RequiredRoles      []string `json:"requiredRoles,omitempty" yaml:"required_roles"`
	DataClassification string   `json:"dataClassification,omitempty" yaml:"data_classification" validate:"omitempty,oneof=public internal confidential restricted"`
	ComplianceControls []string `json:"complianceControls,omitempty" yaml:"compliance_controls"`
}

// OperationsPolicy holds the operational limits of a blueprint.
type OperationsPolicy struct {
	SLA SLA `json:"sla" yaml:"sla"`
}

// SLA durations use the ParseDuration grammar ("30m", "2h").
type SLA struct {
	TargetDuration string `json:"targetDuration,omitempty" yaml:"target_duration"`
	// MaxDuration is the timeout ceiling of every capability dispatch.
	MaxDuration string `json:"maxDuration" yaml:"max_duration" validate:"required"`
}

// Schemas are JSON Schema documents for the input and the configuration.
// An empty schema accepts any document.
type Schemas struct {
	Input  string `json:"input,omitempty" yaml:"input"`
	Config string `json:"config,omitempty" yaml:"config"`
}

// SecurityContext identifies the principal an execution runs for.
type SecurityContext struct {
	InitiatorID string   `json:"initiatorId"`
	Roles       []string `json:"roles,omitempty"`
	TokenRef    string   `json:"tokenRef,omitempty"`
	TraceID     string   `json:"traceId,omitempty"`
}

// GoldenContext carries the application, cost and classification
// attributes of an execution.
type GoldenContext struct {
	AppID              string `json:"appId"`
	Environment        string `json:"environment"`
	CostCenter         string `json:"costCenter,omitempty"`
	DataClassification string `json:"dataClassification,omitempty"`
	TraceID            string `json:"traceId,omitempty"`
	IncidentID         string `json:"incidentId,omitempty"`
	IncidentSeverity   string `json:"incidentSeverity,omitempty"`
}

// ApprovalStatus is the state of one approval cycle.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalTimeout   ApprovalStatus = "timeout"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// IsTerminal reports whether s can no longer change.
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

// Decision values carried by an approval signal.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Decision sources.
const (
	SourceConsole = "console"
	SourceChat    = "chat"
	SourceAPI     = "api"
)

// ApprovalDecision is the payload of the approval signal.
type ApprovalDecision struct {
	Decision      string   `json:"decision"`
	ApproverID    string   `json:"approverId"`
	ApproverName  string   `json:"approverName,omitempty"`
	ApproverRoles []string `json:"approverRoles"`
	Reason        string   `json:"reason,omitempty"`
	Timestamp     string   `json:"timestamp"`
	Source        string   `json:"source"`
}

// ApprovalState is exposed through the approvalState query.
type ApprovalState struct {
	Status              ApprovalStatus    `json:"status"`
	RequestedAt         time.Time         `json:"requestedAt"`
	RequestReason       string            `json:"requestReason"`
	RequiredRoles       []string          `json:"requiredRoles"`
	Timeout             string            `json:"timeout"`
	Decision            *ApprovalDecision `json:"decision,omitempty"`
	WorkflowID          string            `json:"workflowId"`
	NotificationChannel string            `json:"notificationChannel,omitempty"`
	NotificationHandle  string            `json:"notificationHandle,omitempty"`
}

func (s *ApprovalState) snapshot() ApprovalState {
	out := *s
	out.RequiredRoles = append([]string{}, s.RequiredRoles...)
	if s.Decision != nil {
		d := *s.Decision
		out.Decision = &d
	}
	return out
}

// ApprovalParams configure WaitForApproval.
type ApprovalParams struct {
	Reason        string
	RequiredRoles []string
	// Timeout uses the ParseDuration grammar. Default: "1h".
	Timeout string
	// NotificationChannel enables the chat notification when set.
	NotificationChannel string
	// IncidentID and IncidentSeverity default to the Golden Context values.
	IncidentID       string
	IncidentSeverity string
}

// ApprovalResult is returned when an approval is granted.
type ApprovalResult struct {
	Approved   bool              `json:"approved"`
	Decision   *ApprovalDecision `json:"decision"`
	DurationMs int64             `json:"durationMs"`
}
