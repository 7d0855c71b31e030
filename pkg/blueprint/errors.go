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
	"errors"
	"fmt"
	"strings"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// Error codes returned by Code methods of the blueprint errors.
const (
	ErrCodeMissingSecurityContext = "MISSING_SECURITY_CONTEXT"
	ErrCodeMissingGoldenContext   = "MISSING_GOLDEN_CONTEXT"
	ErrCodeCapabilityDisabled     = "CAPABILITY_DISABLED"
	ErrCodeApprovalTimeout        = "APPROVAL_TIMEOUT"
	ErrCodeApprovalRejected       = "APPROVAL_REJECTED"
	ErrCodeApprovalCancelled      = "APPROVAL_CANCELLED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeCompensationFailed     = "COMPENSATION_FAILED"
)

// MissingSecurityContextError is returned when an execution was started
// without a Security Context or with an empty initiator id.
type MissingSecurityContextError struct {
	WorkflowID string
	Reason     string
}

func (e *MissingSecurityContextError) Error() string {
	return fmt.Sprintf("security context missing for workflow %s: %s", e.WorkflowID, e.Reason)
}

func (e *MissingSecurityContextError) Code() string { return ErrCodeMissingSecurityContext }

// MissingGoldenContextError is returned by capability dispatch when the
// execution carries no Golden Context.
type MissingGoldenContextError struct {
	WorkflowID   string
	CapabilityID string
}

func (e *MissingGoldenContextError) Error() string {
	return fmt.Sprintf("golden context required to execute capability %s in workflow %s", e.CapabilityID, e.WorkflowID)
}

func (e *MissingGoldenContextError) Code() string { return ErrCodeMissingGoldenContext }

// CapabilityDisabledError is returned when the capability's flag is off.
// No request has been sent.
type CapabilityDisabledError struct {
	CapabilityID string
	FlagKey      string
}

func (e *CapabilityDisabledError) Error() string {
	return fmt.Sprintf("capability %s is disabled by feature flag %s", e.CapabilityID, e.FlagKey)
}

func (e *CapabilityDisabledError) Code() string { return ErrCodeCapabilityDisabled }

// ApprovalTimeoutError is returned when no eligible decision arrived in time.
type ApprovalTimeoutError struct {
	WorkflowID    string
	Timeout       string
	RequestReason string
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval for workflow %s timed out after %s: %s", e.WorkflowID, e.Timeout, e.RequestReason)
}

func (e *ApprovalTimeoutError) Code() string { return ErrCodeApprovalTimeout }

// ApprovalRejectedError carries the rejecting decision as received.
type ApprovalRejectedError struct {
	Decision ApprovalDecision
}

func (e *ApprovalRejectedError) Error() string {
	reason := e.Decision.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	approver := e.Decision.ApproverName
	if approver == "" {
		approver = e.Decision.ApproverID
	}
	return fmt.Sprintf("approval rejected by %s: %s", approver, reason)
}

func (e *ApprovalRejectedError) Code() string { return ErrCodeApprovalRejected }

// ApprovalCancelledError is returned when the execution was cancelled while
// an approval was pending. It unwraps to durable.ErrCanceled.
type ApprovalCancelledError struct {
	WorkflowID    string
	RequestReason string
}

func (e *ApprovalCancelledError) Error() string {
	return fmt.Sprintf("approval for workflow %s cancelled: %s", e.WorkflowID, e.RequestReason)
}

func (e *ApprovalCancelledError) Code() string { return ErrCodeApprovalCancelled }

func (e *ApprovalCancelledError) Unwrap() error { return durable.ErrCanceled }

// ValidationError reports a descriptor, input or config document that was
// rejected before the orchestration logic ran.
type ValidationError struct {
	// Target is "descriptor", "input" or "config".
	Target string
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Target, e.Cause)
}

func (e *ValidationError) Code() string { return ErrCodeValidation }

func (e *ValidationError) Unwrap() error { return e.Cause }

// CompensationError is the failure of one compensation action.
type CompensationError struct {
	// Index is the registration index of the action.
	Index int
	Name  string
	Cause error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation %d (%s) failed: %v", e.Index, e.Name, e.Cause)
}

func (e *CompensationError) Unwrap() error { return e.Cause }

// CompensatedError is returned by Main when the logic failed and at least
// one compensation failed too. It unwraps to the original error.
type CompensatedError struct {
	Err      error
	Failures []*CompensationError
}

func (e *CompensatedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%v (compensation failures: %s)", e.Err, strings.Join(parts, "; "))
}

func (e *CompensatedError) Code() string { return ErrCodeCompensationFailed }

func (e *CompensatedError) Unwrap() error { return e.Err }

// ErrorCode returns the code of a blueprint error found in err's chain, or
// "" when there is none.
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}

// IsCapabilityDisabled reports whether err is a *CapabilityDisabledError.
func IsCapabilityDisabled(err error) bool {
	var target *CapabilityDisabledError
	return errors.As(err, &target)
}

// IsApprovalTimeout reports whether err is an *ApprovalTimeoutError.
func IsApprovalTimeout(err error) bool {
	var target *ApprovalTimeoutError
	return errors.As(err, &target)
}

// IsApprovalRejected reports whether err is an *ApprovalRejectedError.
func IsApprovalRejected(err error) bool {
	var target *ApprovalRejectedError
	return errors.As(err, &target)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
