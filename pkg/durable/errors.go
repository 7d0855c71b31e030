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

package durable

import (
	"errors"
	"fmt"
)

// Error codes carried by *ExecutionError.
const (
	ErrCodeWorkflowNotFound      = "WORKFLOW_NOT_FOUND"
	ErrCodeWorkflowNotRegistered = "WORKFLOW_NOT_REGISTERED"
	ErrCodeActivityNotRegistered = "ACTIVITY_NOT_REGISTERED"
	ErrCodeAlreadyStarted        = "WORKFLOW_ALREADY_STARTED"
	ErrCodeExecutionClosed       = "EXECUTION_CLOSED"
	ErrCodeQueryNotFound         = "QUERY_NOT_FOUND"
	ErrCodeStorageError          = "STORAGE_ERROR"
)

// ErrCanceled is returned by Sleep, Await and AwaitWithTimeout once the
// execution has been cancelled through Runtime.Cancel.
var ErrCanceled = errors.New("execution canceled")

// ExecutionError reports a failure of the runtime itself, as opposed to a
// failure raised by workflow or activity code.
type ExecutionError struct {
	Code       string
	Message    string
	WorkflowID string
	Cause      error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func newExecutionError(code, workflowID, message string) *ExecutionError {
	return &ExecutionError{Code: code, WorkflowID: workflowID, Message: message}
}

// NewWorkflowNotFoundError reports an unknown workflow id.
func NewWorkflowNotFoundError(workflowID string) *ExecutionError {
	return newExecutionError(ErrCodeWorkflowNotFound, workflowID,
		fmt.Sprintf("workflow execution '%s' not found", workflowID))
}

// NewStorageError wraps a history store failure.
func NewStorageError(workflowID, operation string, err error) *ExecutionError {
	e := newExecutionError(ErrCodeStorageError, workflowID,
		fmt.Sprintf("history %s failed for '%s'", operation, workflowID))
	e.Cause = err
	return e
}

func hasCode(err error, code string) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code == code
	}
	return false
}

// IsWorkflowNotFound reports whether err is a WORKFLOW_NOT_FOUND error.
func IsWorkflowNotFound(err error) bool { return hasCode(err, ErrCodeWorkflowNotFound) }

// IsExecutionClosed reports whether err is an EXECUTION_CLOSED error.
func IsExecutionClosed(err error) bool { return hasCode(err, ErrCodeExecutionClosed) }

// IsQueryNotFound reports whether err is a QUERY_NOT_FOUND error.
func IsQueryNotFound(err error) bool { return hasCode(err, ErrCodeQueryNotFound) }

// ActivityError is what ExecuteActivity returns when the activity failed.
// Cause holds the error returned by the activity on a live run. When the
// failure is reconstructed from history only Message is available.
type ActivityError struct {
	ActivityName string
	Message      string
	Cause        error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.ActivityName, e.Message)
}

func (e *ActivityError) Unwrap() error { return e.Cause }

// IsActivityError reports whether err wraps an *ActivityError.
func IsActivityError(err error) bool {
	var actErr *ActivityError
	return errors.As(err, &actErr)
}

// NondeterminismError is raised when replayed workflow code asks for a
// different step than the one recorded in history.
type NondeterminismError struct {
	WorkflowID string
	Sequence   int64
	Expected   string
	Actual     string
}

func (e *NondeterminismError) Error() string {
	return fmt.Sprintf("nondeterministic workflow %s at event %d: history has %s, code requested %s",
		e.WorkflowID, e.Sequence, e.Expected, e.Actual)
}

// IsNondeterminismError reports whether err wraps a *NondeterminismError.
func IsNondeterminismError(err error) bool {
	var nd *NondeterminismError
	return errors.As(err, &nd)
}

// PanicError carries a panic recovered from workflow code.
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workflow panic: %v", e.Value)
}

// WorkflowError is a workflow failure reconstructed from history after the
// original error value is gone.
type WorkflowError struct {
	Message string
}

func (e *WorkflowError) Error() string { return e.Message }

// IsNondeterminismPanic reports whether v, a value recovered from a panic
// in workflow code, was raised by the runtime on history divergence. Code
// that recovers panics must re-raise such values.
func IsNondeterminismPanic(v interface{}) bool {
	_, ok := v.(nondeterminismPanic)
	return ok
}
