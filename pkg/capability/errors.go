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

package capability

import (
	"errors"
	"fmt"
)

// Error codes reported by capabilities.
const (
	CodeNotFound     = "CAPABILITY_NOT_FOUND"
	CodeInvalidInput = "CAPABILITY_INVALID_INPUT"
	CodeUnavailable  = "CAPABILITY_UNAVAILABLE"
	CodeTimeout      = "CAPABILITY_TIMEOUT"
	CodeFailed       = "CAPABILITY_FAILED"
)

var (
	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("capability registry is sealed")

	// ErrDuplicateCapability is returned when an id is registered twice.
	ErrDuplicateCapability = errors.New("capability already registered")
)

// Error is a failed capability execution.
type Error struct {
	CapabilityID string `json:"capabilityId"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	Cause        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capability %s: %s: %s: %v", e.CapabilityID, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("capability %s: %s: %s", e.CapabilityID, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is an unknown-capability error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsInvalidInput reports whether err is an input validation failure.
func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidInput)
}

func hasCode(err error, code string) bool {
	var capErr *Error
	return errors.As(err, &capErr) && capErr.Code == code
}
