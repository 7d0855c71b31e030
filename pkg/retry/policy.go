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

// Package retry provides the backoff policies and the retry executor used by
// the durable runtime when it invokes activities.
package retry

import (
	"errors"
	"time"
)

// Common errors returned by retry policies.
var (
	// ErrMaxRetriesExceeded is returned when the maximum number of attempts is exhausted.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrInvalidConfig is returned when the retry configuration is invalid.
	ErrInvalidConfig = errors.New("invalid retry configuration")
)

// RetryConfig defines the configuration shared by the retry policies.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt).
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries. A value of 0 means no cap.
	MaxDelay time.Duration

	// NonRetryableErrors lists errors that stop retrying immediately (matched with errors.Is).
	NonRetryableErrors []error
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.InitialDelay < 0 {
		return ErrInvalidConfig
	}
	if c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultRetryConfig returns the default configuration:
// 3 attempts, 1s initial delay, 30s maximum delay.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// NoRetryConfig returns a configuration that performs exactly one attempt.
func NoRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// IsRetryableError reports whether err should trigger another attempt.
func (c *RetryConfig) IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	for _, nonRetryable := range c.NonRetryableErrors {
		if errors.Is(err, nonRetryable) {
			return false
		}
	}
	return true
}

// RetryResult represents the result of a retry execution.
type RetryResult struct {
	// Result is the value returned by the successful attempt.
	Result interface{}

	// Attempts is the total number of attempts made.
	Attempts int

	// TotalDuration is the total time spent on all attempts including delays.
	TotalDuration time.Duration
}
