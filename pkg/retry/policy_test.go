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

package retry

import (
	"errors"
	"testing"
	"time"
)

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *RetryConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  &RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second},
			wantErr: false,
		},
		{
			name:    "invalid max attempts",
			config:  &RetryConfig{MaxAttempts: 0, InitialDelay: 100 * time.Millisecond},
			wantErr: true,
		},
		{
			name:    "negative initial delay",
			config:  &RetryConfig{MaxAttempts: 3, InitialDelay: -1 * time.Second},
			wantErr: true,
		},
		{
			name:    "max delay less than initial delay",
			config:  &RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 100 * time.Millisecond},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts = 3, got %d", config.MaxAttempts)
	}
	if config.InitialDelay != time.Second {
		t.Errorf("expected InitialDelay = 1s, got %v", config.InitialDelay)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("DefaultRetryConfig should be valid, got error: %v", err)
	}
}

func TestRetryConfig_IsRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	config := &RetryConfig{MaxAttempts: 3, NonRetryableErrors: []error{permanent}}

	if config.IsRetryableError(nil) {
		t.Error("nil error must not be retryable")
	}
	if config.IsRetryableError(permanent) {
		t.Error("listed error must not be retryable")
	}
	if !config.IsRetryableError(errors.New("transient")) {
		t.Error("unlisted error must be retryable")
	}
}

func TestExponentialBackoffPolicy_GetRetryDelay(t *testing.T) {
	policy := NewExponentialBackoffPolicy(&RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
	}, 2)

	want := map[int]time.Duration{
		0: 0,
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second,
	}
	for attempt, expected := range want {
		if got := policy.GetRetryDelay(attempt); got != expected {
			t.Errorf("GetRetryDelay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestExponentialBackoffPolicy_ShouldRetry(t *testing.T) {
	policy := NewExponentialBackoffPolicy(&RetryConfig{MaxAttempts: 3, InitialDelay: time.Second}, 0)

	if policy.Multiplier != 2.0 {
		t.Errorf("multiplier below 1 should default to 2, got %v", policy.Multiplier)
	}
	if !policy.ShouldRetry(errors.New("x"), 2) {
		t.Error("attempt 2 of 3 should retry")
	}
	if policy.ShouldRetry(errors.New("x"), 3) {
		t.Error("attempt 3 of 3 should not retry")
	}
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not retry")
	}
}

func TestFixedIntervalPolicy(t *testing.T) {
	policy := NewFixedIntervalPolicy(&RetryConfig{MaxAttempts: 2, InitialDelay: 250 * time.Millisecond}, 0)

	if got := policy.GetRetryDelay(1); got != 250*time.Millisecond {
		t.Errorf("GetRetryDelay(1) = %v", got)
	}
	if got := policy.GetMaxAttempts(); got != 2 {
		t.Errorf("GetMaxAttempts() = %d", got)
	}
}
