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
	"math"
	"time"
)

// ExponentialBackoffPolicy grows the delay by Multiplier on every attempt.
// Formula: delay = InitialDelay * (Multiplier ^ (attempt - 1)), capped at MaxDelay.
// No jitter is applied: the delay is a pure function of the attempt number.
type ExponentialBackoffPolicy struct {
	// Config is the base retry configuration
	Config *RetryConfig

	// Multiplier is the factor by which the delay increases with each attempt.
	// Must be >= 1.0.
	Multiplier float64
}

// NewExponentialBackoffPolicy creates a new exponential backoff retry policy.
func NewExponentialBackoffPolicy(config *RetryConfig, multiplier float64) *ExponentialBackoffPolicy {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	return &ExponentialBackoffPolicy{
		Config:     config,
		Multiplier: multiplier,
	}
}

// ShouldRetry determines if an operation should be retried.
func (p *ExponentialBackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.Config.MaxAttempts {
		return false
	}
	return p.Config.IsRetryableError(err)
}

// GetRetryDelay returns the delay to wait after the given (1-indexed) attempt failed.
func (p *ExponentialBackoffPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(p.Config.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.Config.MaxDelay > 0 && delay > float64(p.Config.MaxDelay) {
		delay = float64(p.Config.MaxDelay)
	}
	return time.Duration(delay)
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *ExponentialBackoffPolicy) GetMaxAttempts() int {
	return p.Config.MaxAttempts
}

// FixedIntervalPolicy waits the same interval between every attempt.
type FixedIntervalPolicy struct {
	// Config is the base retry configuration
	Config *RetryConfig

	// Interval is the fixed delay between attempts. Defaults to Config.InitialDelay.
	Interval time.Duration
}

// NewFixedIntervalPolicy creates a new fixed interval retry policy.
func NewFixedIntervalPolicy(config *RetryConfig, interval time.Duration) *FixedIntervalPolicy {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if interval <= 0 {
		interval = config.InitialDelay
	}
	return &FixedIntervalPolicy{Config: config, Interval: interval}
}

// ShouldRetry determines if an operation should be retried.
func (p *FixedIntervalPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.Config.MaxAttempts {
		return false
	}
	return p.Config.IsRetryableError(err)
}

// GetRetryDelay returns the fixed interval.
func (p *FixedIntervalPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.Interval
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *FixedIntervalPolicy) GetMaxAttempts() int {
	return p.Config.MaxAttempts
}
