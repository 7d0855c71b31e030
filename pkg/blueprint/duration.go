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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultDurationMs is returned by ParseDuration for unparseable input.
const DefaultDurationMs int64 = 3_600_000

var durationPattern = regexp.MustCompile(`(?i)^(\d+(\.\d+)?)\s*(s|m|h|d)$`)

var unitMs = map[string]float64{
	"s": 1000,
	"m": 60_000,
	"h": 3_600_000,
	"d": 86_400_000,
}

// ParseDuration converts strings such as "30m", "1.5h" or "2 d" into
// milliseconds. Anything else yields one hour.
func ParseDuration(s string) int64 {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultDurationMs
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultDurationMs
	}
	ms := math.Round(value * unitMs[strings.ToLower(m[3])])
	if ms >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(ms)
}

// maxTimeoutMs is the largest millisecond count a time.Duration holds.
const maxTimeoutMs = int64(math.MaxInt64 / time.Millisecond)

// ParseTimeout is ParseDuration as a time.Duration, saturating at the
// largest representable duration.
func ParseTimeout(s string) time.Duration {
	ms := ParseDuration(s)
	if ms > maxTimeoutMs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}
