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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFlag_WithoutSecurityContextReturnsDefault(t *testing.T) {
	h := newHarness(t)
	id := h.run("flag-1", nil, testGolden, func(b *Blueprint) (interface{}, error) {
		on, err := b.CheckFlag("new-restart-flow", true)
		if err != nil {
			return nil, err
		}
		off, err := b.CheckFlag("new-restart-flow", false)
		if err != nil {
			return nil, err
		}
		return []bool{on, off}, nil
	})

	var got []bool
	require.NoError(t, h.result(id, &got))
	assert.Equal(t, []bool{true, false}, got)
	assert.Zero(t, h.flagCalls.Load())
}

func TestCheckFlag_EvaluatesWithTargeting(t *testing.T) {
	h := newHarness(t)
	h.flags["new-restart-flow"] = false
	id := h.run("flag-2", testSecurity, testGolden, func(b *Blueprint) (interface{}, error) {
		return b.CheckFlag("new-restart-flow", true)
	})

	var got bool
	require.NoError(t, h.result(id, &got))
	assert.False(t, got)
	require.Len(t, h.flagRequests, 1)
	assert.Equal(t, FlagRequest{
		Key:     "new-restart-flow",
		Default: true,
		Targeting: FlagTargeting{
			InitiatorID: "alice",
			AppID:       "payments",
			Environment: "prod",
			WorkflowID:  "flag-2",
		},
	}, h.flagRequests[0])
}

func TestCheckFlag_PropagatesEvaluationFailure(t *testing.T) {
	h := newHarness(t)
	h.flagErr = errors.New("flag service unavailable")
	id := h.run("flag-3", testSecurity, testGolden, func(b *Blueprint) (interface{}, error) {
		return b.CheckFlag("new-restart-flow", true)
	})

	err := h.result(id, nil)
	assert.ErrorIs(t, err, h.flagErr)
	assert.Equal(t, int32(3), h.flagCalls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.retryDelays)
}
