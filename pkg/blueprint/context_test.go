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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contextProbe struct {
	Security *SecurityContext `json:"security"`
	Golden   *GoldenContext   `json:"golden"`
}

func probeContexts(b *Blueprint) (interface{}, error) {
	sc, err := b.SecurityContext()
	if err != nil {
		return nil, err
	}
	return contextProbe{Security: sc, Golden: b.GoldenContext()}, nil
}

func TestContextAccessors(t *testing.T) {
	h := newHarness(t)
	gc := &GoldenContext{AppID: "payments", Environment: "prod", IncidentID: "INC-1"}
	id := h.run("ctx-1", testSecurity, gc, probeContexts)

	var probe contextProbe
	require.NoError(t, h.result(id, &probe))
	assert.Equal(t, testSecurity, probe.Security)
	assert.Equal(t, gc, probe.Golden)
}

func TestGoldenContext_AbsentIsNil(t *testing.T) {
	h := newHarness(t)
	id := h.run("ctx-2", testSecurity, nil, probeContexts)

	var probe contextProbe
	require.NoError(t, h.result(id, &probe))
	assert.Nil(t, probe.Golden)
}

func TestSecurityContext_Missing(t *testing.T) {
	h := newHarness(t)
	id := h.run("ctx-3", nil, testGolden, probeContexts)

	err := h.result(id, nil)
	var missing *MissingSecurityContextError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ctx-3", missing.WorkflowID)
	assert.Equal(t, ErrCodeMissingSecurityContext, ErrorCode(err))
}

func TestSecurityContext_EmptyInitiator(t *testing.T) {
	h := newHarness(t)
	id := h.run("ctx-4", &SecurityContext{TraceID: "trace-1"}, testGolden, probeContexts)

	var missing *MissingSecurityContextError
	require.ErrorAs(t, h.result(id, nil), &missing)
	assert.Contains(t, missing.Reason, "initiator")
}
