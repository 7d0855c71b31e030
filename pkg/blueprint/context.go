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
	"encoding/json"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// GetSecurityContext returns the Security Context the execution was
// started with. It fails when none was supplied or the initiator id is empty.
func GetSecurityContext(ctx durable.Context) (*SecurityContext, error) {
	workflowID := ctx.Info().WorkflowID
	raw, ok := ctx.Memo(SecurityContextKey)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, &MissingSecurityContextError{WorkflowID: workflowID, Reason: "not supplied at start"}
	}
	var sc SecurityContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, &MissingSecurityContextError{WorkflowID: workflowID, Reason: "malformed: " + err.Error()}
	}
	if sc.InitiatorID == "" {
		return nil, &MissingSecurityContextError{WorkflowID: workflowID, Reason: "initiator id is empty"}
	}
	return &sc, nil
}

// GetGoldenContext returns the Golden Context, or nil when the execution
// has none.
func GetGoldenContext(ctx durable.Context) *GoldenContext {
	raw, ok := ctx.Memo(GoldenContextKey)
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var gc GoldenContext
	if err := json.Unmarshal(raw, &gc); err != nil {
		ctx.Logger().Warn("ignoring malformed golden context", zap.Error(err))
		return nil
	}
	return &gc
}

// NewStartOptions builds the options that start a blueprint execution with
// the given context objects attached. Either may be nil.
func NewStartOptions(id, blueprintID string, sc *SecurityContext, gc *GoldenContext) durable.StartOptions {
	memo := make(map[string]interface{}, 2)
	if sc != nil {
		memo[SecurityContextKey] = sc
	}
	if gc != nil {
		memo[GoldenContextKey] = gc
	}
	return durable.StartOptions{ID: id, WorkflowType: blueprintID, Memo: memo}
}
