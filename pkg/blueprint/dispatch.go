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
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// CapabilityExecuteActivity sends a CapabilityEnvelope for execution.
const CapabilityExecuteActivity = "capability.execute"

// FlagCapabilityPrefix marks the flag-management capabilities, which are
// never gated by a flag themselves.
const FlagCapabilityPrefix = "golden.flags."

// ExecuteOptions tune one ExecuteByID call.
type ExecuteOptions struct {
	SkipFlagCheck bool
	Config        map[string]interface{}
	SecretRefs    map[string]string
	// CorrelationID links the request to a UI session.
	CorrelationID string
}

// CapabilityEnvelope is the request handed to the capability executor.
type CapabilityEnvelope struct {
	CapabilityID  string                 `json:"capabilityId" validate:"required"`
	Input         json.RawMessage        `json:"input,omitempty"`
	Config        map[string]interface{} `json:"config,omitempty"`
	SecretRefs    map[string]string      `json:"secretRefs,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	RunAs         string                 `json:"runAs" validate:"required"`
	TraceID       string                 `json:"traceId" validate:"required"`
	GoldenContext *GoldenContext         `json:"goldenContext" validate:"required"`
}

// CapabilityFlagKey returns the flag that gates capID.
func CapabilityFlagKey(capID string) string {
	return "cap-" + capID + "-enabled"
}

// ExecuteByID runs capability capID with input and returns its raw JSON
// output. The capability's flag is checked first unless opts skips it or
// capID is a flag-management capability. The request is sent exactly once
// with the descriptor's maximum duration as timeout.
func (b *Blueprint) ExecuteByID(capID string, input interface{}, opts *ExecuteOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	if !opts.SkipFlagCheck && !strings.HasPrefix(capID, FlagCapabilityPrefix) {
		flagKey := CapabilityFlagKey(capID)
		enabled, err := b.CheckFlag(flagKey, true)
		if err != nil {
			b.live().recordDispatch(capID, "flag_error")
			return nil, err
		}
		if !enabled {
			b.ctx.Logger().Warn("capability disabled by feature flag",
				zap.String("capability", capID), zap.String("flag", flagKey))
			b.live().recordDispatch(capID, "disabled")
			return nil, &CapabilityDisabledError{CapabilityID: capID, FlagKey: flagKey}
		}
	}

	envelope, err := b.buildEnvelope(capID, input, opts)
	if err != nil {
		b.live().recordDispatch(capID, "rejected")
		return nil, err
	}

	activityOpts := durable.ActivityOptions{
		StartToCloseTimeout: ParseTimeout(b.descriptor.Operations.SLA.MaxDuration),
	}
	var out json.RawMessage
	if err := b.ctx.ExecuteActivity(activityOpts, CapabilityExecuteActivity, envelope, &out); err != nil {
		b.ctx.Logger().Error("capability execution failed", zap.String("capability", capID), zap.Error(err))
		b.live().recordDispatch(capID, "failed")
		return nil, err
	}
	b.live().recordDispatch(capID, "succeeded")
	return out, nil
}

func (b *Blueprint) buildEnvelope(capID string, input interface{}, opts *ExecuteOptions) (*CapabilityEnvelope, error) {
	sc, err := GetSecurityContext(b.ctx)
	if err != nil {
		return nil, err
	}
	workflowID := b.ctx.Info().WorkflowID
	gc := GetGoldenContext(b.ctx)
	if gc == nil {
		return nil, &MissingGoldenContextError{WorkflowID: workflowID, CapabilityID: capID}
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input of capability %s: %w", capID, err)
	}

	envelope := &CapabilityEnvelope{
		CapabilityID:  capID,
		Input:         raw,
		Config:        opts.Config,
		SecretRefs:    opts.SecretRefs,
		CorrelationID: opts.CorrelationID,
		RunAs:         sc.InitiatorID,
		TraceID:       firstNonEmpty(sc.TraceID, gc.TraceID, workflowID),
		GoldenContext: gc,
	}
	if err := validate.Struct(envelope); err != nil {
		return nil, fmt.Errorf("invalid capability envelope: %w", formatValidationError(err))
	}
	return envelope, nil
}

// ExecuteTyped is ExecuteByID with the output decoded into Out.
func ExecuteTyped[Out any](b *Blueprint, capID string, input interface{}, opts *ExecuteOptions) (Out, error) {
	var out Out
	raw, err := b.ExecuteByID(capID, input, opts)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode output of capability %s: %w", capID, err)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
