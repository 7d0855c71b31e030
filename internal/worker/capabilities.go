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

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/capability"
	"github.com/innovationmech/opsflow/pkg/flags"
)

// Built-in flag management capabilities. Their ids carry the flag
// capability prefix so they are never gated by a flag themselves.
const (
	CapSetFlagOverride   = blueprint.FlagCapabilityPrefix + "set-override"
	CapClearFlagOverride = blueprint.FlagCapabilityPrefix + "clear-override"
)

// FlagOverrideInput sets or clears an operator override.
type FlagOverrideInput struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
	// TTL uses the duration grammar of blueprints ("30m"). Empty never expires.
	TTL string `json:"ttl,omitempty"`
}

// FlagOverrideOutput reports the override after the call.
type FlagOverrideOutput struct {
	Key     string `json:"key"`
	Value   bool   `json:"value"`
	Cleared bool   `json:"cleared"`
	SetBy   string `json:"setBy"`
}

const setOverrideSchema = `{
	"type": "object",
	"required": ["key", "value"],
	"properties": {
		"key": {"type": "string", "minLength": 1},
		"value": {"type": "boolean"},
		"ttl": {"type": "string"}
	}
}`

const clearOverrideSchema = `{
	"type": "object",
	"required": ["key"],
	"properties": {
		"key": {"type": "string", "minLength": 1}
	}
}`

// flagCapabilities returns the local capabilities managing store.
func flagCapabilities(store flags.OverrideStore) ([]capability.Capability, error) {
	setCap, err := capability.New(CapSetFlagOverride, setOverrideSchema,
		func(ctx context.Context, in FlagOverrideInput, env blueprint.CapabilityEnvelope) (FlagOverrideOutput, error) {
			var ttl time.Duration
			if in.TTL != "" {
				ttl = blueprint.ParseTimeout(in.TTL)
			}
			if err := store.Set(ctx, in.Key, in.Value, ttl); err != nil {
				return FlagOverrideOutput{}, fmt.Errorf("set override %s: %w", in.Key, err)
			}
			return FlagOverrideOutput{Key: in.Key, Value: in.Value, SetBy: env.RunAs}, nil
		})
	if err != nil {
		return nil, err
	}
	clearCap, err := capability.New(CapClearFlagOverride, clearOverrideSchema,
		func(ctx context.Context, in FlagOverrideInput, env blueprint.CapabilityEnvelope) (FlagOverrideOutput, error) {
			if err := store.Clear(ctx, in.Key); err != nil {
				return FlagOverrideOutput{}, fmt.Errorf("clear override %s: %w", in.Key, err)
			}
			return FlagOverrideOutput{Key: in.Key, Cleared: true, SetBy: env.RunAs}, nil
		})
	if err != nil {
		return nil, err
	}
	return []capability.Capability{setCap, clearCap}, nil
}
