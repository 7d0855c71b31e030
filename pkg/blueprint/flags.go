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
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// FlagEvaluateActivity is the activity that evaluates a feature flag.
const FlagEvaluateActivity = "flags.evaluate"

// FlagTargeting is the context a flag rule is evaluated against.
type FlagTargeting struct {
	InitiatorID string `json:"initiatorId"`
	AppID       string `json:"appId,omitempty"`
	Environment string `json:"environment,omitempty"`
	WorkflowID  string `json:"workflowId"`
}

// FlagRequest is the input of FlagEvaluateActivity.
type FlagRequest struct {
	Key       string        `json:"key"`
	Default   bool          `json:"default"`
	Targeting FlagTargeting `json:"targeting"`
}

// FlagResult is the output of FlagEvaluateActivity.
type FlagResult struct {
	Key   string `json:"key"`
	Value bool   `json:"value"`
	// Reason tells which source decided, e.g. "override", "rule", "default".
	Reason string `json:"reason,omitempty"`
}

var flagActivityOptions = durable.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &durable.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaximumAttempts:    3,
	},
}

// CheckFlag evaluates the boolean flag key. Without a Security Context it
// returns def and calls nothing. Evaluation failures are returned.
func (b *Blueprint) CheckFlag(key string, def bool) (bool, error) {
	sc, err := GetSecurityContext(b.ctx)
	if err != nil {
		b.ctx.Logger().Debug("no security context, using flag default",
			zap.String("flag", key), zap.Bool("default", def))
		b.live().recordFlagCheck("default")
		return def, nil
	}

	req := FlagRequest{
		Key:     key,
		Default: def,
		Targeting: FlagTargeting{
			InitiatorID: sc.InitiatorID,
			WorkflowID:  b.ctx.Info().WorkflowID,
		},
	}
	if gc := GetGoldenContext(b.ctx); gc != nil {
		req.Targeting.AppID = gc.AppID
		req.Targeting.Environment = gc.Environment
	}

	var res FlagResult
	if err := b.ctx.ExecuteActivity(flagActivityOptions, FlagEvaluateActivity, req, &res); err != nil {
		b.live().recordFlagCheck("error")
		return def, err
	}
	if res.Value {
		b.live().recordFlagCheck("on")
	} else {
		b.live().recordFlagCheck("off")
	}
	return res.Value, nil
}
