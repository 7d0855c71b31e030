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

package flags

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// Evaluator resolves flags against the current Set and the override store.
// It is safe for concurrent use; Replace swaps the Set atomically.
type Evaluator struct {
	mu        sync.RWMutex
	set       *Set
	overrides OverrideStore
	logger    *zap.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithOverrideStore sets the kill-switch store.
func WithOverrideStore(store OverrideStore) EvaluatorOption {
	return func(e *Evaluator) {
		e.overrides = store
	}
}

// WithLogger sets the evaluator logger.
func WithLogger(l *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// NewEvaluator creates an Evaluator over set. A nil set evaluates every
// flag to the caller's default.
func NewEvaluator(set *Set, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		set:    set,
		logger: logger.GetLogger().Named("flags"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Replace installs a new flag set.
func (e *Evaluator) Replace(set *Set) {
	e.mu.Lock()
	e.set = set
	e.mu.Unlock()
	e.logger.Info("flag set replaced", zap.Int("flags", set.Len()))
}

func (e *Evaluator) current() *Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.set
}

// Evaluate resolves req. Override store failures are returned so the
// caller's retry policy can apply.
func (e *Evaluator) Evaluate(ctx context.Context, req blueprint.FlagRequest) (blueprint.FlagResult, error) {
	result := blueprint.FlagResult{Key: req.Key}

	if e.overrides != nil {
		value, found, err := e.overrides.Get(ctx, req.Key)
		if err != nil {
			return result, err
		}
		if found {
			result.Value, result.Reason = value, ReasonOverride
			return result, nil
		}
	}

	cf, ok := e.current().lookup(req.Key)
	if !ok {
		result.Value, result.Reason = req.Default, ReasonDefault
		return result, nil
	}
	if !cf.def.Enabled {
		result.Value, result.Reason = false, ReasonDisabled
		return result, nil
	}

	t := req.Targeting
	env := ruleEnv(t.InitiatorID, t.AppID, t.Environment, t.WorkflowID)
	for _, rule := range cf.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			return result, fmt.Errorf("flag %s rule %s: %w", req.Key, rule.name, err)
		}
		if matched, _ := out.(bool); matched {
			e.logger.Debug("flag rule matched",
				zap.String("flag", req.Key),
				zap.String("rule", rule.name),
				zap.String("workflow_id", t.WorkflowID))
			result.Value, result.Reason = rule.value, ReasonRule+":"+rule.name
			return result, nil
		}
	}

	result.Value, result.Reason = cf.def.Value, ReasonFallthrough
	return result, nil
}

// RegisterActivities registers the flag evaluation activity with rt.
func RegisterActivities(rt *durable.Runtime, e *Evaluator) {
	durable.RegisterActivity(rt, blueprint.FlagEvaluateActivity, e.Evaluate)
}
