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
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// StartRequest is the workflow input of every blueprint.
type StartRequest struct {
	Input  json.RawMessage `json:"input,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Blueprint is handed to orchestration logic. All time, randomness and
// delays must come from its methods.
type Blueprint struct {
	ctx           durable.Context
	descriptor    *Descriptor
	compensations *CompensationStack
	metrics       *MetricsCollector
}

// NewBlueprint binds a Blueprint to one execution.
func NewBlueprint(ctx durable.Context, descriptor *Descriptor, metrics *MetricsCollector) *Blueprint {
	return &Blueprint{
		ctx:           ctx,
		descriptor:    descriptor,
		compensations: NewCompensationStack(nil),
		metrics:       metrics,
	}
}

// Context returns the underlying durable context.
func (b *Blueprint) Context() durable.Context { return b.ctx }

// Descriptor returns the blueprint's descriptor.
func (b *Blueprint) Descriptor() *Descriptor { return b.descriptor }

// Logger returns the execution logger, silent while replaying.
func (b *Blueprint) Logger() *zap.Logger { return b.ctx.Logger() }

// Now returns the recorded current time.
func (b *Blueprint) Now() time.Time { return b.ctx.Now() }

// UUID returns a recorded random UUID.
func (b *Blueprint) UUID() string { return b.ctx.NewUUID() }

// Sleep suspends the execution for d.
func (b *Blueprint) Sleep(d time.Duration) error { return b.ctx.Sleep(d) }

// SecurityContext is GetSecurityContext for this execution.
func (b *Blueprint) SecurityContext() (*SecurityContext, error) { return GetSecurityContext(b.ctx) }

// GoldenContext is GetGoldenContext for this execution.
func (b *Blueprint) GoldenContext() *GoldenContext { return GetGoldenContext(b.ctx) }

// AddCompensation registers a rollback action run if the logic fails.
func (b *Blueprint) AddCompensation(name string, action CompensationFunc) {
	b.compensations.Add(name, action)
}

// Compensations exposes the compensation stack.
func (b *Blueprint) Compensations() *CompensationStack { return b.compensations }

func (b *Blueprint) live() *MetricsCollector {
	if b.ctx.IsReplaying() {
		return nil
	}
	return b.metrics
}

// LogicFunc is the orchestration logic of a blueprint.
type LogicFunc[In, Cfg, Out any] func(b *Blueprint, input In, config Cfg) (Out, error)

// Definition binds a descriptor to typed orchestration logic.
type Definition[In, Cfg, Out any] struct {
	Descriptor Descriptor
	Logic      LogicFunc[In, Cfg, Out]
	Metrics    *MetricsCollector

	once         sync.Once
	prepareErr   error
	inputSchema  *jsonschema.Schema
	configSchema *jsonschema.Schema
}

func (d *Definition[In, Cfg, Out]) prepare() error {
	d.once.Do(func() {
		if err := ValidateDescriptor(&d.Descriptor); err != nil {
			d.prepareErr = &ValidationError{Target: "descriptor", Cause: err}
			return
		}
		if d.Logic == nil {
			d.prepareErr = &ValidationError{Target: "descriptor", Cause: fmt.Errorf("blueprint %s has no logic", d.Descriptor.ID)}
			return
		}
		var err error
		if d.inputSchema, err = compileSchema(d.Descriptor.ID, "input", d.Descriptor.Schemas.Input); err != nil {
			d.prepareErr = &ValidationError{Target: "descriptor", Cause: err}
			return
		}
		if d.configSchema, err = compileSchema(d.Descriptor.ID, "config", d.Descriptor.Schemas.Config); err != nil {
			d.prepareErr = &ValidationError{Target: "descriptor", Cause: err}
		}
	})
	return d.prepareErr
}

// Main validates req, runs the logic and, if it fails, drains the
// compensations before returning. The logic's error is returned unchanged
// when every compensation succeeded. Otherwise the top-level error is a
// *CompensatedError that unwraps to the logic's error, so callers match
// the original with errors.Is or errors.As rather than a type assertion.
func (d *Definition[In, Cfg, Out]) Main(ctx durable.Context, req StartRequest) (Out, error) {
	var zero Out
	if err := d.prepare(); err != nil {
		return zero, err
	}

	if err := validateDocument(d.inputSchema, req.Input); err != nil {
		return zero, &ValidationError{Target: "input", Cause: err}
	}
	if err := validateDocument(d.configSchema, req.Config); err != nil {
		return zero, &ValidationError{Target: "config", Cause: err}
	}
	var (
		input  In
		config Cfg
	)
	if err := decodeOptional(req.Input, &input); err != nil {
		return zero, &ValidationError{Target: "input", Cause: err}
	}
	if err := decodeOptional(req.Config, &config); err != nil {
		return zero, &ValidationError{Target: "config", Cause: err}
	}

	b := NewBlueprint(ctx, &d.Descriptor, d.Metrics)
	ctx.Logger().Info("blueprint started", zap.String("blueprint", d.Descriptor.ID), zap.String("version", d.Descriptor.Version))

	out, err := d.Logic(b, input, config)
	if err == nil {
		b.live().recordExecution(d.Descriptor.ID, "succeeded")
		ctx.Logger().Info("blueprint completed", zap.String("blueprint", d.Descriptor.ID))
		return out, nil
	}

	ctx.Logger().Warn("blueprint failed, running compensations",
		zap.String("blueprint", d.Descriptor.ID),
		zap.Int("compensations", b.compensations.Len()),
		zap.Error(err),
	)
	total := b.compensations.Len()
	b.compensations.logger = ctx.Logger().Named("compensation")
	failures := b.compensations.RunAll()
	b.live().recordCompensations(d.Descriptor.ID, total, len(failures))
	if len(failures) == 0 {
		b.live().recordExecution(d.Descriptor.ID, "compensated")
		return zero, err
	}
	b.live().recordExecution(d.Descriptor.ID, "compensation_failed")
	return zero, &CompensatedError{Err: err, Failures: failures}
}

// Workflow adapts Main to the durable runtime.
func (d *Definition[In, Cfg, Out]) Workflow() durable.WorkflowFunc {
	return func(ctx durable.Context, raw json.RawMessage) (interface{}, error) {
		var req StartRequest
		if err := decodeOptional(raw, &req); err != nil {
			return nil, &ValidationError{Target: "input", Cause: err}
		}
		out, err := d.Main(ctx, req)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Register validates the descriptor and registers the blueprint as the
// workflow type Descriptor.ID.
func (d *Definition[In, Cfg, Out]) Register(rt *durable.Runtime) error {
	if err := d.prepare(); err != nil {
		return err
	}
	rt.RegisterWorkflow(d.Descriptor.ID, d.Workflow())
	return nil
}

func decodeOptional(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
