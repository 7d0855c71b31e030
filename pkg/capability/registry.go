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

package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/blueprint"
	"github.com/innovationmech/opsflow/pkg/durable"
	"github.com/innovationmech/opsflow/pkg/logger"
)

// Registry maps capability ids to implementations.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]Capability
	sealed bool
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:   make(map[string]Capability),
		logger: logger.GetLogger().Named("capability"),
	}
}

// WithLogger replaces the registry logger and returns r.
func (r *Registry) WithLogger(l *zap.Logger) *Registry {
	r.logger = l
	return r
}

// Register adds c. It fails after Seal or when the id is taken.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, c.ID())
	}
	if _, exists := r.caps[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, c.ID())
	}
	r.caps[c.ID()] = c
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	n := len(r.caps)
	r.mu.Unlock()
	r.logger.Info("capability registry sealed", zap.Int("capabilities", n))
}

// Resolve returns the capability registered under id.
func (r *Registry) Resolve(id string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	if !ok {
		return nil, &Error{CapabilityID: id, Code: CodeNotFound, Message: "no capability registered under this id"}
	}
	return c, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.caps))
	for id := range r.caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute resolves env.CapabilityID and invokes it.
func (r *Registry) Execute(ctx context.Context, env blueprint.CapabilityEnvelope) (json.RawMessage, error) {
	c, err := r.Resolve(env.CapabilityID)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("capability", env.CapabilityID),
		zap.String("run_as", env.RunAs),
		zap.String("trace_id", env.TraceID),
	}
	if info, ok := durable.GetActivityInfo(ctx); ok {
		fields = append(fields, zap.String("workflow_id", info.WorkflowID), zap.Int("attempt", info.Attempt))
	}

	start := time.Now()
	out, err := c.Invoke(ctx, env)
	fields = append(fields, zap.Duration("duration", time.Since(start)))
	if err != nil {
		r.logger.Warn("capability failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	r.logger.Info("capability executed", fields...)
	return out, nil
}

// RegisterActivities registers the capability execution activity with rt.
func RegisterActivities(rt *durable.Runtime, r *Registry) {
	durable.RegisterActivity(rt, blueprint.CapabilityExecuteActivity, r.Execute)
}
