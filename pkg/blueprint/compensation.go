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
	"fmt"

	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/pkg/durable"
)

// CompensationFunc undoes one side effect. It should be idempotent.
type CompensationFunc func() error

type compensation struct {
	name   string
	action CompensationFunc
}

// CompensationStack collects rollback actions during forward progress and
// runs them in reverse order on failure.
type CompensationStack struct {
	entries []compensation
	drained bool
	logger  *zap.Logger
}

// NewCompensationStack creates an empty stack. A nil logger discards output.
func NewCompensationStack(logger *zap.Logger) *CompensationStack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompensationStack{logger: logger}
}

// Add registers action under name.
func (s *CompensationStack) Add(name string, action CompensationFunc) {
	s.entries = append(s.entries, compensation{name: name, action: action})
}

// Len returns the number of registered actions.
func (s *CompensationStack) Len() int {
	return len(s.entries)
}

// RunAll runs every action, last registered first. A failing or panicking
// action does not stop the others; each failure is returned. Only the
// first call runs anything.
func (s *CompensationStack) RunAll() []*CompensationError {
	if s.drained {
		return nil
	}
	s.drained = true

	var failures []*CompensationError
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if err := runCompensation(entry.action); err != nil {
			s.logger.Error("compensation failed",
				zap.Int("index", i),
				zap.String("compensation", entry.name),
				zap.Error(err),
			)
			failures = append(failures, &CompensationError{Index: i, Name: entry.name, Cause: err})
			continue
		}
		s.logger.Info("compensation completed", zap.Int("index", i), zap.String("compensation", entry.name))
	}
	return failures
}

func runCompensation(action CompensationFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if durable.IsNondeterminismPanic(r) {
				panic(r)
			}
			err = fmt.Errorf("compensation panic: %v", r)
		}
	}()
	if action == nil {
		return nil
	}
	return action()
}
