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

// Package flags evaluates boolean feature flags for blueprint executions.
//
// A flag is resolved in this order: an operator override (the kill switch),
// then the flag's targeting rules in declaration order, then the flag's own
// value. Unknown flags resolve to the caller's default.
package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// Evaluation reasons reported in blueprint.FlagResult.
const (
	ReasonOverride    = "override"
	ReasonRule        = "rule"
	ReasonFallthrough = "fallthrough"
	ReasonDisabled    = "disabled"
	ReasonDefault     = "default"
)

// ErrInvalidFlag is returned when a flag definition cannot be compiled.
var ErrInvalidFlag = errors.New("invalid flag definition")

// Rule returns Value when When evaluates to true.
type Rule struct {
	Name  string `yaml:"name" json:"name"`
	When  string `yaml:"when" json:"when"`
	Value bool   `yaml:"value" json:"value"`
}

// Definition describes one flag as written in the flag file.
type Definition struct {
	Key         string `yaml:"key" json:"key"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Enabled false turns the flag off for everyone.
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Value   bool   `yaml:"value" json:"value"`
	Rules   []Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// File is the on-disk layout of a flag file.
type File struct {
	Flags []Definition `yaml:"flags"`
}

type compiledRule struct {
	name    string
	value   bool
	program *vm.Program
}

type compiledFlag struct {
	def   Definition
	rules []compiledRule
}

// ruleEnv is the variable set rules may reference. The keys match the
// targeting fields of a flag request.
func ruleEnv(initiatorID, appID, environment, workflowID string) map[string]interface{} {
	return map[string]interface{}{
		"initiatorId": initiatorID,
		"appId":       appID,
		"environment": environment,
		"workflowId":  workflowID,
	}
}

func compile(def Definition) (*compiledFlag, error) {
	if strings.TrimSpace(def.Key) == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidFlag)
	}
	cf := &compiledFlag{def: def}
	env := ruleEnv("", "", "", "")
	for i, rule := range def.Rules {
		when := strings.TrimSpace(rule.When)
		if when == "" {
			return nil, fmt.Errorf("%w: flag %s rule %d has no condition", ErrInvalidFlag, def.Key, i)
		}
		program, err := expr.Compile(when, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: flag %s rule %d: %v", ErrInvalidFlag, def.Key, i, err)
		}
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		cf.rules = append(cf.rules, compiledRule{name: name, value: rule.Value, program: program})
	}
	return cf, nil
}

// Set is an immutable, compiled collection of flags.
type Set struct {
	flags map[string]*compiledFlag
}

// NewSet compiles defs into a Set. Duplicate keys are rejected.
func NewSet(defs ...Definition) (*Set, error) {
	compiled := make(map[string]*compiledFlag, len(defs))
	for _, def := range defs {
		if _, dup := compiled[def.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrInvalidFlag, def.Key)
		}
		cf, err := compile(def)
		if err != nil {
			return nil, err
		}
		compiled[def.Key] = cf
	}
	return &Set{flags: compiled}, nil
}

// Len returns the number of flags in s.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.flags)
}

func (s *Set) lookup(key string) (*compiledFlag, bool) {
	if s == nil {
		return nil, false
	}
	cf, ok := s.flags[key]
	return cf, ok
}

// ParseFile decodes and compiles a YAML flag file.
func ParseFile(data []byte) (*Set, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse flag file: %w", err)
	}
	return NewSet(file.Flags...)
}

// LoadFile reads and compiles the flag file at path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flag file %s: %w", path, err)
	}
	return ParseFile(data)
}
