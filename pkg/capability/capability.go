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

// Package capability executes the capability envelopes blueprints dispatch.
//
// Capabilities are registered into a Registry at startup and the registry is
// sealed before the worker starts accepting executions, so every id a
// blueprint can reach is resolved before the first dispatch. A capability is
// either local (a typed Go function) or remote (a NATS request/reply
// endpoint).
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/innovationmech/opsflow/pkg/blueprint"
)

// Capability is an executable operation addressed by id.
type Capability interface {
	ID() string
	Invoke(ctx context.Context, env blueprint.CapabilityEnvelope) (json.RawMessage, error)
}

// HandlerFunc is the typed body of a local capability.
type HandlerFunc[In, Out any] func(ctx context.Context, input In, env blueprint.CapabilityEnvelope) (Out, error)

// Func is a local capability with typed input and output and an optional
// JSON Schema for its input.
type Func[In, Out any] struct {
	id      string
	schema  *jsonschema.Schema
	handler HandlerFunc[In, Out]
}

// New creates a local capability. inputSchema may be empty.
func New[In, Out any](id, inputSchema string, handler HandlerFunc[In, Out]) (*Func[In, Out], error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("capability id is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("capability %s has no handler", id)
	}
	schema, err := compileSchema(id, inputSchema)
	if err != nil {
		return nil, err
	}
	return &Func[In, Out]{id: id, schema: schema, handler: handler}, nil
}

// ID implements Capability.
func (f *Func[In, Out]) ID() string {
	return f.id
}

// Invoke validates and decodes the envelope input, then runs the handler.
func (f *Func[In, Out]) Invoke(ctx context.Context, env blueprint.CapabilityEnvelope) (json.RawMessage, error) {
	if f.schema != nil {
		doc, err := decodeDocument(env.Input)
		if err != nil {
			return nil, &Error{CapabilityID: f.id, Code: CodeInvalidInput, Message: "input is not valid JSON", Cause: err}
		}
		if err := f.schema.Validate(doc); err != nil {
			return nil, &Error{CapabilityID: f.id, Code: CodeInvalidInput, Message: "input does not match schema", Cause: err}
		}
	}

	var in In
	if len(env.Input) > 0 && string(env.Input) != "null" {
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return nil, &Error{CapabilityID: f.id, Code: CodeInvalidInput, Message: "failed to decode input", Cause: err}
		}
	}

	out, err := f.handler(ctx, in, env)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("capability %s: failed to encode output: %w", f.id, err)
	}
	return raw, nil
}

func compileSchema(id, schema string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(schema) == "" {
		return nil, nil
	}
	url := "https://opsflow.schemas.local/capabilities/" + id + ".schema.json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("capability %s: invalid input schema: %w", id, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("capability %s: invalid input schema: %w", id, err)
	}
	return compiled, nil
}

func decodeDocument(raw json.RawMessage) (interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON document")
	}
	return doc, nil
}
