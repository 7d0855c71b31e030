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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// formatValidationError turns validator errors into one readable error.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msg := fmt.Sprintf("field '%s' validation failed on '%s' tag", e.Namespace(), e.Tag())
		if e.Param() != "" {
			msg += fmt.Sprintf(" (param: %s)", e.Param())
		}
		messages = append(messages, msg)
	}
	return errors.New(strings.Join(messages, "; "))
}

// ValidateDescriptor checks the required descriptor fields.
func ValidateDescriptor(d *Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// compileSchema compiles a JSON Schema document. An empty document yields
// a nil schema, which accepts anything.
func compileSchema(blueprintID, kind, doc string) (*jsonschema.Schema, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://opsflow.schemas.local/%s/%s.schema.json", blueprintID, kind)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("%s schema load failed: %w", kind, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("%s schema compile failed: %w", kind, err)
	}
	return schema, nil
}

// validateDocument checks raw JSON against schema. A missing document is
// validated as null.
func validateDocument(schema *jsonschema.Schema, raw []byte) error {
	if schema == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return schema.Validate(doc)
}
