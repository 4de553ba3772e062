// Copyright 2025 Vireo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator is a compiled JSON Schema ready to validate tool arguments.
type Validator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document. A nil or empty document
// compiles to a validator that accepts anything.
func CompileSchema(doc map[string]any) (*Validator, error) {
	if len(doc) == 0 {
		return &Validator{}, nil
	}

	// Round-trip through encoding/json so yaml-decoded documents
	// (map[string]any with ints) become canonical JSON values.
	normalized, err := normalizeJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", normalized); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// Validate checks a value against the schema.
func (v *Validator) Validate(value any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	normalized, err := normalizeJSON(value)
	if err != nil {
		return fmt.Errorf("normalize value: %w", err)
	}
	return v.schema.Validate(normalized)
}

func normalizeJSON(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SchemaFor derives a JSON Schema document from a Go struct, for tools
// whose argument shape is declared in code rather than configuration.
func SchemaFor(v any) map[string]any {
	reflector := invopop.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(doc, "$schema")
	delete(doc, "$id")
	return doc
}
