// Package schema validates event payloads and command inputs against JSON
// Schema documents expressed as OpenAPI 3 schema objects.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Validator checks values against a compiled schema. It is safe for
// concurrent use.
type Validator struct {
	schema *openapi3.Schema
}

// Compile parses and validates a schema document.
func Compile(document []byte) (*Validator, error) {
	schema := &openapi3.Schema{}
	if err := json.Unmarshal(document, schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(document string) *Validator {
	v, err := Compile([]byte(document))
	if err != nil {
		panic(err)
	}
	return v
}

// Validate encodes value as JSON and checks the result against the schema.
// Raw JSON input ([]byte or json.RawMessage) is checked as is.
func (v *Validator) Validate(value any) error {
	var doc any
	var data []byte
	switch raw := value.(type) {
	case json.RawMessage:
		data = raw
	case []byte:
		data = raw
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode value: %w", err)
		}
		data = encoded
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if err := v.schema.VisitJSON(doc, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}

// Func adapts v to the validator hooks of event and command definitions.
func (v *Validator) Func() func(any) error {
	return v.Validate
}
