package facts

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"github.com/dd0wney/cluso-archmap/pkg/validation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks facts against the envelope rules and the per-kind
// attribute schema.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// NewValidator compiles the embedded per-kind schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(Kinds))}
	for _, kind := range Kinds {
		data, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", kind, err)
		}
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Validate returns nil when f may enter the pipeline.
func (v *Validator) Validate(f Fact) error {
	if err := validation.Struct(&f); err != nil {
		return err
	}

	if len(f.Attributes) > validation.MaxAttributes {
		return fmt.Errorf("attributes: maximum %d allowed, got %d", validation.MaxAttributes, len(f.Attributes))
	}
	for key := range f.Attributes {
		if err := validation.ValidateAttributeKey(key); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
	}

	schema, ok := v.schemas[f.Kind]
	if !ok {
		return fmt.Errorf("kind %q has no schema", f.Kind)
	}
	attrs := f.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("attributes: %w", err)
	}
	result := schema.ValidateJSON(data)
	if !result.IsValid() {
		return fmt.Errorf("attributes do not satisfy %s schema: %v", f.Kind, result.Errors)
	}
	return nil
}
