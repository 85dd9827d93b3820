package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var requiredSections = []string{
	"metadata",
	"executive_summary",
	"risk_assessment",
	"clause_analysis",
	"legal_insights",
	"export_data",
}

// analysisSchema checks presence of the sections and a sample of the leaves
// the rest of the pipeline reads. It is not a full typing of the result.
var analysisSchema = map[string]any{
	"type":     "object",
	"required": requiredSections,
	"properties": map[string]any{
		"metadata": map[string]any{"type": "object"},
		"executive_summary": map[string]any{
			"type":     "object",
			"required": []string{"key_metrics", "safety_rating"},
			"properties": map[string]any{
				"safety_rating": map[string]any{"type": "string"},
				"key_metrics": map[string]any{
					"type":     "object",
					"required": []string{"risk_score"},
					"properties": map[string]any{
						"risk_score": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					},
				},
			},
		},
		"risk_assessment": map[string]any{
			"type":     "object",
			"required": []string{"overall_score"},
			"properties": map[string]any{
				"overall_score": map[string]any{"type": "number"},
			},
		},
		"clause_analysis": map[string]any{
			"type":     "object",
			"required": []string{"missing_clauses"},
			"properties": map[string]any{
				"missing_clauses": map[string]any{"type": "array"},
			},
		},
		"legal_insights": map[string]any{
			"type":     "object",
			"required": []string{"recommendations"},
			"properties": map[string]any{
				"recommendations": map[string]any{"type": "array"},
			},
		},
		"export_data": map[string]any{"type": "object"},
	},
}

// SchemaValidator checks candidate analysis JSON against analysisSchema
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the analysis schema. It panics only if the
// embedded schema itself is broken.
func NewSchemaValidator() *SchemaValidator {
	s, err := compileSchema(analysisSchema)
	if err != nil {
		panic(err)
	}
	return &SchemaValidator{schema: s}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile("analysis.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return s, nil
}

// Validate reports whether data has every required path.
func (v *SchemaValidator) Validate(data []byte) bool {
	return v.Check(data) == nil
}

// Check is Validate with the reason for rejection.
func (v *SchemaValidator) Check(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal candidate: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("candidate does not match schema: %w", err)
	}
	return nil
}
