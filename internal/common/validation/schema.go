package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult is the outcome of validating one document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error joins the individual messages.
func (r *ValidationResult) Error() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return strings.Join(parts, "; ")
}

// RecordValidator checks raw upstream records against a compiled JSON schema.
// Compiled schemas are immutable and safe for concurrent use.
type RecordValidator struct {
	name   string
	schema *gojsonschema.Schema
}

// NewRecordValidator compiles schema, given as a Go map mirroring the JSON
// schema document.
func NewRecordValidator(name string, schema map[string]interface{}) (*RecordValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &RecordValidator{name: name, schema: compiled}, nil
}

// MustRecordValidator panics on an invalid schema; for package-level schemas.
func MustRecordValidator(name string, schema map[string]interface{}) *RecordValidator {
	v, err := NewRecordValidator(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *RecordValidator) Name() string { return v.name }

// Validate checks one decoded record (map, struct or slice).
func (v *RecordValidator) Validate(record interface{}) *ValidationResult {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(record))
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(root)", Message: err.Error(), Code: "UNREADABLE"}},
		}
	}
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	out := &ValidationResult{Valid: false}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	return out
}

// Object is a small helper for building object schemas inline.
func Object(required []string, properties map[string]interface{}) map[string]interface{} {
	req := make([]interface{}, len(required))
	for i, r := range required {
		req[i] = r
	}
	return map[string]interface{}{
		"type":       "object",
		"required":   req,
		"properties": properties,
	}
}

// Type returns {"type": types...}; several types form a union.
func Type(types ...string) map[string]interface{} {
	if len(types) == 1 {
		return map[string]interface{}{"type": types[0]}
	}
	ts := make([]interface{}, len(types))
	for i, t := range types {
		ts[i] = t
	}
	return map[string]interface{}{"type": ts}
}
