// internal/common/validation/schema.go
package validation

import (
	"fmt"
	"strings"

	"followup-engine/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON schema.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// MustCompile compiles a JSON schema document and panics on a malformed one.
// Schemas are package level literals, so a failure is a programming error.
func MustCompile(name, schemaJSON string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return &Schema{name: name, schema: s}
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateBytes validates a raw JSON document.
func (s *Schema) ValidateBytes(doc []byte) *ValidationResult {
	return s.validate(gojsonschema.NewBytesLoader(doc))
}

// ValidateInput validates an already decoded document, such as job variables.
func (s *Schema) ValidateInput(input map[string]interface{}) *ValidationResult {
	return s.validate(gojsonschema.NewGoLoader(input))
}

func (s *Schema) validate(loader gojsonschema.JSONLoader) *ValidationResult {
	result, err := s.schema.Validate(loader)
	if err != nil {
		return &ValidationResult{Errors: []ValidationError{{
			Field:   "(root)",
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    "INVALID_JSON",
		}}}
	}
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	out := &ValidationResult{}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    strings.ToUpper(e.Type()),
		})
	}
	return out
}

// Err converts a failed result into a VALIDATION_FAILED error naming the
// first offending field.
func (r *ValidationResult) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Field + ": " + e.Message
	}
	stdErr := errors.NewValidationError(r.Errors[0].Field, strings.Join(msgs, "; "))
	stdErr.Metadata["errors"] = r.Errors
	return stdErr
}
