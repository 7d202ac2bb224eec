// Package report validates and persists audit reports.
package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"

	"github.com/stefanos11892/GVD-Engine/internal/model"
)

//go:embed schema.json
var schemaJSON []byte

var compiled = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// FieldError is one schema violation.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation found in a report.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "report: invalid: " + strings.Join(parts, "; ")
}

// Schema returns the JSON Schema reports are checked against.
func Schema() []byte {
	return schemaJSON
}

// Validate checks r against the report schema.
func Validate(r *model.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "report: marshal")
	}
	return ValidateJSON(b)
}

// ValidateJSON checks an encoded report against the report schema.
func ValidateJSON(doc []byte) error {
	schema, err := compiled()
	if err != nil {
		return eris.Wrap(err, "report: load schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return eris.Wrap(err, "report: validate")
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}
