package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

const (
	SchemaRecommendationRequest = "recommendation-request"
	SchemaRebuildCommand        = "rebuild-command"
	SchemaEvaluationRequest     = "evaluation-request"
)

// SchemaValidator checks request bodies against JSON schemas.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
	raw     map[string][]byte
}

// NewSchemaValidator loads the schemas embedded in the binary.
func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema),
		raw:     make(map[string][]byte),
	}
	if err := sv.LoadSchemaFromFS(embeddedSchemas, "schemas"); err != nil {
		return nil, err
	}
	return sv, nil
}

// LoadSchemaFromFS loads every *.json file in dir, named after the file
// without its extension.
func (sv *SchemaValidator) LoadSchemaFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to list schemas: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		schemaBytes, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", entry.Name(), err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
		if err != nil {
			return fmt.Errorf("failed to load schema %s: %w", entry.Name(), err)
		}
		name := entry.Name()[:len(entry.Name())-len(".json")]
		sv.schemas[name] = schema
		sv.raw[name] = schemaBytes
	}
	return nil
}

func (sv *SchemaValidator) ValidateRecommendationRequest(data interface{}) *ValidationResult {
	return sv.validate(SchemaRecommendationRequest, data)
}

func (sv *SchemaValidator) ValidateRebuildCommand(data interface{}) *ValidationResult {
	return sv.validate(SchemaRebuildCommand, data)
}

func (sv *SchemaValidator) ValidateEvaluationRequest(data interface{}) *ValidationResult {
	return sv.validate(SchemaEvaluationRequest, data)
}

// validate performs the actual validation against a named schema
func (sv *SchemaValidator) validate(schemaName string, data interface{}) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	var documentLoader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		documentLoader = gojsonschema.NewStringLoader(v)
	case []byte:
		documentLoader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &ValidationResult{
				Valid: false,
				Errors: []ValidationError{{
					Field:   "data",
					Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
					Code:    "JSON_MARSHAL_ERROR",
				}},
			}
		}
		documentLoader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(documentLoader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "body",
				Message: fmt.Sprintf("Malformed JSON: %v", err),
				Code:    "MALFORMED_JSON",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, err := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   err.Field(),
			Message: err.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   err.Value(),
			Context: err.Context().String(),
		})
	}

	return validationResult
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
	Context string      `json:"context,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Message joins the individual errors into one line.
func (vr *ValidationResult) Message() string {
	if vr.Valid || len(vr.Errors) == 0 {
		return ""
	}
	msg := vr.Errors[0].Field + ": " + vr.Errors[0].Message
	if len(vr.Errors) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(vr.Errors)-1)
	}
	return msg
}

// ToAPIError converts validation errors to the API error format.
func (vr *ValidationResult) ToAPIError() map[string]interface{} {
	if vr.Valid {
		return nil
	}

	fieldErrors := make(map[string][]string)
	for _, err := range vr.Errors {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
	}

	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "INVALID_REQUEST",
			"message": vr.Message(),
			"details": map[string]interface{}{
				"validationErrors": vr.Errors,
				"fieldErrors":      fieldErrors,
			},
		},
	}
}

// ValidateJSON validates a raw document against a named schema.
func (sv *SchemaValidator) ValidateJSON(schemaName string, document []byte) *ValidationResult {
	return sv.validate(schemaName, document)
}

func (sv *SchemaValidator) GetAvailableSchemas() []string {
	schemas := make([]string, 0, len(sv.schemas))
	for name := range sv.schemas {
		schemas = append(schemas, name)
	}
	sort.Strings(schemas)
	return schemas
}

// RawSchema returns the schema document as it was loaded.
func (sv *SchemaValidator) RawSchema(name string) ([]byte, bool) {
	raw, ok := sv.raw[name]
	return raw, ok
}

func (sv *SchemaValidator) SchemaExists(name string) bool {
	_, exists := sv.schemas[name]
	return exists
}
