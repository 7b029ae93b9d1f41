package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchemaValidator_LoadsEmbeddedSchemas(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	assert.Equal(t, []string{
		SchemaEvaluationRequest,
		SchemaRebuildCommand,
		SchemaRecommendationRequest,
	}, sv.GetAvailableSchemas())

	raw, ok := sv.RawSchema(SchemaRebuildCommand)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"kind"`)

	_, ok = sv.RawSchema("content-item")
	assert.False(t, ok)
}

func TestValidateRecommendationRequest(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{name: "minimal", body: `{"k": 10}`, valid: true},
		{name: "with weights", body: `{"k": 5, "mode": "hybrid", "weights": {"cf": 0.5, "price_gap": 0}}`, valid: true},
		{name: "missing k", body: `{"mode": "cf"}`, valid: false},
		{name: "zero k", body: `{"k": 0}`, valid: false},
		{name: "k above max", body: `{"k": 101}`, valid: false},
		{name: "negative weight", body: `{"k": 5, "weights": {"content": -0.1}}`, valid: false},
		{name: "unknown mode", body: `{"k": 5, "mode": "graph"}`, valid: false},
		{name: "unknown field", body: `{"k": 5, "user": "u1"}`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sv.ValidateRecommendationRequest([]byte(tt.body))
			assert.Equal(t, tt.valid, result.Valid, result.Errors)
			if !tt.valid {
				assert.NotEmpty(t, result.Message())
			}
		})
	}
}

func TestValidateRebuildCommand(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	assert.True(t, sv.ValidateRebuildCommand(`{"kind":"content"}`).Valid)
	assert.False(t, sv.ValidateRebuildCommand(`{"kind":"users"}`).Valid)
	assert.False(t, sv.ValidateRebuildCommand(`{}`).Valid)
}

func TestValidationResult_ToAPIError(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	result := sv.ValidateRecommendationRequest(`{"k": 0}`)
	require.False(t, result.Valid)

	apiErr := result.ToAPIError()
	body := apiErr["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_REQUEST", body["code"])
	assert.Contains(t, body["message"], "k")

	assert.Nil(t, (&ValidationResult{Valid: true}).ToAPIError())
}

func TestValidate_UnknownSchema(t *testing.T) {
	sv := &SchemaValidator{}
	result := sv.validate("missing", `{}`)
	assert.False(t, result.Valid)
	assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
}
