package validation

import (
	"testing"

	"followup-engine/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = MustCompile("snooze", `{
	"type": "object",
	"properties": {"days": {"type": "integer", "minimum": 1}},
	"required": ["days"],
	"additionalProperties": false
}`)

func TestSchema_ValidateBytes(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantValid bool
		wantField string
	}{
		{name: "valid", doc: `{"days": 3}`, wantValid: true},
		{name: "missing", doc: `{}`, wantField: "(root)"},
		{name: "too small", doc: `{"days": 0}`, wantField: "days"},
		{name: "wrong type", doc: `{"days": "soon"}`, wantField: "days"},
		{name: "extra field", doc: `{"days": 1, "hours": 2}`, wantField: "(root)"},
		{name: "not json", doc: `{days`, wantField: "(root)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := testSchema.ValidateBytes([]byte(tt.doc))
			assert.Equal(t, tt.wantValid, res.Valid)
			if tt.wantValid {
				assert.NoError(t, res.Err())
				return
			}
			require.NotEmpty(t, res.Errors)
			assert.Equal(t, tt.wantField, res.Errors[0].Field)
			assert.True(t, errors.IsCode(res.Err(), errors.ErrCodeValidationFailed))
		})
	}
}

func TestSchema_ValidateInput(t *testing.T) {
	assert.True(t, testSchema.ValidateInput(map[string]interface{}{"days": 2}).Valid)
	assert.False(t, testSchema.ValidateInput(map[string]interface{}{"days": -1}).Valid)
}

func TestMustCompile_PanicsOnBadSchema(t *testing.T) {
	assert.Panics(t, func() { MustCompile("broken", `{"type": 12}`) })
}
