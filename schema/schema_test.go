package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

const v1Schema = `{
	"$id": "v1",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	}
}`

func TestValidatorValidStruct(t *testing.T) {
	v, err := NewValidator([]string{v1Schema}, nil)
	require.NoError(t, err)
	assert.True(t, v.HasVersion("v1"))

	err = v.ValidateStruct("v1", map[string]interface{}{"name": "alice", "age": 30})
	assert.NoError(t, err)
}

func TestValidatorInvalidStruct(t *testing.T) {
	v, err := NewValidator([]string{v1Schema}, nil)
	require.NoError(t, err)

	err = v.ValidateStruct("v1", map[string]interface{}{"age": -1})
	require.Error(t, err)
	assert.Equal(t, resource.KindValidationError, resource.KindOf(err))
}

func TestValidatorUnknownVersion(t *testing.T) {
	v, err := NewValidator([]string{v1Schema}, nil)
	require.NoError(t, err)

	err = v.ValidateStruct("v2", map[string]interface{}{"name": "x"})
	require.Error(t, err)
	assert.Equal(t, resource.KindSchemaConflict, resource.KindOf(err))
}
