package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/errs"
)

const validDoc = `{
  "globals_var_types": [{"name": "population", "type": "numeric"}],
  "globals_schema": {"type": "default"},
  "patch_var_types": [{"name": "chemical", "type": "float"}],
  "patch_schema": {
    "type": "ctor",
    "pcolor_buffer_idx": 1,
    "custom_fields": [{"name": "chemical", "type": "float", "buffer_idx": 0}],
    "avoid_occupancy_bitfield": [false, true]
  },
  "turtle_var_types": [],
  "turtle_schema": {"type": "default"},
  "functions": [{"name": "wiggle", "self_class": "turtle"}]
}`

func TestLoad_ValidDocument(t *testing.T) {
	c, err := Load(strings.NewReader(validDoc))
	require.NoError(t, err)

	require.Len(t, c.GlobalsVarTypes, 1)
	assert.Equal(t, "population", c.GlobalsVarTypes[0].Name)
	assert.Equal(t, SchemaCtor, c.PatchSchema.Type)
	assert.Equal(t, 1, c.PatchSchema.PcolorBufferIdx)
	require.Len(t, c.PatchSchema.CustomFields, 1)
	assert.Equal(t, 0, c.PatchSchema.CustomFields[0].BufferIdx)
	assert.Equal(t, []bool{false, true}, c.PatchSchema.AvoidOccupancyBitfield)
	require.Len(t, c.Functions, 1)
	assert.Equal(t, "turtle", c.Functions[0].SelfClass)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(strings.NewReader(`{"globals_schema": {"type": "default"}, "bogus_key": 1}`))
	require.Error(t, err)
	var ce *errs.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.SchemaViolation, ce.Kind)
}

func TestLoad_UnknownSchemaKindRejected(t *testing.T) {
	_, err := Load(strings.NewReader(`{
	  "globals_schema": {"type": "default"},
	  "patch_schema": {"type": "mystery"},
	  "turtle_schema": {"type": "default"}
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestLoad_NegativeBufferIndexRejected(t *testing.T) {
	_, err := Load(strings.NewReader(`{
	  "globals_schema": {"type": "default"},
	  "patch_schema": {
	    "type": "ctor",
	    "custom_fields": [{"name": "x", "type": "float", "buffer_idx": -1}]
	  },
	  "turtle_schema": {"type": "default"}
	}`))
	require.Error(t, err)
	var ce *errs.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, errs.SchemaViolation, ce.Kind)
	assert.Equal(t, "x", ce.Name)
}
