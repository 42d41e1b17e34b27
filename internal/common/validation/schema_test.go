package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractSchema = Object(
	[]string{"numeroControlePNCP", "objetoCompra"},
	map[string]interface{}{
		"numeroControlePNCP": Type("string"),
		"objetoCompra":       map[string]interface{}{"type": "string", "minLength": 1},
		"valorTotalEstimado": Type("number", "string", "null"),
	},
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestRecordValidator_Valid(t *testing.T) {
	v := MustRecordValidator("pncp.contract", contractSchema)

	res := v.Validate(decode(t, `{"numeroControlePNCP":"123","objetoCompra":"cimento","valorTotalEstimado":10.5}`))
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)

	res = v.Validate(decode(t, `{"numeroControlePNCP":"123","objetoCompra":"cimento","valorTotalEstimado":"1.234,56"}`))
	assert.True(t, res.Valid)
}

func TestRecordValidator_MissingRequired(t *testing.T) {
	v := MustRecordValidator("pncp.contract", contractSchema)

	res := v.Validate(decode(t, `{"numeroControlePNCP":"123"}`))
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "REQUIRED", res.Errors[0].Code)
	assert.Contains(t, res.Error(), "objetoCompra")
}

func TestRecordValidator_WrongType(t *testing.T) {
	v := MustRecordValidator("pncp.contract", contractSchema)

	res := v.Validate(decode(t, `{"numeroControlePNCP":123,"objetoCompra":""}`))
	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 2)
}

func TestNewRecordValidator_BadSchema(t *testing.T) {
	_, err := NewRecordValidator("broken", map[string]interface{}{"type": 42})
	assert.Error(t, err)
}
