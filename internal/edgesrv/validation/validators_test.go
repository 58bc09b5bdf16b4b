package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdent(t *testing.T) {
	valid := []string{"orders", "t_u1_orders", "udb_9f2c11abdd00e1aa", "a", "status_2",
		strings.Repeat("a", 63)}
	for _, s := range valid {
		assert.True(t, ValidateIdent(s), s)
	}

	invalid := []string{"", "Orders", "1orders", "or-ders", "or ders", "or;ders", "$.status",
		strings.Repeat("a", 64)}
	for _, s := range invalid {
		assert.False(t, ValidateIdent(s), s)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"u1", "catalog", "v1700000000.9f2c11ab", "tenant-7", "a.b:c"}
	for _, s := range valid {
		assert.True(t, ValidateName(s), s)
	}

	invalid := []string{"", " lead", "has space", "semi;colon", ".dotfirst"}
	for _, s := range invalid {
		assert.False(t, ValidateName(s), s)
	}
}

func TestValidateJSONPath(t *testing.T) {
	valid := []string{"$.id", "$.updated_at", "$.order.total", "$.a.b.c"}
	for _, s := range valid {
		assert.True(t, ValidateJSONPath(s), s)
	}

	invalid := []string{"", "$", "$.", "id", "$.a..b", "$.a b", "a.b"}
	for _, s := range invalid {
		assert.False(t, ValidateJSONPath(s), s)
	}
}

func TestCustomValidatorsRegistered(t *testing.T) {
	assert.NoError(t, V().Var("orders", "identValidator"))
	assert.Error(t, V().Var("Orders", "identValidator"))
	assert.NoError(t, V().Var("$.status", "jsonPathValidator"))
	assert.Error(t, V().Var("status", "jsonPathValidator"))
	assert.NoError(t, V().Var("string", "colTypeValidator"))
	assert.Error(t, V().Var("uuid", "colTypeValidator"))
	assert.NoError(t, V().Var("u1", "nameFormatValidator"))
	assert.Error(t, V().Var("u 1", "nameFormatValidator"))
}
