package mirror

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	rows := []json.RawMessage{
		json.RawMessage(`{"sku": "a", "price": 10}`),
		json.RawMessage(`{"sku": "b", "price": 20}`),
	}
	sum, err := Checksum(rows)
	assert.NoError(t, err)
	assert.Len(t, sum, 64)

	// Key order and whitespace do not change the checksum
	reordered := []json.RawMessage{
		json.RawMessage(`{ "price":10,"sku":"a" }`),
		json.RawMessage(`{"price": 20, "sku": "b"}`),
	}
	sum2, err := Checksum(reordered)
	assert.NoError(t, err)
	assert.Equal(t, sum, sum2)

	// Row order does
	swapped := []json.RawMessage{rows[1], rows[0]}
	sum3, err := Checksum(swapped)
	assert.NoError(t, err)
	assert.NotEqual(t, sum, sum3)

	// Content changes do too
	changed := []json.RawMessage{
		json.RawMessage(`{"sku": "a", "price": 11}`),
		json.RawMessage(`{"sku": "b", "price": 20}`),
	}
	sum4, err := Checksum(changed)
	assert.NoError(t, err)
	assert.NotEqual(t, sum, sum4)
}

func TestChecksumEmpty(t *testing.T) {
	sum, err := Checksum(nil)
	assert.NoError(t, err)
	sum2, err := Checksum([]json.RawMessage{})
	assert.NoError(t, err)
	assert.Equal(t, sum, sum2)
	assert.Len(t, sum, 64)
}

func TestChecksumInvalidJSON(t *testing.T) {
	_, err := Checksum([]json.RawMessage{json.RawMessage(`{"sku": `)})
	assert.Error(t, err)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1700000000.9f2c11ab",
		FormatVersion(1700000000, "9f2c11abdd00e1aa55ff00aa11bb22cc"))
	assert.Equal(t, "v0.abc", FormatVersion(0, "abc"))
}
