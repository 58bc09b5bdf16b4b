package userdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/edgestore/edgestore/internal/edgesrv/db/dberror"
	"github.com/edgestore/edgestore/pkg/types"
)

func TestCoerceQueryValue(t *testing.T) {
	v, err := coerceQueryValue("open", types.ColumnTypeString)
	require.NoError(t, err)
	assert.Equal(t, "open", v)
	_, err = coerceQueryValue(5, types.ColumnTypeString)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	// JSON decoding hands numbers over as float64; native ints work too.
	v, err = coerceQueryValue(float64(5), types.ColumnTypeNumber)
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)
	v, err = coerceQueryValue(5, types.ColumnTypeNumber)
	require.NoError(t, err)
	assert.Equal(t, float64(5), v)

	v, err = coerceQueryValue(float64(5), types.ColumnTypeInteger)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
	_, err = coerceQueryValue(5.5, types.ColumnTypeInteger)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	v, err = coerceQueryValue(true, types.ColumnTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	_, err = coerceQueryValue("true", types.ColumnTypeBoolean)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	v, err = coerceQueryValue(when, types.ColumnTypeDatetime)
	require.NoError(t, err)
	assert.Equal(t, when, v)
	v, err = coerceQueryValue("2024-05-01T10:00:00Z", types.ColumnTypeDatetime)
	require.NoError(t, err)
	assert.Equal(t, when, v)
	_, err = coerceQueryValue("yesterday", types.ColumnTypeDatetime)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}

func TestMatchScan(t *testing.T) {
	// Strings compare lexically.
	assert.True(t, matchScan(gjson.Parse(`"open"`), OpEq, "open"))
	assert.False(t, matchScan(gjson.Parse(`"open"`), OpEq, "closed"))
	assert.True(t, matchScan(gjson.Parse(`"open"`), OpGt, "closed"))
	assert.True(t, matchScan(gjson.Parse(`"closed"`), OpLe, "closed"))

	// Numbers compare numerically regardless of the Go integer width.
	assert.True(t, matchScan(gjson.Parse(`5`), OpEq, float64(5)))
	assert.True(t, matchScan(gjson.Parse(`5`), OpEq, 5))
	assert.True(t, matchScan(gjson.Parse(`5.5`), OpGt, 5))
	assert.False(t, matchScan(gjson.Parse(`5`), OpLt, 5))
	assert.True(t, matchScan(gjson.Parse(`5`), OpLe, int64(5)))

	// Booleans order false < true.
	assert.True(t, matchScan(gjson.Parse(`true`), OpEq, true))
	assert.True(t, matchScan(gjson.Parse(`false`), OpLt, true))
	assert.False(t, matchScan(gjson.Parse(`true`), OpGt, true))

	// Datetimes compare as instants.
	earlier := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, matchScan(gjson.Parse(`"2024-05-01T00:00:00Z"`), OpEq, earlier))
	assert.True(t, matchScan(gjson.Parse(`"2024-06-01T00:00:00Z"`), OpGt, earlier))
	assert.False(t, matchScan(gjson.Parse(`"not a date"`), OpEq, earlier))

	// Values of another JSON type never match, mirroring the typed index.
	assert.False(t, matchScan(gjson.Parse(`5`), OpEq, "5"))
	assert.False(t, matchScan(gjson.Parse(`"5"`), OpEq, float64(5)))
	assert.False(t, matchScan(gjson.Parse(`true`), OpEq, float64(1)))
	assert.False(t, matchScan(gjson.Result{}, OpEq, "open"))
}

func TestAsFloatAsInt(t *testing.T) {
	f, ok := asFloat(int32(7))
	assert.True(t, ok)
	assert.Equal(t, float64(7), f)
	_, ok = asFloat("7")
	assert.False(t, ok)

	i, ok := asInt(float64(7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)
	_, ok = asInt(7.5)
	assert.False(t, ok)
	_, ok = asInt("7")
	assert.False(t, ok)
}
