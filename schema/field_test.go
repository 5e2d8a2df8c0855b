package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testField(dt DataType, nullable bool) *Field {
	model := &Model{Name: "Member"}
	return &Field{Name: "f", DBName: "f", DataType: dt, Nullable: nullable, Model: model}
}

func TestCoerceValueInt(t *testing.T) {
	f := testField(Int, false)

	for _, v := range []interface{}{42, int32(42), int64(42), uint(42), float64(42)} {
		got, err := f.CoerceValue(v)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)
	}

	_, err := f.CoerceValue(1.5)
	assert.Error(t, err)
	_, err = f.CoerceValue("42")
	assert.Error(t, err)
}

func TestCoerceValueTime(t *testing.T) {
	f := testField(Time, false)

	exact := time.Date(2026, 5, 17, 0, 0, 0, 0, time.UTC)
	got, err := f.CoerceValue(exact)
	require.NoError(t, err)
	assert.Equal(t, exact, got)

	// date strings are parsed with flexible formats
	got, err = f.CoerceValue("2026-05-17")
	require.NoError(t, err)
	parsed, ok := got.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, time.May, parsed.Month())
	assert.Equal(t, 17, parsed.Day())

	_, err = f.CoerceValue("not a date")
	assert.Error(t, err)
}

func TestCoerceValueNull(t *testing.T) {
	nullable := testField(String, true)
	got, err := nullable.CoerceValue(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	required := testField(String, false)
	_, err = required.CoerceValue(nil)
	assert.Error(t, err)
}

func TestOrderable(t *testing.T) {
	assert.True(t, testField(Int, false).Orderable())
	assert.True(t, testField(String, false).Orderable())
	assert.True(t, testField(Time, false).Orderable())
	assert.False(t, testField(Bool, false).Orderable())
	assert.False(t, testField(Bytes, false).Orderable())
}
