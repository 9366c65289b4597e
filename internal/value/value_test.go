package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath_Nested(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"address": map[string]any{"city": "Oslo"},
		},
	}

	v, ok := GetPath(data, "user.address.city")
	require.True(t, ok)
	assert.Equal(t, "Oslo", v)
}

func TestGetPath_Missing(t *testing.T) {
	data := map[string]any{"user": map[string]any{"name": "ada"}}

	_, ok := GetPath(data, "user.age")
	assert.False(t, ok)

	_, ok = GetPath(data, "user.name.first") // scalar mid-path
	assert.False(t, ok)

	_, ok = GetPath(nil, "user")
	assert.False(t, ok)

	_, ok = GetPath(data, "")
	assert.False(t, ok)
}

func TestToFloat_NumericTypes(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{float64(1.5), 1.5},
		{float32(2), 2},
		{int(3), 3},
		{int64(4), 4},
		{uint(5), 5},
		{json.Number("6.5"), 6.5},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		require.True(t, ok, "%T", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestToFloat_NonNumeric(t *testing.T) {
	for _, in := range []any{"42", true, nil, []any{1}, json.Number("nope")} {
		_, ok := ToFloat(in)
		assert.False(t, ok, "%T %v", in, in)
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "1.5", Stringify(float64(1.5)))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "9", Stringify(int64(9)))
}
