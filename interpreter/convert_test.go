package interpreter

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestToValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "None"},
		{"bool", true, "True"},
		{"int", 42, "42"},
		{"uint8", uint8(7), "7"},
		{"float", 1.5, "1.5"},
		{"string", "hi", `"hi"`},
		{"json int", json.Number("12"), "12"},
		{"json float", json.Number("1.25"), "1.25"},
		{"slice", []any{1, "a"}, `[1, "a"]`},
		{"typed slice", []string{"a", "b"}, `["a", "b"]`},
		{"map", map[string]any{"b": 2, "a": 1}, `{"a": 1, "b": 2}`},
		{"typed map", map[string]int{"x": 1}, `{"x": 1}`},
		{"nil pointer", (*int)(nil), "None"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ToValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestToValue_Unsupported(t *testing.T) {
	_, err := ToValue(map[int]string{1: "a"})
	assert.Error(t, err)
	_, err = ToValue(struct{}{})
	assert.Error(t, err)
	_, err = ToValue(json.Number("not-a-number"))
	assert.Error(t, err)
}

func TestFromValue(t *testing.T) {
	d := starlark.NewDict(2)
	require.NoError(t, d.SetKey(starlark.String("k"), starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.None})))
	require.NoError(t, d.SetKey(starlark.MakeInt(3), starlark.Tuple{starlark.Float(0.5)}))

	got := FromValue(d)
	assert.Equal(t, map[string]any{
		"k": []any{int64(1), nil},
		"3": []any{0.5},
	}, got)

	huge := starlark.MakeInt64(1 << 62).Mul(starlark.MakeInt(16))
	assert.Equal(t, "73786976294838206464", FromValue(huge))
	inf := starlark.Float(math.Inf(1))
	assert.Equal(t, inf.String(), FromValue(inf))
	assert.Equal(t, "<built-in function sleep>", FromValue(baseBuiltins()["sleep"]))
}
