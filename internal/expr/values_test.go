package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	falsy := []any{nil, false, 0, 0.0, "", " ", "false", "FALSE", "0", "no", "null", "None", []any{}, map[string]any{}}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v", v)
	}
	truthy := []any{true, 1, -1.5, "yes", "x", []any{0}, map[string]any{"a": nil}}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(200), 200))
	assert.True(t, Equal("7", 7))
	assert.True(t, Equal(true, "true"))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal([]any{1, "a"}, []any{1.0, "a"}))
	assert.True(t, Equal(map[string]any{"a": 1}, map[string]any{"a": 1.0}))

	assert.False(t, Equal("abc", 1))
	assert.False(t, Equal(nil, ""))
	assert.False(t, Equal([]any{1}, []any{1, 2}))
}

func TestCompare(t *testing.T) {
	ok, err := Compare("<", 1, 2.5)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = Compare(">=", "b", "a")
	assert.NoError(t, err)
	assert.True(t, ok)

	_, err = Compare("<", map[string]any{}, 1)
	assert.Error(t, err)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "3.25", Stringify(3.25))
	assert.Equal(t, "42", Stringify(int64(42)))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestTraverse(t *testing.T) {
	v := map[string]any{"items": []any{map[string]any{"id": 1}, map[string]any{"id": 2}}}

	got, ok := Traverse(v, "items.-1.id")
	assert.True(t, ok)
	assert.Equal(t, 2, got)

	_, ok = Traverse(v, "items.5.id")
	assert.False(t, ok)

	got, ok = Traverse(map[string]string{"X": "y"}, "X")
	assert.True(t, ok)
	assert.Equal(t, "y", got)
}
