package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": 2}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{"html": "<b>Tom & Jerry</b>"}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>Tom & Jerry</b>"}`, string(b))
}

func TestJCS_NumberFormatting(t *testing.T) {
	b, err := JCS(map[string]any{"f": 1.0, "i": 10, "e": 1e21})
	require.NoError(t, err)
	assert.Equal(t, `{"e":1e+21,"f":1,"i":10}`, string(b))
}

func TestCanonicalHash_StructAndMapAgree(t *testing.T) {
	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}

	h1, err := CanonicalHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(S{A: 1, B: 2})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestCanonicalHash_ByteTamperChangesHash(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"name": "Alice"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"name": "Alicf"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(map[string]any{"v": 1}, map[string]any{"v": 1.0}))
	assert.True(t, Equal([]any{"a", true, nil}, []any{"a", true, nil}))
	assert.False(t, Equal([]any{"a", "b"}, []any{"b", "a"}))
	assert.False(t, Equal(map[string]any{"v": "1"}, map[string]any{"v": 1}))
	assert.False(t, Equal(func() {}, func() {}))
}

func TestNormalize(t *testing.T) {
	out, err := Normalize(struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}{Name: "x", N: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "n": float64(2)}, out)
}

// Property: re-serialising the same logical object with a different key
// insertion order never changes its hash.
func TestCanonicalHash_KeyOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is independent of key order", prop.ForAll(
		func(keys []string, values []string) bool {
			forward := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				forward[keys[i]] = values[i]
			}

			// Build the reversed document as raw JSON so the byte order differs.
			raw := []byte("{")
			first := true
			for i := len(keys) - 1; i >= 0; i-- {
				if i >= len(values) {
					continue
				}
				if v, ok := forward[keys[i]]; !ok || v != values[i] {
					continue
				}
				if !first {
					raw = append(raw, ',')
				}
				first = false
				kb, _ := json.Marshal(keys[i])
				vb, _ := json.Marshal(values[i])
				raw = append(raw, kb...)
				raw = append(raw, ':')
				raw = append(raw, vb...)
			}
			raw = append(raw, '}')

			var reversed map[string]any
			if err := json.Unmarshal(raw, &reversed); err != nil {
				return false
			}

			h1, err1 := CanonicalHash(forward)
			h2, err2 := CanonicalHash(reversed)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
