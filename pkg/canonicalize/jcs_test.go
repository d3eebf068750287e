package canonicalize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJCS_Sorting(t *testing.T) {
	b, err := JCS(map[string]any{"c": 3, "a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":3}`, string(b))
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	}
	b, err := JCS(input)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"z":{"x":"bar","y":"foo"}}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]string{"html": "<script>alert('xss')</script> &"})
	require.NoError(t, err)
	require.Equal(t, `{"html":"<script>alert('xss')</script> &"}`, string(b))
}

func TestJCS_NumberTypes(t *testing.T) {
	b, err := JCS(map[string]any{"num": json.Number("123.456")})
	require.NoError(t, err)
	require.Equal(t, `{"num":123.456}`, string(b))
}

func TestCanonicalHash_StructAndMapAgree(t *testing.T) {
	type entry struct {
		Size int64  `json:"size"`
		Path string `json:"path"`
	}
	h1, err := CanonicalHash(map[string]any{"path": "a.txt", "size": 3})
	require.NoError(t, err)
	h2, err := CanonicalHash(entry{Path: "a.txt", Size: 3})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestTransform_RejectsInvalidJSON(t *testing.T) {
	_, err := Transform([]byte(`{"a":`))
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "jcs:"))
}

func TestHashString(t *testing.T) {
	// sha256("abc")
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashString("abc"))
}

func TestIsSHA256Hex(t *testing.T) {
	require.True(t, IsSHA256Hex(strings.Repeat("a", 64)))
	require.True(t, IsSHA256Hex(strings.Repeat("F", 64)))
	require.False(t, IsSHA256Hex(strings.Repeat("a", 63)))
	require.False(t, IsSHA256Hex(strings.Repeat("g", 64)))
	require.False(t, IsSHA256Hex(""))
}
