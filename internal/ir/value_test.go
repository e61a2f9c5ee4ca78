package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeysUTF16Order(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "A": IRInt(2), "aa": IRInt(3), "Aa": IRInt(4), "AA": IRInt(5)}
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aa"}, obj.SortedKeys())
}

func TestSortedKeysSurrogatePairs(t *testing.T) {
	// U+1F600 encodes as D83D DE00 in UTF-16, which sorts below U+FB01.
	// UTF-8 byte order would put the emoji last.
	obj := IRObject{"\uFB01": IRInt(1), "\U0001F600": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "\uFB01"}, obj.SortedKeys())
}

func TestIsFalsy(t *testing.T) {
	tests := []struct {
		name  string
		value IRValue
		want  bool
	}{
		{"nil", nil, true},
		{"null", IRNull{}, true},
		{"empty string", IRString(""), true},
		{"zero", IRInt(0), true},
		{"false", IRBool(false), true},
		{"empty array", IRArray{}, true},
		{"empty object kept", IRObject{}, false},
		{"string", IRString("x"), false},
		{"negative", IRInt(-1), false},
		{"true", IRBool(true), false},
		{"array", IRArray{IRString("")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFalsy(tt.value))
		})
	}
}

func TestEqualDeep(t *testing.T) {
	a := IRObject{"list": IRArray{IRString("x"), IRInt(2)}, "m": IRObject{"k": IRBool(true)}}
	b := IRObject{"m": IRObject{"k": IRBool(true)}, "list": IRArray{IRString("x"), IRInt(2)}}
	assert.True(t, Equal(a, b))

	b["list"] = IRArray{IRInt(2), IRString("x")}
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(IRString("1"), IRInt(1)))
	assert.True(t, Equal(IRNull{}, IRNull{}))
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := IRObject{"list": IRArray{IRString("a")}}
	cp := Clone(orig).(IRObject)
	cp["list"].(IRArray)[0] = IRString("b")
	cp["new"] = IRInt(1)

	assert.Equal(t, IRString("a"), orig["list"].(IRArray)[0])
	assert.NotContains(t, orig, "new")
}

func TestAccessors(t *testing.T) {
	assert.Equal(t, "x", AsString(IRString("x")))
	assert.Equal(t, "", AsString(IRInt(1)))
	assert.Equal(t, int64(7), AsInt(IRInt(7)))
	assert.True(t, AsBool(IRBool(true)))
	assert.Equal(t, []string{"a", "b"}, AsStrings(IRArray{IRString("a"), IRInt(1), IRString("b")}))
	assert.Nil(t, AsStrings(IRString("a")))
	assert.Equal(t, map[string]string{"k": "v"}, AsStringMap(IRObject{"k": IRString("v"), "n": IRInt(1)}))
	assert.Empty(t, AsStringMap(nil))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"s":    "x",
		"n":    json.Number("12"),
		"list": []string{"a"},
		"map":  map[string]string{"k": "v"},
		"nil":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, IRObject{
		"s":    IRString("x"),
		"n":    IRInt(12),
		"list": IRArray{IRString("a")},
		"map":  IRObject{"k": IRString("v")},
		"nil":  IRNull{},
	}, v)

	_, err = FromAny(1.5)
	assert.Error(t, err)
	_, err = FromAny(json.Number("1.5"))
	assert.Error(t, err)
	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject([]byte(`{"title":"Alice","count":3,"tags":["a"],"gone":null}`))
	require.NoError(t, err)
	assert.Equal(t, IRString("Alice"), obj["title"])
	assert.Equal(t, IRInt(3), obj["count"])
	assert.Equal(t, IRArray{IRString("a")}, obj["tags"])
	assert.Equal(t, IRNull{}, obj["gone"])

	_, err = ParseObject([]byte(`{"x":1.25}`))
	assert.Error(t, err)

	_, err = ParseObject([]byte(`[1]`))
	assert.Error(t, err)

	empty, err := ParseObject([]byte(`null`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestObjectMarshalJSONSorted(t *testing.T) {
	data, err := json.Marshal(IRObject{"b": IRInt(1), "a": IRArray{IRString("<x>")}, "c": IRNull{}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["<x>"],"b":1,"c":null}`, string(data))
}
