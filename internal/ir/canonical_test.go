package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name  string
		input IRValue
		want  string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), `42`},
		{"negative", IRInt(-100), `-100`},
		{"min int64", IRInt(-9223372036854775808), `-9223372036854775808`},
		{"true", IRBool(true), `true`},
		{"false", IRBool(false), `false`},
		{"empty array", IRArray{}, `[]`},
		{"empty object", IRObject{}, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonicalNestedSorting(t *testing.T) {
	obj := IRObject{
		"z": IRObject{"b": IRInt(1), "a": IRInt(2)},
		"a": IRArray{IRObject{"y": IRBool(true), "x": IRString("v")}},
	}
	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"x":"v","y":true}],"z":{"a":2,"b":1}}`, string(got))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"html kept literal", "<a>&", `"<a>&"`},
		{"short escapes", "\b\f\n\r\t", `"\b\f\n\r\t"`},
		{"other controls", "\x00\x1f", `"\u0000\u001f"`},
		{"line separators literal", "\u2028\u2029", "\"\u2028\u2029\""},
		{"escaped text stays escaped", `\u2028`, `"\\u2028"`},
		{"delete kept", "\x7f", "\"\x7f\""},
		{"invalid utf8", "a\xffb", "\"a\uFFFDb\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(IRObject{decomposed: IRString(decomposed)})
	require.NoError(t, err)
	b, err := MarshalCanonical(IRObject{composed: IRString(composed)})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(IRNull{})
	assert.Error(t, err)

	_, err = MarshalCanonical(IRObject{"k": IRArray{IRNull{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"k"`)

	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonicalIndependentOfInsertionOrder(t *testing.T) {
	a := IRObject{}
	a["title"] = IRString("Alice")
	a["picture"] = IRString("p.png")
	b := IRObject{}
	b["picture"] = IRString("p.png")
	b["title"] = IRString("Alice")

	ca, err := MarshalCanonical(a)
	require.NoError(t, err)
	cb, err := MarshalCanonical(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}
