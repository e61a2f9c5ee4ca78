package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// IRValue is a sealed interface over the payload value types.
// There is deliberately no float member.
type IRValue interface {
	irValue()
}

// IRNull is an explicit JSON null.
type IRNull struct{}

func (IRNull) irValue() {}

// MarshalJSON implements json.Marshaler.
func (IRNull) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// IRString is a string value.
type IRString string

func (IRString) irValue() {}

// IRInt is an integer value.
type IRInt int64

func (IRInt) irValue() {}

// IRBool is a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray is an ordered list of values.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject maps string keys to values. Iterate with SortedKeys when order matters.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// Strings builds an IRArray of IRString.
func Strings(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

// StringMap builds an IRObject of IRString values.
func StringMap(m map[string]string) IRObject {
	obj := make(IRObject, len(m))
	for k, v := range m {
		obj[k] = IRString(v)
	}
	return obj
}

// AsString returns the string held by v, or "" for any other type.
func AsString(v IRValue) string {
	if s, ok := v.(IRString); ok {
		return string(s)
	}
	return ""
}

// AsInt returns the integer held by v, or 0.
func AsInt(v IRValue) int64 {
	if n, ok := v.(IRInt); ok {
		return int64(n)
	}
	return 0
}

// AsBool returns the boolean held by v, or false.
func AsBool(v IRValue) bool {
	if b, ok := v.(IRBool); ok {
		return bool(b)
	}
	return false
}

// AsStrings returns the string elements of an array value. Non-string
// elements are skipped; non-array values yield nil.
func AsStrings(v IRValue) []string {
	arr, ok := v.(IRArray)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		if s, ok := elem.(IRString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// AsStringMap returns the string-valued entries of an object value.
func AsStringMap(v IRValue) map[string]string {
	obj, ok := v.(IRObject)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(obj))
	for k, elem := range obj {
		if s, ok := elem.(IRString); ok {
			out[k] = string(s)
		}
	}
	return out
}

// IsFalsy reports whether v is dropped from a persisted payload:
// nil, null, "", 0, false and empty arrays. Empty objects are kept.
func IsFalsy(v IRValue) bool {
	switch val := v.(type) {
	case nil, IRNull:
		return true
	case IRString:
		return val == ""
	case IRInt:
		return val == 0
	case IRBool:
		return !bool(val)
	case IRArray:
		return len(val) == 0
	default:
		return false
	}
}

// Equal reports whether a and b hold the same value.
func Equal(a, b IRValue) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case IRNull:
		_, ok := b.(IRNull)
		return ok
	case IRString, IRInt, IRBool:
		return a == b
	case IRArray:
		bv, ok := b.(IRArray)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IRObject:
		bv, ok := b.(IRObject)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, elem := range av {
			other, ok := bv[k]
			if !ok || !Equal(elem, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of v. Arrays and objects are copied so callers
// can mutate the result without aliasing tracked state.
func Clone(v IRValue) IRValue {
	switch val := v.(type) {
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case IRObject:
		out := make(IRObject, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units, not UTF-8 bytes).
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// FromAny converts plain Go values into IRValue. It accepts the shapes that
// encoding/json produces plus the typed slices and maps used by callers.
func FromAny(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case bool:
		return IRBool(val), nil
	case int:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s", val)
		}
		return IRInt(n), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not representable: %v", val)
	case []string:
		return Strings(val), nil
	case map[string]string:
		return StringMap(val), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// ParseObject decodes a JSON object. Numbers must be integers.
func ParseObject(data []byte) (IRObject, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse object: %w", err)
	}
	if raw == nil {
		return IRObject{}, nil
	}
	v, err := FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("parse object: %w", err)
	}
	return v.(IRObject), nil
}

// MarshalJSON writes obj with sorted keys. Output is not canonical (no NFC);
// use MarshalCanonical for anything that is signed or hashed.
func (obj IRObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(obj[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
