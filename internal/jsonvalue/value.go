// Package jsonvalue provides a typed representation of arbitrary JSON documents
// stored in call-log JSONB columns.
//
// A Value is one of null, bool, number, string, array or object. Lookups on
// missing keys or on the wrong kind return the zero Value and false rather than
// panicking, so callers can walk untrusted payloads without type assertions.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the JSON type held by a Value.
type Kind int

// Kinds of JSON values.
const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// ErrInvalidJSON is returned when a document cannot be decoded.
var ErrInvalidJSON = errors.New("invalid JSON document")

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable JSON value. The zero Value is JSON null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// NullValue returns JSON null.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{kind: Number, n: n} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: String, s: s} }

// ArrayValue wraps a list of values.
func ArrayValue(items ...Value) Value {
	return Value{kind: Array, arr: append([]Value(nil), items...)}
}

// ObjectValue wraps a key/value map. The map is copied.
func ObjectValue(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}

	return Value{kind: Object, obj: obj}
}

// Parse decodes a JSON document. Empty input decodes to null.
func Parse(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NullValue(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return NullValue(), fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	return FromAny(raw), nil
}

// FromAny converts the output of encoding/json (or plain Go scalars) into a Value.
// Unsupported types become null.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue()
	case Value:
		return v
	case bool:
		return BoolValue(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return StringValue(v.String())
		}

		return NumberValue(f)
	case float64:
		return NumberValue(v)
	case float32:
		return NumberValue(float64(v))
	case int:
		return NumberValue(float64(v))
	case int64:
		return NumberValue(float64(v))
	case string:
		return StringValue(v)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromAny(item)
		}

		return Value{kind: Array, arr: items}
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for key, item := range v {
			obj[key] = FromAny(item)
		}

		return Value{kind: Object, obj: obj}
	default:
		return NullValue()
	}
}

// Kind returns the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == Null }

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == Bool }

// Number returns the number held by v.
func (v Value) Number() (float64, bool) { return v.n, v.kind == Number }

// Str returns the string held by v.
func (v Value) Str() (string, bool) { return v.s, v.kind == String }

// Items returns the elements of an array value.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}

	return append([]Value(nil), v.arr...)
}

// Len returns the number of elements or keys, 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	default:
		return 0
	}
}

// Keys returns the keys of an object value in sorted order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}

	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Field returns the member named key of an object value.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return NullValue(), false
	}

	member, ok := v.obj[key]

	return member, ok
}

// Lookup walks a path of object keys and array indexes.
// An empty path returns v itself.
//
// Example:
//
//	v.Lookup("usage", "tokens")
//	v.Lookup("turns", "0", "speaker")
func (v Value) Lookup(path ...string) (Value, bool) {
	current := v

	for _, segment := range path {
		switch current.kind {
		case Object:
			next, ok := current.obj[segment]
			if !ok {
				return NullValue(), false
			}

			current = next
		case Array:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(current.arr) {
				return NullValue(), false
			}

			current = current.arr[idx]
		default:
			return NullValue(), false
		}
	}

	return current, true
}

// LookupDotted is Lookup with a dot separated path ("usage.tokens").
func (v Value) LookupDotted(path string) (Value, bool) {
	if path == "" {
		return v, true
	}

	return v.Lookup(strings.Split(path, ".")...)
}

// Text renders v the way Postgres ->> extracts a member as text:
// strings unquoted, null as empty, everything else as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return ""
	case String:
		return v.s
	case Bool:
		return strconv.FormatBool(v.b)
	case Number:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}

		return string(data)
	}
}

// Interface converts v back into plain Go values (map[string]any, []any, float64, ...).
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.Interface()
		}

		return items
	case Object:
		obj := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			obj[k] = item.Interface()
		}

		return obj
	default:
		return nil
	}
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Number:
		return v.n == other.n
	case String:
		return v.s == other.s
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}

		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}

		return true
	case Object:
		if len(v.obj) != len(other.obj) {
			return false
		}

		for k, item := range v.obj {
			o, ok := other.obj[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}
