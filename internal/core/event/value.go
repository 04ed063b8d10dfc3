package event

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind discriminates the JSON value union.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged union over the JSON value domain
// (string/number/bool/null/array/object). The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a JSON boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a JSON number.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String wraps a JSON string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a JSON array.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a JSON object.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Kind reports which arm of the union this value holds.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean arm; false for any other kind.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric arm; 0 for any other kind.
func (v Value) AsNumber() float64 { return v.num }

// AsString returns the string arm; "" for any other kind.
func (v Value) AsString() string { return v.str }

// Items returns the array arm; nil for any other kind.
func (v Value) Items() []Value { return v.arr }

// Fields returns the object arm; nil for any other kind.
func (v Value) Fields() map[string]Value { return v.obj }

// MarshalJSON encodes the value back to its JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
	}
}

// UnmarshalJSON decodes any JSON value into the union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

// fromAny converts the encoding/json generic decoding
// (float64/bool/string/nil/[]any/map[string]any) into the union.
func fromAny(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromAny(item)
		}
		return Array(items...)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = fromAny(item)
		}
		return Object(fields)
	default:
		// json.Unmarshal into interface{} never produces other types.
		return Null()
	}
}

// Properties is the schemaless key-value payload attached to an event.
type Properties map[string]Value

// ParseProperties decodes a raw JSON object string into Properties.
// Malformed input coerces to an empty map rather than failing: bad metadata
// must not block ingestion of an otherwise valid event.
func ParseProperties(raw string) Properties {
	if raw == "" {
		return Properties{}
	}
	var p Properties
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Properties{}
	}
	if p == nil {
		return Properties{}
	}
	return p
}

// MarshalJSON keeps a nil map rendering as {} so stored rows and API
// responses never carry JSON null for properties.
func (p Properties) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(p))
}

// Keys returns the property names in sorted order. Diagnostic output only.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
