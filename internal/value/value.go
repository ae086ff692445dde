// Package value holds the recursive document type stored in device state records.
package value

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// Undefined is the zero Value: nothing was provided.
	Undefined Kind = iota
	Null
	Bool
	Number
	String
	Sequence
	Mapping
)

func (k Kind) String() string {
	switch k {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Sequence:
		return "sequence"
	case Mapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable JSON-like document. Constructors copy their inputs,
// so a Value can be shared freely once built.
type Value struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	items  []Value
	fields map[string]Value
}

func NullValue() Value { return Value{kind: Null} }

func BoolOf(b bool) Value { return Value{kind: Bool, b: b} }

func NumberOf(n json.Number) Value { return Value{kind: Number, num: n} }

func IntOf(n int64) Value { return NumberOf(json.Number(strconv.FormatInt(n, 10))) }

func StringOf(s string) Value { return Value{kind: String, str: s} }

// SequenceOf builds a sequence. Undefined items become null, matching JSON encoding.
func SequenceOf(items ...Value) Value {
	out := make([]Value, len(items))
	for i, item := range items {
		if item.kind == Undefined {
			item = NullValue()
		}
		out[i] = item
	}
	return Value{kind: Sequence, items: out}
}

// MappingOf builds a mapping. Undefined entries are dropped.
func MappingOf(fields map[string]Value) Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		if v.kind == Undefined {
			continue
		}
		out[k] = v
	}
	return Value{kind: Mapping, fields: out}
}

// EmptyMapping returns {}.
func EmptyMapping() Value { return Value{kind: Mapping, fields: map[string]Value{}} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsDefined() bool { return v.kind != Undefined }

func (v Value) IsMapping() bool { return v.kind == Mapping }

func (v Value) BoolValue() bool { return v.b }

func (v Value) NumberValue() json.Number { return v.num }

func (v Value) StringValue() string { return v.str }

// Len returns the number of items or fields; zero for scalars.
func (v Value) Len() int {
	switch v.kind {
	case Sequence:
		return len(v.items)
	case Mapping:
		return len(v.fields)
	default:
		return 0
	}
}

// Index returns the i-th item of a sequence, or Undefined.
func (v Value) Index(i int) Value {
	if v.kind != Sequence || i < 0 || i >= len(v.items) {
		return Value{}
	}
	return v.items[i]
}

// Field returns the named field of a mapping, or Undefined.
func (v Value) Field(key string) Value {
	if v.kind != Mapping {
		return Value{}
	}
	return v.fields[key]
}

// Lookup walks nested mappings.
func (v Value) Lookup(path ...string) Value {
	cur := v
	for _, key := range path {
		cur = cur.Field(key)
		if cur.kind == Undefined {
			return cur
		}
	}
	return cur
}

// Keys returns the mapping's keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != Mapping {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OrEmpty returns v, or {} when v is undefined or null.
func (v Value) OrEmpty() Value {
	if v.kind == Undefined || v.kind == Null {
		return EmptyMapping()
	}
	return v
}

// AsPayload treats a top-level null like an absent payload. Nested nulls are
// kept and replace what they merge over.
func (v Value) AsPayload() Value {
	if v.kind == Null {
		return Value{}
	}
	return v
}

// Equal reports deep equality. Numbers compare by their decimal text.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Undefined, Null:
		return true
	case Bool:
		return a.b == b.b
	case Number:
		return numbersEqual(a.num, b.num)
	case String:
		return a.str == b.str
	case Sequence:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case Mapping:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	af, errA := a.Float64()
	bf, errB := b.Float64()
	return errA == nil && errB == nil && af == bf
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(data any) (Value, error) {
	switch d := data.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return d, nil
	case bool:
		return BoolOf(d), nil
	case json.Number:
		return NumberOf(d), nil
	case string:
		return StringOf(d), nil
	case int:
		return IntOf(int64(d)), nil
	case int32:
		return IntOf(int64(d)), nil
	case int64:
		return IntOf(d), nil
	case uint:
		return NumberOf(json.Number(strconv.FormatUint(uint64(d), 10))), nil
	case uint64:
		return NumberOf(json.Number(strconv.FormatUint(d, 10))), nil
	case float32:
		return floatOf(float64(d))
	case float64:
		return floatOf(d)
	case []string:
		items := make([]Value, len(d))
		for i, s := range d {
			items[i] = StringOf(s)
		}
		return Value{kind: Sequence, items: items}, nil
	case []any:
		items := make([]Value, len(d))
		for i, raw := range d {
			item, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = item
		}
		return Value{kind: Sequence, items: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(d))
		for k, raw := range d {
			field, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = field
		}
		return Value{kind: Mapping, fields: fields}, nil
	case map[any]any:
		fields := make(map[string]Value, len(d))
		for k, raw := range d {
			key := fmt.Sprint(k)
			field, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = field
		}
		return Value{kind: Mapping, fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", data)
	}
}

// MustFromAny is FromAny for literals known to be valid.
func MustFromAny(data any) Value {
	v, err := FromAny(data)
	if err != nil {
		panic(err)
	}
	return v
}

func floatOf(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("non-finite number %v", f)
	}
	return NumberOf(json.Number(strconv.FormatFloat(f, 'f', -1, 64))), nil
}

// ToAny converts v back into plain Go data. Undefined becomes nil.
func (v Value) ToAny() any {
	switch v.kind {
	case Null, Undefined:
		return nil
	case Bool:
		return v.b
	case Number:
		return v.num
	case String:
		return v.str
	case Sequence:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.ToAny()
		}
		return out
	case Mapping:
		out := make(map[string]any, len(v.fields))
		for k, field := range v.fields {
			out[k] = field.ToAny()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Scan implements sql.Scanner for jsonb columns.
func (v *Value) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case []byte:
		return v.UnmarshalJSON(s)
	case string:
		return v.UnmarshalJSON([]byte(s))
	default:
		return fmt.Errorf("value: cannot scan %T", src)
	}
}

// Value implements driver.Valuer. Undefined is stored as SQL NULL.
func (v Value) Value() (driver.Value, error) {
	if v.kind == Undefined {
		return nil, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v Value) String() string {
	if v.kind == Undefined {
		return "<undefined>"
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return string(b)
}
