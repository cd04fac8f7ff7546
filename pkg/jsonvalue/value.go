// Package jsonvalue holds JSON documents as a closed set of typed variants and
// gives them a single canonical encoding used for hashing and storage.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

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
		return "unknown"
	}
}

var ErrInvalidNumber = errors.New("invalid_number")

// Value is an immutable JSON value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	num    json.Number
	str    string
	items  []Value
	fields map[string]Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func Int(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Float panics on NaN and infinities, which have no JSON form.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("jsonvalue: non-finite number %v", f))
	}
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'f', -1, 64))}
}

// Number wraps a literal JSON number, validating its syntax.
func Number(n json.Number) (Value, error) {
	if _, err := strconv.ParseFloat(string(n), 64); err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidNumber, string(n))
	}
	return Value{kind: KindNumber, num: n}, nil
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, items: cp}
}

func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, fields: cp}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.num.Float64()
	return f, err == nil
}

func (v Value) AsNumber() (json.Number, bool) { return v.num, v.kind == KindNumber }

// Items returns a copy of the array elements, or nil for non-arrays.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Keys returns the object keys in canonical order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.fields[key]
	return f, ok
}

func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	default:
		return 0
	}
}

// Equal compares two values structurally. Numbers compare by canonical text.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.Canonical(), other.Canonical())
}
