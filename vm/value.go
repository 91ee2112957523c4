package vm

import (
	"fmt"
	"strconv"
)

// Kind tags the payload held by a register Value.
type Kind uint8

const (
	KindEmpty Kind = iota // absent / uninitialized
	KindBool
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a register value.
//
// It is a small tagged union: Empty, Bool, Int or String. The zero Value is
// Empty. Values are immutable and safe to copy; storing one in a register
// replaces whatever the register held before.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
}

// Empty is the absent register value.
var Empty = Value{}

// Bool returns a boolean register value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer register value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String returns a string register value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind reports which payload v carries.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the absent value.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// AsBool returns the boolean payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload and whether v is an Int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsString returns the string payload and whether v is a String.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Truthy reports the logical truth of v.
// Empty, false and zero are false; any string is true, including "".
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindString:
		return true
	}
	return false
}

// Equal reports whether v and o carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindString:
		return v.s == o.s
	}
	return true
}

// Interface converts v into the plain Go value used by wire encoders:
// nil, bool, int64 or string.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindString:
		return v.s
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return strconv.Quote(v.s)
	}
	return "<empty>"
}
