package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ObjectType is the runtime type tag written in front of every serialized
// object. The high byte carries capability flags, the low bits the raw type.
type ObjectType uint32

const (
	flagCanBeFalse ObjectType = 0x01000000
	flagDelegable  ObjectType = 0x02000000
	flagNumeric    ObjectType = 0x04000000
	flagRefCounted ObjectType = 0x08000000
)

// Object types that may appear in a serialized function prototype.
const (
	TypeNull    ObjectType = 0x00000001 | flagCanBeFalse
	TypeInteger ObjectType = 0x00000002 | flagNumeric | flagCanBeFalse
	TypeFloat   ObjectType = 0x00000004 | flagNumeric | flagCanBeFalse
	TypeBool    ObjectType = 0x00000008 | flagCanBeFalse
	TypeString  ObjectType = 0x00000010 | flagRefCounted
)

// String returns the Squirrel type name.
func (t ObjectType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("ObjectType(0x%08X)", uint32(t))
	}
}

// Value is an immutable constant from the bytecode: null, integer, float,
// bool or string. Values are comparable and usable as map keys.
type Value struct {
	typ  ObjectType
	bits uint32
	str  string
}

// Null returns the null value.
func Null() Value { return Value{typ: TypeNull} }

// Int returns an integer value.
func Int(v int32) Value { return Value{typ: TypeInteger, bits: uint32(v)} }

// Float returns a float value.
func Float(v float32) Value { return Value{typ: TypeFloat, bits: math.Float32bits(v)} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

// Str returns a string value.
func Str(s string) Value { return Value{typ: TypeString, str: s} }

// Type returns the value's object type. The zero Value reports TypeNull.
func (v Value) Type() ObjectType {
	if v.typ == 0 {
		return TypeNull
	}
	return v.typ
}

func (v Value) IsNull() bool   { return v.Type() == TypeNull }
func (v Value) IsString() bool { return v.typ == TypeString }

func (v Value) AsInt() int32     { return int32(v.bits) }
func (v Value) AsFloat() float32 { return math.Float32frombits(v.bits) }
func (v Value) AsBool() bool     { return v.bits != 0 }
func (v Value) AsString() string { return v.str }

// String renders the value without quoting, so string constants print as
// their raw text.
func (v Value) String() string {
	switch v.Type() {
	case TypeInteger:
		return strconv.FormatInt(int64(v.AsInt()), 10)
	case TypeFloat:
		return FormatFloat(v.AsFloat())
	case TypeBool:
		return strconv.FormatBool(v.AsBool())
	case TypeString:
		return v.str
	default:
		return "null"
	}
}

// Quoted renders the value as a source-level literal. Only strings differ
// from String.
func (v Value) Quoted() string {
	if v.typ == TypeString {
		return strconv.Quote(v.str)
	}
	return v.String()
}

// FormatFloat renders f with the shortest exact representation, always
// keeping a decimal point so the result reads back as a float.
func FormatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 32)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}

// IsIdentifier reports whether s can be written as a bare Squirrel
// identifier.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
