// Package value implements the runtime value model: a closed tagged union of
// fixed-width numerics, booleans, characters, strings, arrays, maps, struct
// instances, function references and nil.
//
// Primitive values are copied. Arrays, maps and structs are reference values:
// copying a Value copies the reference, so every holder observes mutations.
// Ownership of the name that refers to them is tracked by the runtime
// package, not here.
package value

import (
	"math"
	"math/bits"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindChar
	KindString
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindIsize
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindUsize
	KindF32
	KindF64
	KindFsize
	KindArray
	KindMap
	KindStruct
	KindFunction

	kindCount
)

var kindNames = [kindCount]string{
	KindNil:      "nil",
	KindBool:     "bool",
	KindChar:     "char",
	KindString:   "string",
	KindI8:       "i8",
	KindI16:      "i16",
	KindI32:      "i32",
	KindI64:      "i64",
	KindI128:     "i128",
	KindIsize:    "isize",
	KindU8:       "u8",
	KindU16:      "u16",
	KindU32:      "u32",
	KindU64:      "u64",
	KindU128:     "u128",
	KindUsize:    "usize",
	KindF32:      "f32",
	KindF64:      "f64",
	KindFsize:    "fsize",
	KindArray:    "array",
	KindMap:      "map",
	KindStruct:   "struct",
	KindFunction: "function",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "invalid"
}

// ParseKind maps a type name to its kind.
func ParseKind(name string) (Kind, bool) {
	switch name {
	case "int":
		return KindI64, true
	case "float":
		return KindF64, true
	case "str":
		return KindString, true
	}
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNil, false
}

// IsInt reports whether k is a fixed-width integer kind.
func (k Kind) IsInt() bool { return k >= KindI8 && k <= KindUsize }

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool { return k >= KindI8 && k <= KindIsize }

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool { return k >= KindF32 && k <= KindFsize }

// IsNumeric reports whether k is an integer or floating point kind.
func (k Kind) IsNumeric() bool { return k.IsInt() || k.IsFloat() }

// IsOwned reports whether values of kind k are ownership-sensitive.
func (k Kind) IsOwned() bool { return k == KindArray || k == KindMap || k == KindStruct }

// Width is the bit width of a numeric kind, 0 otherwise.
func (k Kind) Width() int {
	switch k {
	case KindI8, KindU8:
		return 8
	case KindI16, KindU16:
		return 16
	case KindI32, KindU32, KindF32:
		return 32
	case KindI64, KindU64, KindF64:
		return 64
	case KindI128, KindU128:
		return 128
	case KindIsize, KindUsize:
		return bits.UintSize
	case KindFsize:
		return 64
	}
	return 0
}

// Value is a runtime value. The zero Value is nil.
//
// Integers up to 64 bits live in lo, normalized to their width (sign
// extended for signed kinds, masked for unsigned ones). 128-bit integers use
// lo and hi. Floats store their float64 bits in lo. Bools and chars use lo.
type Value struct {
	kind Kind
	lo   uint64
	hi   uint64
	str  string
	obj  any
}

// Nil is the nil value.
var Nil = Value{}

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// Bool returns a bool value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, lo: 1}
	}
	return Value{kind: KindBool}
}

// Char returns a char value.
func Char(r rune) Value { return Value{kind: KindChar, lo: uint64(r)} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer of kind k holding n, wrapped to the kind's width.
// Use Coerce for range-checked conversion.
func Int(k Kind, n int64) Value {
	v := Value{kind: k, lo: uint64(n)}
	if k.Width() == 128 && n < 0 {
		v.hi = math.MaxUint64
	}
	return v.normalize()
}

// Uint returns an integer of kind k holding n, wrapped to the kind's width.
func Uint(k Kind, n uint64) Value {
	return Value{kind: k, lo: n}.normalize()
}

// I64 is shorthand for Int(KindI64, n).
func I64(n int64) Value { return Value{kind: KindI64, lo: uint64(n)} }

// Float returns a float of kind k.
func Float(k Kind, f float64) Value {
	if k == KindF32 {
		f = float64(float32(f))
	}
	return Value{kind: k, lo: math.Float64bits(f)}
}

// F64 is shorthand for Float(KindF64, f).
func F64(f float64) Value { return Value{kind: KindF64, lo: math.Float64bits(f)} }

// Func returns a reference to the compiled function at chunk index idx.
func Func(name string, idx int) Value {
	return Value{kind: KindFunction, lo: uint64(idx), str: name}
}

func (v Value) normalize() Value {
	w := v.kind.Width()
	switch {
	case !v.kind.IsInt():
		return v
	case w >= 64:
		return v
	}
	mask := uint64(1)<<uint(w) - 1
	v.lo &= mask
	if v.kind.IsSigned() && v.lo&(uint64(1)<<uint(w-1)) != 0 {
		v.lo |= ^mask
	}
	return v
}

// AsBool returns the payload of a bool value.
func (v Value) AsBool() bool { return v.kind == KindBool && v.lo != 0 }

// AsChar returns the payload of a char value.
func (v Value) AsChar() rune { return rune(v.lo) }

// AsString returns the payload of a string value.
func (v Value) AsString() string { return v.str }

// AsFloat returns a float payload, or the integer payload converted to
// float64.
func (v Value) AsFloat() float64 {
	switch {
	case v.kind.IsFloat():
		return math.Float64frombits(v.lo)
	case v.kind.IsInt():
		f, _ := v.bigInt().Float64()
		return f
	}
	return 0
}

// AsInt64 returns an integer payload when it fits in an int64.
func (v Value) AsInt64() (int64, bool) {
	switch {
	case !v.kind.IsInt():
		return 0, false
	case v.kind == KindI128 || v.kind == KindU128:
		b := v.bigInt()
		if !b.IsInt64() {
			return 0, false
		}
		return b.Int64(), true
	case v.kind.IsSigned():
		return int64(v.lo), true
	}
	if v.lo > math.MaxInt64 {
		return 0, false
	}
	return int64(v.lo), true
}

// AsArray returns the array behind v, or nil.
func (v Value) AsArray() *Array {
	a, _ := v.obj.(*Array)
	return a
}

// AsMap returns the map behind v, or nil.
func (v Value) AsMap() *Map {
	m, _ := v.obj.(*Map)
	return m
}

// AsStruct returns the struct instance behind v, or nil.
func (v Value) AsStruct() *Struct {
	s, _ := v.obj.(*Struct)
	return s
}

// FuncIndex returns the chunk index of a function value.
func (v Value) FuncIndex() int { return int(v.lo) }

// FuncName returns the name of a function value.
func (v Value) FuncName() string { return v.str }

// TypeName is the user-facing type of v: the struct name for instances, the
// kind name otherwise.
func (v Value) TypeName() string {
	if s := v.AsStruct(); s != nil {
		return s.Name
	}
	return v.kind.String()
}

// Truthy reports how v behaves as a branch condition: false and nil are
// false, zero numbers and the empty string are false, all else is true.
func (v Value) Truthy() bool {
	switch {
	case v.kind == KindNil:
		return false
	case v.kind == KindBool:
		return v.lo != 0
	case v.kind.IsFloat():
		return math.Float64frombits(v.lo) != 0
	case v.kind.IsInt():
		return v.lo != 0 || v.hi != 0
	case v.kind == KindString:
		return v.str != ""
	}
	return true
}

// Identical reports whether a and b are the same value without descending
// into collections: primitives by payload, reference values by identity.
func Identical(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind.IsOwned() {
		return a.obj == b.obj
	}
	return a.lo == b.lo && a.hi == b.hi && a.str == b.str
}

// Key is a comparable form of a primitive value: two primitives are
// Identical exactly when their keys are equal.
type Key struct {
	kind Kind
	lo   uint64
	hi   uint64
	str  string
}

// Key returns v's key. Reference values have none.
func (v Value) Key() (Key, bool) {
	if v.kind.IsOwned() {
		return Key{}, false
	}
	return Key{kind: v.kind, lo: v.lo, hi: v.hi, str: v.str}, true
}

// Len returns the length of a string (in chars), array or map.
func Len(v Value) (int, error) {
	switch v.kind {
	case KindString:
		return len([]rune(v.str)), nil
	case KindArray:
		return v.AsArray().Len(), nil
	case KindMap:
		return v.AsMap().Len(), nil
	}
	return 0, mismatch("len of %s", v.TypeName())
}

func quoteChar(r rune) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	switch r {
	case '\'':
		sb.WriteString(`\'`)
	case '\\':
		sb.WriteString(`\\`)
	case '\n':
		sb.WriteString(`\n`)
	case '\t':
		sb.WriteString(`\t`)
	default:
		sb.WriteRune(r)
	}
	sb.WriteByte('\'')
	return sb.String()
}
