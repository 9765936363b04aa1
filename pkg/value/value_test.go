package value

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/widow/pkg/diag"
)

// ============ Arithmetic Tests ============

func TestIntArithmeticWraps(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b Value
		want string
	}{
		{"i8 overflow", OpAdd, Int(KindI8, 127), Int(KindI8, 1), "-128"},
		{"u8 overflow", OpAdd, Uint(KindU8, 255), Uint(KindU8, 1), "0"},
		{"u16 underflow", OpSub, Uint(KindU16, 0), Uint(KindU16, 1), "65535"},
		{"i32 mul", OpMul, Int(KindI32, -6), Int(KindI32, 7), "-42"},
		{"i64 div truncates", OpDiv, I64(-7), I64(2), "-3"},
		{"i64 mod sign of dividend", OpMod, I64(-7), I64(2), "-1"},
		{"u64 div", OpDiv, Uint(KindU64, math.MaxUint64), Uint(KindU64, 2), "9223372036854775807"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Arith(tt.op, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Arith error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if got.Kind() != tt.a.Kind() {
				t.Errorf("result kind %s, want %s", got.Kind(), tt.a.Kind())
			}
		})
	}
}

func TestWideArithmetic(t *testing.T) {
	big1, err := ParseInt("170141183460469231731687303715884105727", KindI128)
	if err != nil {
		t.Fatalf("ParseInt: %v", err)
	}
	got, err := Arith(OpAdd, big1, Int(KindI128, 1))
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	if got.String() != "-170141183460469231731687303715884105728" {
		t.Errorf("i128 max + 1 = %s", got)
	}

	q, err := Arith(OpDiv, Int(KindI128, -100), Int(KindI128, 7))
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	if q.String() != "-14" {
		t.Errorf("-100 / 7 = %s, want -14", q)
	}
	r, _ := Arith(OpMod, Int(KindI128, -100), Int(KindI128, 7))
	if r.String() != "-2" {
		t.Errorf("-100 %% 7 = %s, want -2", r)
	}

	u, _ := Arith(OpSub, Uint(KindU128, 0), Uint(KindU128, 1))
	if u.String() != "340282366920938463463374607431768211455" {
		t.Errorf("u128 0 - 1 = %s", u)
	}
	c, _ := Compare(Int(KindI128, -1), Int(KindI128, 1))
	if c != -1 {
		t.Errorf("Compare(-1, 1) on i128 = %d", c)
	}
	c, _ = Compare(u, Uint(KindU128, 1))
	if c != 1 {
		t.Errorf("Compare(max, 1) on u128 = %d", c)
	}
}

func TestNoImplicitWidening(t *testing.T) {
	_, err := Arith(OpAdd, Int(KindI32, 1), I64(1))
	if !errors.Is(err, diag.TypeMismatch) {
		t.Fatalf("i32 + i64 error = %v, want TypeMismatch", err)
	}
	_, err = Arith(OpAdd, I64(1), F64(1))
	if !errors.Is(err, diag.TypeMismatch) {
		t.Fatalf("i64 + f64 error = %v, want TypeMismatch", err)
	}
	_, err = Compare(Str("a"), I64(1))
	if !errors.Is(err, diag.TypeMismatch) {
		t.Fatalf("compare string with int error = %v, want TypeMismatch", err)
	}
}

func TestDivisionPolicy(t *testing.T) {
	for _, k := range []Kind{KindI8, KindU32, KindI64, KindI128, KindU128, KindUsize} {
		_, err := Arith(OpDiv, Int(k, 10), Int(k, 0))
		if !errors.Is(err, diag.DivisionByZero) {
			t.Errorf("%s 10 / 0 error = %v, want DivisionByZero", k, err)
		}
		_, err = Arith(OpMod, Int(k, 10), Int(k, 0))
		if !errors.Is(err, diag.DivisionByZero) {
			t.Errorf("%s 10 %% 0 error = %v, want DivisionByZero", k, err)
		}
	}

	// Floats follow IEEE-754.
	q, err := Arith(OpDiv, F64(10), F64(0))
	if err != nil {
		t.Fatalf("10.0 / 0.0 error = %v", err)
	}
	if !math.IsInf(q.AsFloat(), 1) {
		t.Errorf("10.0 / 0.0 = %v, want +Inf", q)
	}
	q, _ = Arith(OpDiv, F64(0), F64(0))
	if !math.IsNaN(q.AsFloat()) {
		t.Errorf("0.0 / 0.0 = %v, want NaN", q)
	}
	q, _ = Arith(OpMod, Float(KindF32, 1), Float(KindF32, 0))
	if !math.IsNaN(q.AsFloat()) {
		t.Errorf("f32 1 %% 0 = %v, want NaN", q)
	}
}

func TestStringConcat(t *testing.T) {
	got, err := Arith(OpAdd, Str("wid"), Str("ow"))
	if err != nil || got.AsString() != "widow" {
		t.Fatalf("concat = %v, %v", got, err)
	}
	if _, err := Arith(OpSub, Str("a"), Str("b")); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("string subtraction error = %v", err)
	}
}

func TestNeg(t *testing.T) {
	v, err := Neg(Int(KindI8, -128))
	if err != nil || v.String() != "-128" {
		t.Errorf("-(-128i8) = %v, %v", v, err)
	}
	v, _ = Neg(Int(KindI128, 5))
	if v.String() != "-5" {
		t.Errorf("-(5i128) = %v", v)
	}
	if _, err := Neg(Uint(KindU8, 1)); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("negating unsigned error = %v", err)
	}
}

// ============ Conversion Tests ============

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		in      Value
		to      Kind
		want    string
		wantErr bool
	}{
		{"fits", I64(200), KindU8, "200", false},
		{"too big", I64(256), KindU8, "", true},
		{"negative unsigned", I64(-1), KindU64, "", true},
		{"float truncates", F64(-3.9), KindI16, "-3", false},
		{"int to float", Int(KindI32, 3), KindF32, "3", false},
		{"i64 to i128", I64(-9), KindI128, "-9", false},
		{"nan", F64(math.NaN()), KindI32, "", true},
		{"string", Str("1"), KindI32, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.to)
			if tt.wantErr {
				if !errors.Is(err, diag.TypeMismatch) {
					t.Fatalf("error = %v, want TypeMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind() != tt.to || got.String() != tt.want {
				t.Errorf("got %s %s, want %s %s", got.Kind(), got, tt.to, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt("0xff", KindU8)
	if err != nil || v.String() != "255" {
		t.Errorf("0xff as u8 = %v, %v", v, err)
	}
	if _, err := ParseInt("300", KindI8); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("300 as i8 error = %v", err)
	}
	if _, err := ParseInt("12x", KindI64); err == nil {
		t.Errorf("malformed literal accepted")
	}
	v, _ = ParseInt("1_000", KindIsize)
	if n, _ := v.AsInt64(); n != 1000 {
		t.Errorf("1_000 = %d", n)
	}
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"i8", "u128", "fsize", "string", "bool"} {
		k, ok := ParseKind(name)
		if !ok || k.String() != name {
			t.Errorf("ParseKind(%q) = %s, %v", name, k, ok)
		}
	}
	if k, ok := ParseKind("int"); !ok || k != KindI64 {
		t.Errorf("int alias = %s", k)
	}
	if _, ok := ParseKind("Point"); ok {
		t.Errorf("struct names are not kinds")
	}
}

// ============ Equality Tests ============

func TestEqual(t *testing.T) {
	eq := func(a, b Value) bool {
		t.Helper()
		ok, err := Equal(a, b)
		if err != nil {
			t.Fatalf("Equal(%s, %s): %v", a.Repr(), b.Repr(), err)
		}
		return ok
	}
	if !eq(I64(3), I64(3)) || eq(I64(3), I64(4)) {
		t.Errorf("integer equality broken")
	}
	if eq(I64(0), Nil) || eq(Str("1"), I64(1)) {
		t.Errorf("values of unrelated kinds should be unequal")
	}
	if !eq(Nil, Nil) {
		t.Errorf("nil should equal nil")
	}
	if _, err := Equal(Int(KindI8, 1), I64(1)); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("distinct numeric kinds error = %v", err)
	}

	a := NewArray(I64(1), Str("x"))
	b := NewArray(I64(1), Str("x"))
	if !eq(a, b) {
		t.Errorf("arrays with equal elements should be equal")
	}
	m1, m2 := NewMap(), NewMap()
	m1.AsMap().Set(Str("k"), I64(1))
	m1.AsMap().Set(Str("j"), I64(2))
	m2.AsMap().Set(Str("j"), I64(2))
	m2.AsMap().Set(Str("k"), I64(1))
	if !eq(m1, m2) {
		t.Errorf("maps equal regardless of insertion order")
	}
	p := NewStruct("P", []string{"x"}, []Value{I64(1)})
	q := NewStruct("Q", []string{"x"}, []Value{I64(1)})
	if eq(p, q) {
		t.Errorf("instances of different structs compared equal")
	}
}

func TestCyclicValues(t *testing.T) {
	a := NewArray(I64(1))
	a.AsArray().Push(a)
	if got := a.String(); got != "[1, ...]" {
		t.Errorf("cyclic display = %q", got)
	}
	c := Clone(a)
	if c.AsArray() == a.AsArray() {
		t.Fatalf("clone shares storage")
	}
	inner, _ := c.AsArray().Get(1)
	if inner.AsArray() != c.AsArray() {
		t.Errorf("clone did not preserve the cycle")
	}
	if ok, _ := Equal(a, c); !ok {
		t.Errorf("clone should equal original")
	}
}

// ============ Collection Tests ============

func TestIndexErrors(t *testing.T) {
	arr := NewArray(I64(10), I64(20))
	if v, err := Index(arr, Uint(KindU8, 1)); err != nil || v.String() != "20" {
		t.Errorf("arr[1u8] = %v, %v", v, err)
	}
	if _, err := Index(arr, I64(2)); !errors.Is(err, diag.IndexOutOfBounds) {
		t.Errorf("arr[2] error = %v", err)
	}
	if _, err := Index(arr, I64(-1)); !errors.Is(err, diag.IndexOutOfBounds) {
		t.Errorf("arr[-1] error = %v", err)
	}
	if _, err := Index(arr, Str("x")); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("arr[\"x\"] error = %v", err)
	}

	m := NewMap()
	if _, err := Index(m, Str("missing")); !errors.Is(err, diag.IndexOutOfBounds) {
		t.Errorf("missing key error = %v", err)
	}
	if err := SetIndex(m, arr, I64(1)); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("array key error = %v", err)
	}

	s := NewStruct("Point", []string{"x", "y"}, []Value{I64(1), I64(2)})
	if _, err := GetField(s, "z"); !errors.Is(err, diag.UndefinedField) {
		t.Errorf("missing field error = %v", err)
	}
	if err := SetField(s, "z", I64(0)); !errors.Is(err, diag.UndefinedField) {
		t.Errorf("set missing field error = %v", err)
	}
	if err := SetField(s, "y", I64(5)); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if s.String() != "Point{x: 1, y: 5}" {
		t.Errorf("struct display = %s", s)
	}
}

func TestMapOrderAndDelete(t *testing.T) {
	m := NewMap()
	mm := m.AsMap()
	for i, k := range []string{"a", "b", "c"} {
		mm.Set(Str(k), I64(int64(i)))
	}
	if ok, _ := mm.Delete(Str("a")); !ok {
		t.Fatalf("delete existing key failed")
	}
	mm.Set(Str("b"), I64(9))
	if got := m.String(); got != `{"b": 9, "c": 2}` {
		t.Errorf("map display = %s", got)
	}
	v, _ := Index(m, Str("c"))
	if v.String() != "2" {
		t.Errorf("lookup after delete = %v", v)
	}
}

func TestRangeAndIterable(t *testing.T) {
	r, err := Range(I64(2), I64(5))
	if err != nil || r.String() != "[2, 3, 4]" {
		t.Errorf("2..5 = %v, %v", r, err)
	}
	if _, err := Range(I64(0), Int(KindI32, 3)); !errors.Is(err, diag.TypeMismatch) {
		t.Errorf("mixed range error = %v", err)
	}
	if _, err := Range(I64(0), I64(1_000_000_000)); !errors.Is(err, diag.IndexOutOfBounds) {
		t.Errorf("oversized range error = %v", err)
	}
	if r, err := Range(I64(0), I64(MaxRangeLen)); err != nil || r.AsArray().Len() != MaxRangeLen {
		t.Errorf("range at the limit failed: %v", err)
	}
	it, _ := Iterable(Str("hé"))
	if it.Repr() != "['h', 'é']" {
		t.Errorf("string iteration = %s", it.Repr())
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Nil, false},
		{Bool(false), false},
		{I64(0), false},
		{Uint(KindU128, 0), false},
		{F64(0.5), true},
		{Str(""), false},
		{Str("x"), true},
		{NewArray(), true},
	}
	for _, tt := range tests {
		if tt.v.Truthy() != tt.want {
			t.Errorf("Truthy(%s) = %v, want %v", tt.v.Repr(), !tt.want, tt.want)
		}
	}
}

func TestConstantWire(t *testing.T) {
	in := []Value{I64(-5), Int(KindI128, -7), Str("hi"), Char('λ'), F64(1.5), Bool(true), Nil, Func("main", 0)}
	for _, v := range in {
		data, err := v.MarshalCBOR()
		if err != nil {
			t.Fatalf("MarshalCBOR(%s): %v", v.Repr(), err)
		}
		var out Value
		if err := out.UnmarshalCBOR(data); err != nil {
			t.Fatalf("UnmarshalCBOR: %v", err)
		}
		if !Identical(v, out) {
			t.Errorf("wire changed %s into %s", v.Repr(), out.Repr())
		}
	}
	if _, err := NewArray().MarshalCBOR(); err == nil {
		t.Errorf("arrays should not encode as constants")
	}
}
