package value

import (
	"math"
	"math/big"
	"strings"

	"github.com/chazu/widow/pkg/diag"
	"github.com/holiman/uint256"
)

// Op is a binary arithmetic operator.
type Op uint8

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

var opSymbols = [...]string{OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%"}

func (o Op) String() string {
	if int(o) < len(opSymbols) {
		return opSymbols[o]
	}
	return "?"
}

func mismatch(format string, args ...any) error {
	return diag.Errorf(diag.TypeMismatch, format, args...)
}

// Arith applies op to two operands of the same numeric kind. Strings
// concatenate under OpAdd. Distinct kinds are never widened.
func Arith(op Op, a, b Value) (Value, error) {
	if a.kind == KindString && b.kind == KindString && op == OpAdd {
		return Str(a.str + b.str), nil
	}
	if a.kind != b.kind || !a.kind.IsNumeric() {
		return Nil, mismatch("%s %s %s", a.TypeName(), op, b.TypeName())
	}
	switch {
	case a.kind.IsFloat():
		return floatArith(op, a, b), nil
	case a.kind.Width() == 128:
		return wideArith(op, a, b)
	}
	return intArith(op, a, b)
}

func floatArith(op Op, a, b Value) Value {
	x, y := a.AsFloat(), b.AsFloat()
	var r float64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv:
		r = x / y
	case OpMod:
		r = math.Mod(x, y)
	}
	return Float(a.kind, r)
}

func intArith(op Op, a, b Value) (Value, error) {
	x, y := a.lo, b.lo
	var r uint64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		r = x * y
	case OpDiv, OpMod:
		if y == 0 {
			return Nil, diag.Errorf(diag.DivisionByZero, "%s %s 0", a.kind, op)
		}
		switch {
		case a.kind.IsSigned() && op == OpDiv:
			r = uint64(int64(x) / int64(y))
		case a.kind.IsSigned():
			r = uint64(int64(x) % int64(y))
		case op == OpDiv:
			r = x / y
		default:
			r = x % y
		}
	}
	return Value{kind: a.kind, lo: r}.normalize(), nil
}

// wide returns a 128-bit integer extended to 256 bits: sign extended for
// i128, zero extended for u128.
func (v Value) wide() uint256.Int {
	var z uint256.Int
	z[0], z[1] = v.lo, v.hi
	if v.kind.IsSigned() && v.hi>>63 == 1 {
		z[2], z[3] = math.MaxUint64, math.MaxUint64
	}
	return z
}

func fromWide(k Kind, z *uint256.Int) Value {
	return Value{kind: k, lo: z[0], hi: z[1]}
}

func wideArith(op Op, a, b Value) (Value, error) {
	x, y := a.wide(), b.wide()
	var z uint256.Int
	switch op {
	case OpAdd:
		z.Add(&x, &y)
	case OpSub:
		z.Sub(&x, &y)
	case OpMul:
		z.Mul(&x, &y)
	case OpDiv, OpMod:
		if y.IsZero() {
			return Nil, diag.Errorf(diag.DivisionByZero, "%s %s 0", a.kind, op)
		}
		switch {
		case a.kind.IsSigned() && op == OpDiv:
			z.SDiv(&x, &y)
		case a.kind.IsSigned():
			z.SMod(&x, &y)
		case op == OpDiv:
			z.Div(&x, &y)
		default:
			z.Mod(&x, &y)
		}
	}
	return fromWide(a.kind, &z), nil
}

// Neg negates a signed integer or a float.
func Neg(v Value) (Value, error) {
	switch {
	case v.kind.IsFloat():
		return Float(v.kind, -v.AsFloat()), nil
	case v.kind.IsSigned() && v.kind.Width() == 128:
		x := v.wide()
		var z uint256.Int
		z.Neg(&x)
		return fromWide(v.kind, &z), nil
	case v.kind.IsSigned():
		return Value{kind: v.kind, lo: -v.lo}.normalize(), nil
	}
	return Nil, mismatch("-%s", v.TypeName())
}

// Inc adds one to an integer without a constant operand.
func Inc(v Value) (Value, error) {
	if !v.kind.IsInt() {
		return Nil, mismatch("increment of %s", v.TypeName())
	}
	if v.kind.Width() == 128 {
		x := v.wide()
		var z uint256.Int
		z.Add(&x, new(uint256.Int).SetUint64(1))
		return fromWide(v.kind, &z), nil
	}
	return Value{kind: v.kind, lo: v.lo + 1}.normalize(), nil
}

// Compare orders two values of the same numeric kind, two strings or two
// chars. It returns -1, 0 or 1.
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, mismatch("cannot compare %s with %s", a.TypeName(), b.TypeName())
	}
	switch {
	case a.kind == KindString:
		return strings.Compare(a.str, b.str), nil
	case a.kind == KindChar:
		return cmp3(a.lo < b.lo, a.lo > b.lo), nil
	case a.kind.IsFloat():
		x, y := a.AsFloat(), b.AsFloat()
		return cmp3(x < y, x > y), nil
	case a.kind.Width() == 128:
		x, y := a.wide(), b.wide()
		if a.kind.IsSigned() {
			return cmp3(x.Slt(&y), y.Slt(&x)), nil
		}
		return cmp3(x.Lt(&y), y.Lt(&x)), nil
	case a.kind.IsSigned():
		return cmp3(int64(a.lo) < int64(b.lo), int64(a.lo) > int64(b.lo)), nil
	case a.kind.IsInt():
		return cmp3(a.lo < b.lo, a.lo > b.lo), nil
	}
	return 0, mismatch("cannot order %s", a.TypeName())
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func (v Value) bigInt() *big.Int {
	switch {
	case v.kind.Width() == 128:
		z := v.wide()
		if v.kind.IsSigned() && v.hi>>63 == 1 {
			var n uint256.Int
			n.Neg(&z)
			b := n.ToBig()
			return b.Neg(b)
		}
		return z.ToBig()
	case v.kind.IsSigned():
		return big.NewInt(int64(v.lo))
	}
	return new(big.Int).SetUint64(v.lo)
}

var intBounds = map[Kind][2]*big.Int{}

func init() {
	for k := KindI8; k <= KindUsize; k++ {
		w := uint(k.Width())
		one := big.NewInt(1)
		if k.IsSigned() {
			lim := new(big.Int).Lsh(one, w-1)
			intBounds[k] = [2]*big.Int{new(big.Int).Neg(lim), new(big.Int).Sub(lim, one)}
		} else {
			lim := new(big.Int).Lsh(one, w)
			intBounds[k] = [2]*big.Int{big.NewInt(0), new(big.Int).Sub(lim, one)}
		}
	}
}

// FromBig builds an integer of kind k, failing with TypeMismatch when n is
// out of the kind's range.
func FromBig(k Kind, n *big.Int) (Value, error) {
	bounds, ok := intBounds[k]
	if !ok {
		return Nil, mismatch("%s is not an integer kind", k)
	}
	if n.Cmp(bounds[0]) < 0 || n.Cmp(bounds[1]) > 0 {
		return Nil, mismatch("%s out of range for %s", n, k)
	}
	if k.Width() == 128 {
		abs := new(big.Int).Abs(n)
		z, _ := uint256.FromBig(abs)
		if n.Sign() < 0 {
			z.Neg(z)
		}
		return fromWide(k, z), nil
	}
	if k.IsSigned() {
		return Int(k, n.Int64()), nil
	}
	return Uint(k, n.Uint64()), nil
}

// ParseInt parses an integer literal (decimal, 0x, 0o or 0b, underscores
// allowed) into kind k.
func ParseInt(text string, k Kind) (Value, error) {
	n, ok := new(big.Int).SetString(text, 0)
	if !ok {
		return Nil, mismatch("malformed integer literal %q", text)
	}
	if k.IsFloat() {
		f, _ := new(big.Float).SetInt(n).Float64()
		return Float(k, f), nil
	}
	return FromBig(k, n)
}

// Coerce converts a numeric value to kind k with range checking. Floats
// truncate toward zero when converted to integers. Non-numeric values only
// coerce to their own kind.
func Coerce(v Value, k Kind) (Value, error) {
	if v.kind == k {
		return v, nil
	}
	if !v.kind.IsNumeric() || !k.IsNumeric() {
		return Nil, mismatch("cannot convert %s to %s", v.TypeName(), k)
	}
	switch {
	case k.IsFloat() && v.kind.IsFloat():
		return Float(k, v.AsFloat()), nil
	case k.IsFloat():
		f, _ := new(big.Float).SetInt(v.bigInt()).Float64()
		return Float(k, f), nil
	case v.kind.IsFloat():
		f := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Nil, mismatch("cannot convert %v to %s", f, k)
		}
		n, _ := big.NewFloat(math.Trunc(f)).Int(nil)
		return FromBig(k, n)
	}
	return FromBig(k, v.bigInt())
}
