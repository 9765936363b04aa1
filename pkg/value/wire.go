package value

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireValue is the CBOR shape of a constant. Only primitives and function
// references appear in constant pools.
type wireValue struct {
	Kind Kind   `cbor:"1,keyasint"`
	Lo   uint64 `cbor:"2,keyasint,omitempty"`
	Hi   uint64 `cbor:"3,keyasint,omitempty"`
	Str  string `cbor:"4,keyasint,omitempty"`
}

// IsConstant reports whether v may live in a constant pool.
func (v Value) IsConstant() bool { return !v.kind.IsOwned() }

// MarshalCBOR encodes a constant value.
func (v Value) MarshalCBOR() ([]byte, error) {
	if !v.IsConstant() {
		return nil, fmt.Errorf("value: cannot encode %s constant", v.kind)
	}
	return cbor.Marshal(wireValue{Kind: v.kind, Lo: v.lo, Hi: v.hi, Str: v.str})
}

// UnmarshalCBOR decodes a constant value.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("value: unmarshal constant: %w", err)
	}
	if w.Kind >= kindCount || w.Kind.IsOwned() {
		return fmt.Errorf("value: invalid constant kind %d", w.Kind)
	}
	*v = Value{kind: w.Kind, lo: w.Lo, hi: w.Hi, str: w.Str}
	return nil
}

// Raw exposes the payload words of a constant for binary encoders.
func (v Value) Raw() (kind Kind, lo, hi uint64, str string) {
	return v.kind, v.lo, v.hi, v.str
}

// FromRaw rebuilds a constant from the words returned by Raw.
func FromRaw(kind Kind, lo, hi uint64, str string) (Value, error) {
	if kind >= kindCount || kind.IsOwned() {
		return Nil, fmt.Errorf("value: invalid constant kind %d", kind)
	}
	return Value{kind: kind, lo: lo, hi: hi, str: str}, nil
}
