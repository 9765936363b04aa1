package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal programs encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalCBOR serializes a Program to CBOR bytes.
func MarshalCBOR(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// UnmarshalCBOR deserializes and validates a Program from CBOR bytes.
func UnmarshalCBOR(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if p.Methods == nil {
		p.Methods = make(map[string]int)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
