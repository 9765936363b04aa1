package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/widow/pkg/value"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
	if OpcodeCount() != len(AllOpcodes()) {
		t.Errorf("OpcodeCount() = %d, AllOpcodes() has %d", OpcodeCount(), len(AllOpcodes()))
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpConst, "CONST"},
		{OpPushScope, "PUSH_SCOPE"},
		{OpBorrowLocal, "BORROW_LOCAL"},
		{OpReleaseMutGlobal, "RELEASE_MUT_GLOBAL"},
		{OpCallBuiltin, "CALL_BUILTIN"},
		{OpSetPath, "SET_PATH"},
		{OpReturn, "RETURN"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}

	if got := Opcode(0xEE).String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpPop, 0},
		{OpConst, 2},       // u16 index
		{OpLoadLocal, 2},   // u8 depth + u8 slot
		{OpDefineLocal, 3}, // depth + slot + flags
		{OpLoadGlobal, 2},  // u16 name
		{OpJump, 2},        // i16 offset
		{OpCall, 2},        // argc + want
		{OpInvoke, 4},      // u16 name + argc + want
		{OpReturn, 1},      // arity
	}

	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestOpcodeClassification(t *testing.T) {
	if !OpJumpFalse.IsJump() || OpCall.IsJump() {
		t.Errorf("IsJump misclassifies")
	}
	if !OpReturn.IsReturn() || OpPopScope.IsReturn() {
		t.Errorf("IsReturn misclassifies")
	}
	if !OpInvoke.IsCall() || OpReturn.IsCall() {
		t.Errorf("IsCall misclassifies")
	}
	for _, op := range []Opcode{OpBorrowLocal, OpReleaseMutLocal, OpBorrowGlobal, OpReleaseMutGlobal} {
		if !op.IsBorrow() {
			t.Errorf("%s should be a borrow instruction", op)
		}
	}
	if OpLoadLocal.IsBorrow() || OpStoreGlobal.IsBorrow() {
		t.Errorf("loads and stores are not borrow instructions")
	}
}

func TestBuiltins(t *testing.T) {
	b, ok := LookupBuiltin("print")
	if !ok || b != BuiltinPrint || b.Arity() != -1 {
		t.Fatalf("print = %v %v arity %d", b, ok, b.Arity())
	}
	b, ok = LookupBuiltin("u16")
	if !ok {
		t.Fatalf("conversion builtin u16 missing")
	}
	k, ok := b.ConversionKind()
	if !ok || k != value.KindU16 {
		t.Errorf("u16 converts to %s", k)
	}
	if _, ok := BuiltinLen.ConversionKind(); ok {
		t.Errorf("len is not a conversion")
	}
	if _, ok := LookupBuiltin("printf"); ok {
		t.Errorf("unexpected builtin printf")
	}
	if Builtin(250).Valid() {
		t.Errorf("builtin 250 should be invalid")
	}
}
