package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpConstNil   Opcode = 0x11 // Push nil
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Scopes (0x18-0x1F)
	// ========================================================================

	OpPushScope Opcode = 0x18 // Enter scope: OpPushScope <layout:u16>
	OpPopScope  Opcode = 0x19 // Leave scope, force-releasing its borrows

	// ========================================================================
	// Local slots (0x20-0x2F), addressed by <depth:u8> <slot:u8>
	// ========================================================================

	OpDefineLocal     Opcode = 0x20 // Pop and declare: <depth> <slot> <flags:u8>
	OpLoadLocal       Opcode = 0x21 // Push slot value
	OpStoreLocal      Opcode = 0x22 // Pop and store (exclusive borrow held)
	OpMoveLocal       Opcode = 0x23 // Push slot value and mark the slot moved
	OpBorrowLocal     Opcode = 0x24 // acquire_shared
	OpBorrowMutLocal  Opcode = 0x25 // acquire_exclusive
	OpReleaseLocal    Opcode = 0x26 // release_shared
	OpReleaseMutLocal Opcode = 0x27 // release_exclusive

	// ========================================================================
	// Global slots (0x30-0x3F), addressed by <name:u16>
	// ========================================================================

	OpDefineGlobal     Opcode = 0x30 // Pop and declare: <name:u16> <flags:u8>
	OpLoadGlobal       Opcode = 0x31
	OpStoreGlobal      Opcode = 0x32
	OpMoveGlobal       Opcode = 0x33
	OpBorrowGlobal     Opcode = 0x34
	OpBorrowMutGlobal  Opcode = 0x35
	OpReleaseGlobal    Opcode = 0x36
	OpReleaseMutGlobal Opcode = 0x37

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum (or concatenation for strings)
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder
	OpNeg Opcode = 0x55 // Negate top of stack
	OpInc Opcode = 0x56 // Add one to the integer on top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push true if equal
	OpNe Opcode = 0x61 // Pop two, push true if not equal
	OpLt Opcode = 0x62 // Pop two, push true if a < b
	OpLe Opcode = 0x63 // Pop two, push true if a <= b
	OpGt Opcode = 0x64 // Pop two, push true if a > b
	OpGe Opcode = 0x65 // Pop two, push true if a >= b

	// ========================================================================
	// Logical operations and type checks (0x68-0x6F)
	// ========================================================================

	OpNot         Opcode = 0x68 // Negate a bool
	OpTestBool    Opcode = 0x69 // Fail unless top of stack is a bool (not popped)
	OpCoerce      Opcode = 0x6A // Convert top of stack: OpCoerce <kind:u8>
	OpCheckStruct Opcode = 0x6B // Fail unless top of stack is an instance: <name:u16>

	// ========================================================================
	// Control flow (0x70-0x7F), relative <offset:i16>
	// ========================================================================

	OpJump      Opcode = 0x70 // Unconditional jump
	OpJumpTrue  Opcode = 0x71 // Pop, jump if truthy
	OpJumpFalse Opcode = 0x72 // Pop, jump if falsy

	// ========================================================================
	// Calls (0x80-0x8F); <want:u8> is the number of results the site keeps
	// ========================================================================

	OpCall        Opcode = 0x80 // Call function below args: <argc:u8> <want:u8>
	OpCallBuiltin Opcode = 0x81 // Host builtin: <id:u8> <argc:u8> <want:u8>
	OpInvoke      Opcode = 0x82 // Method on receiver below args: <name:u16> <argc:u8> <want:u8>

	// ========================================================================
	// Collections (0x90-0x9F)
	// ========================================================================

	OpMakeArray  Opcode = 0x90 // Pop n values: <n:u16>
	OpMakeMap    Opcode = 0x91 // Pop n key/value pairs: <n:u16>
	OpMakeStruct Opcode = 0x92 // Pop n name/value pairs: <struct:u16> <n:u8>
	OpMakeRange  Opcode = 0x93 // Pop hi and lo, push [lo, hi) as an array
	OpIndex      Opcode = 0x94 // Pop key and container, push element
	OpGetField   Opcode = 0x95 // Pop instance, push field: <name:u16>
	OpSetPath    Opcode = 0x96 // Pop root, n keys and a value, store: <n:u8> <fields:u16>
	OpLen        Opcode = 0x97 // Pop collection, push its length as i64
	OpIterPrep   Opcode = 0x98 // Pop iterable, push the array a for-in loop visits

	// ========================================================================
	// Return (0xA0-0xAF)
	// ========================================================================

	OpReturn Opcode = 0xA0 // Return n values: <n:u8>
)

// Define flags.
const (
	DefineConst uint8 = 1 << 0
)

// WantAll marks a call site that discards however many values come back.
const WantAll uint8 = 0xFF

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name       string
	StackPop   int // Values popped (-1 means variable)
	StackPush  int // Values pushed (-1 means variable)
	OperandLen int // Bytes of operands following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 1, 0, 0},
	OpDup: {"DUP", 1, 2, 0},

	// Constants
	OpConst:      {"CONST", 0, 1, 2},
	OpConstNil:   {"CONST_NIL", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	// Scopes
	OpPushScope: {"PUSH_SCOPE", 0, 0, 2},
	OpPopScope:  {"POP_SCOPE", 0, 0, 0},

	// Locals
	OpDefineLocal:     {"DEFINE_LOCAL", 1, 0, 3},
	OpLoadLocal:       {"LOAD_LOCAL", 0, 1, 2},
	OpStoreLocal:      {"STORE_LOCAL", 1, 0, 2},
	OpMoveLocal:       {"MOVE_LOCAL", 0, 1, 2},
	OpBorrowLocal:     {"BORROW_LOCAL", 0, 0, 2},
	OpBorrowMutLocal:  {"BORROW_MUT_LOCAL", 0, 0, 2},
	OpReleaseLocal:    {"RELEASE_LOCAL", 0, 0, 2},
	OpReleaseMutLocal: {"RELEASE_MUT_LOCAL", 0, 0, 2},

	// Globals
	OpDefineGlobal:     {"DEFINE_GLOBAL", 1, 0, 3},
	OpLoadGlobal:       {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal:      {"STORE_GLOBAL", 1, 0, 2},
	OpMoveGlobal:       {"MOVE_GLOBAL", 0, 1, 2},
	OpBorrowGlobal:     {"BORROW_GLOBAL", 0, 0, 2},
	OpBorrowMutGlobal:  {"BORROW_MUT_GLOBAL", 0, 0, 2},
	OpReleaseGlobal:    {"RELEASE_GLOBAL", 0, 0, 2},
	OpReleaseMutGlobal: {"RELEASE_MUT_GLOBAL", 0, 0, 2},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},
	OpInc: {"INC", 1, 1, 0},

	// Comparison
	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},
	OpLt: {"LT", 2, 1, 0},
	OpLe: {"LE", 2, 1, 0},
	OpGt: {"GT", 2, 1, 0},
	OpGe: {"GE", 2, 1, 0},

	// Logical and checks
	OpNot:         {"NOT", 1, 1, 0},
	OpTestBool:    {"TEST_BOOL", 1, 1, 0},
	OpCoerce:      {"COERCE", 1, 1, 1},
	OpCheckStruct: {"CHECK_STRUCT", 1, 1, 2},

	// Control flow
	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	// Calls
	OpCall:        {"CALL", -1, -1, 2},
	OpCallBuiltin: {"CALL_BUILTIN", -1, -1, 3},
	OpInvoke:      {"INVOKE", -1, -1, 4},

	// Collections
	OpMakeArray:  {"MAKE_ARRAY", -1, 1, 2},
	OpMakeMap:    {"MAKE_MAP", -1, 1, 2},
	OpMakeStruct: {"MAKE_STRUCT", -1, 1, 3},
	OpMakeRange:  {"MAKE_RANGE", 2, 1, 0},
	OpIndex:      {"INDEX", 2, 1, 0},
	OpGetField:   {"GET_FIELD", 1, 1, 2},
	OpSetPath:    {"SET_PATH", -1, 0, 3},
	OpLen:        {"LEN", 1, 1, 0},
	OpIterPrep:   {"ITER_PREP", 1, 1, 0},

	// Return
	OpReturn: {"RETURN", -1, 0, 1},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpFalse
}

// IsReturn returns true if this opcode terminates the frame.
func (op Opcode) IsReturn() bool {
	return op == OpReturn
}

// IsCall returns true if this opcode transfers control to a callee.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpInvoke
}

// IsBorrow returns true for the acquire and release instructions.
func (op Opcode) IsBorrow() bool {
	return (op >= OpBorrowLocal && op <= OpReleaseMutLocal) ||
		(op >= OpBorrowGlobal && op <= OpReleaseMutGlobal)
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
