package bytecode

import (
	"fmt"
	"math"

	"github.com/chazu/widow/pkg/value"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// BytecodeMagic starts every serialized program: "WDBC" (Widow ByteCode).
var BytecodeMagic = []byte{'W', 'D', 'B', 'C'}

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 `cbor:"1,keyasint"`
	Line           uint32 `cbor:"2,keyasint"`
	Column         uint16 `cbor:"3,keyasint"`
}

// ScopeLayout names the slots a scope holds, in slot order. OpPushScope
// refers to layouts by index.
type ScopeLayout struct {
	Name  string   `cbor:"1,keyasint"`
	Slots []string `cbor:"2,keyasint"`
}

// Chunk is the compiled form of one function: its instructions, its own
// constant pool and the metadata the VM needs to call it.
type Chunk struct {
	Name string `cbor:"1,keyasint"`

	// Code section
	Code []byte `cbor:"2,keyasint"`

	// Constant pool, deduplicated
	Constants []value.Value `cbor:"3,keyasint"`

	// Parameters are bound, in order, to the first slots of Scopes[0].
	Params     []string `cbor:"4,keyasint"`
	ParamTypes []string `cbor:"5,keyasint"`

	// Returns is the declared return arity, or -1 when undeclared.
	Returns int `cbor:"6,keyasint"`

	// Receiver is the struct a method belongs to; HasSelf marks methods whose
	// first parameter is self.
	Receiver string `cbor:"7,keyasint,omitempty"`
	HasSelf  bool   `cbor:"8,keyasint,omitempty"`

	Scopes []ScopeLayout `cbor:"9,keyasint"`

	// Debug information
	SourceMap []SourceLocation `cbor:"10,keyasint"`

	// constIndex maps the first constIndexed constants to their index.
	constIndex   map[value.Key]uint16
	constIndexed int

	// err is the first operand that did not fit its encoding.
	err error
}

// MaxConstants is the size of a chunk's constant pool, addressed by u16.
const MaxConstants = math.MaxUint16 + 1

// NewChunk creates a new empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name:      name,
		Code:      make([]byte, 0, 64),
		Constants: make([]value.Value, 0, 8),
		Returns:   -1,
	}
}

// AddConstant adds a constant to the pool and returns its index.
// If an identical constant already exists, returns the existing index.
// A full pool records an error (see Err) and returns 0.
func (c *Chunk) AddConstant(v value.Value) uint16 {
	key, hashable := v.Key()
	if hashable {
		c.indexConstants()
		if i, ok := c.constIndex[key]; ok {
			return i
		}
	} else {
		for i, k := range c.Constants {
			if value.Identical(k, v) {
				return uint16(i)
			}
		}
	}
	if len(c.Constants) >= MaxConstants {
		c.fail("more than %d constants", MaxConstants)
		return 0
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, v)
	return idx
}

// indexConstants brings constIndex up to date with Constants, which may
// have been filled directly by a decoder.
func (c *Chunk) indexConstants() {
	if c.constIndex == nil {
		c.constIndex = make(map[value.Key]uint16, len(c.Constants))
	}
	for ; c.constIndexed < len(c.Constants); c.constIndexed++ {
		if key, ok := c.Constants[c.constIndexed].Key(); ok {
			if _, dup := c.constIndex[key]; !dup {
				c.constIndex[key] = uint16(c.constIndexed)
			}
		}
	}
}

// Err returns the first encoding limit the chunk ran into while being
// built, or nil. A chunk with an error must not be executed.
func (c *Chunk) Err() error { return c.err }

func (c *Chunk) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%s: "+format, append([]any{c.Name}, args...)...)
	}
}

// AddName adds a string constant used as an identifier operand.
func (c *Chunk) AddName(name string) uint16 {
	return c.AddConstant(value.Str(name))
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) value.Value {
	return c.Constants[index]
}

// AddScope registers a scope layout and returns its index.
func (c *Chunk) AddScope(name string, slots []string) uint16 {
	if len(c.Scopes) > math.MaxUint16 {
		c.fail("more than %d scopes", math.MaxUint16+1)
		return 0
	}
	idx := uint16(len(c.Scopes))
	c.Scopes = append(c.Scopes, ScopeLayout{Name: name, Slots: slots})
	return idx
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with a big-endian u16 operand followed by any
// extra single-byte operands.
func (c *Chunk) EmitU16(op Opcode, x uint16, extra ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), byte(x>>8), byte(x))
	c.Code = append(c.Code, extra...)
	return offset
}

// EmitConstant emits an OpConst instruction for the given value.
// Adds the constant to the pool if not already present.
func (c *Chunk) EmitConstant(v value.Value) int {
	return c.EmitU16(OpConst, c.AddConstant(v))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF) // Placeholder
	return offset + 1                              // Return offset of the placeholder bytes
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	jumpFrom := placeholderOffset + 2
	delta := target - jumpFrom
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		c.fail("jump of %d bytes does not fit 16 bits", delta)
		return
	}

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3 // After this instruction
	delta := loopStart - jumpFrom
	if delta < math.MinInt16 {
		c.fail("loop of %d bytes does not fit 16 bits", -delta)
	}

	c.Code = append(c.Code, byte(OpJump))
	c.Code = append(c.Code, byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// AddSourceLocation adds a debug source location mapping. Consecutive
// entries for the same position are collapsed.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32, column uint16) {
	if n := len(c.SourceMap); n > 0 {
		last := c.SourceMap[n-1]
		if last.Line == line && last.Column == column {
			return
		}
		if last.BytecodeOffset == bytecodeOffset {
			c.SourceMap[n-1] = SourceLocation{bytecodeOffset, line, column}
			return
		}
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: bytecodeOffset,
		Line:           line,
		Column:         column,
	})
}

// GetSourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset uint32) (line uint32, column uint16) {
	// Find the nearest mapping at or before the offset
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].BytecodeOffset <= offset {
			return c.SourceMap[i].Line, c.SourceMap[i].Column
		}
	}
	return 0, 0
}

// ReadU16 decodes the big-endian u16 at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return uint16(c.Code[offset])<<8 | uint16(c.Code[offset+1])
}

// ReadI16 decodes the signed jump offset at offset.
func (c *Chunk) ReadI16(offset int) int {
	return int(int16(c.ReadU16(offset)))
}

// StructField is one declared field of a struct schema.
type StructField struct {
	Name string `cbor:"1,keyasint"`
	Type string `cbor:"2,keyasint,omitempty"`
}

// StructSchema is the declared shape of a struct.
type StructSchema struct {
	Name   string        `cbor:"1,keyasint"`
	Fields []StructField `cbor:"2,keyasint"`
}

// Field returns the index of the named field, or -1.
func (s *StructSchema) Field(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Program is a compiled program: the function table (chunk 0 is the
// implicit top-level function), struct schemas and the method table.
type Program struct {
	Version uint16         `cbor:"1,keyasint"`
	Chunks  []*Chunk       `cbor:"2,keyasint"`
	Structs []StructSchema `cbor:"3,keyasint"`
	// Methods maps "Struct.method" to a chunk index.
	Methods map[string]int `cbor:"4,keyasint"`
}

// NewProgram returns an empty program with the current version.
func NewProgram() *Program {
	return &Program{Version: BytecodeVersion, Methods: make(map[string]int)}
}

// Main returns the top-level chunk.
func (p *Program) Main() *Chunk {
	if len(p.Chunks) == 0 {
		return nil
	}
	return p.Chunks[0]
}

// AddChunk appends a chunk to the function table and returns its index.
func (p *Program) AddChunk(c *Chunk) int {
	p.Chunks = append(p.Chunks, c)
	return len(p.Chunks) - 1
}

// Struct returns the schema index for name, or -1.
func (p *Program) Struct(name string) int {
	for i := range p.Structs {
		if p.Structs[i].Name == name {
			return i
		}
	}
	return -1
}

// MethodKey is the method table key for (struct, method).
func MethodKey(structName, method string) string {
	return structName + "." + method
}

// Method looks up a method chunk.
func (p *Program) Method(structName, method string) (int, bool) {
	idx, ok := p.Methods[MethodKey(structName, method)]
	return idx, ok
}
