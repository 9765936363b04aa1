package bytecode

import (
	"fmt"

	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
)

// Validate checks that every chunk decodes cleanly and that every operand
// refers to something that exists: constants, scope layouts, struct schemas,
// builtins and jump targets on instruction boundaries. Loaded artifacts are
// validated before they run.
func (p *Program) Validate() error {
	if len(p.Chunks) == 0 {
		return diag.Errorf(diag.InvalidProgram, "program has no top-level chunk")
	}
	for key, idx := range p.Methods {
		if idx <= 0 || idx >= len(p.Chunks) {
			return diag.Errorf(diag.InvalidProgram, "method %s refers to chunk %d of %d", key, idx, len(p.Chunks))
		}
	}
	for i, c := range p.Chunks {
		if err := p.validateChunk(i, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateChunk(i int, c *Chunk) error {
	bad := func(offset int, format string, args ...any) error {
		return diag.Errorf(diag.InvalidProgram, "chunk %d (%s) at %04X: %s", i, c.Name, offset, fmt.Sprintf(format, args...))
	}
	if c.err != nil {
		return bad(0, "%v", c.err)
	}
	if len(c.Params) > 0 && (len(c.Scopes) == 0 || len(c.Scopes[0].Slots) < len(c.Params)) {
		return bad(0, "parameters do not fit the base scope")
	}
	for _, k := range c.Constants {
		if k.Kind() == value.KindFunction && (k.FuncIndex() <= 0 || k.FuncIndex() >= len(p.Chunks)) {
			return bad(0, "function constant %s refers to chunk %d", k.FuncName(), k.FuncIndex())
		}
	}

	starts := make(map[int]bool)
	var jumps [][2]int
	for off := 0; off < len(c.Code); {
		op := Opcode(c.Code[off])
		if !op.IsValid() {
			return bad(off, "unknown opcode 0x%02X", byte(op))
		}
		n := op.InstructionLen()
		if off+n > len(c.Code) {
			return bad(off, "%s truncated", op)
		}
		starts[off] = true

		switch op {
		case OpConst:
			if int(c.ReadU16(off+1)) >= len(c.Constants) {
				return bad(off, "constant %d out of range", c.ReadU16(off+1))
			}
		case OpDefineGlobal, OpLoadGlobal, OpStoreGlobal, OpMoveGlobal,
			OpBorrowGlobal, OpBorrowMutGlobal, OpReleaseGlobal, OpReleaseMutGlobal,
			OpCheckStruct, OpGetField, OpInvoke:
			idx := int(c.ReadU16(off + 1))
			if idx >= len(c.Constants) || c.Constants[idx].Kind() != value.KindString {
				return bad(off, "%s name operand %d is not a string constant", op, idx)
			}
		case OpPushScope:
			if int(c.ReadU16(off+1)) >= len(c.Scopes) {
				return bad(off, "scope layout %d out of range", c.ReadU16(off+1))
			}
		case OpMakeStruct:
			if int(c.ReadU16(off+1)) >= len(p.Structs) {
				return bad(off, "struct %d out of range", c.ReadU16(off+1))
			}
		case OpCallBuiltin:
			if !Builtin(c.Code[off+1]).Valid() {
				return bad(off, "unknown builtin %d", c.Code[off+1])
			}
		case OpCoerce:
			if k := value.Kind(c.Code[off+1]); k == value.KindNil || k >= value.KindArray {
				return bad(off, "cannot coerce to kind %d", c.Code[off+1])
			}
		case OpJump, OpJumpTrue, OpJumpFalse:
			jumps = append(jumps, [2]int{off, off + 3 + c.ReadI16(off+1)})
		}
		off += n
	}
	for _, j := range jumps {
		if j[1] != len(c.Code) && !starts[j[1]] {
			return bad(j[0], "jump target %04X is not an instruction boundary", j[1])
		}
	}
	return nil
}
