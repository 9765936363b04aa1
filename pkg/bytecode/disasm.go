package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/widow/pkg/value"
)

// Disassemble returns a human-readable listing of every chunk, the struct
// schemas and the method table.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; Widow Bytecode v%d\n", p.Version))
	if len(p.Structs) > 0 {
		sb.WriteString("; Structs:\n")
		for _, s := range p.Structs {
			fields := make([]string, len(s.Fields))
			for i, f := range s.Fields {
				fields[i] = f.Name
				if f.Type != "" {
					fields[i] += ": " + f.Type
				}
			}
			sb.WriteString(fmt.Sprintf(";   %s { %s }\n", s.Name, strings.Join(fields, ", ")))
		}
	}
	if len(p.Methods) > 0 {
		sb.WriteString(fmt.Sprintf("; Methods: %d\n", len(p.Methods)))
	}
	for i, c := range p.Chunks {
		sb.WriteString("\n")
		sb.WriteString(c.DisassembleWithName(fmt.Sprintf("#%d %s", i, c.Name)))
	}
	return sb.String()
}

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName(c.Name)
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}

	// Parameters
	if len(c.Params) > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", len(c.Params), strings.Join(c.Params, ", ")))
	}
	if c.Returns >= 0 {
		sb.WriteString(fmt.Sprintf("; Returns: %d\n", c.Returns))
	}
	if c.Receiver != "" {
		recv := c.Receiver
		if c.HasSelf {
			recv += " (self)"
		}
		sb.WriteString(fmt.Sprintf("; Receiver: %s\n", recv))
	}

	// Scopes
	if len(c.Scopes) > 0 {
		sb.WriteString("; Scopes:\n")
		for i, sc := range c.Scopes {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s (%s)\n", i, sc.Name, strings.Join(sc.Slots, ", ")))
		}
	}

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s\n", i, k.Kind(), truncate(k.Repr(), 40)))
		}
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)

		if srcLine, srcCol := c.GetSourceLocation(uint32(offset)); srcLine > 0 {
			sb.WriteString(fmt.Sprintf("%04X  %-36s ; line %d:%d\n", offset, line, srcLine, srcCol))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}

		if instrLen == 0 {
			break
		}
		offset += instrLen
	}

	return sb.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// constName renders a name operand.
func (c *Chunk) constName(idx uint16) string {
	if int(idx) < len(c.Constants) {
		return c.Constants[idx].AsString()
	}
	return fmt.Sprintf("<bad const %d>", idx)
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	n := op.InstructionLen()
	if !op.IsValid() {
		return info.Name, 1
	}
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst:
		idx := c.ReadU16(offset + 1)
		constVal := "<bad const>"
		if int(idx) < len(c.Constants) {
			constVal = truncate(c.Constants[idx].Repr(), 20)
		}
		return fmt.Sprintf("CONST %d ; %s", idx, constVal), n

	case OpPushScope:
		idx := c.ReadU16(offset + 1)
		label := ""
		if int(idx) < len(c.Scopes) {
			label = c.Scopes[idx].Name
		}
		return fmt.Sprintf("PUSH_SCOPE %d ; %s", idx, label), n

	case OpDefineLocal:
		s := fmt.Sprintf("DEFINE_LOCAL %d:%d", c.Code[offset+1], c.Code[offset+2])
		if c.Code[offset+3]&DefineConst != 0 {
			s += " const"
		}
		return s, n

	case OpLoadLocal, OpStoreLocal, OpMoveLocal,
		OpBorrowLocal, OpBorrowMutLocal, OpReleaseLocal, OpReleaseMutLocal:
		return fmt.Sprintf("%s %d:%d", info.Name, c.Code[offset+1], c.Code[offset+2]), n

	case OpDefineGlobal:
		s := fmt.Sprintf("DEFINE_GLOBAL %s", c.constName(c.ReadU16(offset+1)))
		if c.Code[offset+3]&DefineConst != 0 {
			s += " const"
		}
		return s, n

	case OpLoadGlobal, OpStoreGlobal, OpMoveGlobal,
		OpBorrowGlobal, OpBorrowMutGlobal, OpReleaseGlobal, OpReleaseMutGlobal,
		OpCheckStruct, OpGetField:
		return fmt.Sprintf("%s %s", info.Name, c.constName(c.ReadU16(offset+1))), n

	case OpCoerce:
		return fmt.Sprintf("COERCE %s", value.Kind(c.Code[offset+1])), n

	case OpJump, OpJumpTrue, OpJumpFalse:
		delta := c.ReadI16(offset + 1)
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, delta, offset+3+delta), n

	case OpCall:
		return fmt.Sprintf("CALL argc=%d want=%s", c.Code[offset+1], wantString(c.Code[offset+2])), n

	case OpCallBuiltin:
		return fmt.Sprintf("CALL_BUILTIN %s argc=%d want=%s",
			Builtin(c.Code[offset+1]), c.Code[offset+2], wantString(c.Code[offset+3])), n

	case OpInvoke:
		return fmt.Sprintf("INVOKE %s argc=%d want=%s",
			c.constName(c.ReadU16(offset+1)), c.Code[offset+3], wantString(c.Code[offset+4])), n

	case OpMakeArray, OpMakeMap:
		return fmt.Sprintf("%s %d", info.Name, c.ReadU16(offset+1)), n

	case OpMakeStruct:
		return fmt.Sprintf("MAKE_STRUCT %d fields=%d", c.ReadU16(offset+1), c.Code[offset+3]), n

	case OpSetPath:
		return fmt.Sprintf("SET_PATH depth=%d fields=%016b", c.Code[offset+1], c.ReadU16(offset+2)), n

	case OpReturn:
		return fmt.Sprintf("RETURN %d", c.Code[offset+1]), n
	}
	return info.Name, n
}

func wantString(w uint8) string {
	if w == WantAll {
		return "*"
	}
	return fmt.Sprintf("%d", w)
}
