package compiler

import (
	"unicode/utf8"

	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
)

var binaryOps = map[string]bytecode.Opcode{
	"+":  bytecode.OpAdd,
	"-":  bytecode.OpSub,
	"*":  bytecode.OpMul,
	"/":  bytecode.OpDiv,
	"%":  bytecode.OpMod,
	"==": bytecode.OpEq,
	"!=": bytecode.OpNe,
	"<":  bytecode.OpLt,
	"<=": bytecode.OpLe,
	">":  bytecode.OpGt,
	">=": bytecode.OpGe,
}

// mutators are the builtins that change their first argument in place.
// Calls to them take an exclusive borrow on a variable receiver for the
// duration of the call.
var mutators = map[string]bool{
	"push":   true,
	"pop":    true,
	"remove": true,
}

// compileExpr pushes exactly one value.
func (c *Compiler) compileExpr(e ast.Expr) {
	if e == nil {
		c.errorf(c.pos, diag.InvalidProgram, "missing expression")
		return
	}
	ch := c.fn.chunk
	switch e := e.(type) {
	case *ast.Ident:
		c.compileIdent(e)
	case *ast.IntLit, *ast.FloatLit:
		c.compileLiteral(e, value.KindNil)
	case *ast.StringLit:
		ch.EmitConstant(value.Str(e.Value))
	case *ast.CharLit:
		r, size := utf8.DecodeRuneInString(e.Value)
		if size == 0 || size != len(e.Value) || r == utf8.RuneError && size <= 1 {
			c.errorf(e.Pos, diag.TypeMismatch, "char literal %q must hold exactly one character", e.Value)
			return
		}
		ch.EmitConstant(value.Char(r))
	case *ast.BoolLit:
		if e.Value {
			ch.Emit(bytecode.OpConstTrue)
		} else {
			ch.Emit(bytecode.OpConstFalse)
		}
	case *ast.NilLit:
		ch.Emit(bytecode.OpConstNil)
	case *ast.GroupExpr:
		c.compileExpr(e.X)
	case *ast.UnaryExpr:
		c.compileUnary(e)
	case *ast.BinaryExpr:
		c.compileBinary(e)
	case *ast.RangeExpr:
		c.compileExpr(e.Lo)
		c.compileExpr(e.Hi)
		c.mark(e)
		ch.Emit(bytecode.OpMakeRange)
	case *ast.CallExpr:
		c.compileCall(e, 1)
	case *ast.FieldExpr:
		c.compileExpr(e.X)
		c.mark(e)
		ch.EmitU16(bytecode.OpGetField, ch.AddName(e.Name))
	case *ast.IndexExpr:
		c.compileExpr(e.X)
		c.compileExpr(e.Index)
		c.mark(e)
		ch.Emit(bytecode.OpIndex)
	case *ast.ArrayLit:
		if len(e.Elems) > 0xFFFF {
			c.errorf(e.Pos, diag.InvalidProgram, "array literal too long")
			return
		}
		for _, el := range e.Elems {
			c.compileExpr(el)
		}
		ch.EmitU16(bytecode.OpMakeArray, uint16(len(e.Elems)))
	case *ast.MapLit:
		if len(e.Entries) > 0xFFFF {
			c.errorf(e.Pos, diag.InvalidProgram, "map literal too long")
			return
		}
		for _, en := range e.Entries {
			c.compileExpr(en.Key)
			c.compileExpr(en.Value)
		}
		c.mark(e)
		ch.EmitU16(bytecode.OpMakeMap, uint16(len(e.Entries)))
	case *ast.StructLit:
		c.compileStructLit(e)
	case nil:
		ch.Emit(bytecode.OpConstNil)
	default:
		c.errorf(e.Position(), diag.InvalidProgram, "unsupported expression %s", describe(e))
	}
}

func (c *Compiler) compileIdent(id *ast.Ident) {
	if !c.isLocal(id.Name) {
		if idx, ok := c.funcs[id.Name]; ok {
			c.fn.chunk.EmitConstant(value.Func(id.Name, idx))
			return
		}
	}
	c.mark(id)
	c.emitRead(c.resolve(id.Name))
}

// compileLiteral emits a numeric literal, negated literals included, in
// kind k (or the literal's own kind, defaulting to i64 and f64). It reports
// false when e is not a literal.
func (c *Compiler) compileLiteral(e ast.Expr, k value.Kind) bool {
	neg := false
	if u, ok := e.(*ast.UnaryExpr); ok && u.Op == "-" {
		neg = true
		e = unparen(u.X)
	}
	if e == nil {
		return false
	}
	pos := e.Position()
	switch lit := e.(type) {
	case *ast.IntLit:
		kind, ok := c.literalKindOf(pos, lit.Kind, k, value.KindI64)
		if !ok {
			return true
		}
		text := lit.Value
		if neg {
			text = "-" + text
		}
		v, err := value.ParseInt(text, kind)
		if err != nil {
			c.errorf(pos, diag.TypeMismatch, "integer literal %s does not fit %s", text, kind)
			return true
		}
		c.fn.chunk.EmitConstant(v)
	case *ast.FloatLit:
		kind, ok := c.literalKindOf(pos, lit.Kind, k, value.KindF64)
		if !ok {
			return true
		}
		f := lit.Value
		if neg {
			f = -f
		}
		if kind.IsInt() {
			c.fn.chunk.EmitConstant(value.F64(f))
			c.fn.chunk.EmitWithOperand(bytecode.OpCoerce, byte(kind))
			return true
		}
		c.fn.chunk.EmitConstant(value.Float(kind, f))
	default:
		return false
	}
	return true
}

// literalKindOf picks a literal's kind: its own suffix, else the context
// hint, else the default.
func (c *Compiler) literalKindOf(pos ast.Pos, suffix string, hint, def value.Kind) (value.Kind, bool) {
	if suffix != "" {
		k, ok := value.ParseKind(suffix)
		if !ok || !k.IsNumeric() {
			c.errorf(pos, diag.TypeMismatch, "unknown numeric kind %q", suffix)
			return 0, false
		}
		return k, true
	}
	if hint.IsNumeric() {
		return hint, true
	}
	return def, true
}

func (c *Compiler) compileUnary(e *ast.UnaryExpr) {
	ch := c.fn.chunk
	switch e.Op {
	case "-":
		if c.compileLiteral(e, value.KindNil) {
			return
		}
		c.compileExpr(e.X)
		c.mark(e)
		ch.Emit(bytecode.OpNeg)
	case "not", "!":
		c.compileExpr(e.X)
		c.mark(e)
		ch.Emit(bytecode.OpNot)
	default:
		c.errorf(e.Pos, diag.InvalidProgram, "unknown unary operator %q", e.Op)
	}
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	ch := c.fn.chunk
	switch e.Op {
	case "and", "&&", "or", "||":
		// Both operands must be bools; the right one is skipped when the
		// left decides the result.
		jump := bytecode.OpJumpFalse
		if e.Op == "or" || e.Op == "||" {
			jump = bytecode.OpJumpTrue
		}
		c.compileExpr(e.Left)
		c.mark(e)
		ch.Emit(bytecode.OpTestBool)
		ch.Emit(bytecode.OpDup)
		end := ch.EmitJump(jump)
		ch.Emit(bytecode.OpPop)
		c.compileExpr(e.Right)
		c.mark(e)
		ch.Emit(bytecode.OpTestBool)
		ch.PatchJump(end)
		return
	}
	op, ok := binaryOps[e.Op]
	if !ok {
		c.errorf(e.Pos, diag.InvalidProgram, "unknown binary operator %q", e.Op)
		return
	}
	c.compileExpr(e.Left)
	c.compileExpr(e.Right)
	c.mark(e)
	ch.Emit(op)
}

// compileStructLit checks the literal against the schema and emits name and
// value pairs for MAKE_STRUCT.
func (c *Compiler) compileStructLit(e *ast.StructLit) {
	ch := c.fn.chunk
	idx, schema := c.structSchema(e.Name)
	if schema == nil {
		c.errorf(e.Pos, diag.UndefinedVariable, "undeclared struct %s", e.Name)
		return
	}
	given := map[string]bool{}
	for _, f := range e.Fields {
		if given[f.Name] {
			c.errorf(e.Pos, diag.DuplicateDefinition, "field %s given twice in %s literal", f.Name, e.Name)
			return
		}
		given[f.Name] = true
		if schema.Field(f.Name) < 0 {
			c.errorf(e.Pos, diag.UndefinedField, "%s has no field %s", e.Name, f.Name)
			return
		}
	}
	for _, f := range schema.Fields {
		if !given[f.Name] {
			c.errorf(e.Pos, diag.TypeMismatch, "%s literal is missing field %s", e.Name, f.Name)
			return
		}
	}
	if len(e.Fields) > 0xFF {
		c.errorf(e.Pos, diag.InvalidProgram, "struct literal has too many fields")
		return
	}
	for _, f := range e.Fields {
		ch.EmitConstant(value.Str(f.Name))
		ann := schema.Fields[schema.Field(f.Name)].Type
		if k, ok := literalKind(ann); ok && c.compileLiteral(f.Value, k) {
			continue
		}
		c.compileExpr(f.Value)
		c.emitAnnotation(ann)
	}
	c.mark(e)
	ch.EmitU16(bytecode.OpMakeStruct, uint16(idx), byte(len(e.Fields)))
}

// compileCall emits a call whose site keeps want results.
func (c *Compiler) compileCall(e *ast.CallExpr, want uint8) {
	ch := c.fn.chunk
	if len(e.Args) > 0xFE {
		c.errorf(e.Pos, diag.InvalidProgram, "too many arguments")
		return
	}
	argc := byte(len(e.Args))

	switch callee := unparen(e.Callee).(type) {
	case *ast.Ident:
		name := callee.Name
		if !c.isVariable(name) {
			if b, ok := bytecode.LookupBuiltin(name); ok {
				c.compileBuiltin(e, b, want)
				return
			}
		}
		c.compileIdent(callee)

	case *ast.FieldExpr:
		if id, ok := unparen(callee.X).(*ast.Ident); ok && !c.isVariable(id.Name) {
			if _, schema := c.structSchema(id.Name); schema != nil {
				// Type.f(...) calls an associated function or a method with
				// an explicit receiver.
				idx, ok := c.prog.Method(id.Name, callee.Name)
				if !ok {
					c.errorf(callee.Pos, diag.UndefinedField, "%s has no method %s", id.Name, callee.Name)
					return
				}
				ch.EmitConstant(value.Func(bytecode.MethodKey(id.Name, callee.Name), idx))
				for _, a := range e.Args {
					c.compileExpr(a)
				}
				c.mark(e)
				ch.EmitWithOperand(bytecode.OpCall, argc, want)
				return
			}
		}
		c.compileExpr(callee.X)
		for _, a := range e.Args {
			c.compileExpr(a)
		}
		c.mark(e)
		c.withWriteCheck(callee.X, mutators[callee.Name], func() {
			ch.EmitU16(bytecode.OpInvoke, ch.AddName(callee.Name), argc, want)
		})
		return

	default:
		c.compileExpr(e.Callee)
	}

	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.mark(e)
	ch.EmitWithOperand(bytecode.OpCall, argc, want)
}

func (c *Compiler) compileBuiltin(e *ast.CallExpr, b bytecode.Builtin, want uint8) {
	if n := b.Arity(); n >= 0 && n != len(e.Args) {
		c.errorf(e.Pos, diag.ArityMismatch, "%s takes %d argument(s), got %d", b, n, len(e.Args))
		return
	}
	if want != 1 && want != bytecode.WantAll {
		c.errorf(e.Pos, diag.ArityMismatch, "%s returns one value, %d wanted", b, want)
		return
	}
	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.mark(e)
	var target ast.Expr
	if len(e.Args) > 0 {
		target = e.Args[0]
	}
	c.withWriteCheck(target, mutators[b.String()], func() {
		c.fn.chunk.EmitWithOperand(bytecode.OpCallBuiltin, byte(b), byte(len(e.Args)), want)
	})
}

// withWriteCheck wraps emit in an exclusive borrow of target when the call
// mutates a variable in place.
func (c *Compiler) withWriteCheck(target ast.Expr, mutates bool, emit func()) {
	if !mutates || target == nil {
		emit()
		return
	}
	id, ok := unparen(target).(*ast.Ident)
	if !ok || !c.isVariableOrGlobal(id.Name) {
		emit()
		return
	}
	r := c.resolve(id.Name)
	if r.isConst {
		c.errorf(id.Pos, diag.ConstAssignment, "cannot modify constant %s", id.Name)
	}
	c.emitSlot(r, bytecode.OpBorrowMutLocal, bytecode.OpBorrowMutGlobal)
	emit()
	c.emitSlot(r, bytecode.OpReleaseMutLocal, bytecode.OpReleaseMutGlobal)
}
