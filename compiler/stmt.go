package compiler

import (
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
)

// maxPath bounds assignment paths like a[i].x[j]; SET_PATH carries a 16-bit
// field mask.
const maxPath = 16

func (c *Compiler) compileStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileStmt(s ast.Stmt) {
	if s == nil {
		c.errorf(c.pos, diag.InvalidProgram, "missing statement")
		return
	}
	c.pos = s.Position()
	c.mark(s)
	defer c.checkChunk(c.fn.chunk, s.Position())
	switch s := s.(type) {
	case *ast.VarDecl:
		c.compileVarDecl(s)
	case *ast.ConstDecl:
		c.compileConstDecl(s)
	case *ast.FuncDecl:
		c.compileNested(s)
	case *ast.StructDecl, *ast.ImplDecl:
		c.errorf(s.Position(), diag.InvalidProgram, "%s declarations are only allowed at top level", describe(s))
	case *ast.Block:
		c.compileBlock(s, "block")
	case *ast.IfStmt:
		c.compileIf(s)
	case *ast.WhileStmt:
		c.compileCondLoop(s.Cond, s.Body, "while")
	case *ast.ForStmt:
		c.compileCondLoop(s.Cond, s.Body, "for")
	case *ast.ForInStmt:
		c.compileForIn(s)
	case *ast.SwitchStmt:
		c.compileSwitch(s)
	case *ast.ReturnStmt:
		c.compileReturn(s)
	case *ast.AssignStmt:
		c.compileAssign(s)
	case *ast.ExprStmt:
		c.compileExprStmt(s)
	case *ast.BreakStmt:
		c.compileBreak(s.Pos, false)
	case *ast.ContinueStmt:
		c.compileBreak(s.Pos, true)
	default:
		c.errorf(s.Position(), diag.InvalidProgram, "unsupported statement %s", describe(s))
	}
}

// compileBlock runs b in a fresh scope.
func (c *Compiler) compileBlock(b *ast.Block, name string) {
	c.pushScope(name)
	if b != nil {
		c.compileStmts(b.Stmts)
	}
	c.popScope()
}

// compileValues pushes the values a declaration or assignment binds to n
// names: either n expressions, or one call destructured into n results.
// Bare variables holding owned values are moved.
func (c *Compiler) compileValues(pos ast.Pos, n int, vals []ast.Expr, annotation string, noMove map[string]bool) {
	switch {
	case len(vals) == 0:
		for i := 0; i < n; i++ {
			c.fn.chunk.Emit(bytecode.OpConstNil)
			c.emitAnnotation(annotation)
		}
	case len(vals) == n:
		for _, v := range vals {
			c.compileOwned(v, annotation, noMove)
		}
	case len(vals) == 1 && n > 1:
		call, ok := unparen(vals[0]).(*ast.CallExpr)
		if !ok {
			c.errorf(pos, diag.ArityMismatch, "%d names but %s produces one value", n, describe(vals[0]))
			return
		}
		c.compileCall(call, uint8(n))
		if annotation != "" {
			c.errorf(pos, diag.TypeMismatch, "a type annotation applies to a single name")
		}
	default:
		c.errorf(pos, diag.ArityMismatch, "%d names but %d values", n, len(vals))
	}
}

// compileOwned pushes a value that is about to be bound to a name: a bare
// variable is moved, a numeric literal takes the annotated kind.
func (c *Compiler) compileOwned(e ast.Expr, annotation string, noMove map[string]bool) {
	if id, ok := unparen(e).(*ast.Ident); ok && !noMove[id.Name] && c.isVariableOrGlobal(id.Name) {
		c.mark(id)
		r := c.resolve(id.Name)
		c.emitSlot(r, bytecode.OpMoveLocal, bytecode.OpMoveGlobal)
		c.emitAnnotation(annotation)
		return
	}
	if k, ok := literalKind(annotation); ok && c.compileLiteral(e, k) {
		return
	}
	c.compileExpr(e)
	c.emitAnnotation(annotation)
}

// isVariableOrGlobal reports whether name is read as a variable rather than
// resolved as a function or builtin.
func (c *Compiler) isVariableOrGlobal(name string) bool {
	if c.isLocal(name) {
		return true
	}
	if _, fn := c.funcs[name]; fn {
		return false
	}
	return c.isGlobal(name)
}

func literalKind(annotation string) (value.Kind, bool) {
	k, ok := value.ParseKind(annotation)
	return k, ok && k.IsNumeric()
}

func (c *Compiler) compileVarDecl(d *ast.VarDecl) {
	if len(d.Names) == 0 {
		c.errorf(d.Pos, diag.InvalidProgram, "let without names")
		return
	}
	c.compileValues(d.Pos, len(d.Names), d.Values, d.Annotation, nil)
	c.defineNames(d.Names, false)
}

func (c *Compiler) compileConstDecl(d *ast.ConstDecl) {
	if d.Value == nil {
		c.errorf(d.Pos, diag.InvalidProgram, "const %s has no value", d.Name)
		return
	}
	c.compileValues(d.Pos, 1, []ast.Expr{d.Value}, d.Annotation, nil)
	c.defineNames([]string{d.Name}, true)
}

// defineNames binds the values on the stack, the last name taking the top
// value. Names are declared only after every value is evaluated, so
// `let x = x` reads the outer x.
func (c *Compiler) defineNames(names []string, isConst bool) {
	refs := make([]ref, len(names))
	for i, n := range names {
		if c.fn.main && len(c.fn.scopes) == 0 {
			refs[i] = ref{name: n, global: true, nameIx: c.fn.chunk.AddName(n), isConst: isConst}
			c.declared[n] = true
		} else {
			refs[i] = c.declare(n, isConst)
		}
	}
	for i := len(refs) - 1; i >= 0; i-- {
		c.emitDefine(refs[i])
	}
}

func (c *Compiler) compileIf(s *ast.IfStmt) {
	var ends []int
	c.compileExpr(s.Cond)
	next := c.fn.chunk.EmitJump(bytecode.OpJumpFalse)
	c.compileBlock(s.Then, "if")

	for _, el := range s.Elifs {
		ends = append(ends, c.fn.chunk.EmitJump(bytecode.OpJump))
		c.fn.chunk.PatchJump(next)
		c.compileExpr(el.Cond)
		next = c.fn.chunk.EmitJump(bytecode.OpJumpFalse)
		c.compileBlock(el.Body, "elif")
	}

	if s.Else != nil {
		ends = append(ends, c.fn.chunk.EmitJump(bytecode.OpJump))
		c.fn.chunk.PatchJump(next)
		c.compileBlock(s.Else, "else")
	} else {
		c.fn.chunk.PatchJump(next)
	}
	for _, j := range ends {
		c.fn.chunk.PatchJump(j)
	}
}

// beginLoop opens a loop context; break and continue jumps are patched by
// endLoop.
func (c *Compiler) beginLoop() *loop {
	l := &loop{keep: len(c.fn.scopes)}
	c.fn.loops = append(c.fn.loops, l)
	return l
}

func (c *Compiler) endLoop(l *loop, continueAt, exitAt int) {
	for _, j := range l.continues {
		c.fn.chunk.PatchJumpTo(j, continueAt)
	}
	for _, j := range l.breaks {
		c.fn.chunk.PatchJumpTo(j, exitAt)
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
}

// compileCondLoop lowers `while cond { }` and `for cond { }`; they are the
// same loop. A nil condition loops until break or ret.
func (c *Compiler) compileCondLoop(cond ast.Expr, body *ast.Block, name string) {
	ch := c.fn.chunk
	start := ch.CurrentOffset()
	exit := -1
	if cond != nil {
		c.compileExpr(cond)
		exit = ch.EmitJump(bytecode.OpJumpFalse)
	}

	l := c.beginLoop()
	c.compileBlock(body, name)
	cont := ch.CurrentOffset()
	ch.EmitLoop(start)
	if exit >= 0 {
		ch.PatchJump(exit)
	}
	c.endLoop(l, cont, ch.CurrentOffset())
}

// compileForIn lowers `for v in x { }`. Ranges count with a hidden cursor;
// collections are snapshotted into a hidden array walked by index. When x
// is a variable, a shared borrow on it is held until the loop ends.
func (c *Compiler) compileForIn(s *ast.ForInStmt) {
	ch := c.fn.chunk
	c.pushScope("for")

	var held *ref
	var cursor, limit, items ref
	isRange := false

	if rg, ok := unparen(s.Iterable).(*ast.RangeExpr); ok {
		isRange = true
		c.compileExpr(rg.Lo)
		cursor = c.declareHidden("cur")
		c.emitDefine(cursor)
		c.compileExpr(rg.Hi)
		limit = c.declareHidden("end")
		c.emitDefine(limit)
	} else {
		if id, ok := unparen(s.Iterable).(*ast.Ident); ok && c.isVariableOrGlobal(id.Name) {
			r := c.resolve(id.Name)
			c.mark(id)
			c.emitSlot(r, bytecode.OpBorrowLocal, bytecode.OpBorrowGlobal)
			c.emitSlot(r, bytecode.OpLoadLocal, bytecode.OpLoadGlobal)
			held = &r
		} else {
			c.compileExpr(s.Iterable)
		}
		c.mark(s)
		ch.Emit(bytecode.OpIterPrep)
		items = c.declareHidden("items")
		c.emitDefine(items)
		ch.EmitConstant(value.I64(0))
		cursor = c.declareHidden("i")
		c.emitDefine(cursor)
	}

	start := ch.CurrentOffset()
	c.emitLoadRaw(cursor)
	if isRange {
		c.emitLoadRaw(limit)
	} else {
		c.emitLoadRaw(items)
		ch.Emit(bytecode.OpLen)
	}
	c.mark(s)
	ch.Emit(bytecode.OpLt)
	exit := ch.EmitJump(bytecode.OpJumpFalse)

	l := c.beginLoop()
	c.pushScope("for-body")
	if isRange {
		c.emitLoadRaw(cursor)
	} else {
		c.emitLoadRaw(items)
		c.emitLoadRaw(cursor)
		ch.Emit(bytecode.OpIndex)
	}
	c.emitDefine(c.declare(s.Var, false))
	if s.Body != nil {
		c.compileStmts(s.Body.Stmts)
	}
	c.popScope()

	cont := ch.CurrentOffset()
	c.emitLoadRaw(cursor)
	ch.Emit(bytecode.OpInc)
	c.emitStoreRaw(cursor)
	ch.EmitLoop(start)
	ch.PatchJump(exit)
	c.endLoop(l, cont, ch.CurrentOffset())

	if held != nil {
		c.emitSlot(*held, bytecode.OpReleaseLocal, bytecode.OpReleaseGlobal)
	}
	c.popScope()
}

// compileSwitch lowers a switch into a chain of equality tests against a
// hidden copy of the subject. The first matching case runs; there is no
// fallthrough.
func (c *Compiler) compileSwitch(s *ast.SwitchStmt) {
	if len(s.Cases) == 0 && s.Default == nil {
		c.errorf(s.Pos, diag.InvalidProgram, "switch has no clauses")
		return
	}
	ch := c.fn.chunk
	c.pushScope("switch")
	c.compileExpr(s.Subject)
	subject := c.declareHidden("subject")
	c.emitDefine(subject)

	var ends []int
	for _, cc := range s.Cases {
		if len(cc.Values) == 0 {
			c.errorf(s.Pos, diag.InvalidProgram, "case without values")
			continue
		}
		var matches []int
		for _, v := range cc.Values {
			c.emitLoadRaw(subject)
			c.compileExpr(v)
			c.mark(v)
			ch.Emit(bytecode.OpEq)
			matches = append(matches, ch.EmitJump(bytecode.OpJumpTrue))
		}
		next := ch.EmitJump(bytecode.OpJump)
		for _, m := range matches {
			ch.PatchJump(m)
		}
		c.compileBlock(cc.Body, "case")
		ends = append(ends, ch.EmitJump(bytecode.OpJump))
		ch.PatchJump(next)
	}
	if s.Default != nil {
		c.compileBlock(s.Default, "default")
	}
	for _, j := range ends {
		ch.PatchJump(j)
	}
	c.popScope()
}

func (c *Compiler) compileReturn(s *ast.ReturnStmt) {
	n := len(s.Values)
	switch {
	case c.fn.main && n > 1:
		c.errorf(s.Pos, diag.ArityMismatch, "top-level ret takes at most one value, got %d", n)
		return
	case c.fn.returns >= 0 && n != c.fn.returns:
		c.errorf(s.Pos, diag.ArityMismatch, "%s declares %d return value(s) but ret has %d", c.fn.name, c.fn.returns, n)
		return
	case n > 255:
		c.errorf(s.Pos, diag.InvalidProgram, "too many return values")
		return
	}
	for _, v := range s.Values {
		c.compileExpr(v)
	}
	c.mark(s)
	c.fn.chunk.EmitWithOperand(bytecode.OpReturn, byte(n))
}

func (c *Compiler) compileBreak(pos ast.Pos, isContinue bool) {
	if len(c.fn.loops) == 0 {
		word := "break"
		if isContinue {
			word = "continue"
		}
		c.errorf(pos, diag.InvalidProgram, "%s outside a loop", word)
		return
	}
	l := c.fn.loops[len(c.fn.loops)-1]
	c.popTo(l.keep)
	j := c.fn.chunk.EmitJump(bytecode.OpJump)
	if isContinue {
		l.continues = append(l.continues, j)
	} else {
		l.breaks = append(l.breaks, j)
	}
}

func (c *Compiler) compileExprStmt(s *ast.ExprStmt) {
	if call, ok := unparen(s.X).(*ast.CallExpr); ok {
		c.compileCall(call, bytecode.WantAll)
		return
	}
	c.compileExpr(s.X)
	c.fn.chunk.Emit(bytecode.OpPop)
}

var compoundOps = map[string]string{
	"+=": "+",
	"-=": "-",
	"*=": "*",
	"/=": "/",
	"%=": "%",
}

// compileAssign lowers plain, parallel, destructuring and compound
// assignment. The right-hand side is evaluated, and its read borrows
// released, before any target is borrowed for writing.
func (c *Compiler) compileAssign(s *ast.AssignStmt) {
	if len(s.Targets) == 0 {
		c.errorf(s.Pos, diag.InvalidProgram, "assignment without targets")
		return
	}
	for _, t := range s.Targets {
		if !c.checkTarget(t) {
			return
		}
	}

	if s.Op != "" && s.Op != "=" {
		op, ok := compoundOps[s.Op]
		if !ok {
			c.errorf(s.Pos, diag.InvalidProgram, "unknown assignment operator %q", s.Op)
			return
		}
		if len(s.Targets) != 1 || len(s.Values) != 1 {
			c.errorf(s.Pos, diag.ArityMismatch, "%s takes one target and one value", s.Op)
			return
		}
		c.compileExpr(s.Targets[0])
		c.compileExpr(s.Values[0])
		c.mark(s)
		c.fn.chunk.Emit(binaryOps[op])
		c.storeTarget(s.Targets[0])
		return
	}

	// A variable that is also a target is read, not moved, so `x = x` and
	// `a, b = b, a` keep both names live.
	targets := map[string]bool{}
	for _, t := range s.Targets {
		if id, ok := unparen(t).(*ast.Ident); ok {
			targets[id.Name] = true
		}
	}
	c.compileValues(s.Pos, len(s.Targets), s.Values, "", targets)
	for i := len(s.Targets) - 1; i >= 0; i-- {
		c.storeTarget(s.Targets[i])
	}
}

// checkTarget rejects targets that cannot be written.
func (c *Compiler) checkTarget(t ast.Expr) bool {
	if t == nil {
		c.errorf(c.pos, diag.InvalidProgram, "missing assignment target")
		return false
	}
	root, path, ok := splitPath(t)
	if !ok {
		c.errorf(t.Position(), diag.InvalidProgram, "cannot assign to %s", describe(t))
		return false
	}
	if len(path) > maxPath {
		c.errorf(t.Position(), diag.InvalidProgram, "assignment path deeper than %d", maxPath)
		return false
	}
	if r := c.resolve(root.Name); r.isConst {
		c.errorf(t.Position(), diag.ConstAssignment, "cannot assign to constant %s", root.Name)
		return false
	}
	return true
}

// storeTarget writes the value on top of the stack to t.
func (c *Compiler) storeTarget(t ast.Expr) {
	ch := c.fn.chunk
	root, path, _ := splitPath(t)
	r := c.resolve(root.Name)
	c.mark(t)
	if len(path) == 0 {
		c.emitWrite(r)
		return
	}

	// value, keys..., root
	var fields uint16
	for i, p := range path {
		switch p := p.(type) {
		case *ast.IndexExpr:
			c.compileExpr(p.Index)
		case *ast.FieldExpr:
			ch.EmitConstant(value.Str(p.Name))
			fields |= 1 << uint(i)
		}
	}
	c.mark(t)
	c.emitSlot(r, bytecode.OpBorrowMutLocal, bytecode.OpBorrowMutGlobal)
	c.emitSlot(r, bytecode.OpLoadLocal, bytecode.OpLoadGlobal)
	ch.EmitWithOperand(bytecode.OpSetPath, byte(len(path)), byte(fields>>8), byte(fields))
	c.emitSlot(r, bytecode.OpReleaseMutLocal, bytecode.OpReleaseMutGlobal)
}

// splitPath breaks a[i].x into its root identifier and the index and field
// steps below it, outermost first.
func splitPath(e ast.Expr) (*ast.Ident, []ast.Expr, bool) {
	var path []ast.Expr
	for {
		switch x := e.(type) {
		case *ast.Ident:
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return x, path, true
		case *ast.GroupExpr:
			e = x.X
		case *ast.IndexExpr:
			path = append(path, x)
			e = x.X
		case *ast.FieldExpr:
			path = append(path, x)
			e = x.X
		default:
			return nil, nil, false
		}
	}
}

func unparen(e ast.Expr) ast.Expr {
	for {
		g, ok := e.(*ast.GroupExpr)
		if !ok {
			return e
		}
		e = g.X
	}
}
