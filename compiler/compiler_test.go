package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
)

// ops decodes the opcode sequence of a chunk.
func ops(c *bytecode.Chunk) []bytecode.Opcode {
	var out []bytecode.Opcode
	for off := 0; off < len(c.Code); {
		op := bytecode.Opcode(c.Code[off])
		out = append(out, op)
		off += op.InstructionLen()
	}
	return out
}

func compile(t *testing.T, stmts ...ast.Stmt) *bytecode.Program {
	t.Helper()
	prog, err := Compile(ast.Prog(stmts...))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return prog
}

// contains reports whether want occurs as a contiguous run in got.
func contains(got, want []bytecode.Opcode) bool {
	for i := 0; i+len(want) <= len(got); i++ {
		if reflect.DeepEqual(got[i:i+len(want)], want) {
			return true
		}
	}
	return false
}

func TestSelfIncrementBorrowOrder(t *testing.T) {
	prog := compile(t,
		ast.Let("x", ast.Int("5")),
		ast.Assign(ast.Id("x"), ast.Bin(ast.Id("x"), "+", ast.Int("1"))),
	)
	want := []bytecode.Opcode{
		bytecode.OpConst, bytecode.OpDefineGlobal,
		// the read borrow ends before the write borrow begins
		bytecode.OpBorrowGlobal, bytecode.OpLoadGlobal, bytecode.OpReleaseGlobal,
		bytecode.OpConst, bytecode.OpAdd,
		bytecode.OpBorrowMutGlobal, bytecode.OpStoreGlobal, bytecode.OpReleaseMutGlobal,
		bytecode.OpConstNil, bytecode.OpReturn,
	}
	if got := ops(prog.Main()); !reflect.DeepEqual(got, want) {
		t.Errorf("got  %v\nwant %v", got, want)
	}
}

func TestFunctionLocals(t *testing.T) {
	prog := compile(t,
		ast.Fn("inc", []string{"a"},
			ast.Let("b", ast.Bin(ast.Id("a"), "+", ast.Int("1"))),
			ast.Ret(ast.Id("b")),
		),
	)
	fn := prog.Chunks[1]
	want := []bytecode.Opcode{
		bytecode.OpBorrowLocal, bytecode.OpLoadLocal, bytecode.OpReleaseLocal,
		bytecode.OpConst, bytecode.OpAdd, bytecode.OpDefineLocal,
		bytecode.OpBorrowLocal, bytecode.OpLoadLocal, bytecode.OpReleaseLocal,
		bytecode.OpReturn,
		bytecode.OpReturn,
	}
	if got := ops(fn); !reflect.DeepEqual(got, want) {
		t.Errorf("got  %v\nwant %v", got, want)
	}
	if !reflect.DeepEqual(fn.Scopes[0].Slots, []string{"a", "b"}) {
		t.Errorf("base scope slots %v", fn.Scopes[0].Slots)
	}
	if !reflect.DeepEqual(fn.Params, []string{"a"}) || fn.Returns != -1 {
		t.Errorf("params %v returns %d", fn.Params, fn.Returns)
	}
}

func TestFunctionsBoundFirst(t *testing.T) {
	prog := compile(t,
		ast.Do(ast.CallN("f")),
		ast.Fn("f", nil),
	)
	got := ops(prog.Main())
	want := []bytecode.Opcode{bytecode.OpConst, bytecode.OpDefineGlobal, bytecode.OpConst, bytecode.OpCall}
	if !reflect.DeepEqual(got[:len(want)], want) {
		t.Errorf("got %v", got)
	}
	if prog.Main().Code[3+3]&bytecode.DefineConst == 0 {
		t.Error("function binding should be constant")
	}
}

func TestBindingVariableMoves(t *testing.T) {
	prog := compile(t,
		ast.Let("a", ast.Arr()),
		ast.Let("b", ast.Id("a")),
	)
	if !contains(ops(prog.Main()), []bytecode.Opcode{bytecode.OpMoveGlobal, bytecode.OpDefineGlobal}) {
		t.Errorf("expected a move, got %v", ops(prog.Main()))
	}
}

func TestSwapReadsInsteadOfMoving(t *testing.T) {
	prog := compile(t,
		ast.Let("a", ast.Int("1")),
		ast.Let("b", ast.Int("2")),
		ast.AssignMulti([]ast.Expr{ast.Id("a"), ast.Id("b")}, ast.Id("b"), ast.Id("a")),
	)
	for _, op := range ops(prog.Main()) {
		if op == bytecode.OpMoveGlobal {
			t.Fatalf("swap should not move: %v", ops(prog.Main()))
		}
	}
}

func TestMutatingBuiltinTakesExclusiveBorrow(t *testing.T) {
	prog := compile(t,
		ast.Let("xs", ast.Arr()),
		ast.Do(ast.CallN("push", ast.Id("xs"), ast.Int("1"))),
	)
	want := []bytecode.Opcode{bytecode.OpBorrowMutGlobal, bytecode.OpCallBuiltin, bytecode.OpReleaseMutGlobal}
	if !contains(ops(prog.Main()), want) {
		t.Errorf("got %v", ops(prog.Main()))
	}
}

func TestForInHoldsSharedBorrow(t *testing.T) {
	prog := compile(t,
		ast.Let("xs", ast.Arr()),
		ast.ForIn("x", ast.Id("xs")),
	)
	got := ops(prog.Main())
	if !contains(got, []bytecode.Opcode{bytecode.OpBorrowGlobal, bytecode.OpLoadGlobal, bytecode.OpIterPrep}) {
		t.Errorf("loop should borrow its collection: %v", got)
	}
	tail := []bytecode.Opcode{bytecode.OpReleaseGlobal, bytecode.OpPopScope, bytecode.OpConstNil, bytecode.OpReturn}
	if !reflect.DeepEqual(got[len(got)-len(tail):], tail) {
		t.Errorf("loop should release after exit: %v", got)
	}
}

func TestPathAssignment(t *testing.T) {
	prog := compile(t,
		ast.Struct("P", "xs"),
		ast.Let("p", ast.StructOf("P", ast.FI("xs", ast.Arr(ast.Int("0"))))),
		ast.Assign(ast.Idx(ast.Sel(ast.Id("p"), "xs"), ast.Int("0")), ast.Int("1")),
	)
	main := prog.Main()
	want := []bytecode.Opcode{bytecode.OpBorrowMutGlobal, bytecode.OpLoadGlobal, bytecode.OpSetPath, bytecode.OpReleaseMutGlobal}
	got := ops(main)
	if !contains(got, want) {
		t.Fatalf("got %v", got)
	}
	// SET_PATH 2, field mask 0b01: "xs" is a field, 0 is an index.
	for off := 0; off < len(main.Code); off += bytecode.Opcode(main.Code[off]).InstructionLen() {
		if bytecode.Opcode(main.Code[off]) == bytecode.OpSetPath {
			if n, mask := main.Code[off+1], main.ReadU16(off+2); n != 2 || mask != 1 {
				t.Errorf("SET_PATH %d mask %b", n, mask)
			}
		}
	}
}

func TestStructsAndMethods(t *testing.T) {
	prog := compile(t,
		ast.Struct("Point", "x", "y"),
		ast.Impl("Point",
			ast.Fn("new", []string{"x", "y"}, ast.Ret(ast.StructOf("Point", ast.FI("x", ast.Id("x")), ast.FI("y", ast.Id("y"))))),
			ast.Fn("sum", []string{"self"}, ast.Ret(ast.Bin(ast.Sel(ast.Id("self"), "x"), "+", ast.Sel(ast.Id("self"), "y")))),
		),
	)
	if prog.Struct("Point") != 0 || len(prog.Structs[0].Fields) != 2 {
		t.Fatalf("structs %+v", prog.Structs)
	}
	idx, ok := prog.Method("Point", "sum")
	if !ok {
		t.Fatal("method Point.sum missing")
	}
	if c := prog.Chunks[idx]; !c.HasSelf || c.Receiver != "Point" {
		t.Errorf("sum: HasSelf=%v Receiver=%q", c.HasSelf, c.Receiver)
	}
	idx, _ = prog.Method("Point", "new")
	if prog.Chunks[idx].HasSelf {
		t.Error("new should be an associated function")
	}
}

func TestSourcePositions(t *testing.T) {
	prog := compile(t,
		ast.At(ast.Let("x", ast.Int("1")), 1, 1),
		ast.At(ast.Let("y", ast.At(ast.Bin(ast.Id("x"), "/", ast.Int("2")), 2, 11)), 2, 1),
	)
	main := prog.Main()
	for off := 0; off < len(main.Code); off += bytecode.Opcode(main.Code[off]).InstructionLen() {
		if bytecode.Opcode(main.Code[off]) == bytecode.OpDiv {
			if line, col := main.GetSourceLocation(uint32(off)); line != 2 || col != 11 {
				t.Errorf("DIV at %d:%d, want 2:11", line, col)
			}
			return
		}
	}
	t.Fatal("no DIV emitted")
}

func TestCompileIsDeterministic(t *testing.T) {
	build := func() *ast.Program {
		return ast.Prog(
			ast.Struct("P", "a"),
			ast.Fn("f", []string{"n"}, ast.Ret(ast.Bin(ast.Id("n"), "*", ast.Int("2")))),
			ast.Let("m", ast.MapOf(ast.Str("k"), ast.CallN("f", ast.Int("1")))),
			ast.ForIn("k", ast.Id("m"), ast.Do(ast.CallN("print", ast.Id("k")))),
		)
	}
	a, err := Compile(build())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compile(build())
	if err != nil {
		t.Fatal(err)
	}
	da, _ := a.Serialize()
	db, _ := b.Serialize()
	if !bytes.Equal(da, db) {
		t.Error("compiling the same tree twice gave different bytecode")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		stmts []ast.Stmt
		kind  diag.Kind
	}{
		{"switch without clauses", []ast.Stmt{ast.Switch(ast.Int("1"), nil)}, diag.InvalidProgram},
		{"ret arity", []ast.Stmt{ast.FnRet("f", nil, []string{"i64"}, ast.Ret(ast.Int("1"), ast.Int("2")))}, diag.ArityMismatch},
		{"top-level ret arity", []ast.Stmt{ast.Ret(ast.Int("1"), ast.Int("2"))}, diag.ArityMismatch},
		{"const assignment", []ast.Stmt{ast.Const("k", ast.Int("1")), ast.Assign(ast.Id("k"), ast.Int("2"))}, diag.ConstAssignment},
		{"const path assignment", []ast.Stmt{ast.Const("k", ast.Arr()), ast.Assign(ast.Idx(ast.Id("k"), ast.Int("0")), ast.Int("2"))}, diag.ConstAssignment},
		{"push on const", []ast.Stmt{ast.Const("k", ast.Arr()), ast.Do(ast.CallN("push", ast.Id("k"), ast.Int("1")))}, diag.ConstAssignment},
		{"assign to function", []ast.Stmt{ast.Fn("f", nil), ast.Assign(ast.Id("f"), ast.Int("1"))}, diag.ConstAssignment},
		{"missing field", []ast.Stmt{ast.Struct("P", "a", "b"), ast.Let("p", ast.StructOf("P", ast.FI("a", ast.Int("1"))))}, diag.TypeMismatch},
		{"unknown field", []ast.Stmt{ast.Struct("P", "a"), ast.Let("p", ast.StructOf("P", ast.FI("a", ast.Int("1")), ast.FI("z", ast.Int("1"))))}, diag.UndefinedField},
		{"duplicate field", []ast.Stmt{ast.Struct("P", "a"), ast.Let("p", ast.StructOf("P", ast.FI("a", ast.Int("1")), ast.FI("a", ast.Int("1"))))}, diag.DuplicateDefinition},
		{"unknown struct", []ast.Stmt{ast.Let("p", ast.StructOf("Q"))}, diag.UndefinedVariable},
		{"duplicate struct field", []ast.Stmt{ast.Struct("P", "a", "a")}, diag.DuplicateDefinition},
		{"duplicate function", []ast.Stmt{ast.Fn("f", nil), ast.Fn("f", nil)}, diag.DuplicateDefinition},
		{"impl without struct", []ast.Stmt{ast.Impl("Nope", ast.Fn("m", nil))}, diag.UndefinedVariable},
		{"nested struct", []ast.Stmt{ast.Fn("f", nil, ast.Struct("P", "a"))}, diag.InvalidProgram},
		{"break outside loop", []ast.Stmt{ast.Break()}, diag.InvalidProgram},
		{"continue outside loop", []ast.Stmt{ast.Continue()}, diag.InvalidProgram},
		{"unknown binary operator", []ast.Stmt{ast.Let("x", ast.Bin(ast.Int("1"), "**", ast.Int("2")))}, diag.InvalidProgram},
		{"unknown unary operator", []ast.Stmt{ast.Let("x", ast.Unary("~", ast.Int("1")))}, diag.InvalidProgram},
		{"unknown compound operator", []ast.Stmt{ast.Let("x", ast.Int("1")), ast.AssignOp(ast.Id("x"), "^=", ast.Int("1"))}, diag.InvalidProgram},
		{"builtin arity", []ast.Stmt{ast.Let("n", ast.CallN("len"))}, diag.ArityMismatch},
		{"builtin destructured", []ast.Stmt{ast.LetMulti([]string{"a", "b"}, ast.CallN("len", ast.Arr()))}, diag.ArityMismatch},
		{"names and values", []ast.Stmt{ast.LetMulti([]string{"a", "b"}, ast.Int("1"))}, diag.ArityMismatch},
		{"char literal", []ast.Stmt{ast.Let("c", ast.Chr("ab"))}, diag.TypeMismatch},
		{"literal out of range", []ast.Stmt{ast.Let("b", ast.IntK("300", "u8"))}, diag.TypeMismatch},
		{"unknown literal kind", []ast.Stmt{ast.Let("b", ast.IntK("3", "u7"))}, diag.TypeMismatch},
		{"assign to literal", []ast.Stmt{ast.Assign(ast.Int("1"), ast.Int("2"))}, diag.InvalidProgram},
		{"unknown associated function", []ast.Stmt{ast.Struct("P", "a"), ast.Do(ast.Call(ast.Sel(ast.Id("P"), "make")))}, diag.UndefinedField},
		{"missing statement", []ast.Stmt{nil}, diag.InvalidProgram},
		{"missing assignment target", []ast.Stmt{ast.Assign(nil, ast.Int("1"))}, diag.InvalidProgram},
		{"negation without operand", []ast.Stmt{ast.Let("x", ast.Unary("-", nil))}, diag.InvalidProgram},
		{"loop without condition", []ast.Stmt{ast.While(nil)}, diag.InvalidProgram},
		{"call without callee", []ast.Stmt{ast.Do(ast.Call(nil))}, diag.InvalidProgram},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(ast.Prog(tt.stmts...))
			if err == nil {
				t.Fatalf("expected %s", tt.kind)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestErrorsAreCollected(t *testing.T) {
	_, err := Compile(ast.Prog(
		ast.At(ast.Break(), 1, 1),
		ast.At(ast.Continue(), 2, 1),
	))
	var list diag.List
	if !errors.As(err, &list) {
		t.Fatalf("expected a diag.List, got %T", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(list), err)
	}
	if list[1].Pos.Line != 2 {
		t.Errorf("second error at %v", list[1].Pos)
	}
}

func TestGlobalShadowsBuiltinOnlyAfterDeclaration(t *testing.T) {
	prog := compile(t,
		ast.Do(ast.CallN("print", ast.Str("hi"))),
		ast.Let("xs", ast.Arr(ast.Int("1"))),
		ast.Let("len", ast.CallN("len", ast.Id("xs"))),
		ast.Let("n", ast.Bin(ast.Id("len"), "+", ast.Int("1"))),
	)
	var builtins, globalReads int
	for _, op := range ops(prog.Main()) {
		switch op {
		case bytecode.OpCallBuiltin:
			builtins++
		case bytecode.OpLoadGlobal:
			globalReads++
		}
	}
	// print and len are builtins; xs and the later len are variables.
	if builtins != 2 {
		t.Errorf("got %d builtin calls, want 2", builtins)
	}
	if globalReads != 2 {
		t.Errorf("got %d global reads, want 2", globalReads)
	}
}

func TestFunctionsSeeLaterGlobals(t *testing.T) {
	prog := compile(t,
		ast.Fn("size", nil, ast.Ret(ast.Call(ast.Id("len")))),
		ast.Let("len", ast.Int("3")),
	)
	got := ops(prog.Chunks[1])
	if contains(got, []bytecode.Opcode{bytecode.OpCallBuiltin}) || !contains(got, []bytecode.Opcode{bytecode.OpLoadGlobal}) {
		t.Errorf("size should call the global len, got %v", got)
	}
}

func TestConstantPoolLimit(t *testing.T) {
	stmts := make([]ast.Stmt, 0, bytecode.MaxConstants+10)
	for i := 0; i < bytecode.MaxConstants+4; i++ {
		stmts = append(stmts, ast.Do(ast.Str(fmt.Sprint("s", i))))
	}
	stmts = append(stmts, ast.Let("x", ast.Str("final")))

	_, err := Compile(ast.Prog(stmts...))
	if !errors.Is(err, diag.InvalidProgram) {
		t.Fatalf("expected InvalidProgram, got %v", err)
	}
	if !strings.Contains(err.Error(), "constants") {
		t.Errorf("error should name the constant pool: %v", err)
	}
}

func TestLongLoopBodyIsRejected(t *testing.T) {
	body := make([]ast.Stmt, 3000)
	for i := range body {
		body[i] = ast.Assign(ast.Id("x"), ast.Bin(ast.Id("x"), "+", ast.Int("1")))
	}
	_, err := Compile(ast.Prog(
		ast.Let("x", ast.Int("0")),
		ast.At(ast.While(ast.Bin(ast.Id("x"), "<", ast.Int("1")), body...), 2, 1),
	))
	if !errors.Is(err, diag.InvalidProgram) || errors.Is(err, diag.InternalConsistency) {
		t.Fatalf("expected InvalidProgram, got %v", err)
	}
	var d *diag.Error
	if errors.As(err, &d) && d.Pos.Line != 2 {
		t.Errorf("error reported at %v, want line 2", d.Pos)
	}
}
