// Package compiler lowers an AST into a bytecode program. Every variable
// read is bracketed by a shared borrow and its release, every write by an
// exclusive borrow and its release, and every block, loop body and function
// body runs in its own scope so the VM can release borrows when the scope
// ends.
package compiler

import (
	"fmt"

	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
	"github.com/tliron/commonlog"
)

// Version identifies the code generator. It is part of cache fingerprints
// and changes whenever the same AST would compile differently.
const Version = 1

var log = commonlog.GetLogger("widow.compiler")

// Compiler converts an AST program to bytecode. A Compiler is single use.
type Compiler struct {
	prog *bytecode.Program
	fn   *function

	// Top-level declarations, collected before any code is generated.
	globals      map[string]bool
	globalConsts map[string]bool
	funcs        map[string]int

	// Globals bound so far while compiling main, in statement order.
	declared map[string]bool

	// Chunks whose encoding limit has already been reported.
	overflowed map[*bytecode.Chunk]bool

	// pos is the position of the statement being compiled.
	pos ast.Pos

	errors diag.List
}

// New creates a compiler.
func New() *Compiler {
	return &Compiler{
		prog:         bytecode.NewProgram(),
		globals:      make(map[string]bool),
		globalConsts: make(map[string]bool),
		funcs:        make(map[string]int),
		declared:     make(map[string]bool),
		overflowed:   make(map[*bytecode.Chunk]bool),
	}
}

// Compile lowers p into a program. All errors found are reported together.
func Compile(p *ast.Program) (*bytecode.Program, error) {
	return New().Compile(p)
}

// Compile lowers p into a program.
func (c *Compiler) Compile(p *ast.Program) (*bytecode.Program, error) {
	main := bytecode.NewChunk("main")
	c.prog.AddChunk(main)

	c.hoist(p.Body)
	if len(c.errors) > 0 {
		return nil, c.errors.Err()
	}

	c.fn = &function{chunk: main, name: "main", returns: -1, main: true}

	// Top-level functions are bound before any statement runs, so calls
	// may precede declarations.
	for _, s := range p.Body {
		if fd, ok := s.(*ast.FuncDecl); ok {
			c.mark(fd)
			main.EmitConstant(value.Func(fd.Name, c.funcs[fd.Name]))
			c.emitDefine(ref{name: fd.Name, global: true, nameIx: main.AddName(fd.Name), isConst: true})
			c.declared[fd.Name] = true
		}
	}

	for _, s := range p.Body {
		switch d := s.(type) {
		case *ast.FuncDecl:
			c.compileFunction(d, c.funcs[d.Name], "")
		case *ast.ImplDecl:
			for _, m := range d.Methods {
				idx, _ := c.prog.Method(d.Struct, m.Name)
				c.compileFunction(m, idx, d.Struct)
			}
		case *ast.StructDecl:
		default:
			c.compileStmt(s)
		}
	}
	main.Emit(bytecode.OpConstNil)
	main.EmitWithOperand(bytecode.OpReturn, 1)

	for _, ch := range c.prog.Chunks {
		c.checkChunk(ch, ast.Pos{})
	}
	if len(c.errors) > 0 {
		return nil, c.errors.Err()
	}
	if err := c.prog.Validate(); err != nil {
		return nil, diag.Errorf(diag.InternalConsistency, "compiler produced an invalid program: %v", err)
	}
	log.Debugf("compiled %d chunk(s), %d struct(s), %d method(s)", len(c.prog.Chunks), len(c.prog.Structs), len(c.prog.Methods))
	return c.prog, nil
}

// errorf records a compilation error at pos.
func (c *Compiler) errorf(pos ast.Pos, kind diag.Kind, format string, args ...any) {
	c.errors = append(c.errors, diag.At(pos.Diag(), kind, format, args...))
}

// checkChunk reports the first encoding limit ch ran into, once.
func (c *Compiler) checkChunk(ch *bytecode.Chunk, pos ast.Pos) {
	if err := ch.Err(); err != nil && !c.overflowed[ch] {
		c.overflowed[ch] = true
		c.errorf(pos, diag.InvalidProgram, "program too large: %v", err)
	}
}

// mark maps the next instruction to n's source position.
func (c *Compiler) mark(n ast.Node) {
	if n == nil {
		return
	}
	p := n.Position()
	if p.Line <= 0 {
		return
	}
	c.fn.chunk.AddSourceLocation(uint32(c.fn.chunk.CurrentOffset()), uint32(p.Line), uint16(p.Column))
}

// hoist registers structs, methods, functions and global names so that
// later code can refer to them regardless of declaration order.
func (c *Compiler) hoist(body []ast.Stmt) {
	for _, s := range body {
		if sd, ok := s.(*ast.StructDecl); ok {
			if c.prog.Struct(sd.Name) >= 0 {
				c.errorf(sd.Pos, diag.DuplicateDefinition, "struct %s is already declared", sd.Name)
				continue
			}
			schema := bytecode.StructSchema{Name: sd.Name}
			seen := map[string]bool{}
			for _, f := range sd.Fields {
				if seen[f.Name] {
					c.errorf(sd.Pos, diag.DuplicateDefinition, "struct %s declares field %s twice", sd.Name, f.Name)
				}
				seen[f.Name] = true
				schema.Fields = append(schema.Fields, bytecode.StructField{Name: f.Name, Type: f.Annotation})
			}
			c.prog.Structs = append(c.prog.Structs, schema)
		}
	}

	for _, s := range body {
		switch d := s.(type) {
		case *ast.FuncDecl:
			if c.globals[d.Name] {
				c.errorf(d.Pos, diag.DuplicateDefinition, "%s is already declared", d.Name)
				continue
			}
			c.globals[d.Name] = true
			c.globalConsts[d.Name] = true
			c.funcs[d.Name] = c.prog.AddChunk(bytecode.NewChunk(d.Name))
		case *ast.ImplDecl:
			if c.prog.Struct(d.Struct) < 0 {
				c.errorf(d.Pos, diag.UndefinedVariable, "impl for undeclared struct %s", d.Struct)
				continue
			}
			for _, m := range d.Methods {
				key := bytecode.MethodKey(d.Struct, m.Name)
				if _, dup := c.prog.Methods[key]; dup {
					c.errorf(m.Pos, diag.DuplicateDefinition, "method %s is already declared", key)
					continue
				}
				c.prog.Methods[key] = c.prog.AddChunk(bytecode.NewChunk(key))
			}
		case *ast.VarDecl:
			for _, n := range d.Names {
				c.globals[n] = true
				c.globalConsts[n] = false
			}
		case *ast.ConstDecl:
			c.globals[d.Name] = true
			c.globalConsts[d.Name] = true
		}
	}
}

// compileFunction fills chunk idx with the body of fd. Functions see their
// own scopes and the globals; enclosing function scopes are not visible.
func (c *Compiler) compileFunction(fd *ast.FuncDecl, idx int, receiver string) {
	ch := c.prog.Chunks[idx]
	saved := c.fn
	c.fn = &function{chunk: ch, name: ch.Name, returns: -1}
	defer func() { c.fn = saved }()

	if fd.Returns != nil {
		c.fn.returns = len(fd.Returns)
		ch.Returns = len(fd.Returns)
	}
	params := make([]string, len(fd.Params))
	seen := map[string]bool{}
	for i, p := range fd.Params {
		if seen[p.Name] {
			c.errorf(fd.Pos, diag.DuplicateDefinition, "%s declares parameter %s twice", fd.Name, p.Name)
		}
		seen[p.Name] = true
		params[i] = p.Name
		ch.ParamTypes = append(ch.ParamTypes, p.Annotation)
	}
	ch.Params = params
	if receiver != "" {
		ch.Receiver = receiver
		ch.HasSelf = len(params) > 0 && params[0] == "self"
	}
	if len(params) >= maxSlots {
		c.errorf(fd.Pos, diag.InvalidProgram, "%s has too many parameters", fd.Name)
		return
	}

	c.enterBase(ch.Name, params)
	if fd.Body != nil {
		c.compileStmts(fd.Body.Stmts)
	}
	ch.EmitWithOperand(bytecode.OpReturn, 0)
	c.leaveBase()

	log.Debugf("compiled %s: %d bytes, %d constants, %d scopes", ch.Name, len(ch.Code), len(ch.Constants), len(ch.Scopes))
}

// compileNested compiles a function declared inside another function or a
// block and binds it in the current scope.
func (c *Compiler) compileNested(fd *ast.FuncDecl) {
	idx := c.prog.AddChunk(bytecode.NewChunk(fd.Name))
	c.compileFunction(fd, idx, "")
	c.mark(fd)
	c.fn.chunk.EmitConstant(value.Func(fd.Name, idx))
	c.emitDefine(c.declare(fd.Name, true))
}

// structSchema looks up a declared struct.
func (c *Compiler) structSchema(name string) (int, *bytecode.StructSchema) {
	i := c.prog.Struct(name)
	if i < 0 {
		return -1, nil
	}
	return i, &c.prog.Structs[i]
}

// emitAnnotation checks or converts the value on top of the stack against a
// declared type. Unknown type names are not checked.
func (c *Compiler) emitAnnotation(annotation string) {
	if annotation == "" {
		return
	}
	if k, ok := value.ParseKind(annotation); ok && k != value.KindNil && k < value.KindArray {
		c.fn.chunk.EmitWithOperand(bytecode.OpCoerce, byte(k))
		return
	}
	if i, _ := c.structSchema(annotation); i >= 0 {
		c.fn.chunk.EmitU16(bytecode.OpCheckStruct, c.fn.chunk.AddName(annotation))
	}
}

func describe(n ast.Node) string {
	if name := ast.TypeName(n); name != "" {
		return name
	}
	return fmt.Sprintf("%T", n)
}
