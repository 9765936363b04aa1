package compiler

import (
	"github.com/chazu/widow/pkg/ast"
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
)

// maxSlots and maxDepth bound the u8 operands of local slot instructions.
const (
	maxSlots = 256
	maxDepth = 256
)

// scope is the compile-time view of one runtime scope: the layout it was
// registered under and the slots declared so far.
type scope struct {
	layout uint16
	slots  []string
	index  map[string]int
	consts map[string]bool
}

// loop tracks the jumps that leave or restart the innermost loop.
type loop struct {
	// keep is the number of scopes that stay live at the exit and continue
	// targets; break and continue pop everything above it.
	keep      int
	breaks    []int
	continues []int
}

// function is the state of the chunk being compiled.
type function struct {
	chunk   *bytecode.Chunk
	name    string
	returns int
	main    bool
	scopes  []*scope
	loops   []*loop
}

// ref is a resolved variable reference.
type ref struct {
	name    string
	global  bool
	depth   uint8
	slot    uint8
	nameIx  uint16
	isConst bool
}

func (fn *function) current() *scope {
	if len(fn.scopes) == 0 {
		return nil
	}
	return fn.scopes[len(fn.scopes)-1]
}

// pushScope registers a layout and emits its PUSH_SCOPE.
func (c *Compiler) pushScope(name string) {
	fn := c.fn
	if len(fn.scopes) >= maxDepth {
		c.errorf(ast.Pos{}, diag.InvalidProgram, "scopes nested deeper than %d", maxDepth)
	}
	sc := &scope{
		layout: fn.chunk.AddScope(name, nil),
		index:  make(map[string]int),
		consts: make(map[string]bool),
	}
	fn.scopes = append(fn.scopes, sc)
	fn.chunk.EmitU16(bytecode.OpPushScope, sc.layout)
}

// popScope finalizes the layout and emits POP_SCOPE.
func (c *Compiler) popScope() {
	fn := c.fn
	sc := fn.scopes[len(fn.scopes)-1]
	fn.chunk.Scopes[sc.layout].Slots = sc.slots
	fn.scopes = fn.scopes[:len(fn.scopes)-1]
	fn.chunk.Emit(bytecode.OpPopScope)
}

// enterBase opens the frame scope that CALL pushes; nothing is emitted.
func (c *Compiler) enterBase(name string, params []string) {
	sc := &scope{
		layout: c.fn.chunk.AddScope(name, nil),
		index:  make(map[string]int),
		consts: make(map[string]bool),
	}
	c.fn.scopes = append(c.fn.scopes, sc)
	for _, p := range params {
		c.declare(p, false)
	}
}

func (c *Compiler) leaveBase() {
	sc := c.fn.scopes[0]
	c.fn.chunk.Scopes[sc.layout].Slots = sc.slots
	c.fn.scopes = nil
}

// declare allocates name in the innermost scope. Redeclaring a name in the
// same scope reuses its slot; the runtime decides whether that is legal.
func (c *Compiler) declare(name string, isConst bool) ref {
	fn := c.fn
	sc := fn.current()
	i, ok := sc.index[name]
	if !ok {
		i = len(sc.slots)
		if i >= maxSlots {
			c.errorf(ast.Pos{}, diag.InvalidProgram, "more than %d variables in one scope", maxSlots)
			i = maxSlots - 1
		} else {
			sc.slots = append(sc.slots, name)
		}
		sc.index[name] = i
	}
	sc.consts[name] = isConst
	return ref{name: name, depth: uint8(len(fn.scopes) - 1), slot: uint8(i), isConst: isConst}
}

// declareHidden allocates a compiler-internal slot.
func (c *Compiler) declareHidden(name string) ref {
	return c.declare("$"+name, false)
}

// resolve finds name in the frame's scopes, innermost first, and falls back
// to a global reference by name.
func (c *Compiler) resolve(name string) ref {
	fn := c.fn
	for d := len(fn.scopes) - 1; d >= 0; d-- {
		sc := fn.scopes[d]
		if i, ok := sc.index[name]; ok {
			return ref{name: name, depth: uint8(d), slot: uint8(i), isConst: sc.consts[name]}
		}
	}
	return ref{name: name, global: true, nameIx: fn.chunk.AddName(name), isConst: c.globalConsts[name]}
}

// isLocal reports whether name resolves inside the current frame.
func (c *Compiler) isLocal(name string) bool {
	for _, sc := range c.fn.scopes {
		if _, ok := sc.index[name]; ok {
			return true
		}
	}
	return false
}

// isVariable reports whether name is a local or a declared global.
func (c *Compiler) isVariable(name string) bool {
	return c.isLocal(name) || c.isGlobal(name)
}

// isGlobal reports whether name refers to a global variable at this point.
// Main sees a global only after its declaration, so `let len = len(xs)`
// still calls the builtin; function bodies may run at any later time and
// see every top-level name.
func (c *Compiler) isGlobal(name string) bool {
	if c.fn.main {
		return c.declared[name]
	}
	return c.globals[name]
}

// emitSlot emits a slot instruction addressed by r.
func (c *Compiler) emitSlot(r ref, local, global bytecode.Opcode, extra ...byte) {
	ch := c.fn.chunk
	if r.global {
		ch.EmitU16(global, r.nameIx, extra...)
		return
	}
	ch.EmitWithOperand(local, append([]byte{r.depth, r.slot}, extra...)...)
}

// emitRead loads r under a shared borrow that ends as soon as the value is
// on the stack.
func (c *Compiler) emitRead(r ref) {
	c.emitSlot(r, bytecode.OpBorrowLocal, bytecode.OpBorrowGlobal)
	c.emitSlot(r, bytecode.OpLoadLocal, bytecode.OpLoadGlobal)
	c.emitSlot(r, bytecode.OpReleaseLocal, bytecode.OpReleaseGlobal)
}

// emitWrite stores the value on top of the stack into r under an exclusive
// borrow.
func (c *Compiler) emitWrite(r ref) {
	c.emitSlot(r, bytecode.OpBorrowMutLocal, bytecode.OpBorrowMutGlobal)
	c.emitSlot(r, bytecode.OpStoreLocal, bytecode.OpStoreGlobal)
	c.emitSlot(r, bytecode.OpReleaseMutLocal, bytecode.OpReleaseMutGlobal)
}

// emitDefine pops the value on top of the stack into a new binding.
func (c *Compiler) emitDefine(r ref) {
	var flags byte
	if r.isConst {
		flags |= bytecode.DefineConst
	}
	c.emitSlot(r, bytecode.OpDefineLocal, bytecode.OpDefineGlobal, flags)
}

// emitLoadRaw and emitStoreRaw access a hidden slot without borrow bookkeeping; no
// source expression can name it.
func (c *Compiler) emitLoadRaw(r ref) {
	c.emitSlot(r, bytecode.OpLoadLocal, bytecode.OpLoadGlobal)
}

func (c *Compiler) emitStoreRaw(r ref) {
	c.emitSlot(r, bytecode.OpStoreLocal, bytecode.OpStoreGlobal)
}

// popTo emits POP_SCOPE for every scope above keep, without changing the
// compile-time scope chain.
func (c *Compiler) popTo(keep int) {
	for i := len(c.fn.scopes); i > keep; i-- {
		c.fn.chunk.Emit(bytecode.OpPopScope)
	}
}
