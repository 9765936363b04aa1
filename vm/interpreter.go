package vm

import (
	"context"
	"errors"

	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/runtime"
	"github.com/chazu/widow/pkg/value"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("widow.vm")

// checkEvery is the number of instructions executed between context checks.
const checkEvery = 1024

// ---------------------------------------------------------------------------
// CallFrame: Execution state for a function invocation
// ---------------------------------------------------------------------------

// CallFrame represents the execution state of a single function invocation.
type CallFrame struct {
	Chunk *bytecode.Chunk // the function being executed
	IP    int             // offset of the next instruction
	Start int             // offset of the instruction being executed
	BP    int             // operand stack height when the frame was entered
	Want  uint8           // results the call site keeps

	// Scopes is the frame's own scope chain over the shared globals.
	Scopes *runtime.ScopeStack
}

// ---------------------------------------------------------------------------
// VM: Bytecode execution engine
// ---------------------------------------------------------------------------

// VM executes Widow bytecode programs.
type VM struct {
	config Config

	prog    *bytecode.Program
	globals *runtime.Scope

	stack  []value.Value // operand stack shared by the frame chain
	frames []*CallFrame  // call stack

	runID uuid.UUID
	steps uint64
}

// New creates a VM.
func New(opts ...Option) *VM {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &VM{config: cfg}
}

// Run executes prog on a fresh VM.
func Run(prog *bytecode.Program, opts ...Option) (value.Value, error) {
	return New(opts...).Run(prog)
}

// Run executes prog and returns its exit value: the value of a top-level
// ret, or nil.
func (vm *VM) Run(prog *bytecode.Program) (value.Value, error) {
	return vm.RunContext(context.Background(), prog)
}

// RunContext is Run with cancellation. A cancelled context stops the run
// with an Interrupted error.
func (vm *VM) RunContext(ctx context.Context, prog *bytecode.Program) (value.Value, error) {
	if prog == nil {
		return value.Nil, diag.Errorf(diag.InvalidProgram, "nil program")
	}
	if err := prog.Validate(); err != nil {
		return value.Nil, err
	}

	vm.prog = prog
	vm.globals = runtime.NewScope("globals", nil)
	vm.stack = make([]value.Value, 0, 256)
	vm.frames = vm.frames[:0]
	vm.runID = uuid.New()
	vm.steps = 0
	log.Debugf("run %s: start (%d chunk(s))", vm.runID, len(prog.Chunks))

	vm.frames = append(vm.frames, &CallFrame{
		Chunk:  prog.Main(),
		Want:   1,
		Scopes: runtime.NewScopeStack(vm.globals),
	})

	result, err := vm.execute(ctx)
	if err != nil {
		return value.Nil, vm.unwind(err)
	}
	if n := vm.globals.Release(); n > 0 {
		log.Debugf("run %s: released %d global borrow(s) at exit", vm.runID, n)
	}
	log.Debugf("run %s: done after %d instruction(s)", vm.runID, vm.steps)
	return result, nil
}

// RunID identifies the most recent run in log output.
func (vm *VM) RunID() uuid.UUID { return vm.runID }

// Global returns the value of a global after (or during) a run.
func (vm *VM) Global(name string) (value.Value, bool) {
	s, ok := vm.GlobalSlot(name)
	if !ok {
		return value.Nil, false
	}
	return s.Value, true
}

// GlobalSlot exposes a global's slot, borrow state included.
func (vm *VM) GlobalSlot(name string) (*runtime.Slot, bool) {
	if vm.globals == nil {
		return nil, false
	}
	return vm.globals.Lookup(name)
}

// unwind pops every frame, force-releasing the borrows held by their scopes
// and by the globals, and decorates err with the faulting position and the
// call trace.
func (vm *VM) unwind(err error) error {
	var de *diag.Error
	if !errors.As(err, &de) {
		de = &diag.Error{Kind: diag.KindOf(err), Message: err.Error()}
		err = de
	}
	if len(vm.frames) > 0 {
		top := vm.frames[len(vm.frames)-1]
		if !de.Pos.IsValid() {
			if line, col := top.Chunk.GetSourceLocation(uint32(top.Start)); line > 0 {
				de.Pos = diag.Pos{Line: int(line), Column: int(col)}
			}
		}
		if de.Trace == nil {
			for i := len(vm.frames) - 1; i >= 0; i-- {
				de.Trace = append(de.Trace, vm.frames[i].Chunk.Name)
			}
		}
	}

	released := 0
	for i := len(vm.frames) - 1; i >= 0; i-- {
		released += vm.frames[i].Scopes.PopAll()
	}
	released += vm.globals.Release()
	vm.frames = vm.frames[:0]
	vm.stack = vm.stack[:0]
	log.Debugf("run %s: %s; %d borrow(s) released while unwinding", vm.runID, de.Kind, released)

	if vm.config.Strict && de.Kind.Fatal() {
		panic(de)
	}
	return err
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (vm *VM) push(v value.Value) error {
	if len(vm.stack) >= vm.config.StackSize {
		return diag.Errorf(diag.StackOverflow, "operand stack exceeds %d values", vm.config.StackSize)
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() value.Value {
	return vm.stack[len(vm.stack)-1]
}

// popN removes the top n values and returns them in push order.
func (vm *VM) popN(n int) []value.Value {
	out := make([]value.Value, n)
	copy(out, vm.stack[len(vm.stack)-n:])
	vm.stack = vm.stack[:len(vm.stack)-n]
	return out
}

// need checks that the current frame has n values on the stack.
func (vm *VM) need(f *CallFrame, n int) error {
	if len(vm.stack)-f.BP < n {
		return diag.Errorf(diag.InternalConsistency, "%s at %04X needs %d operand(s), has %d", f.Chunk.Name, f.Start, n, len(vm.stack)-f.BP)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (f *CallFrame) u8(i int) uint8 { return f.Chunk.Code[f.Start+1+i] }

func (f *CallFrame) u16(i int) uint16 { return f.Chunk.ReadU16(f.Start + 1 + i) }

func (f *CallFrame) name(i int) string { return f.Chunk.Constants[f.u16(i)].AsString() }

func (f *CallFrame) local() (*runtime.Slot, error) {
	return f.Scopes.Local(int(f.u8(0)), int(f.u8(1)))
}

func (f *CallFrame) global() (*runtime.Slot, error) {
	return f.Scopes.Global(f.name(0))
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

func (vm *VM) execute(ctx context.Context) (value.Value, error) {
	done := ctx.Done()
	for {
		f := vm.frames[len(vm.frames)-1]
		code := f.Chunk.Code
		if f.IP >= len(code) {
			return value.Nil, diag.Errorf(diag.InvalidProgram, "%s ends without RETURN", f.Chunk.Name)
		}

		vm.steps++
		if done != nil && vm.steps%checkEvery == 0 {
			select {
			case <-done:
				return value.Nil, diag.Errorf(diag.Interrupted, "run interrupted: %v", ctx.Err())
			default:
			}
		}

		f.Start = f.IP
		op := bytecode.Opcode(code[f.IP])
		f.IP += op.InstructionLen()
		if vm.config.Trace {
			log.Debugf("%s %04X %-18s sp=%d scopes=%d", f.Chunk.Name, f.Start, op, len(vm.stack), f.Scopes.Depth())
		}
		if pops := bytecode.GetOpcodeInfo(op).StackPop; pops > 0 {
			if err := vm.need(f, pops); err != nil {
				return value.Nil, err
			}
		}

		finished, result, err := vm.step(f, op)
		if err != nil {
			return value.Nil, err
		}
		if finished {
			return result, nil
		}
	}
}

// step executes one instruction of frame f. It reports finished when the
// top-level frame returned.
func (vm *VM) step(f *CallFrame, op bytecode.Opcode) (bool, value.Value, error) {
	var err error
	switch op {
	// --- Stack operations ---
	case bytecode.OpNop:

	case bytecode.OpPop:
		vm.pop()

	case bytecode.OpDup:
		err = vm.push(vm.peek())

	// --- Constants ---
	case bytecode.OpConst:
		err = vm.push(f.Chunk.Constants[f.u16(0)])

	case bytecode.OpConstNil:
		err = vm.push(value.Nil)

	case bytecode.OpConstTrue:
		err = vm.push(value.Bool(true))

	case bytecode.OpConstFalse:
		err = vm.push(value.Bool(false))

	// --- Scopes ---
	case bytecode.OpPushScope:
		layout := f.Chunk.Scopes[f.u16(0)]
		f.Scopes.Push(layout.Name, layout.Slots)

	case bytecode.OpPopScope:
		_, err = f.Scopes.Pop()

	// --- Locals ---
	case bytecode.OpDefineLocal:
		var sc *runtime.Scope
		if sc, err = f.Scopes.At(int(f.u8(0))); err == nil {
			_, err = sc.DefineAt(int(f.u8(1)), vm.pop(), f.u8(2)&bytecode.DefineConst != 0)
		}

	case bytecode.OpLoadLocal, bytecode.OpStoreLocal, bytecode.OpMoveLocal,
		bytecode.OpBorrowLocal, bytecode.OpBorrowMutLocal, bytecode.OpReleaseLocal, bytecode.OpReleaseMutLocal:
		var s *runtime.Slot
		if s, err = f.local(); err == nil {
			err = vm.slotOp(f, op-bytecode.OpDefineLocal, s)
		}

	// --- Globals ---
	case bytecode.OpDefineGlobal:
		_, err = vm.globals.Define(f.name(0), vm.pop(), f.u8(2)&bytecode.DefineConst != 0)

	case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal, bytecode.OpMoveGlobal,
		bytecode.OpBorrowGlobal, bytecode.OpBorrowMutGlobal, bytecode.OpReleaseGlobal, bytecode.OpReleaseMutGlobal:
		var s *runtime.Slot
		if s, err = f.global(); err == nil {
			err = vm.slotOp(f, op-bytecode.OpDefineGlobal, s)
		}

	// --- Arithmetic ---
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		b, a := vm.pop(), vm.pop()
		var r value.Value
		if r, err = value.Arith(arithOps[op], a, b); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpNeg:
		var r value.Value
		if r, err = value.Neg(vm.pop()); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpInc:
		var r value.Value
		if r, err = value.Inc(vm.pop()); err == nil {
			err = vm.push(r)
		}

	// --- Comparison ---
	case bytecode.OpEq, bytecode.OpNe:
		b, a := vm.pop(), vm.pop()
		var eq bool
		if eq, err = value.Equal(a, b); err == nil {
			err = vm.push(value.Bool(eq == (op == bytecode.OpEq)))
		}

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b, a := vm.pop(), vm.pop()
		var c int
		if c, err = value.Compare(a, b); err == nil {
			err = vm.push(value.Bool(compareResult(op, c)))
		}

	// --- Logic and checks ---
	case bytecode.OpNot:
		v := vm.pop()
		if v.Kind() != value.KindBool {
			return false, value.Nil, diag.Errorf(diag.TypeMismatch, "not requires a bool, got %s", v.TypeName())
		}
		err = vm.push(value.Bool(!v.AsBool()))

	case bytecode.OpTestBool:
		if v := vm.peek(); v.Kind() != value.KindBool {
			return false, value.Nil, diag.Errorf(diag.TypeMismatch, "logical operands must be bool, got %s", v.TypeName())
		}

	case bytecode.OpCoerce:
		var r value.Value
		if r, err = value.Coerce(vm.pop(), value.Kind(f.u8(0))); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpCheckStruct:
		name := f.name(0)
		if v := vm.peek(); v.AsStruct() == nil || v.AsStruct().Name != name {
			return false, value.Nil, diag.Errorf(diag.TypeMismatch, "expected %s, got %s", name, v.TypeName())
		}

	// --- Control flow ---
	case bytecode.OpJump:
		f.IP = f.Start + 3 + f.Chunk.ReadI16(f.Start+1)

	case bytecode.OpJumpTrue:
		if vm.pop().Truthy() {
			f.IP = f.Start + 3 + f.Chunk.ReadI16(f.Start+1)
		}

	case bytecode.OpJumpFalse:
		if !vm.pop().Truthy() {
			f.IP = f.Start + 3 + f.Chunk.ReadI16(f.Start+1)
		}

	// --- Calls ---
	case bytecode.OpCall:
		argc := int(f.u8(0))
		if err = vm.need(f, argc+1); err != nil {
			break
		}
		args := vm.popN(argc)
		err = vm.callValue(vm.pop(), args, f.u8(1))

	case bytecode.OpCallBuiltin:
		argc := int(f.u8(1))
		if err = vm.need(f, argc); err != nil {
			break
		}
		var r value.Value
		if r, err = vm.callBuiltin(bytecode.Builtin(f.u8(0)), vm.popN(argc)); err == nil {
			err = vm.deliverOne(r, f.u8(2))
		}

	case bytecode.OpInvoke:
		argc := int(f.u8(2))
		if err = vm.need(f, argc+1); err != nil {
			break
		}
		args := vm.popN(argc)
		err = vm.invoke(vm.pop(), f.name(0), args, f.u8(3))

	// --- Collections ---
	case bytecode.OpMakeArray:
		n := int(f.u16(0))
		if err = vm.need(f, n); err == nil {
			err = vm.push(value.NewArray(vm.popN(n)...))
		}

	case bytecode.OpMakeMap:
		err = vm.makeMap(f, int(f.u16(0)))

	case bytecode.OpMakeStruct:
		err = vm.makeStruct(f, int(f.u16(0)), int(f.u8(2)))

	case bytecode.OpMakeRange:
		hi, lo := vm.pop(), vm.pop()
		var r value.Value
		if r, err = value.Range(lo, hi); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpIndex:
		key, container := vm.pop(), vm.pop()
		var r value.Value
		if r, err = value.Index(container, key); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpGetField:
		var r value.Value
		if r, err = value.GetField(vm.pop(), f.name(0)); err == nil {
			err = vm.push(r)
		}

	case bytecode.OpSetPath:
		err = vm.setPath(f, int(f.u8(0)), f.u16(1))

	case bytecode.OpLen:
		var n int
		if n, err = value.Len(vm.pop()); err == nil {
			err = vm.push(value.I64(int64(n)))
		}

	case bytecode.OpIterPrep:
		var r value.Value
		if r, err = value.Iterable(vm.pop()); err == nil {
			err = vm.push(r)
		}

	// --- Return ---
	case bytecode.OpReturn:
		return vm.ret(f, int(f.u8(0)))

	default:
		err = diag.Errorf(diag.InvalidProgram, "unknown opcode 0x%02X", byte(op))
	}
	return false, value.Nil, err
}

var arithOps = map[bytecode.Opcode]value.Op{
	bytecode.OpAdd: value.OpAdd,
	bytecode.OpSub: value.OpSub,
	bytecode.OpMul: value.OpMul,
	bytecode.OpDiv: value.OpDiv,
	bytecode.OpMod: value.OpMod,
}

func compareResult(op bytecode.Opcode, c int) bool {
	switch op {
	case bytecode.OpLt:
		return c < 0
	case bytecode.OpLe:
		return c <= 0
	case bytecode.OpGt:
		return c > 0
	}
	return c >= 0
}

// slotOp runs a slot instruction; rel is the opcode's offset from its
// DEFINE instruction, shared by the local and global families.
func (vm *VM) slotOp(f *CallFrame, rel bytecode.Opcode, s *runtime.Slot) error {
	switch rel + bytecode.OpDefineLocal {
	case bytecode.OpLoadLocal:
		if err := checkReadable(s); err != nil {
			return err
		}
		return vm.push(s.Value)

	case bytecode.OpStoreLocal:
		v := vm.pop()
		switch {
		case s.Const:
			return diag.Errorf(diag.ConstAssignment, "cannot assign to constant %q", s.Name)
		case s.Moved():
			return diag.Errorf(diag.UseAfterMove, "%q was moved", s.Name)
		case !s.Defined():
			return diag.Errorf(diag.UndefinedVariable, "%q is assigned before its declaration", s.Name)
		}
		s.Value = v
		return nil

	case bytecode.OpMoveLocal:
		// A move is a read that also ends the slot's ownership of an
		// array, map or struct. Primitives are copied.
		if err := s.AcquireShared(); err != nil {
			return err
		}
		v := s.Value
		if err := s.ReleaseShared(); err != nil {
			return err
		}
		if v.Kind().IsOwned() {
			if err := s.MarkMoved(); err != nil {
				return err
			}
		}
		return vm.push(v)

	case bytecode.OpBorrowLocal:
		return f.Scopes.AcquireShared(s)

	case bytecode.OpBorrowMutLocal:
		return f.Scopes.AcquireExclusive(s)

	case bytecode.OpReleaseLocal:
		return f.Scopes.ReleaseShared(s)

	case bytecode.OpReleaseMutLocal:
		return f.Scopes.ReleaseExclusive(s)
	}
	return diag.Errorf(diag.InvalidProgram, "bad slot instruction")
}

func checkReadable(s *runtime.Slot) error {
	switch {
	case !s.Defined():
		return diag.Errorf(diag.UndefinedVariable, "%q is used before its declaration", s.Name)
	case s.Moved():
		return diag.Errorf(diag.UseAfterMove, "%q was moved", s.Name)
	}
	return nil
}

func (vm *VM) makeMap(f *CallFrame, n int) error {
	if err := vm.need(f, 2*n); err != nil {
		return err
	}
	pairs := vm.popN(2 * n)
	m := value.NewMap()
	for i := 0; i < n; i++ {
		if err := m.AsMap().Set(pairs[2*i], pairs[2*i+1]); err != nil {
			return err
		}
	}
	return vm.push(m)
}

// makeStruct builds an instance from name/value pairs, in schema order.
func (vm *VM) makeStruct(f *CallFrame, idx, n int) error {
	if err := vm.need(f, 2*n); err != nil {
		return err
	}
	pairs := vm.popN(2 * n)
	schema := &vm.prog.Structs[idx]
	vals := make([]value.Value, len(schema.Fields))
	seen := make([]bool, len(schema.Fields))
	for i := 0; i < n; i++ {
		name := pairs[2*i].AsString()
		fi := schema.Field(name)
		switch {
		case fi < 0:
			return diag.Errorf(diag.UndefinedField, "%s has no field %q", schema.Name, name)
		case seen[fi]:
			return diag.Errorf(diag.DuplicateDefinition, "field %q given twice", name)
		}
		seen[fi] = true
		vals[fi] = pairs[2*i+1]
	}
	names := make([]string, len(schema.Fields))
	for i, fd := range schema.Fields {
		if !seen[i] {
			return diag.Errorf(diag.TypeMismatch, "%s literal is missing field %q", schema.Name, fd.Name)
		}
		names[i] = fd.Name
	}
	return vm.push(value.NewStruct(schema.Name, names, vals))
}

// setPath stores a value through a chain of index and field steps. Stack:
// value, key1..keyN, root. Bit i of fields marks key i as a field name.
func (vm *VM) setPath(f *CallFrame, n int, fields uint16) error {
	if n == 0 {
		return diag.Errorf(diag.InvalidProgram, "SET_PATH with an empty path")
	}
	if err := vm.need(f, n+2); err != nil {
		return err
	}
	root := vm.pop()
	keys := vm.popN(n)
	v := vm.pop()

	cur := root
	for i := 0; i < n-1; i++ {
		var err error
		if fields&(1<<uint(i)) != 0 {
			cur, err = value.GetField(cur, keys[i].AsString())
		} else {
			cur, err = value.Index(cur, keys[i])
		}
		if err != nil {
			return err
		}
	}
	last := n - 1
	if fields&(1<<uint(last)) != 0 {
		return value.SetField(cur, keys[last].AsString(), v)
	}
	return value.SetIndex(cur, keys[last], v)
}
