package vm

import (
	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/runtime"
	"github.com/chazu/widow/pkg/value"
)

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// callValue calls a function value with args. want is the number of results
// the call site keeps.
func (vm *VM) callValue(callee value.Value, args []value.Value, want uint8) error {
	if callee.Kind() != value.KindFunction {
		return diag.Errorf(diag.TypeMismatch, "cannot call %s", callee.TypeName())
	}
	return vm.callChunk(callee.FuncIndex(), args, want)
}

// callChunk enters chunk idx: a new frame with its own scope stack whose
// base scope holds the parameters.
func (vm *VM) callChunk(idx int, args []value.Value, want uint8) error {
	if idx <= 0 || idx >= len(vm.prog.Chunks) {
		return diag.Errorf(diag.InvalidProgram, "function index %d out of range", idx)
	}
	ch := vm.prog.Chunks[idx]
	if len(args) != len(ch.Params) {
		return diag.Errorf(diag.ArityMismatch, "%s takes %d argument(s), got %d", ch.Name, len(ch.Params), len(args))
	}
	if len(vm.frames) >= vm.config.MaxFrames {
		return diag.Errorf(diag.StackOverflow, "call depth exceeds %d frames", vm.config.MaxFrames)
	}

	scopes := runtime.NewScopeStack(vm.globals)
	if len(ch.Scopes) > 0 {
		base := scopes.Push(ch.Scopes[0].Name, ch.Scopes[0].Slots)
		for i, arg := range args {
			v, err := vm.coerceParam(ch, i, arg)
			if err != nil {
				return err
			}
			if _, err := base.DefineAt(i, v, false); err != nil {
				return err
			}
		}
	}

	vm.frames = append(vm.frames, &CallFrame{
		Chunk:  ch,
		BP:     len(vm.stack),
		Want:   want,
		Scopes: scopes,
	})
	return nil
}

// coerceParam converts argument i to the parameter's annotated type.
func (vm *VM) coerceParam(ch *bytecode.Chunk, i int, arg value.Value) (value.Value, error) {
	if i >= len(ch.ParamTypes) || ch.ParamTypes[i] == "" {
		return arg, nil
	}
	t := ch.ParamTypes[i]
	if k, ok := value.ParseKind(t); ok && k < value.KindArray {
		v, err := value.Coerce(arg, k)
		if err != nil {
			return value.Nil, diag.Errorf(diag.TypeMismatch, "%s: parameter %s: %v", ch.Name, ch.Params[i], err)
		}
		return v, nil
	}
	if vm.prog.Struct(t) >= 0 && arg.TypeName() != t {
		return value.Nil, diag.Errorf(diag.TypeMismatch, "%s: parameter %s expects %s, got %s", ch.Name, ch.Params[i], t, arg.TypeName())
	}
	return arg, nil
}

// ret leaves frame f with the top n values as results.
func (vm *VM) ret(f *CallFrame, n int) (bool, value.Value, error) {
	if err := vm.need(f, n); err != nil {
		return false, value.Nil, err
	}
	results := vm.popN(n)
	vm.stack = vm.stack[:f.BP]
	if released := f.Scopes.PopAll(); released > 0 {
		log.Debugf("%s: %d borrow(s) released on return", f.Chunk.Name, released)
	}
	vm.frames = vm.frames[:len(vm.frames)-1]

	if len(vm.frames) == 0 {
		if n == 0 {
			return true, value.Nil, nil
		}
		return true, results[0], nil
	}

	switch {
	case f.Want == bytecode.WantAll:
		return false, value.Nil, nil
	case len(results) == int(f.Want):
	case len(results) == 0 && f.Want == 1:
		results = []value.Value{value.Nil}
	default:
		return false, value.Nil, diag.Errorf(diag.ArityMismatch, "%s returned %d value(s), caller expects %d", f.Chunk.Name, len(results), f.Want)
	}
	for _, r := range results {
		if err := vm.push(r); err != nil {
			return false, value.Nil, err
		}
	}
	return false, value.Nil, nil
}

// deliverOne hands a single result to a call site.
func (vm *VM) deliverOne(r value.Value, want uint8) error {
	switch want {
	case bytecode.WantAll:
		return nil
	case 1:
		return vm.push(r)
	}
	return diag.Errorf(diag.ArityMismatch, "builtin returns 1 value, caller expects %d", want)
}

// invoke dispatches recv.name(args...): a struct method, a function stored
// in a field, or a builtin taking the receiver as its first argument.
func (vm *VM) invoke(recv value.Value, name string, args []value.Value, want uint8) error {
	if s := recv.AsStruct(); s != nil {
		if idx, ok := vm.prog.Method(s.Name, name); ok {
			if !vm.prog.Chunks[idx].HasSelf {
				return diag.Errorf(diag.TypeMismatch, "%s.%s is an associated function; call it as %s.%s()", s.Name, name, s.Name, name)
			}
			return vm.callChunk(idx, append([]value.Value{recv}, args...), want)
		}
		if fv, ok := s.Field(name); ok {
			return vm.callValue(fv, args, want)
		}
	}
	if b, ok := bytecode.LookupBuiltin(name); ok && b != bytecode.BuiltinPrint {
		r, err := vm.callBuiltin(b, append([]value.Value{recv}, args...))
		if err != nil {
			return err
		}
		return vm.deliverOne(r, want)
	}
	return diag.Errorf(diag.UndefinedField, "%s has no method %q", recv.TypeName(), name)
}
