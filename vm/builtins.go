package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/widow/pkg/bytecode"
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
)

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func (vm *VM) callBuiltin(b bytecode.Builtin, args []value.Value) (value.Value, error) {
	if !b.Valid() {
		return value.Nil, diag.Errorf(diag.InvalidProgram, "unknown builtin %d", b)
	}
	if n := b.Arity(); n >= 0 && len(args) != n {
		return value.Nil, diag.Errorf(diag.ArityMismatch, "%s takes %d argument(s), got %d", b, n, len(args))
	}

	switch b {
	case bytecode.BuiltinPrint:
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		if _, err := fmt.Fprintln(vm.config.Stdout, strings.Join(parts, " ")); err != nil {
			return value.Nil, fmt.Errorf("vm: print: %w", err)
		}
		return value.Nil, nil

	case bytecode.BuiltinLen:
		n, err := value.Len(args[0])
		if err != nil {
			return value.Nil, err
		}
		return value.I64(int64(n)), nil

	case bytecode.BuiltinPush:
		arr, err := arrayArg(b, args[0])
		if err != nil {
			return value.Nil, err
		}
		arr.Push(args[1])
		return value.Nil, nil

	case bytecode.BuiltinPop:
		arr, err := arrayArg(b, args[0])
		if err != nil {
			return value.Nil, err
		}
		return arr.Pop()

	case bytecode.BuiltinKeys, bytecode.BuiltinValues:
		m := args[0].AsMap()
		if m == nil {
			return value.Nil, diag.Errorf(diag.TypeMismatch, "%s expects a map, got %s", b, args[0].TypeName())
		}
		if b == bytecode.BuiltinKeys {
			return value.NewArray(m.Keys()...), nil
		}
		return value.NewArray(m.Values()...), nil

	case bytecode.BuiltinHas:
		return has(args[0], args[1])

	case bytecode.BuiltinRemove:
		return remove(args[0], args[1])

	case bytecode.BuiltinStr:
		return value.Str(args[0].String()), nil

	case bytecode.BuiltinType:
		return value.Str(args[0].TypeName()), nil

	case bytecode.BuiltinClone:
		return value.Clone(args[0]), nil
	}

	if k, ok := b.ConversionKind(); ok {
		return convert(args[0], k)
	}
	return value.Nil, diag.Errorf(diag.InvalidProgram, "builtin %s has no implementation", b)
}

func arrayArg(b bytecode.Builtin, v value.Value) (*value.Array, error) {
	arr := v.AsArray()
	if arr == nil {
		return nil, diag.Errorf(diag.TypeMismatch, "%s expects an array, got %s", b, v.TypeName())
	}
	return arr, nil
}

// has reports map key presence, array membership or substring presence.
func has(container, x value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindMap:
		_, ok, err := container.AsMap().Get(x)
		return value.Bool(ok), err
	case value.KindArray:
		for _, e := range container.AsArray().Elems {
			if e.Kind() != x.Kind() {
				continue
			}
			eq, err := value.Equal(e, x)
			if err != nil {
				return value.Nil, err
			}
			if eq {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case value.KindString:
		switch x.Kind() {
		case value.KindString:
			return value.Bool(strings.Contains(container.AsString(), x.AsString())), nil
		case value.KindChar:
			return value.Bool(strings.ContainsRune(container.AsString(), x.AsChar())), nil
		}
	}
	return value.Nil, diag.Errorf(diag.TypeMismatch, "has is not defined for %s and %s", container.TypeName(), x.TypeName())
}

// remove deletes a map entry, reporting whether it existed, or removes and
// returns an array element.
func remove(container, key value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindMap:
		ok, err := container.AsMap().Delete(key)
		return value.Bool(ok), err
	case value.KindArray:
		arr := container.AsArray()
		i, ok := key.AsInt64()
		if !ok {
			return value.Nil, diag.Errorf(diag.TypeMismatch, "array index must be an integer, got %s", key.TypeName())
		}
		v, err := arr.Get(int(i))
		if err != nil {
			return value.Nil, err
		}
		arr.Elems = append(arr.Elems[:i], arr.Elems[i+1:]...)
		return v, nil
	}
	return value.Nil, diag.Errorf(diag.TypeMismatch, "remove is not defined for %s", container.TypeName())
}

// convert implements the numeric conversion builtins. Strings are parsed,
// chars convert through their code point.
func convert(v value.Value, k value.Kind) (value.Value, error) {
	switch v.Kind() {
	case value.KindString:
		text := strings.TrimSpace(v.AsString())
		if k.IsInt() {
			return value.ParseInt(text, k)
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return value.Nil, diag.Errorf(diag.TypeMismatch, "cannot parse %q as %s", text, k)
		}
		return value.Float(k, f), nil
	case value.KindChar:
		return value.Coerce(value.I64(int64(v.AsChar())), k)
	}
	return value.Coerce(v, k)
}
