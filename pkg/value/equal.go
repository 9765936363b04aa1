package value

// Equal implements ==. Numbers of distinct kinds are a TypeMismatch; values
// of otherwise unrelated kinds are simply unequal. Arrays, maps and structs
// compare element by element.
func Equal(a, b Value) (bool, error) {
	if a.kind.IsNumeric() && b.kind.IsNumeric() && a.kind != b.kind {
		return false, mismatch("cannot compare %s with %s", a.TypeName(), b.TypeName())
	}
	return deepEqual(a, b, map[[2]any]bool{}), nil
}

func deepEqual(a, b Value, visiting map[[2]any]bool) bool {
	if a.kind != b.kind {
		return false
	}
	switch {
	case a.kind.IsFloat():
		return a.AsFloat() == b.AsFloat()
	case !a.kind.IsOwned():
		return a.lo == b.lo && a.hi == b.hi && a.str == b.str
	case a.obj == b.obj:
		return true
	}
	pair := [2]any{a.obj, b.obj}
	if visiting[pair] {
		return true
	}
	visiting[pair] = true
	defer delete(visiting, pair)

	switch a.kind {
	case KindArray:
		x, y := a.AsArray().Elems, b.AsArray().Elems
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !deepEqual(x[i], y[i], visiting) {
				return false
			}
		}
		return true
	case KindMap:
		x, y := a.AsMap(), b.AsMap()
		if x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			other, ok, _ := y.Get(k)
			if !ok || !deepEqual(x.vals[i], other, visiting) {
				return false
			}
		}
		return true
	}
	x, y := a.AsStruct(), b.AsStruct()
	if x.Name != y.Name || x.NumFields() != y.NumFields() {
		return false
	}
	for _, n := range x.FieldNames() {
		fx, _ := x.Field(n)
		fy, ok := y.Field(n)
		if !ok || !deepEqual(fx, fy, visiting) {
			return false
		}
	}
	return true
}
