package value

import (
	"math"

	"github.com/chazu/widow/pkg/diag"
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Array is an ordered, growable sequence of values.
type Array struct {
	Elems []Value
}

// NewArray returns an array value holding elems.
func NewArray(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, obj: &Array{Elems: elems}}
}

func (a *Array) Len() int { return len(a.Elems) }

// Get returns element i or fails with IndexOutOfBounds.
func (a *Array) Get(i int) (Value, error) {
	if i < 0 || i >= len(a.Elems) {
		return Nil, diag.Errorf(diag.IndexOutOfBounds, "index %d out of bounds for array of length %d", i, len(a.Elems))
	}
	return a.Elems[i], nil
}

// Set replaces element i or fails with IndexOutOfBounds.
func (a *Array) Set(i int, v Value) error {
	if i < 0 || i >= len(a.Elems) {
		return diag.Errorf(diag.IndexOutOfBounds, "index %d out of bounds for array of length %d", i, len(a.Elems))
	}
	a.Elems[i] = v
	return nil
}

func (a *Array) Push(v Value) { a.Elems = append(a.Elems, v) }

// Pop removes the last element, failing with IndexOutOfBounds when empty.
func (a *Array) Pop() (Value, error) {
	if len(a.Elems) == 0 {
		return Nil, diag.Errorf(diag.IndexOutOfBounds, "pop from empty array")
	}
	v := a.Elems[len(a.Elems)-1]
	a.Elems = a.Elems[:len(a.Elems)-1]
	return v, nil
}

// mapKey is the hashable identity of a primitive value.
type mapKey struct {
	kind   Kind
	lo, hi uint64
	str    string
}

func keyOf(v Value) (mapKey, error) {
	switch {
	case v.kind.IsOwned() || v.kind == KindFunction:
		return mapKey{}, mismatch("%s cannot be used as a map key", v.TypeName())
	case v.kind.IsFloat():
		f := v.AsFloat()
		if f == 0 {
			f = 0 // fold -0 into +0
		}
		return mapKey{kind: v.kind, lo: math.Float64bits(f)}, nil
	}
	return mapKey{kind: v.kind, lo: v.lo, hi: v.hi, str: v.str}, nil
}

// Map is a mapping from primitive keys to values. Iteration follows
// insertion order.
type Map struct {
	index map[mapKey]int
	keys  []Value
	vals  []Value
}

// NewMap returns an empty map value.
func NewMap() Value {
	return Value{kind: KindMap, obj: &Map{index: make(map[mapKey]int)}}
}

func (m *Map) Len() int { return len(m.keys) }

// Get looks up k. Owned values as keys fail with TypeMismatch.
func (m *Map) Get(k Value) (Value, bool, error) {
	key, err := keyOf(k)
	if err != nil {
		return Nil, false, err
	}
	i, ok := m.index[key]
	if !ok {
		return Nil, false, nil
	}
	return m.vals[i], true, nil
}

// Set inserts or overwrites the entry for k.
func (m *Map) Set(k, v Value) error {
	key, err := keyOf(k)
	if err != nil {
		return err
	}
	if i, ok := m.index[key]; ok {
		m.vals[i] = v
		return nil
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, k)
	m.vals = append(m.vals, v)
	return nil
}

// Delete removes the entry for k and reports whether it existed.
func (m *Map) Delete(k Value) (bool, error) {
	key, err := keyOf(k)
	if err != nil {
		return false, err
	}
	i, ok := m.index[key]
	if !ok {
		return false, nil
	}
	delete(m.index, key)
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.vals = append(m.vals[:i], m.vals[i+1:]...)
	for j := i; j < len(m.keys); j++ {
		kk, _ := keyOf(m.keys[j])
		m.index[kk] = j
	}
	return true, nil
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value { return append([]Value(nil), m.keys...) }

// Values returns the values in key insertion order.
func (m *Map) Values() []Value { return append([]Value(nil), m.vals...) }

// Struct is an instance of a declared struct. Field order follows the
// declaration.
type Struct struct {
	Name   string
	fields *linkedhashmap.Map
}

// NewStruct builds an instance with the given fields in order.
func NewStruct(name string, names []string, vals []Value) Value {
	fields := linkedhashmap.New()
	for i, n := range names {
		fields.Put(n, vals[i])
	}
	return Value{kind: KindStruct, obj: &Struct{Name: name, fields: fields}}
}

// Field returns the named field.
func (s *Struct) Field(name string) (Value, bool) {
	v, ok := s.fields.Get(name)
	if !ok {
		return Nil, false
	}
	return v.(Value), true
}

// SetField overwrites an existing field. Instances never grow new fields.
func (s *Struct) SetField(name string, v Value) bool {
	if _, ok := s.fields.Get(name); !ok {
		return false
	}
	s.fields.Put(name, v)
	return true
}

// FieldNames returns the field names in declaration order.
func (s *Struct) FieldNames() []string {
	keys := s.fields.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.(string)
	}
	return out
}

func (s *Struct) NumFields() int { return s.fields.Size() }

// Index reads container[key]. Arrays and strings take integer indexes of any
// integer kind; maps take primitive keys. Missing entries fail with
// IndexOutOfBounds.
func Index(container, key Value) (Value, error) {
	switch container.kind {
	case KindArray:
		i, err := toIndex(key)
		if err != nil {
			return Nil, err
		}
		return container.AsArray().Get(i)
	case KindMap:
		v, ok, err := container.AsMap().Get(key)
		if err != nil {
			return Nil, err
		}
		if !ok {
			return Nil, diag.Errorf(diag.IndexOutOfBounds, "key %s not found in map", key.Repr())
		}
		return v, nil
	case KindString:
		i, err := toIndex(key)
		if err != nil {
			return Nil, err
		}
		rs := []rune(container.str)
		if i < 0 || i >= len(rs) {
			return Nil, diag.Errorf(diag.IndexOutOfBounds, "index %d out of bounds for string of length %d", i, len(rs))
		}
		return Char(rs[i]), nil
	}
	return Nil, mismatch("cannot index %s", container.TypeName())
}

// SetIndex writes container[key] = v. Map writes insert missing keys; array
// writes must be in bounds.
func SetIndex(container, key, v Value) error {
	switch container.kind {
	case KindArray:
		i, err := toIndex(key)
		if err != nil {
			return err
		}
		return container.AsArray().Set(i, v)
	case KindMap:
		return container.AsMap().Set(key, v)
	}
	return mismatch("cannot assign into %s", container.TypeName())
}

// GetField reads a struct field, failing with UndefinedField when absent.
func GetField(v Value, name string) (Value, error) {
	s := v.AsStruct()
	if s == nil {
		return Nil, mismatch("%s has no fields", v.TypeName())
	}
	f, ok := s.Field(name)
	if !ok {
		return Nil, diag.Errorf(diag.UndefinedField, "%s has no field %q", s.Name, name)
	}
	return f, nil
}

// SetField writes an existing struct field.
func SetField(v Value, name string, fv Value) error {
	s := v.AsStruct()
	if s == nil {
		return mismatch("%s has no fields", v.TypeName())
	}
	if !s.SetField(name, fv) {
		return diag.Errorf(diag.UndefinedField, "%s has no field %q", s.Name, name)
	}
	return nil
}

func toIndex(key Value) (int, error) {
	if !key.kind.IsInt() {
		return 0, mismatch("index must be an integer, got %s", key.TypeName())
	}
	n, ok := key.AsInt64()
	if !ok || n > math.MaxInt32 {
		return 0, diag.Errorf(diag.IndexOutOfBounds, "index %s out of bounds", key)
	}
	return int(n), nil
}

// Iterable turns a string, array or map into the sequence a for-in loop
// visits: characters, a snapshot of the elements, or the keys.
func Iterable(v Value) (Value, error) {
	switch v.kind {
	case KindArray:
		return NewArray(append([]Value(nil), v.AsArray().Elems...)...), nil
	case KindMap:
		return NewArray(v.AsMap().Keys()...), nil
	case KindString:
		rs := []rune(v.str)
		out := make([]Value, len(rs))
		for i, r := range rs {
			out[i] = Char(r)
		}
		return NewArray(out...), nil
	}
	return Nil, mismatch("cannot iterate over %s", v.TypeName())
}

// MaxRangeLen bounds the arrays Range builds. Loops over a range count
// instead and are not limited.
const MaxRangeLen = 1 << 20

// Range builds the half-open integer range [lo, hi) as an array. Both bounds
// must share one integer kind; longer than MaxRangeLen is IndexOutOfBounds.
func Range(lo, hi Value) (Value, error) {
	if lo.kind != hi.kind || !lo.kind.IsInt() {
		return Nil, mismatch("range bounds must be integers of one kind, got %s..%s", lo.TypeName(), hi.TypeName())
	}
	var out []Value
	for cur := lo; ; {
		c, _ := Compare(cur, hi)
		if c >= 0 {
			break
		}
		if len(out) == MaxRangeLen {
			return Nil, diag.Errorf(diag.IndexOutOfBounds, "range %s..%s has more than %d elements", lo, hi, MaxRangeLen)
		}
		out = append(out, cur)
		cur, _ = Inc(cur)
	}
	return NewArray(out...), nil
}

// Clone deep-copies v. Shared substructure and cycles are preserved in the
// copy.
func Clone(v Value) Value {
	return clone(v, map[any]Value{})
}

func clone(v Value, memo map[any]Value) Value {
	if !v.kind.IsOwned() {
		return v
	}
	if c, ok := memo[v.obj]; ok {
		return c
	}
	switch v.kind {
	case KindArray:
		src := v.AsArray()
		dst := &Array{Elems: make([]Value, len(src.Elems))}
		out := Value{kind: KindArray, obj: dst}
		memo[v.obj] = out
		for i, e := range src.Elems {
			dst.Elems[i] = clone(e, memo)
		}
		return out
	case KindMap:
		src := v.AsMap()
		dst := &Map{index: make(map[mapKey]int, len(src.keys))}
		out := Value{kind: KindMap, obj: dst}
		memo[v.obj] = out
		for i, k := range src.keys {
			_ = dst.Set(k, clone(src.vals[i], memo))
		}
		return out
	}
	src := v.AsStruct()
	fields := linkedhashmap.New()
	out := Value{kind: KindStruct, obj: &Struct{Name: src.Name, fields: fields}}
	memo[v.obj] = out
	for _, n := range src.FieldNames() {
		f, _ := src.Field(n)
		fields.Put(n, clone(f, memo))
	}
	return out
}
