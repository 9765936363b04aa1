package runtime

import (
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
	"github.com/tliron/commonlog"
)

// ScopeStack is the scope chain of one call frame. Scope depth 0 is the
// frame's outermost scope; the process-wide globals sit beneath all of them
// and are shared between frames.
type ScopeStack struct {
	globals *Scope
	scopes  []*Scope
}

// NewScopeStack returns an empty scope chain over globals.
func NewScopeStack(globals *Scope) *ScopeStack {
	return &ScopeStack{globals: globals}
}

// Globals returns the global scope.
func (st *ScopeStack) Globals() *Scope { return st.globals }

// Depth is the number of live scopes, not counting globals.
func (st *ScopeStack) Depth() int { return len(st.scopes) }

// Push enters a new scope with the given slot layout.
func (st *ScopeStack) Push(name string, layout []string) *Scope {
	sc := NewScope(name, layout)
	st.scopes = append(st.scopes, sc)
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("push scope %q depth=%d slots=%d", name, len(st.scopes), len(layout))
	}
	return sc
}

// Pop leaves the innermost scope, force-releasing anything it still holds.
func (st *ScopeStack) Pop() (int, error) {
	if len(st.scopes) == 0 {
		return 0, diag.Errorf(diag.InternalConsistency, "pop of empty scope stack")
	}
	sc := st.scopes[len(st.scopes)-1]
	st.scopes[len(st.scopes)-1] = nil
	st.scopes = st.scopes[:len(st.scopes)-1]
	n := sc.Release()
	if n > 0 {
		log.Debugf("pop scope %q force-released %d borrow(s)", sc.Name, n)
	}
	return n, nil
}

// PopAll unwinds every scope of the frame.
func (st *ScopeStack) PopAll() int {
	n := 0
	for len(st.scopes) > 0 {
		k, _ := st.Pop()
		n += k
	}
	return n
}

// Current is the innermost scope, or the globals when none is live.
func (st *ScopeStack) Current() *Scope {
	if len(st.scopes) == 0 {
		return st.globals
	}
	return st.scopes[len(st.scopes)-1]
}

// At returns the scope at depth.
func (st *ScopeStack) At(depth int) (*Scope, error) {
	if depth < 0 || depth >= len(st.scopes) {
		return nil, diag.Errorf(diag.InternalConsistency, "scope depth %d out of range (%d live)", depth, len(st.scopes))
	}
	return st.scopes[depth], nil
}

// Local resolves a compile-time (depth, slot) address.
func (st *ScopeStack) Local(depth, idx int) (*Slot, error) {
	sc, err := st.At(depth)
	if err != nil {
		return nil, err
	}
	return sc.Slot(idx)
}

// Global resolves a global by name.
func (st *ScopeStack) Global(name string) (*Slot, error) {
	if s, ok := st.globals.Lookup(name); ok {
		return s, nil
	}
	return nil, diag.Errorf(diag.UndefinedVariable, "undefined variable %q", name)
}

// Lookup walks from the innermost scope outward, then to the globals.
func (st *ScopeStack) Lookup(name string) (*Slot, bool) {
	for i := len(st.scopes) - 1; i >= 0; i-- {
		if s, ok := st.scopes[i].Lookup(name); ok {
			return s, true
		}
	}
	return st.globals.Lookup(name)
}

// Define declares name in the innermost scope. Shadowing an outer
// declaration is allowed.
func (st *ScopeStack) Define(name string, v value.Value, isConst bool) (*Slot, error) {
	return st.Current().Define(name, v, isConst)
}

// AcquireShared borrows s for reading and records the loan on the innermost
// scope.
func (st *ScopeStack) AcquireShared(s *Slot) error {
	if err := s.AcquireShared(); err != nil {
		return err
	}
	st.Current().lend(s, false)
	return nil
}

// AcquireExclusive borrows s for writing and records the loan.
func (st *ScopeStack) AcquireExclusive(s *Slot) error {
	if err := s.AcquireExclusive(); err != nil {
		return err
	}
	st.Current().lend(s, true)
	return nil
}

// ReleaseShared returns a read borrow taken through this stack.
func (st *ScopeStack) ReleaseShared(s *Slot) error {
	if !st.settle(s, false) {
		return diag.Errorf(diag.InternalConsistency, "no shared loan on %q to release", s.Name)
	}
	return s.ReleaseShared()
}

// ReleaseExclusive returns a write borrow taken through this stack.
func (st *ScopeStack) ReleaseExclusive(s *Slot) error {
	if !st.settle(s, true) {
		return diag.Errorf(diag.InternalConsistency, "no exclusive loan on %q to release", s.Name)
	}
	return s.ReleaseExclusive()
}

func (st *ScopeStack) settle(s *Slot, exclusive bool) bool {
	for i := len(st.scopes) - 1; i >= 0; i-- {
		if st.scopes[i].settle(s, exclusive) {
			return true
		}
	}
	return st.globals.settle(s, exclusive)
}
