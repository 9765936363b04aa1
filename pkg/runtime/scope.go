package runtime

import (
	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("widow.runtime")

// Loan records a borrow taken while a scope was innermost. The slot may
// belong to that scope, an enclosing one, or the globals.
type Loan struct {
	Slot      *Slot
	Exclusive bool
}

// Scope is one lexical environment. Slots declared through a compiled layout
// are addressed by index; slots defined by name (globals) are appended.
type Scope struct {
	Name  string
	slots []*Slot
	index map[string]int
	loans []Loan
}

// NewScope creates a scope whose slots follow the given layout. The slots
// start undefined.
func NewScope(name string, layout []string) *Scope {
	sc := &Scope{
		Name:  name,
		slots: make([]*Slot, len(layout)),
		index: make(map[string]int, len(layout)),
	}
	for i, n := range layout {
		sc.slots[i] = &Slot{Name: n}
		sc.index[n] = i
	}
	return sc
}

// Len is the number of slots.
func (sc *Scope) Len() int { return len(sc.slots) }

// Slot returns the slot at idx.
func (sc *Scope) Slot(idx int) (*Slot, error) {
	if idx < 0 || idx >= len(sc.slots) {
		return nil, diag.Errorf(diag.InternalConsistency, "slot %d out of range in scope %q (%d slots)", idx, sc.Name, len(sc.slots))
	}
	return sc.slots[idx], nil
}

// Lookup finds a defined slot by name.
func (sc *Scope) Lookup(name string) (*Slot, bool) {
	i, ok := sc.index[name]
	if !ok || !sc.slots[i].defined {
		return nil, false
	}
	return sc.slots[i], true
}

// Define declares name in this scope. It fails with DuplicateDefinition if
// the name is already live here; enclosing scopes are not consulted.
func (sc *Scope) Define(name string, v value.Value, isConst bool) (*Slot, error) {
	if i, ok := sc.index[name]; ok {
		s := sc.slots[i]
		return s, s.define(v, isConst)
	}
	s := NewSlot(name, v, isConst)
	sc.index[name] = len(sc.slots)
	sc.slots = append(sc.slots, s)
	return s, nil
}

// DefineAt runs the declaration of the slot at idx.
func (sc *Scope) DefineAt(idx int, v value.Value, isConst bool) (*Slot, error) {
	s, err := sc.Slot(idx)
	if err != nil {
		return nil, err
	}
	return s, s.define(v, isConst)
}

// Slots returns the slots in declaration order.
func (sc *Scope) Slots() []*Slot { return sc.slots }

// Loans returns the outstanding borrows recorded on this scope.
func (sc *Scope) Loans() []Loan { return sc.loans }

func (sc *Scope) lend(s *Slot, exclusive bool) {
	sc.loans = append(sc.loans, Loan{Slot: s, Exclusive: exclusive})
}

// settle removes the most recent matching loan.
func (sc *Scope) settle(s *Slot, exclusive bool) bool {
	for i := len(sc.loans) - 1; i >= 0; i-- {
		l := sc.loans[i]
		if l.Slot == s && l.Exclusive == exclusive {
			sc.loans = append(sc.loans[:i], sc.loans[i+1:]...)
			return true
		}
	}
	return false
}

// Release force-returns every loan recorded on the scope and every borrow
// still held on its own slots. It reports how many borrows were outstanding.
func (sc *Scope) Release() int {
	n := 0
	for i := len(sc.loans) - 1; i >= 0; i-- {
		l := sc.loans[i]
		if l.Exclusive {
			if l.Slot.exclusive {
				l.Slot.exclusive = false
				n++
			}
		} else if l.Slot.readers > 0 {
			l.Slot.readers--
			n++
		}
	}
	sc.loans = sc.loans[:0]
	for _, s := range sc.slots {
		n += s.reset()
	}
	return n
}
