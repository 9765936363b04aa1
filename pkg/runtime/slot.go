// Package runtime holds the storage model the virtual machine executes
// against: slots with their borrow state, lexical scopes, and the per-frame
// scope stack that releases borrows when scopes end.
package runtime

import (
	"fmt"

	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
)

// State is the borrow state of a slot.
type State uint8

const (
	// StateNone means no outstanding access.
	StateNone State = iota
	// StateShared means one or more outstanding reads.
	StateShared
	// StateExclusive means one outstanding write.
	StateExclusive
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateShared:
		return "Shared"
	case StateExclusive:
		return "Exclusive"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Slot is a named storage location and the unit the borrow tracker protects.
// The zero Slot is declared-but-undefined: it exists in its scope's layout
// but its declaration has not executed yet.
type Slot struct {
	Name  string
	Value value.Value
	Const bool

	defined   bool
	moved     bool
	readers   int
	exclusive bool
}

// NewSlot returns a defined slot holding v.
func NewSlot(name string, v value.Value, isConst bool) *Slot {
	return &Slot{Name: name, Value: v, Const: isConst, defined: true}
}

// State reports the current borrow state. Shared(0) is never observable.
func (s *Slot) State() State {
	switch {
	case s.exclusive:
		return StateExclusive
	case s.readers > 0:
		return StateShared
	}
	return StateNone
}

// Readers is n in Shared(n), 0 otherwise.
func (s *Slot) Readers() int { return s.readers }

func (s *Slot) Moved() bool   { return s.moved }
func (s *Slot) Defined() bool { return s.defined }

func (s *Slot) String() string {
	st := s.State().String()
	if s.readers > 0 {
		st = fmt.Sprintf("Shared(%d)", s.readers)
	}
	if s.moved {
		st += ",Moved"
	}
	return fmt.Sprintf("%s=%s [%s]", s.Name, s.Value.Repr(), st)
}

func (s *Slot) checkLive() error {
	if !s.defined {
		return diag.Errorf(diag.UndefinedVariable, "%q is used before its declaration", s.Name)
	}
	if s.moved {
		return diag.Errorf(diag.UseAfterMove, "%q was moved", s.Name)
	}
	return nil
}

// AcquireShared takes a read borrow: None -> Shared(1), Shared(n) -> Shared(n+1).
func (s *Slot) AcquireShared() error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if s.exclusive {
		return diag.Errorf(diag.BorrowViolation, "cannot read %q while it is borrowed mutably", s.Name)
	}
	s.readers++
	return nil
}

// AcquireExclusive takes a write borrow. It succeeds only from None.
func (s *Slot) AcquireExclusive() error {
	if err := s.checkLive(); err != nil {
		return err
	}
	switch {
	case s.exclusive:
		return diag.Errorf(diag.BorrowViolation, "cannot write %q: already borrowed mutably", s.Name)
	case s.readers > 0:
		return diag.Errorf(diag.BorrowViolation, "cannot write %q while it has %d shared borrow(s)", s.Name, s.readers)
	}
	s.exclusive = true
	return nil
}

// ReleaseShared drops one read borrow. Releasing a slot that is not Shared
// means an acquire/release pair was lost.
func (s *Slot) ReleaseShared() error {
	if s.readers == 0 {
		return diag.Errorf(diag.InternalConsistency, "release of shared borrow on %q in state %s", s.Name, s.State())
	}
	s.readers--
	return nil
}

// ReleaseExclusive drops the write borrow.
func (s *Slot) ReleaseExclusive() error {
	if !s.exclusive {
		return diag.Errorf(diag.InternalConsistency, "release of exclusive borrow on %q in state %s", s.Name, s.State())
	}
	s.exclusive = false
	return nil
}

// MarkMoved transfers ownership away from the slot. Only legal from None.
func (s *Slot) MarkMoved() error {
	if err := s.checkLive(); err != nil {
		return err
	}
	if s.State() != StateNone {
		return diag.Errorf(diag.BorrowViolation, "cannot move %q while it is borrowed", s.Name)
	}
	s.moved = true
	s.Value = value.Nil
	return nil
}

// define runs a declaration against the slot. A live definition in the same
// scope is a DuplicateDefinition; a moved slot may be redeclared.
func (s *Slot) define(v value.Value, isConst bool) error {
	if s.defined && !s.moved {
		return diag.Errorf(diag.DuplicateDefinition, "%q is already defined in this scope", s.Name)
	}
	s.Value = v
	s.Const = isConst
	s.defined = true
	s.moved = false
	return nil
}

// reset returns every outstanding borrow and reports how many there were.
func (s *Slot) reset() int {
	n := s.readers
	if s.exclusive {
		n++
	}
	s.readers = 0
	s.exclusive = false
	return n
}
