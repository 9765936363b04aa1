package runtime

import (
	"errors"
	"testing"

	"github.com/chazu/widow/pkg/diag"
	"github.com/chazu/widow/pkg/value"
	fuzz "github.com/google/gofuzz"
)

// ============ Borrow State Tests ============

func TestBorrowTransitions(t *testing.T) {
	s := NewSlot("x", value.I64(1), false)

	if err := s.AcquireShared(); err != nil {
		t.Fatalf("first shared: %v", err)
	}
	if err := s.AcquireShared(); err != nil {
		t.Fatalf("second shared: %v", err)
	}
	if s.State() != StateShared || s.Readers() != 2 {
		t.Fatalf("state = %s readers=%d, want Shared(2)", s.State(), s.Readers())
	}
	if err := s.AcquireExclusive(); !errors.Is(err, diag.BorrowViolation) {
		t.Fatalf("exclusive while shared: %v, want BorrowViolation", err)
	}
	s.ReleaseShared()
	s.ReleaseShared()
	if s.State() != StateNone {
		t.Fatalf("Shared(0) must collapse to None, got %s", s.State())
	}

	if err := s.AcquireExclusive(); err != nil {
		t.Fatalf("exclusive from None: %v", err)
	}
	if err := s.AcquireShared(); !errors.Is(err, diag.BorrowViolation) {
		t.Errorf("shared while exclusive: %v", err)
	}
	if err := s.AcquireExclusive(); !errors.Is(err, diag.BorrowViolation) {
		t.Errorf("exclusive while exclusive: %v", err)
	}
	if err := s.ReleaseExclusive(); err != nil {
		t.Fatalf("release exclusive: %v", err)
	}
}

func TestUnmatchedReleaseIsInternal(t *testing.T) {
	s := NewSlot("x", value.Nil, false)
	if err := s.ReleaseShared(); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("ReleaseShared on None: %v", err)
	}
	if err := s.ReleaseExclusive(); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("ReleaseExclusive on None: %v", err)
	}
	s.AcquireShared()
	if err := s.ReleaseExclusive(); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("ReleaseExclusive on Shared: %v", err)
	}
}

func TestMoveRules(t *testing.T) {
	s := NewSlot("arr", value.NewArray(value.I64(1)), false)
	s.AcquireShared()
	if err := s.MarkMoved(); !errors.Is(err, diag.BorrowViolation) {
		t.Fatalf("move while borrowed: %v", err)
	}
	s.ReleaseShared()
	if err := s.MarkMoved(); err != nil {
		t.Fatalf("move from None: %v", err)
	}
	if s.State() != StateNone || !s.Moved() {
		t.Fatalf("moved slot must be None and Moved")
	}
	if err := s.AcquireShared(); !errors.Is(err, diag.UseAfterMove) {
		t.Errorf("read after move: %v", err)
	}
	if err := s.AcquireExclusive(); !errors.Is(err, diag.UseAfterMove) {
		t.Errorf("write after move: %v", err)
	}
	if err := s.MarkMoved(); !errors.Is(err, diag.UseAfterMove) {
		t.Errorf("second move: %v", err)
	}
	if err := s.define(value.I64(2), false); err != nil {
		t.Fatalf("redeclaring a moved slot: %v", err)
	}
	if err := s.AcquireShared(); err != nil {
		t.Errorf("read after redeclaration: %v", err)
	}
}

// TestBorrowInvariantProperty interleaves random acquire/release sequences and
// checks that Shared(n>0) and Exclusive never coexist.
func TestBorrowInvariantProperty(t *testing.T) {
	f := fuzz.NewWithSeed(42).NilChance(0).NumElements(1, 200)
	for round := 0; round < 500; round++ {
		var ops []uint8
		f.Fuzz(&ops)

		s := NewSlot("p", value.I64(0), false)
		readers, exclusive := 0, false
		for _, op := range ops {
			switch op % 4 {
			case 0:
				err := s.AcquireShared()
				if exclusive != (err != nil) {
					t.Fatalf("round %d: AcquireShared err=%v with exclusive=%v", round, err, exclusive)
				}
				if err == nil {
					readers++
				}
			case 1:
				err := s.AcquireExclusive()
				if err == nil && readers > 0 {
					t.Fatalf("round %d: exclusive acquired while Shared(%d)", round, readers)
				}
				if err == nil {
					exclusive = true
				}
			case 2:
				err := s.ReleaseShared()
				if readers == 0 {
					if !errors.Is(err, diag.InternalConsistency) {
						t.Fatalf("round %d: unmatched ReleaseShared err=%v", round, err)
					}
				} else {
					readers--
				}
			case 3:
				err := s.ReleaseExclusive()
				if !exclusive {
					if !errors.Is(err, diag.InternalConsistency) {
						t.Fatalf("round %d: unmatched ReleaseExclusive err=%v", round, err)
					}
				} else {
					exclusive = false
				}
			}
			if s.Readers() > 0 && s.State() == StateExclusive {
				t.Fatalf("round %d: slot both shared and exclusive", round)
			}
			if s.Readers() != readers {
				t.Fatalf("round %d: readers=%d, model=%d", round, s.Readers(), readers)
			}
			if (s.State() == StateExclusive) != exclusive {
				t.Fatalf("round %d: exclusive=%v, model=%v", round, s.State() == StateExclusive, exclusive)
			}
		}
	}
}

// ============ Scope Tests ============

func TestDefineDuplicateOnlyInCurrentScope(t *testing.T) {
	globals := NewScope("globals", nil)
	st := NewScopeStack(globals)

	if _, err := st.Define("x", value.I64(1), false); err != nil {
		t.Fatalf("define global: %v", err)
	}
	if _, err := st.Define("x", value.I64(2), false); !errors.Is(err, diag.DuplicateDefinition) {
		t.Fatalf("redefine in same scope: %v", err)
	}

	st.Push("block", nil)
	if _, err := st.Define("x", value.I64(3), false); err != nil {
		t.Fatalf("shadowing across scopes should be legal: %v", err)
	}
	s, _ := st.Lookup("x")
	if s.Value.String() != "3" {
		t.Errorf("lookup found %s, want innermost 3", s.Value)
	}
	st.Pop()
	s, _ = st.Lookup("x")
	if s.Value.String() != "1" {
		t.Errorf("after pop lookup found %s, want outer 1", s.Value)
	}
}

func TestLayoutSlots(t *testing.T) {
	st := NewScopeStack(NewScope("globals", nil))
	st.Push("fn", []string{"a", "b"})
	sc := st.Current()
	if _, err := st.Local(0, 1); err != nil {
		t.Fatalf("Local(0,1): %v", err)
	}
	s, _ := st.Local(0, 1)
	if err := s.AcquireShared(); !errors.Is(err, diag.UndefinedVariable) {
		t.Errorf("read before declaration: %v", err)
	}
	if _, err := sc.DefineAt(1, value.Str("b"), true); err != nil {
		t.Fatalf("DefineAt: %v", err)
	}
	if _, ok := st.Lookup("b"); !ok {
		t.Errorf("defined layout slot should resolve by name")
	}
	if _, ok := st.Lookup("a"); ok {
		t.Errorf("undefined layout slot should not resolve")
	}
	if _, err := st.Local(1, 0); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("bad depth: %v", err)
	}
	if _, err := st.Global("nope"); !errors.Is(err, diag.UndefinedVariable) {
		t.Errorf("missing global: %v", err)
	}
}

func TestPopForceReleasesBorrows(t *testing.T) {
	globals := NewScope("globals", nil)
	g, _ := globals.Define("g", value.I64(0), false)
	st := NewScopeStack(globals)

	sc := st.Push("block", []string{"x"})
	x, _ := sc.DefineAt(0, value.I64(5), false)

	// A read on a local and a write on a global, neither released, as if
	// control left the block early.
	if err := st.AcquireShared(x); err != nil {
		t.Fatal(err)
	}
	if err := st.AcquireExclusive(g); err != nil {
		t.Fatal(err)
	}

	n, err := st.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if n != 2 {
		t.Errorf("force-released %d borrows, want 2", n)
	}
	if x.State() != StateNone || g.State() != StateNone {
		t.Errorf("after pop: x=%s g=%s, want None", x.State(), g.State())
	}
	if _, err := st.Pop(); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("pop of empty stack: %v", err)
	}
}

func TestReleaseFindsLoanInEnclosingScope(t *testing.T) {
	st := NewScopeStack(NewScope("globals", nil))
	outer := st.Push("loop", []string{"items"})
	items, _ := outer.DefineAt(0, value.NewArray(), false)
	if err := st.AcquireShared(items); err != nil {
		t.Fatal(err)
	}

	st.Push("body", nil)
	if err := st.AcquireExclusive(items); !errors.Is(err, diag.BorrowViolation) {
		t.Errorf("write during iteration borrow: %v", err)
	}
	st.Pop()

	if err := st.ReleaseShared(items); err != nil {
		t.Fatalf("release of outer loan: %v", err)
	}
	if err := st.ReleaseShared(items); !errors.Is(err, diag.InternalConsistency) {
		t.Errorf("double release: %v", err)
	}
}

func TestPopAll(t *testing.T) {
	st := NewScopeStack(NewScope("globals", nil))
	var slots []*Slot
	for i := 0; i < 3; i++ {
		sc := st.Push("s", []string{"v"})
		s, _ := sc.DefineAt(0, value.I64(int64(i)), false)
		st.AcquireShared(s)
		slots = append(slots, s)
	}
	if n := st.PopAll(); n != 3 {
		t.Errorf("PopAll released %d, want 3", n)
	}
	if st.Depth() != 0 || st.Current() != st.Globals() {
		t.Errorf("PopAll left %d scopes", st.Depth())
	}
	for _, s := range slots {
		if s.State() != StateNone {
			t.Errorf("slot %s still borrowed", s)
		}
	}
}
