package bytecode

import (
	"errors"
	"testing"
)

func opcodesOf(l *List) []Opcode {
	var ops []Opcode
	for _, insn := range l.Slice() {
		ops = append(ops, insn.Opcode())
	}
	return ops
}

func sameOpcodes(a, b []Opcode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListAddAndWalk(t *testing.T) {
	a, b, c := NewInsn(OpNop), NewInsn(OpIconst1), NewInsn(OpReturn)
	l := NewList(a, b, c)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if l.First() != a || l.Last() != c {
		t.Error("First/Last do not match the added instructions")
	}
	if a.Next() != b || c.Prev() != b || a.Prev() != nil || c.Next() != nil {
		t.Error("links are inconsistent")
	}
	if !l.Contains(b) {
		t.Error("Contains(b) = false, want true")
	}
}

func TestListInsertAndRemove(t *testing.T) {
	a, c := NewInsn(OpNop), NewInsn(OpReturn)
	l := NewList(a, c)

	b := NewInsn(OpPop)
	l.InsertAfter(a, b)
	first := NewInsn(OpAconstNull)
	l.InsertBefore(a, first)

	want := []Opcode{OpAconstNull, OpNop, OpPop, OpReturn}
	if got := opcodesOf(l); !sameOpcodes(got, want) {
		t.Fatalf("after inserts = %v, want %v", got, want)
	}

	l.Remove(first, c)
	want = []Opcode{OpNop, OpPop}
	if got := opcodesOf(l); !sameOpcodes(got, want) {
		t.Fatalf("after remove = %v, want %v", got, want)
	}
	if l.First() != a || l.Last() != b {
		t.Error("First/Last not updated after remove")
	}
	if l.Contains(c) {
		t.Error("removed instruction still reported as contained")
	}

	// A removed instruction may join another list.
	other := NewList(c)
	if other.Len() != 1 {
		t.Errorf("other.Len() = %d, want 1", other.Len())
	}
}

func TestListSet(t *testing.T) {
	a, b, c := NewInsn(OpNop), NewIntInsn(OpBipush, 32), NewInsn(OpIshl)
	l := NewList(a, b, c)

	repl := PushInt(0)
	l.Set(b, repl)

	if a.Next() != repl || c.Prev() != repl {
		t.Fatal("replacement not linked in place")
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
	if l.Contains(b) {
		t.Error("replaced instruction still in list")
	}
}

func TestListRemoveRange(t *testing.T) {
	lbl := NewLabel()
	a, b, c, d := NewInsn(OpNop), NewInsn(OpPop), NewInsn(OpPop2), NewInsn(OpReturn)
	l := NewList(a, lbl, b, c, d)

	if err := l.RemoveRange(lbl, c); err != nil {
		t.Fatalf("RemoveRange failed: %v", err)
	}
	want := []Opcode{OpNop, OpReturn}
	if got := opcodesOf(l); !sameOpcodes(got, want) {
		t.Errorf("after RemoveRange = %v, want %v", got, want)
	}

	err := l.RemoveRange(d, a)
	if !errors.Is(err, ErrRangeEnd) {
		t.Errorf("RemoveRange(backwards) error = %v, want ErrRangeEnd", err)
	}
	if l.Len() != 2 {
		t.Errorf("failed RemoveRange modified the list: Len() = %d", l.Len())
	}
}

func TestListForeignInstructionPanics(t *testing.T) {
	l := NewList(NewInsn(OpNop))
	stranger := NewInsn(OpPop)

	defer func() {
		if recover() == nil {
			t.Error("Remove of a foreign instruction did not panic")
		}
	}()
	l.Remove(stranger)
}

func TestListDoubleAddPanics(t *testing.T) {
	insn := NewInsn(OpNop)
	NewList(insn)

	defer func() {
		if recover() == nil {
			t.Error("adding a linked instruction to a second list did not panic")
		}
	}()
	NewList(insn)
}

func TestListReal(t *testing.T) {
	lbl := NewLabel()
	l := NewList(lbl, NewLineNumber(3, lbl), NewInsn(OpNop), NewLabel(), NewInsn(OpReturn))

	reals := l.Real()
	if len(reals) != 2 {
		t.Fatalf("len(Real()) = %d, want 2", len(reals))
	}
	if NextReal(lbl) != reals[0] {
		t.Error("NextReal(label) did not skip pseudo instructions")
	}
}
