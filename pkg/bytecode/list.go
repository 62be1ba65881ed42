package bytecode

import (
	"errors"
	"fmt"
)

// ErrRangeEnd is returned by RemoveRange when the end marker does not follow
// the start marker in the list.
var ErrRangeEnd = errors.New("range end not found after start")

// List is a doubly-linked list of instructions forming a method body.
// The zero value is an empty list ready to use.
type List struct {
	first, last Instruction
	size        int
}

// NewList returns a list holding insns in order.
func NewList(insns ...Instruction) *List {
	l := &List{}
	l.Add(insns...)
	return l
}

// Len returns the number of instructions, pseudo instructions included.
func (l *List) Len() int { return l.size }

// First returns the first instruction or nil.
func (l *List) First() Instruction { return l.first }

// Last returns the last instruction or nil.
func (l *List) Last() Instruction { return l.last }

// Contains reports whether insn belongs to this list.
func (l *List) Contains(insn Instruction) bool {
	return insn != nil && insn.links().list == l
}

// Slice returns the instructions in order.
func (l *List) Slice() []Instruction {
	out := make([]Instruction, 0, l.size)
	for insn := l.first; insn != nil; insn = insn.Next() {
		out = append(out, insn)
	}
	return out
}

// Real returns the non-pseudo instructions in order.
func (l *List) Real() []Instruction {
	out := make([]Instruction, 0, l.size)
	for insn := l.first; insn != nil; insn = insn.Next() {
		if !IsPseudo(insn) {
			out = append(out, insn)
		}
	}
	return out
}

// Add appends instructions to the end of the list.
func (l *List) Add(insns ...Instruction) {
	for _, insn := range insns {
		n := l.claim(insn)
		n.prev = l.last
		if l.last != nil {
			l.last.links().next = insn
		} else {
			l.first = insn
		}
		l.last = insn
	}
}

// InsertBefore links insn immediately before mark.
func (l *List) InsertBefore(mark, insn Instruction) {
	l.owned(mark)
	n := l.claim(insn)
	m := mark.links()
	n.prev = m.prev
	n.next = mark
	if m.prev != nil {
		m.prev.links().next = insn
	} else {
		l.first = insn
	}
	m.prev = insn
}

// InsertAfter links insn immediately after mark.
func (l *List) InsertAfter(mark, insn Instruction) {
	l.owned(mark)
	n := l.claim(insn)
	m := mark.links()
	n.next = m.next
	n.prev = mark
	if m.next != nil {
		m.next.links().prev = insn
	} else {
		l.last = insn
	}
	m.next = insn
}

// Remove unlinks instructions from the list.
func (l *List) Remove(insns ...Instruction) {
	for _, insn := range insns {
		l.owned(insn)
		n := insn.links()
		if n.prev != nil {
			n.prev.links().next = n.next
		} else {
			l.first = n.next
		}
		if n.next != nil {
			n.next.links().prev = n.prev
		} else {
			l.last = n.prev
		}
		n.prev, n.next, n.list = nil, nil, nil
		l.size--
	}
}

// Set replaces old with repl at the same position.
func (l *List) Set(old, repl Instruction) {
	l.owned(old)
	n := l.claim(repl)
	o := old.links()
	n.prev, n.next = o.prev, o.next
	if o.prev != nil {
		o.prev.links().next = repl
	} else {
		l.first = repl
	}
	if o.next != nil {
		o.next.links().prev = repl
	} else {
		l.last = repl
	}
	o.prev, o.next, o.list = nil, nil, nil
	l.size--
}

// RemoveRange removes every instruction from start to end inclusive,
// pseudo instructions included. The list is left untouched when end does
// not follow start.
func (l *List) RemoveRange(start, end Instruction) error {
	l.owned(start)
	var span []Instruction
	for insn := start; ; insn = insn.Next() {
		if insn == nil {
			return fmt.Errorf("remove %s..%s: %w", Format(start), Format(end), ErrRangeEnd)
		}
		span = append(span, insn)
		if insn == end {
			break
		}
	}
	l.Remove(span...)
	return nil
}

// Clear empties the list.
func (l *List) Clear() {
	for insn := l.first; insn != nil; {
		n := insn.links()
		next := n.next
		n.prev, n.next, n.list = nil, nil, nil
		insn = next
	}
	l.first, l.last, l.size = nil, nil, 0
}

func (l *List) claim(insn Instruction) *node {
	n := insn.links()
	if n.list != nil {
		panic(fmt.Sprintf("bytecode: %s already belongs to a list", Format(insn)))
	}
	n.list = l
	n.prev, n.next = nil, nil
	l.size++
	return n
}

func (l *List) owned(insn Instruction) {
	if insn.links().list != l {
		panic(fmt.Sprintf("bytecode: %s does not belong to this list", Format(insn)))
	}
}

// NextReal returns the first non-pseudo instruction at or after insn.
func NextReal(insn Instruction) Instruction {
	for insn != nil && IsPseudo(insn) {
		insn = insn.Next()
	}
	return insn
}
