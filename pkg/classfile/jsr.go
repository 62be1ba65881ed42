package classfile

import (
	"errors"
	"fmt"

	"github.com/chazu/deobby/pkg/bytecode"
)

// ErrSubroutineDepth is returned when subroutines cannot be flattened: one
// reaches itself through nested JSRs, they nest past the round limit, or the
// copies grow the method past the size limit.
var ErrSubroutineDepth = errors.New("subroutines nest too deeply")

const (
	maxInlineRounds = 32
	maxInlinedSize  = 1 << 18
)

// InlineSubroutines removes JSR and RET from m. Every call site gets its own
// copy of the subroutine body appended to the method: the JSR becomes
// ACONST_NULL GOTO copy, each RET in the copy jumps back to just after the
// call site, and the exception ranges covering the body are duplicated for
// the copy. Nested subroutines are flattened over further rounds. The
// original bodies, no longer reachable, are removed.
//
// A subroutine that reaches itself is rejected before anything is copied.
// It reports whether the method changed.
func InlineSubroutines(m *Method) (bool, error) {
	if !m.HasCode() {
		return false, nil
	}
	if err := checkRecursion(m); err != nil {
		return false, err
	}
	changed := false
	for round := 0; ; round++ {
		snap := m.Instructions.Slice()
		var calls []*bytecode.JumpInsn
		for _, insn := range snap {
			if j, ok := insn.(*bytecode.JumpInsn); ok && j.Op == bytecode.OpJsr {
				calls = append(calls, j)
			}
		}
		if len(calls) == 0 {
			break
		}
		if round == maxInlineRounds {
			return changed, ErrSubroutineDepth
		}
		in := newInliner(m, snap)
		for _, call := range calls {
			if err := in.inline(call); err != nil {
				return changed, err
			}
		}
		changed = true
		if m.Instructions.Len() > maxInlinedSize {
			return changed, ErrSubroutineDepth
		}
	}
	if changed {
		removeUnreachable(m)
	}
	return changed, nil
}

// checkRecursion walks the graph of subroutines calling subroutines and
// fails on a cycle. Copies keep the shape of the original, so an acyclic
// method flattens in as many rounds as its deepest nesting.
func checkRecursion(m *Method) error {
	snap := m.Instructions.Slice()
	in := newInliner(m, snap)
	var entries []*bytecode.Label
	for _, insn := range snap {
		if j, ok := insn.(*bytecode.JumpInsn); ok && j.Op == bytecode.OpJsr {
			entries = append(entries, j.Target)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	const (
		unseen = iota
		active
		done
	)
	state := make(map[*bytecode.Label]int)
	var visit func(entry *bytecode.Label) error
	visit = func(entry *bytecode.Label) error {
		switch state[entry] {
		case active:
			return ErrSubroutineDepth
		case done:
			return nil
		}
		state[entry] = active
		member, err := in.body(entry)
		if err != nil {
			return err
		}
		for i, ok := range member {
			if !ok {
				continue
			}
			if j, isJump := snap[i].(*bytecode.JumpInsn); isJump && j.Op == bytecode.OpJsr {
				if err := visit(j.Target); err != nil {
					return err
				}
			}
		}
		state[entry] = done
		return nil
	}
	for _, entry := range entries {
		if err := visit(entry); err != nil {
			return err
		}
	}
	return nil
}

// inliner works from a snapshot of the list taken before the round, so the
// call sites it rewrites do not disturb the bodies it copies.
type inliner struct {
	method *Method
	snap   []bytecode.Instruction
	pos    map[bytecode.Instruction]int
	next   []int // index of the first real instruction at or after i
	bodies map[*bytecode.Label][]bool
}

func newInliner(m *Method, snap []bytecode.Instruction) *inliner {
	in := &inliner{
		method: m,
		snap:   snap,
		pos:    make(map[bytecode.Instruction]int, len(snap)),
		next:   make([]int, len(snap)+1),
		bodies: make(map[*bytecode.Label][]bool),
	}
	in.next[len(snap)] = len(snap)
	for i := len(snap) - 1; i >= 0; i-- {
		in.pos[snap[i]] = i
		if bytecode.IsPseudo(snap[i]) {
			in.next[i] = in.next[i+1]
		} else {
			in.next[i] = i
		}
	}
	return in
}

func (in *inliner) realAt(l *bytecode.Label) (int, error) {
	i, ok := in.pos[l]
	if !ok || in.next[i] == len(in.snap) {
		return 0, errors.New("subroutine target is not an instruction")
	}
	return in.next[i], nil
}

// body marks the instructions reachable from entry without passing a RET.
// Targets of nested JSRs are not followed; those are separate subroutines.
func (in *inliner) body(entry *bytecode.Label) ([]bool, error) {
	if b, ok := in.bodies[entry]; ok {
		return b, nil
	}
	start, err := in.realAt(entry)
	if err != nil {
		return nil, err
	}
	member := make([]bool, len(in.snap))
	work := []int{start}
	visit := func(l *bytecode.Label) error {
		i, err := in.realAt(l)
		if err != nil {
			return err
		}
		work = append(work, i)
		return nil
	}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if i >= len(in.snap) || member[i] {
			continue
		}
		member[i] = true
		insn := in.snap[i]
		op := insn.Opcode()
		if op == bytecode.OpRet {
			continue
		}
		switch v := insn.(type) {
		case *bytecode.JumpInsn:
			if v.Op != bytecode.OpJsr {
				if err := visit(v.Target); err != nil {
					return nil, err
				}
			}
		case *bytecode.TableSwitchInsn:
			for _, l := range append([]*bytecode.Label{v.Default}, v.Targets...) {
				if err := visit(l); err != nil {
					return nil, err
				}
			}
		case *bytecode.LookupSwitchInsn:
			for _, l := range append([]*bytecode.Label{v.Default}, v.Targets...) {
				if err := visit(l); err != nil {
					return nil, err
				}
			}
		}
		if !op.EndsFlow() {
			work = append(work, in.next[i+1])
		}
	}
	in.bodies[entry] = member
	return member, nil
}

func (in *inliner) inline(call *bytecode.JumpInsn) error {
	member, err := in.body(call.Target)
	if err != nil {
		return fmt.Errorf("JSR at %d: %w", in.pos[call], err)
	}
	list := in.method.Instructions

	// Labels outside the body keep their identity in the copy.
	labels := make(map[*bytecode.Label]*bytecode.Label)
	for i, insn := range in.snap {
		if l, ok := insn.(*bytecode.Label); ok && (in.next[i] == len(in.snap) || !member[in.next[i]]) {
			labels[l] = l
		}
	}

	back := bytecode.NewLabel()
	// ranges[k] is the start label of the open copy of TryCatch[k].
	ranges := make([]*bytecode.Label, len(in.method.TryCatch))
	added := make([][]*TryCatch, len(in.method.TryCatch))
	closeRange := func(k int) {
		end := bytecode.NewLabel()
		list.Add(end)
		tc := in.method.TryCatch[k]
		handler := tc.Handler
		if c, ok := labels[handler]; ok {
			handler = c
		}
		added[k] = append(added[k], &TryCatch{Start: ranges[k], End: end, Handler: handler, Type: tc.Type})
		ranges[k] = nil
	}

	for i, insn := range in.snap {
		if bytecode.IsPseudo(insn) {
			if _, isFrame := insn.(*bytecode.Frame); isFrame {
				continue
			}
			if in.next[i] < len(in.snap) && member[in.next[i]] {
				list.Add(bytecode.Clone(insn, labels))
			}
			continue
		}
		if !member[i] {
			continue
		}
		for k, tc := range in.method.TryCatch {
			covered := in.covers(tc, i)
			switch {
			case covered && ranges[k] == nil:
				ranges[k] = bytecode.NewLabel()
				list.Add(ranges[k])
			case !covered && ranges[k] != nil:
				closeRange(k)
			}
		}
		if insn.Opcode() == bytecode.OpRet {
			list.Add(bytecode.NewJumpInsn(bytecode.OpGoto, back))
		} else {
			list.Add(bytecode.Clone(insn, labels))
		}
	}
	for k := range ranges {
		if ranges[k] != nil {
			closeRange(k)
		}
	}

	entry := labels[call.Target]
	jump := bytecode.NewJumpInsn(bytecode.OpGoto, entry)
	list.InsertBefore(call, bytecode.NewInsn(bytecode.OpAconstNull))
	list.Set(call, jump)
	list.InsertAfter(jump, back)

	var table []*TryCatch
	for k, tc := range in.method.TryCatch {
		table = append(table, tc)
		table = append(table, added[k]...)
	}
	in.method.TryCatch = table
	return nil
}

// covers reports whether snapshot instruction i lies inside tc. Ranges added
// earlier in the round are not in the snapshot and cover nothing.
func (in *inliner) covers(tc *TryCatch, i int) bool {
	s, ok1 := in.pos[tc.Start]
	e, ok2 := in.pos[tc.End]
	return ok1 && ok2 && s < i && i < e
}

// removeUnreachable drops real instructions no execution can reach, and the
// exception ranges left covering nothing.
func removeUnreachable(m *Method) {
	insns := m.Instructions.Slice()
	pos := make(map[bytecode.Instruction]int, len(insns))
	for i, insn := range insns {
		pos[insn] = i
	}
	nextReal := func(i int) int {
		for i < len(insns) && bytecode.IsPseudo(insns[i]) {
			i++
		}
		return i
	}
	target := func(l *bytecode.Label) int {
		if i, ok := pos[l]; ok {
			return nextReal(i)
		}
		return len(insns)
	}

	reached := make([]bool, len(insns))
	var work []int
	mark := func(i int) {
		if i < len(insns) && !reached[i] {
			reached[i] = true
			work = append(work, i)
		}
	}
	mark(nextReal(0))
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		insn := insns[i]
		for _, tc := range m.TryCatch {
			if s, e := pos[tc.Start], pos[tc.End]; s < i && i < e {
				mark(target(tc.Handler))
			}
		}
		switch v := insn.(type) {
		case *bytecode.JumpInsn:
			mark(target(v.Target))
		case *bytecode.TableSwitchInsn:
			mark(target(v.Default))
			for _, l := range v.Targets {
				mark(target(l))
			}
		case *bytecode.LookupSwitchInsn:
			mark(target(v.Default))
			for _, l := range v.Targets {
				mark(target(l))
			}
		}
		if !insn.Opcode().EndsFlow() {
			mark(nextReal(i + 1))
		}
	}

	var live []*TryCatch
	for _, tc := range m.TryCatch {
		s, e := pos[tc.Start], pos[tc.End]
		for i := s + 1; i < e; i++ {
			if reached[i] {
				live = append(live, tc)
				break
			}
		}
	}
	m.TryCatch = live
	for i, insn := range insns {
		if !bytecode.IsPseudo(insn) && !reached[i] {
			m.Instructions.Remove(insn)
		}
	}
}
