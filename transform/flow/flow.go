// Package flow removes opaque predicates: branches on static fields
// ("obstructors") that obfuscators initialize to a constant false value.
package flow

import (
	"sort"
	"sync"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/program"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform.flow")

var (
	initializerPattern = match.MustCompile("(GETSTATIC | ILOAD) IFEQ (((GETSTATIC ISTORE)? IINC ILOAD) | ((GETSTATIC | ILOAD) IFEQ ICONST GOTO ICONST)) PUTSTATIC")
	predicatePattern   = match.MustCompile("(GETSTATIC | ILOAD) (IFEQ | IFNE)")
	storePattern       = match.MustCompile("GETSTATIC ISTORE")
)

// Transformer is the opaque-predicate pass.
type Transformer struct {
	obstructors  map[bytecode.FieldRef]bool
	initializers map[bytecode.MethodRef][]match.Match

	mu      sync.Mutex
	removed []bytecode.FieldRef
}

func (*Transformer) Name() string { return "opaque-predicates" }

func (t *Transformer) Initialise(p program.View) error {
	t.obstructors = make(map[bytecode.FieldRef]bool)
	t.initializers = make(map[bytecode.MethodRef][]match.Match)

	for _, c := range p.Classes() {
		for _, m := range c.Methods {
			if !m.HasCode() {
				continue
			}
			matches := match.New(m.Instructions).Match(initializerPattern)
			if len(matches) == 0 {
				continue
			}
			for _, mt := range matches {
				t.obstructors[mt.Last().(*bytecode.FieldInsn).Ref()] = true
			}
			t.initializers[c.Ref(m)] = matches
			log.Debugf("found %d obstructor initializers in %s.%s%s", len(matches), c.Name, m.Name, m.Desc)
		}
	}
	log.Infof("identified %d obstructors", len(t.obstructors))
	return nil
}

func (t *Transformer) isObstructor(insn bytecode.Instruction) bool {
	get, ok := insn.(*bytecode.FieldInsn)
	return ok && get.Op == bytecode.OpGetstatic && t.obstructors[get.Ref()]
}

func (t *Transformer) Transform(m *classfile.Method, ctx *transform.MethodContext) error {
	list := m.Instructions

	// The first two instructions of an initializer stay; they may feed
	// code before it.
	for _, mt := range t.initializers[ctx.Class.Ref(m)] {
		for _, insn := range mt[2:] {
			if list.Contains(insn) {
				list.Remove(insn)
			}
		}
		ctx.Count("initializer", 1)
	}

	matcher := match.New(list)
	stores := matcher.Match(storePattern)
	loadsObstructor := func(mt match.Match) bool {
		load := mt.First()
		if load.Opcode() == bytecode.OpGetstatic {
			return t.isObstructor(load)
		}
		slot := load.(*bytecode.VarInsn).Var
		for _, st := range stores {
			if st[1].(*bytecode.VarInsn).Var == slot && t.isObstructor(st[0]) {
				return true
			}
		}
		return false
	}

	predicates := matcher.MatchFunc(predicatePattern, loadsObstructor)
	for _, mt := range predicates {
		load, branch := mt[0], mt[1].(*bytecode.JumpInsn)
		switch branch.Op {
		case bytecode.OpIfeq:
			list.Remove(load)
			branch.Op = bytecode.OpGoto
		case bytecode.OpIfne:
			list.Remove(load, branch)
		}
	}

	dropped := 0
	for _, st := range stores {
		if t.isObstructor(st[0]) {
			list.Remove(st[0], st[1])
			dropped++
		}
	}

	if len(predicates) > 0 {
		log.Debugf("removed %d opaque predicates from %s", len(predicates), ctx.Describe(m))
	}
	ctx.Count("predicate", len(predicates))
	ctx.Count("store", dropped)
	return nil
}

// Finish deletes the obstructor fields. Every method has been rewritten
// by now, so nothing reads them any more.
func (t *Transformer) Finish(p *program.Program) error {
	for _, ref := range t.Obstructors() {
		c, ok := p.Class(ref.Owner)
		if !ok {
			log.Warningf("obstructor %s belongs to a class outside the program", ref)
			continue
		}
		if c.RemoveField(ref.Name, ref.Desc) {
			t.mu.Lock()
			t.removed = append(t.removed, ref)
			t.mu.Unlock()
		}
	}
	log.Infof("removed %d obstructor fields", len(t.removed))
	return nil
}

// Obstructors returns the fields identified by Initialise, sorted.
func (t *Transformer) Obstructors() []bytecode.FieldRef {
	out := make([]bytecode.FieldRef, 0, len(t.obstructors))
	for ref := range t.obstructors {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RemovedFields returns the obstructor fields Finish deleted.
func (t *Transformer) RemovedFields() []bytecode.FieldRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bytecode.FieldRef(nil), t.removed...)
}
