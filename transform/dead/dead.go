// Package dead removes methods that nothing calls.
package dead

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/deobby/analysis"
	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform.dead")

// Policy decides what happens to a class whose callers cannot all be seen:
// one with a supertype that cannot be resolved, where overrides cannot be
// told apart from dead methods, or one with a bootstrap method that cannot
// be read.
type Policy int

const (
	// Conservative leaves such classes untouched.
	Conservative Policy = iota
	// Aggressive treats the resolved part of the hierarchy as complete.
	Aggressive
)

// ParsePolicy maps "conservative" and "aggressive" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "conservative":
		return Conservative, nil
	case "aggressive":
		return Aggressive, nil
	}
	return 0, fmt.Errorf("unknown dead method policy %q", s)
}

func (p Policy) String() string {
	if p == Aggressive {
		return "aggressive"
	}
	return "conservative"
}

const mainDesc = "([Ljava/lang/String;)V"

// Transformer is the dead-method pass.
type Transformer struct {
	Policy  Policy
	Workers int

	graph    *analysis.CallGraph
	removals map[bytecode.MethodRef]bool
	skipped  []string

	mu      sync.Mutex
	removed []bytecode.MethodRef
}

func (*Transformer) Name() string { return "dead-methods" }

// retained reports whether m is kept regardless of calls: the program
// entry point and static initializers.
func retained(m *classfile.Method) bool {
	if m.Name == "<clinit>" {
		return true
	}
	return m.Access.IsStatic() && m.Name == "main" && m.Desc == mainDesc
}

func (t *Transformer) Initialise(p program.View) error {
	graph, err := analysis.BuildCallGraph(context.Background(), p, t.Workers)
	if err != nil {
		return err
	}
	t.graph = graph
	t.removals = make(map[bytecode.MethodRef]bool)
	t.skipped = nil

	for _, c := range p.Classes() {
		inherited := analysis.InheritedMethods(p, c.Name)
		if !inherited.Complete() && t.Policy == Conservative {
			log.Warningf("keeping every method of %s: unresolved supertypes %v", c.Name, inherited.Missing)
			t.skipped = append(t.skipped, c.Name)
			continue
		}
		if graph.Opaque(c.Name) && t.Policy == Conservative {
			log.Warningf("keeping every method of %s: unreadable bootstrap methods", c.Name)
			t.skipped = append(t.skipped, c.Name)
			continue
		}

		for _, m := range c.Methods {
			if retained(m) {
				continue
			}
			if !m.Access.IsStatic() && inherited.Methods[bytecode.MethodID{Name: m.Name, Desc: m.Desc}] {
				continue
			}
			ref := c.Ref(m)
			if !graph.Contains(ref) {
				return fmt.Errorf("method %s missing from the call graph", ref)
			}
			if graph.Unused(ref) {
				t.removals[ref] = true
			}
		}
	}
	log.Infof("found %d unused methods, skipped %d classes", len(t.removals), len(t.skipped))
	return nil
}

func (t *Transformer) Transform(c *classfile.Class, ctx *transform.ClassContext) error {
	before := len(c.Methods)
	kept := c.Methods[:0]
	var gone []bytecode.MethodRef
	for _, m := range c.Methods {
		ref := c.Ref(m)
		if t.removals[ref] {
			log.Debugf("removing unused method %s", ref)
			gone = append(gone, ref)
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < before; i++ {
		c.Methods[i] = nil
	}
	c.Methods = kept

	if len(gone) > 0 {
		log.Debugf("removed %d unused methods (out of %d) from %s", len(gone), before, c.Name)
		ctx.Count("method", len(gone))
		t.mu.Lock()
		t.removed = append(t.removed, gone...)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transformer) Finish(*program.Program) error { return nil }

// CallGraph returns the graph built by Initialise.
func (t *Transformer) CallGraph() *analysis.CallGraph { return t.graph }

// Removed returns the methods removed so far, sorted.
func (t *Transformer) Removed() []bytecode.MethodRef {
	t.mu.Lock()
	out := append([]bytecode.MethodRef(nil), t.removed...)
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Skipped returns the classes left alone for unresolved supertypes or
// unreadable bootstrap methods.
func (t *Transformer) Skipped() []string { return t.skipped }
