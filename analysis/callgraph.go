// Package analysis holds whole-program analyses shared by passes.
package analysis

import (
	"context"
	"sort"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/program"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("deobby.analysis")

var invokePattern = match.MustCompile("methodinsnnode")

type refSet map[bytecode.MethodRef]struct{}

func (s refSet) sorted() []bytecode.MethodRef {
	out := make([]bytecode.MethodRef, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sortRefs(out)
	return out
}

func sortRefs(refs []bytecode.MethodRef) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Desc < b.Desc
	})
}

// CallGraph maps methods to their call sites by structural reference.
// Every method of the program has an entry, called or not. Method handles,
// whether loaded by LDC or passed to a bootstrap method, count as calls. It
// is read-only once built.
type CallGraph struct {
	callers map[bytecode.MethodRef]refSet
	callees map[bytecode.MethodRef]refSet
	opaque  map[string]bool
}

type edge struct{ caller, callee bytecode.MethodRef }

// scan is what one class contributes to the graph.
type scan struct {
	edges []edge
	// opaque is set when a dynamic call site or constant names a bootstrap
	// method that cannot be read, so its handles are unknown.
	opaque bool
}

// BuildCallGraph scans every method of p for invocations. Classes are
// scanned concurrently, at most workers at a time; workers < 1 means no
// limit.
func BuildCallGraph(ctx context.Context, p program.View, workers int) (*CallGraph, error) {
	classes := p.Classes()
	found := make([]scan, len(classes))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, c := range classes {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			found[i] = scanClass(p, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cg := &CallGraph{
		callers: make(map[bytecode.MethodRef]refSet),
		callees: make(map[bytecode.MethodRef]refSet),
		opaque:  make(map[string]bool),
	}
	for _, c := range classes {
		for _, m := range c.Methods {
			cg.ensure(c.Ref(m))
		}
	}
	edges := 0
	for i, s := range found {
		for _, e := range s.edges {
			cg.add(e.caller, e.callee)
			edges++
		}
		if s.opaque {
			cg.opaque[classes[i].Name] = true
		}
	}
	log.Debugf("call graph: %d methods, %d call sites, %d classes with unreadable bootstrap methods",
		len(cg.callers), edges, len(cg.opaque))
	return cg, nil
}

func scanClass(p program.View, c *classfile.Class) scan {
	var s scan
	link := func(caller, callee bytecode.MethodRef) {
		s.edges = append(s.edges, edge{caller, callee})
		if decl, ok := Declaration(p, callee); ok && decl != callee {
			s.edges = append(s.edges, edge{caller, decl})
		}
	}
	linkHandle := func(caller bytecode.MethodRef, h bytecode.Handle) {
		if h.Kind >= classfile.RefInvokeVirtual {
			link(caller, bytecode.MethodRef{Owner: h.Owner, Name: h.Name, Desc: h.Desc})
		}
	}

	bsms, err := c.BootstrapMethods()
	if err != nil {
		log.Warningf("%s: %v", c.Name, err)
	}
	// linkBootstrap follows bootstrap method i, its handle arguments, and
	// the dynamic constants among its arguments.
	var linkBootstrap func(caller bytecode.MethodRef, i int, seen map[int]bool)
	linkBootstrap = func(caller bytecode.MethodRef, i int, seen map[int]bool) {
		if seen[i] {
			return
		}
		seen[i] = true
		if err != nil || i < 0 || i >= len(bsms) {
			s.opaque = true
			return
		}
		linkHandle(caller, bsms[i].Method)
		for _, arg := range bsms[i].Args {
			switch v := arg.(type) {
			case bytecode.Handle:
				linkHandle(caller, v)
			case bytecode.Dynamic:
				linkBootstrap(caller, v.Bootstrap, seen)
			}
		}
	}

	for _, m := range c.Methods {
		if !m.HasCode() {
			continue
		}
		caller := c.Ref(m)
		for _, site := range match.MatchList(m.Instructions, invokePattern) {
			if call, ok := site.First().(*bytecode.MethodInsn); ok {
				link(caller, call.Ref())
			}
		}
		for _, insn := range m.Instructions.Real() {
			switch v := insn.(type) {
			case *bytecode.InvokeDynamicInsn:
				linkBootstrap(caller, v.Bootstrap, make(map[int]bool))
			case *bytecode.LdcInsn:
				switch k := v.Value.(type) {
				case bytecode.Handle:
					linkHandle(caller, k)
				case bytecode.Dynamic:
					linkBootstrap(caller, k.Bootstrap, make(map[int]bool))
				}
			}
		}
	}
	return s
}

func (cg *CallGraph) ensure(ref bytecode.MethodRef) {
	if _, ok := cg.callers[ref]; !ok {
		cg.callers[ref] = make(refSet)
	}
	if _, ok := cg.callees[ref]; !ok {
		cg.callees[ref] = make(refSet)
	}
}

func (cg *CallGraph) add(caller, callee bytecode.MethodRef) {
	cg.ensure(caller)
	cg.ensure(callee)
	cg.callers[callee][caller] = struct{}{}
	cg.callees[caller][callee] = struct{}{}
}

// Contains reports whether ref has an entry.
func (cg *CallGraph) Contains(ref bytecode.MethodRef) bool {
	_, ok := cg.callers[ref]
	return ok
}

// Callers returns the methods that invoke ref, sorted.
func (cg *CallGraph) Callers(ref bytecode.MethodRef) []bytecode.MethodRef {
	return cg.callers[ref].sorted()
}

// Callees returns the methods ref invokes, sorted.
func (cg *CallGraph) Callees(ref bytecode.MethodRef) []bytecode.MethodRef {
	return cg.callees[ref].sorted()
}

// Methods returns every method with an entry, sorted. Library methods
// appear once something calls them.
func (cg *CallGraph) Methods() []bytecode.MethodRef {
	out := make([]bytecode.MethodRef, 0, len(cg.callers))
	for r := range cg.callers {
		out = append(out, r)
	}
	sortRefs(out)
	return out
}

// Opaque reports whether class has a dynamic call site or constant whose
// bootstrap method could not be read, hiding the methods it links to.
func (cg *CallGraph) Opaque(class string) bool { return cg.opaque[class] }

// Unused reports whether ref is never called, or only by itself.
func (cg *CallGraph) Unused(ref bytecode.MethodRef) bool {
	callers := cg.callers[ref]
	switch len(callers) {
	case 0:
		return true
	case 1:
		_, self := callers[ref]
		return self
	}
	return false
}

// Declaration resolves a call target to the program method it binds to:
// the owner's own declaration, or the first one found up its superclass
// chain and then its interfaces. It fails when no program class declares
// the method.
func Declaration(p program.View, ref bytecode.MethodRef) (bytecode.MethodRef, bool) {
	seen := make(map[string]bool)
	work := []string{ref.Owner}
	for len(work) > 0 {
		name := work[0]
		work = work[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		c, ok := p.Class(name)
		if !ok {
			continue
		}
		if c.Method(ref.Name, ref.Desc) != nil {
			return bytecode.MethodRef{Owner: c.Name, Name: ref.Name, Desc: ref.Desc}, true
		}
		if c.Super != "" {
			work = append(work, c.Super)
		}
		work = append(work, c.Interfaces...)
	}
	return bytecode.MethodRef{}, false
}
