// Package hierarchy answers common-ancestor queries for types that may be
// defined only in the program being rewritten, only in the host class
// library, or partly in both.
package hierarchy

import (
	"fmt"
	"sync"

	"github.com/chazu/deobby/pkg/classpath"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.hierarchy")

// Object is the universal root type.
const Object = "java/lang/Object"

type node struct {
	super       string
	interfaces  []string
	isInterface bool
}

// Resolver computes nearest common superclasses. Program edges take
// precedence over the library. It is safe for concurrent use.
type Resolver struct {
	lib classpath.Library

	mu      sync.RWMutex
	types   map[string]node
	missing map[string]bool
}

// New returns a resolver over the program types and lib. A nil lib means
// only the builtin JDK table is consulted.
func New(types []*classpath.TypeInfo, lib classpath.Library) *Resolver {
	if lib == nil {
		lib = classpath.Builtin()
	}
	r := &Resolver{lib: lib, types: make(map[string]node, len(types)), missing: make(map[string]bool)}
	for _, t := range types {
		r.types[t.Name] = node{super: t.Super, interfaces: t.Interfaces, isInterface: t.IsInterface}
	}
	return r
}

// Put registers name as a direct subclass of super. The supertype must
// already be known to the resolver or the library.
func (r *Resolver) Put(name, super string) error {
	if _, ok := r.lookup(super); !ok {
		return fmt.Errorf("hierarchy: type %s has unrecognised supertype %s", name, super)
	}
	r.mu.Lock()
	r.types[name] = node{super: super}
	r.mu.Unlock()
	return nil
}

// Contains reports whether name is registered as a program type.
func (r *Resolver) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

func (r *Resolver) lookup(name string) (node, bool) {
	r.mu.RLock()
	n, ok := r.types[name]
	r.mu.RUnlock()
	if ok {
		return n, true
	}
	if t, ok := r.lib.Lookup(name); ok {
		return node{super: t.Super, interfaces: t.Interfaces, isInterface: t.IsInterface}, true
	}
	return node{}, false
}

// resolve is lookup with the unknown-type fallback: a type nobody knows is
// taken to extend Object directly.
func (r *Resolver) resolve(name string) node {
	if n, ok := r.lookup(name); ok {
		return n
	}
	if name == Object {
		return node{}
	}
	r.mu.Lock()
	if !r.missing[name] {
		r.missing[name] = true
		log.Warningf("hierarchy: cannot resolve %s, assuming it extends %s", name, Object)
	}
	r.mu.Unlock()
	return node{super: Object}
}

// superclasses returns name followed by its superclass chain.
func (r *Resolver) superclasses(name string) []string {
	var chain []string
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		chain = append(chain, name)
		name = r.resolve(name).super
	}
	return chain
}

// ancestors returns every supertype of name, itself included.
func (r *Resolver) ancestors(name string) map[string]bool {
	seen := make(map[string]bool)
	work := []string{name}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		info := r.resolve(n)
		work = append(work, info.super)
		work = append(work, info.interfaces...)
	}
	return seen
}

// IsAssignable reports whether a value of type from can be stored in a
// variable of type to.
func (r *Resolver) IsAssignable(to, from string) bool {
	return to == Object || r.ancestors(from)[to]
}

// CommonSuperClass returns the nearest common superclass of a and b.
// Interfaces only ever meet at Object, unless one is assignable to the
// other.
func (r *Resolver) CommonSuperClass(a, b string) string {
	switch {
	case a == b:
		return a
	case r.IsAssignable(b, a):
		return b
	case r.IsAssignable(a, b):
		return a
	}
	if r.resolve(a).isInterface || r.resolve(b).isInterface {
		return Object
	}

	supers := make(map[string]bool)
	for _, s := range r.superclasses(b) {
		supers[s] = true
	}
	for _, s := range r.superclasses(a) {
		if supers[s] {
			return s
		}
	}
	return Object
}

// Missing returns the types that could not be resolved so far.
func (r *Resolver) Missing() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.missing))
	for name := range r.missing {
		out = append(out, name)
	}
	return out
}
