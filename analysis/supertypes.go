package analysis

import (
	"strings"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/program"
)

// Inherited is the result of walking a class's supertypes.
type Inherited struct {
	// Methods holds every name and descriptor declared by a supertype.
	Methods map[bytecode.MethodID]bool
	// Missing lists supertypes found neither in the program nor in the
	// library, in discovery order. When it is non-empty Methods is partial.
	Missing []string
}

// Complete reports whether every supertype was resolved.
func (in *Inherited) Complete() bool { return len(in.Missing) == 0 }

// InheritedMethods walks the superclasses and interfaces of the class
// named name, transitively, through program classes first and the library
// second. The class's own methods are not included.
func InheritedMethods(p program.View, name string) *Inherited {
	in := &Inherited{Methods: make(map[bytecode.MethodID]bool)}
	lib := p.Library()
	seen := map[string]bool{name: true}

	var work []string
	push := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				work = append(work, n)
			}
		}
	}

	if c, ok := p.Class(name); ok {
		push(c.Super)
		push(c.Interfaces...)
	} else if t, ok := lib.Lookup(name); ok {
		push(t.Super)
		push(t.Interfaces...)
	}

	for len(work) > 0 {
		n := work[0]
		work = work[1:]

		if c, ok := p.Class(n); ok {
			for _, m := range c.Methods {
				in.Methods[bytecode.MethodID{Name: m.Name, Desc: m.Desc}] = true
			}
			push(c.Super)
			push(c.Interfaces...)
			continue
		}
		if t, ok := lib.Lookup(n); ok {
			for _, id := range t.Methods {
				if mid, ok := parseMethodID(id); ok {
					in.Methods[mid] = true
				}
			}
			push(t.Super)
			push(t.Interfaces...)
			continue
		}
		log.Warningf("supertype %s of %s could not be resolved", n, name)
		in.Missing = append(in.Missing, n)
	}
	return in
}

func parseMethodID(s string) (bytecode.MethodID, bool) {
	i := strings.IndexByte(s, '(')
	if i <= 0 {
		return bytecode.MethodID{}, false
	}
	return bytecode.MethodID{Name: s[:i], Desc: s[i:]}, true
}
