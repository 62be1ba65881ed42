package classpath

import (
	"sort"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.classpath")

// TypeInfo is what whole-program analyses need to know about a class that
// is not part of the program: its place in the hierarchy and the methods
// it declares.
type TypeInfo struct {
	Name        string   `cbor:"1,keyasint" toml:"name"`
	Super       string   `cbor:"2,keyasint,omitempty" toml:"super"`
	Interfaces  []string `cbor:"3,keyasint,omitempty" toml:"interfaces"`
	IsInterface bool     `cbor:"4,keyasint,omitempty" toml:"interface"`
	Methods     []string `cbor:"5,keyasint,omitempty" toml:"methods"` // name followed by descriptor
}

// Declares reports whether the type declares the method name+desc.
func (t *TypeInfo) Declares(id string) bool {
	for _, m := range t.Methods {
		if m == id {
			return true
		}
	}
	return false
}

// Library resolves class names to type information. A miss is not an
// error; callers treat unknown types as resolution gaps. Implementations
// are safe for concurrent use.
type Library interface {
	Lookup(name string) (*TypeInfo, bool)
}

// Index is an in-memory Library. It is immutable once built.
type Index struct {
	types map[string]*TypeInfo
}

// NewIndex returns an index over types. Later duplicates are ignored.
func NewIndex(types ...*TypeInfo) *Index {
	idx := &Index{types: make(map[string]*TypeInfo, len(types))}
	for _, t := range types {
		if _, dup := idx.types[t.Name]; !dup {
			idx.types[t.Name] = t
		}
	}
	return idx
}

func (idx *Index) Lookup(name string) (*TypeInfo, bool) {
	t, ok := idx.types[name]
	return t, ok
}

// Len returns the number of types.
func (idx *Index) Len() int { return len(idx.types) }

// Types returns the indexed types sorted by name.
func (idx *Index) Types() []*TypeInfo {
	out := make([]*TypeInfo, 0, len(idx.types))
	for _, t := range idx.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Chain consults libraries in order; the first hit wins.
type Chain []Library

func (c Chain) Lookup(name string) (*TypeInfo, bool) {
	for _, lib := range c {
		if t, ok := lib.Lookup(name); ok {
			return t, true
		}
	}
	return nil, false
}

// Empty is a Library that knows nothing.
type Empty struct{}

func (Empty) Lookup(string) (*TypeInfo, bool) { return nil, false }

// memo caches lookups, misses included, in front of a slower library.
type memo struct {
	mu    sync.RWMutex
	lib   Library
	known map[string]*TypeInfo
}

// Memoize wraps lib so each name is resolved at most once.
func Memoize(lib Library) Library {
	return &memo{lib: lib, known: make(map[string]*TypeInfo)}
}

func (m *memo) Lookup(name string) (*TypeInfo, bool) {
	m.mu.RLock()
	t, ok := m.known[name]
	m.mu.RUnlock()
	if ok {
		return t, t != nil
	}
	t, found := m.lib.Lookup(name)
	if !found {
		t = nil
	}
	m.mu.Lock()
	m.known[name] = t
	m.mu.Unlock()
	return t, found
}
