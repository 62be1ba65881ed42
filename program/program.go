// Package program holds the set of classes under transformation.
package program

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/classpath"
	"github.com/chazu/deobby/pkg/hierarchy"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.program")

var (
	ErrDuplicateClass   = errors.New("program: duplicate class")
	ErrClassNotFound    = errors.New("program: class not found")
	ErrUnsupportedInput = errors.New("program: unsupported input")
)

// DefaultMaxResourceSize caps the copy of each non-class archive entry.
const DefaultMaxResourceSize = 64 << 20

// Options configure how a program is read and written.
type Options struct {
	// Library resolves types outside the program. Nil means the builtin
	// JDK table.
	Library classpath.Library
	// MaxResourceSize caps every archive entry read or copied. Zero means
	// DefaultMaxResourceSize.
	MaxResourceSize int64
}

func (o Options) withDefaults() Options {
	if o.Library == nil {
		o.Library = classpath.Builtin()
	}
	if o.MaxResourceSize <= 0 {
		o.MaxResourceSize = DefaultMaxResourceSize
	}
	return o
}

// View is the read-only face of a Program handed to analyses.
type View interface {
	// Classes returns every class sorted by name.
	Classes() []*classfile.Class
	Class(name string) (*classfile.Class, bool)
	Lookup(name string) (*classfile.Class, error)
	Contains(name string) bool
	Len() int
	Library() classpath.Library
	Path() string
}

// Program maps class names to classes. It is not safe for concurrent
// mutation; the pipeline only mutates it from sequential phases.
type Program struct {
	path      string
	archive   bool
	classes   map[string]*classfile.Class
	resources []string
	opts      Options
}

var _ View = (*Program)(nil)

// New builds a program from classes already in memory. Subroutines are
// inlined in every method.
func New(opts Options, classes ...*classfile.Class) (*Program, error) {
	p := &Program{classes: make(map[string]*classfile.Class, len(classes)), opts: opts.withDefaults()}
	for _, c := range classes {
		if err := p.Add(c); err != nil {
			return nil, err
		}
		if err := normalize(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func normalize(c *classfile.Class) error {
	for _, m := range c.Methods {
		if !m.HasCode() {
			continue
		}
		changed, err := classfile.InlineSubroutines(m)
		if err != nil {
			return fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
		}
		if changed {
			log.Debugf("inlined subroutines in %s.%s%s", c.Name, m.Name, m.Desc)
		}
	}
	return nil
}

// Path returns the file the program was read from, if any.
func (p *Program) Path() string { return p.path }

// Library returns the host class library.
func (p *Program) Library() classpath.Library { return p.opts.Library }

// Len returns the number of classes.
func (p *Program) Len() int { return len(p.classes) }

// Contains reports whether a class named name exists.
func (p *Program) Contains(name string) bool {
	_, ok := p.classes[name]
	return ok
}

// Class returns the class named name.
func (p *Program) Class(name string) (*classfile.Class, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// Lookup is Class with an error for absent classes.
func (p *Program) Lookup(name string) (*classfile.Class, error) {
	c, ok := p.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return c, nil
}

func (p *Program) Classes() []*classfile.Class {
	out := make([]*classfile.Class, 0, len(p.classes))
	for _, c := range p.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add inserts c. A class of the same name must not already exist.
func (p *Program) Add(c *classfile.Class) error {
	if _, dup := p.classes[c.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}
	p.classes[c.Name] = c
	return nil
}

// Remove deletes the class named name. References to it elsewhere are the
// caller's concern.
func (p *Program) Remove(name string) error {
	if _, ok := p.classes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	delete(p.classes, name)
	return nil
}

// Replace swaps in c for the existing class of the same name.
func (p *Program) Replace(c *classfile.Class) error {
	if _, ok := p.classes[c.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrClassNotFound, c.Name)
	}
	p.classes[c.Name] = c
	return nil
}

// Types describes every class for hierarchy resolution.
func (p *Program) Types() []*classpath.TypeInfo {
	classes := p.Classes()
	out := make([]*classpath.TypeInfo, len(classes))
	for i, c := range classes {
		out[i] = classpath.FromClass(c)
	}
	return out
}

// Hierarchy returns a common-ancestor resolver over the program's current
// classes and its library.
func (p *Program) Hierarchy() *hierarchy.Resolver {
	return hierarchy.New(p.Types(), p.opts.Library)
}
