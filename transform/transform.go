// Package transform runs rewrite passes over a program.
//
// A pass is a program, class or method transformer. Class and method
// transformers follow a three-phase lifecycle: Initialise sees a read-only
// view of the program and may build whole-program analyses; Transform
// mutates only the unit it is handed and may run concurrently with other
// units; Finish runs once, alone, after every unit was transformed and may
// edit the program.
package transform

import (
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform")

// Named identifies a pass in logs and statistics.
type Named interface {
	Name() string
}

// Lifecycle is the setup and teardown shared by class and method
// transformers.
type Lifecycle interface {
	// Initialise must not mutate the program. Initialise calls of
	// different transformers may run concurrently.
	Initialise(p program.View) error
	// Finish runs after all units were transformed.
	Finish(p *program.Program) error
}

// ProgramTransformer rewrites the whole program in one sequential step.
type ProgramTransformer interface {
	Named
	Transform(p *program.Program, ctx *ProgramContext) error
}

// ClassTransformer rewrites one class at a time.
type ClassTransformer interface {
	Named
	Lifecycle
	Transform(c *classfile.Class, ctx *ClassContext) error
}

// MethodTransformer rewrites one method at a time. Methods without code
// are never passed to it.
type MethodTransformer interface {
	Named
	Lifecycle
	Transform(m *classfile.Method, ctx *MethodContext) error
}

// Stateless supplies no-op lifecycle methods for passes that need no
// whole-program context.
type Stateless struct{}

func (Stateless) Initialise(program.View) error { return nil }
func (Stateless) Finish(*program.Program) error { return nil }

type counter struct {
	pass  string
	stats *Stats
}

// Count records n occurrences of action for the running pass.
func (c counter) Count(action string, n int) {
	if n > 0 && c.stats != nil {
		c.stats.Add(c.pass, action, n)
	}
}

// ProgramContext is handed to program transformers.
type ProgramContext struct {
	counter
	Path string
}

// ClassContext is handed to class transformers.
type ClassContext struct {
	counter
}

// MethodContext is handed to method transformers.
type MethodContext struct {
	counter
	// Class owns the method being transformed. It must not be modified.
	Class *classfile.Class
}

// Describe names m for log messages.
func (c *MethodContext) Describe(m *classfile.Method) string {
	return c.Class.Name + "." + m.Name + m.Desc
}
