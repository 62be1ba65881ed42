package transform

import (
	"fmt"

	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs transformers in a fixed order.
type Pipeline struct {
	Program []ProgramTransformer
	Class   []ClassTransformer
	Method  []MethodTransformer

	// Workers bounds how many classes are processed at once. One gives a
	// sequential run; zero or less means no bound.
	Workers int

	stats *Stats
}

// Stats returns the pipeline's counters, creating them on first use.
func (pl *Pipeline) Stats() *Stats {
	if pl.stats == nil {
		pl.stats = NewStats()
	}
	return pl.stats
}

func (pl *Pipeline) limit(g *errgroup.Group) {
	if pl.Workers > 0 {
		g.SetLimit(pl.Workers)
	}
}

// Run transforms p. The first error aborts the run; p may then be partly
// transformed.
func (pl *Pipeline) Run(p *program.Program) error {
	stats := pl.Stats()

	for _, t := range pl.Program {
		log.Infof("running program pass %s", t.Name())
		ctx := &ProgramContext{counter: counter{pass: t.Name(), stats: stats}, Path: p.Path()}
		if err := t.Transform(p, ctx); err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
	}

	if err := pl.initialise(p); err != nil {
		return err
	}
	if err := pl.transformClasses(p.Classes()); err != nil {
		return err
	}

	for _, t := range pl.Class {
		if err := t.Finish(p); err != nil {
			return fmt.Errorf("%s: finish: %w", t.Name(), err)
		}
	}
	for _, t := range pl.Method {
		if err := t.Finish(p); err != nil {
			return fmt.Errorf("%s: finish: %w", t.Name(), err)
		}
	}
	return nil
}

func (pl *Pipeline) initialise(view program.View) error {
	var g errgroup.Group
	pl.limit(&g)
	initialise := func(name string, l Lifecycle) {
		g.Go(func() error {
			if err := l.Initialise(view); err != nil {
				return fmt.Errorf("%s: initialise: %w", name, err)
			}
			return nil
		})
	}
	for _, t := range pl.Class {
		initialise(t.Name(), t)
	}
	for _, t := range pl.Method {
		initialise(t.Name(), t)
	}
	return g.Wait()
}

func (pl *Pipeline) transformClasses(classes []*classfile.Class) error {
	var g errgroup.Group
	pl.limit(&g)
	for _, c := range classes {
		c := c
		g.Go(func() error { return pl.transformClass(c) })
	}
	return g.Wait()
}

func (pl *Pipeline) transformClass(c *classfile.Class) error {
	for _, t := range pl.Class {
		ctx := &ClassContext{counter: counter{pass: t.Name(), stats: pl.stats}}
		if err := t.Transform(c, ctx); err != nil {
			return fmt.Errorf("%s: %s: %w", t.Name(), c.Name, err)
		}
	}
	if len(pl.Method) == 0 {
		return nil
	}
	for _, m := range c.Methods {
		if !m.HasCode() {
			continue
		}
		for _, t := range pl.Method {
			ctx := &MethodContext{counter: counter{pass: t.Name(), stats: pl.stats}, Class: c}
			if err := t.Transform(m, ctx); err != nil {
				return fmt.Errorf("%s: %s: %w", t.Name(), ctx.Describe(m), err)
			}
		}
	}
	return nil
}
