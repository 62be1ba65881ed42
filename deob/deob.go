// Package deob assembles the rewrite passes into a pipeline and runs it
// over a program from input to output.
package deob

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chazu/deobby/pkg/classpath"
	"github.com/chazu/deobby/program"
	"github.com/chazu/deobby/report"
	"github.com/chazu/deobby/transform"
	"github.com/chazu/deobby/transform/dead"
	"github.com/chazu/deobby/transform/exception"
	"github.com/chazu/deobby/transform/flow"
	"github.com/chazu/deobby/transform/mask"
	"github.com/chazu/deobby/transform/shift"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby")

// UnknownPassError is returned for a pass name that is not registered.
type UnknownPassError struct {
	Name string
}

func (e *UnknownPassError) Error() string {
	return fmt.Sprintf("unknown pass %q (known: %v)", e.Name, Passes())
}

// factory builds a fresh pass. Passes carry per-run state, so every
// session gets its own.
type factory func(opts Options) transform.Named

var registry = map[string]factory{
	"exception-tracing": func(Options) transform.Named { return exception.Transformer{} },
	"opaque-predicates": func(Options) transform.Named { return &flow.Transformer{} },
	"bit-shift":         func(Options) transform.Named { return shift.Transformer{} },
	"bit-mask":          func(Options) transform.Named { return mask.Transformer{} },
	"dead-methods":      newDeadMethods,
}

func newDeadMethods(opts Options) transform.Named {
	return &dead.Transformer{Policy: opts.Policy, Workers: opts.Workers}
}

// Passes returns the registered pass names, sorted.
func Passes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckPasses reports the first unknown or repeated pass name.
func CheckPasses(names []string) error {
	seen := make(map[string]bool)
	for _, name := range names {
		if _, ok := registry[name]; !ok {
			return &UnknownPassError{Name: name}
		}
		if seen[name] {
			return fmt.Errorf("pass %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Options configures a session.
type Options struct {
	Passes          []string // in order; program, class and method passes keep their relative order
	Workers         int
	Policy          dead.Policy
	Library         classpath.Library
	MaxResourceSize int64
}

// Session is a configured pipeline. It runs once.
type Session struct {
	opts     Options
	pipeline *transform.Pipeline

	dead *dead.Transformer
	flow *flow.Transformer
}

// NewSession validates the pass list and builds the pipeline.
func NewSession(opts Options) (*Session, error) {
	if err := CheckPasses(opts.Passes); err != nil {
		return nil, err
	}
	s := &Session{opts: opts, pipeline: &transform.Pipeline{Workers: opts.Workers}}
	for _, name := range opts.Passes {
		switch t := registry[name](opts).(type) {
		case transform.ProgramTransformer:
			s.pipeline.Program = append(s.pipeline.Program, t)
		case transform.ClassTransformer:
			s.pipeline.Class = append(s.pipeline.Class, t)
		case transform.MethodTransformer:
			s.pipeline.Method = append(s.pipeline.Method, t)
		default:
			return nil, fmt.Errorf("pass %q has no transform", name)
		}
	}

	for _, t := range s.pipeline.Class {
		if d, ok := t.(*dead.Transformer); ok {
			s.dead = d
		}
	}
	for _, t := range s.pipeline.Method {
		if f, ok := t.(*flow.Transformer); ok {
			s.flow = f
		}
	}
	return s, nil
}

// Pipeline exposes the assembled pipeline.
func (s *Session) Pipeline() *transform.Pipeline { return s.pipeline }

// Result describes a finished run.
type Result struct {
	Output string
	Run    *report.Run
	Stats  *transform.Stats
}

// Run reads input, transforms it and writes the result to output (or back
// to input when output is empty).
func (s *Session) Run(ctx context.Context, input, output string) (*Result, error) {
	started := time.Now()
	p, err := program.Open(input, program.Options{
		Library:         s.opts.Library,
		MaxResourceSize: s.opts.MaxResourceSize,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d classes from %s", p.Len(), input)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.pipeline.Run(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	written, err := p.Write(output)
	if err != nil {
		return nil, err
	}
	log.Infof("wrote %d classes to %s", p.Len(), written)

	return s.result(p, input, written, started)
}

func (s *Session) result(p *program.Program, input, output string, started time.Time) (*Result, error) {
	stats := s.pipeline.Stats()
	snapshot, err := stats.Snapshot()
	if err != nil {
		return nil, err
	}
	run := &report.Run{
		Input:    input,
		Output:   output,
		Started:  started,
		Duration: time.Since(started),
		Passes:   append([]string(nil), s.opts.Passes...),
		Classes:  p.Len(),
		Stats:    snapshot,
	}
	if s.dead != nil {
		run.Graph = s.dead.CallGraph()
		run.Removed = s.dead.Removed()
	}
	if s.flow != nil {
		run.Obstructors = s.flow.Obstructors()
		run.Fields = s.flow.RemovedFields()
	}
	return &Result{Output: output, Run: run, Stats: stats}, nil
}

// Save records the result in the report database and the metrics textfile.
// Empty paths are skipped.
func (r *Result) Save(ctx context.Context, database, metrics string) error {
	if database != "" {
		db, err := report.Open(database)
		if err != nil {
			return err
		}
		_, err = db.Record(ctx, r.Run)
		if cerr := db.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	if metrics != "" {
		if err := report.WriteMetrics(metrics, r.Stats, r.Run); err != nil {
			return err
		}
	}
	return nil
}
