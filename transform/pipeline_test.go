package transform

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

type recordingProgram struct{ log *recorder }

func (t recordingProgram) Name() string { return "prog" }
func (t recordingProgram) Transform(p *program.Program, ctx *ProgramContext) error {
	t.log.add("program")
	return nil
}

type recordingClass struct {
	log *recorder
	err error
}

func (t recordingClass) Name() string { return "cls" }
func (t recordingClass) Initialise(p program.View) error {
	t.log.add("init class")
	return nil
}
func (t recordingClass) Transform(c *classfile.Class, ctx *ClassContext) error {
	t.log.add("class " + c.Name)
	return t.err
}
func (t recordingClass) Finish(p *program.Program) error {
	t.log.add("finish class")
	return nil
}

type recordingMethod struct {
	Stateless
	log *recorder
}

func (t recordingMethod) Name() string { return "meth" }
func (t recordingMethod) Transform(m *classfile.Method, ctx *MethodContext) error {
	t.log.add("method " + ctx.Describe(m))
	ctx.Count("visited", 1)
	return nil
}

func testProgram(t *testing.T) *program.Program {
	t.Helper()
	var classes []*classfile.Class
	for _, name := range []string{"a/A", "a/B"} {
		c := classfile.NewClass(52, classfile.AccPublic|classfile.AccSuper, name, "java/lang/Object")
		run := classfile.NewMethod(classfile.AccPublic, "run", "()V")
		run.Instructions.Add(bytecode.NewInsn(bytecode.OpReturn))
		c.Methods = append(c.Methods, run, classfile.NewMethod(classfile.AccPublic|classfile.AccNative, "peek", "()I"))
		classes = append(classes, c)
	}
	p, err := program.New(program.Options{}, classes...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPipelineOrder(t *testing.T) {
	rec := &recorder{}
	pl := &Pipeline{
		Program: []ProgramTransformer{recordingProgram{rec}},
		Class:   []ClassTransformer{recordingClass{log: rec}},
		Method:  []MethodTransformer{recordingMethod{log: rec}},
		Workers: 1,
	}
	if err := pl.Run(testProgram(t)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"program",
		"init class",
		"class a/A", "method a/A.run()V",
		"class a/B", "method a/B.run()V",
		"finish class",
	}
	if strings.Join(rec.events, "\n") != strings.Join(want, "\n") {
		t.Errorf("events:\n%s\nwant:\n%s", strings.Join(rec.events, "\n"), strings.Join(want, "\n"))
	}

	if got := testutil.ToFloat64(pl.Stats().Counter("meth", "visited")); got != 2 {
		t.Errorf("visited counter = %v, want 2", got)
	}
	snap, err := pl.Stats().Snapshot()
	if err != nil || len(snap) != 1 || snap[0].Pass != "meth" || snap[0].Count != 2 {
		t.Errorf("Snapshot() = %+v, %v", snap, err)
	}
}

func TestPipelineParallelVisitsEveryMethod(t *testing.T) {
	rec := &recorder{}
	pl := &Pipeline{Method: []MethodTransformer{recordingMethod{log: rec}}, Workers: 8}
	if err := pl.Run(testProgram(t)); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 2 {
		t.Errorf("visited %d methods, want 2: %v", len(rec.events), rec.events)
	}
}

func TestPipelineAbortsOnError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	pl := &Pipeline{
		Class:   []ClassTransformer{recordingClass{log: rec, err: boom}},
		Workers: 1,
	}
	err := pl.Run(testProgram(t))
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want boom", err)
	}
	for _, e := range rec.events {
		if e == "finish class" {
			t.Error("Finish ran after a failed transform")
		}
	}
}
