package deob

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
	"github.com/chazu/deobby/report"
	"github.com/chazu/deobby/transform/dead"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func static(name, desc string, insns ...bytecode.Instruction) *classfile.Method {
	m := classfile.NewMethod(classfile.AccPublic|classfile.AccStatic, name, desc)
	m.Instructions.Add(insns...)
	return m
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	c := classfile.NewClass(52, classfile.AccPublic|classfile.AccSuper, "a/Main", "java/lang/Object")
	c.Methods = []*classfile.Method{
		static("main", "([Ljava/lang/String;)V",
			bytecode.NewInsn(bytecode.OpIconst1),
			bytecode.NewIntInsn(bytecode.OpBipush, 33),
			bytecode.NewInsn(bytecode.OpIshl),
			bytecode.NewInsn(bytecode.OpPop),
			bytecode.NewMethodInsn(bytecode.OpInvokestatic, "a/Main", "used", "()V", false),
			bytecode.NewInsn(bytecode.OpReturn)),
		static("used", "()V", bytecode.NewInsn(bytecode.OpReturn)),
		static("unused", "()V", bytecode.NewInsn(bytecode.OpReturn)),
	}
	data, err := classfile.Encode(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "in.jar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("a/Main.class")
	if err != nil {
		t.Fatal(err)
	}
	w.Write(data)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func allPasses() []string {
	return []string{"exception-tracing", "opaque-predicates", "bit-shift", "bit-mask", "dead-methods"}
}

func TestNewSessionSortsPassesByUnit(t *testing.T) {
	s, err := NewSession(Options{Passes: allPasses(), Workers: 2})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	pl := s.Pipeline()
	if len(pl.Class) != 1 || pl.Class[0].Name() != "dead-methods" {
		t.Errorf("class passes = %v", pl.Class)
	}
	var methods []string
	for _, m := range pl.Method {
		methods = append(methods, m.Name())
	}
	want := []string{"exception-tracing", "opaque-predicates", "bit-shift", "bit-mask"}
	if len(methods) != len(want) {
		t.Fatalf("method passes = %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("method passes = %v, want %v", methods, want)
			break
		}
	}
	if pl.Workers != 2 {
		t.Errorf("Workers = %d, want 2", pl.Workers)
	}
}

func TestNewSessionRejectsBadPasses(t *testing.T) {
	_, err := NewSession(Options{Passes: []string{"bit-shift", "inline-everything"}})
	var unknown *UnknownPassError
	if !errors.As(err, &unknown) || unknown.Name != "inline-everything" {
		t.Errorf("error = %v, want UnknownPassError", err)
	}

	if _, err := NewSession(Options{Passes: []string{"bit-mask", "bit-mask"}}); err == nil {
		t.Error("duplicate pass accepted")
	}
}

func TestPassesAreSorted(t *testing.T) {
	names := Passes()
	if len(names) != 5 {
		t.Fatalf("Passes() = %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Passes() not sorted: %v", names)
		}
	}
}

func TestSessionRun(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	output := filepath.Join(dir, "out.jar")

	s, err := NewSession(Options{Passes: allPasses(), Workers: 1, Policy: dead.Conservative})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), input, output)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != output {
		t.Errorf("Output = %q, want %q", res.Output, output)
	}

	p, err := program.Open(output, program.Options{})
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	c, err := p.Lookup("a/Main")
	if err != nil {
		t.Fatal(err)
	}
	if c.Method("unused", "()V") != nil {
		t.Error("unused method survived")
	}
	if c.Method("used", "()V") == nil {
		t.Error("called method was removed")
	}
	main := c.Method("main", "([Ljava/lang/String;)V")
	if main == nil {
		t.Fatal("entry point was removed")
	}
	if push := main.Instructions.Real()[1]; push.Opcode() != bytecode.OpIconst1 {
		t.Errorf("shift distance = %s, want ICONST_1", bytecode.Format(push))
	}

	if got := testutil.ToFloat64(res.Stats.Counter("bit-shift", "shift")); got != 1 {
		t.Errorf("bit-shift/shift = %v, want 1", got)
	}
	if got := testutil.ToFloat64(res.Stats.Counter("dead-methods", "method")); got != 1 {
		t.Errorf("dead-methods/method = %v, want 1", got)
	}
	if len(res.Run.Removed) != 1 || res.Run.Removed[0].Name != "unused" {
		t.Errorf("Run.Removed = %v", res.Run.Removed)
	}
	if res.Run.Graph == nil || res.Run.Classes != 1 {
		t.Errorf("Run = %+v", res.Run)
	}

	db := filepath.Join(dir, "report.db")
	metrics := filepath.Join(dir, "deobby.prom")
	if err := res.Save(context.Background(), db, metrics); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rdb, err := report.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()
	removed, err := rdb.Removed(context.Background(), 1)
	if err != nil || len(removed) != 1 {
		t.Errorf("stored removals = %v, %v", removed, err)
	}
	if _, err := os.Stat(metrics); err != nil {
		t.Errorf("metrics file missing: %v", err)
	}
}

func TestSessionRunHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := NewSession(Options{Passes: []string{"bit-shift"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(ctx, input, filepath.Join(dir, "out.jar")); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.jar")); !os.IsNotExist(err) {
		t.Error("cancelled run wrote output")
	}
}
