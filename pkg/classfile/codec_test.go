package classfile

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
)

func TestRoundTripPreservesInstructions(t *testing.T) {
	l1, l2 := bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccPublic|AccStatic, "compute", "(I)I",
		bytecode.NewFieldInsn(bytecode.OpGetstatic, "java/lang/System", "out", "Ljava/io/PrintStream;"),
		bytecode.NewLdcInsn(bytecode.String("hello")),
		bytecode.NewMethodInsn(bytecode.OpInvokevirtual, "java/io/PrintStream", "println", "(Ljava/lang/String;)V", false),
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.NewInsn(bytecode.OpIadd),
		bytecode.NewIntInsn(bytecode.OpBipush, -100),
		bytecode.NewInsn(bytecode.OpImul),
		bytecode.NewIntInsn(bytecode.OpSipush, 1000),
		bytecode.NewInsn(bytecode.OpIadd),
		bytecode.NewLdcInsn(bytecode.Int(70000)),
		bytecode.NewInsn(bytecode.OpIxor),
		bytecode.NewVarInsn(bytecode.OpIstore, 0),
		bytecode.NewLdcInsn(bytecode.Long(1<<40)),
		bytecode.NewInsn(bytecode.OpPop2),
		bytecode.NewIincInsn(0, 3),
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, l1),
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpGoto, l2),
		l1,
		bytecode.NewInsn(bytecode.OpIconstM1),
		l2,
		bytecode.NewInsn(bytecode.OpIreturn),
	)
	want := bytecode.Disassemble(m.Instructions)

	out := roundTrip(t, newTestClass(52, m))
	got := out.Method("compute", "(I)I")
	if got == nil {
		t.Fatal("method compute missing after round trip")
	}
	if s := bytecode.Disassemble(got.Instructions); s != want {
		t.Errorf("round trip changed the body:\n%s\nwant:\n%s", s, want)
	}
	if got.MaxStack != 2 || got.MaxLocals != 1 {
		t.Errorf("max stack/locals = %d/%d, want 2/1", got.MaxStack, got.MaxLocals)
	}
}

func TestRoundTripWideLocals(t *testing.T) {
	m := newTestMethod(AccStatic, "wide", "()V",
		bytecode.NewInsn(bytecode.OpIconst0),
		bytecode.NewVarInsn(bytecode.OpIstore, 300),
		bytecode.NewIincInsn(300, 1000),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	out := roundTrip(t, newTestClass(52, m)).Method("wide", "()V")
	reals := out.Instructions.Real()
	if v, ok := reals[1].(*bytecode.VarInsn); !ok || v.Var != 300 {
		t.Errorf("store = %s, want ISTORE 300", bytecode.Format(reals[1]))
	}
	if v, ok := reals[2].(*bytecode.IincInsn); !ok || v.Var != 300 || v.Incr != 1000 {
		t.Errorf("iinc = %s, want IINC 300 1000", bytecode.Format(reals[2]))
	}
	if out.MaxLocals != 301 {
		t.Errorf("MaxLocals = %d, want 301", out.MaxLocals)
	}
}

func TestRoundTripSwitches(t *testing.T) {
	a, b, dflt := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccStatic, "pick", "(I)I",
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewTableSwitchInsn(1, 2, dflt, a, b),
		a,
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewLookupSwitchInsn(dflt, []int32{100, -7}, []*bytecode.Label{b, dflt}),
		b,
		bytecode.NewInsn(bytecode.OpIconst2),
		bytecode.NewInsn(bytecode.OpIreturn),
		dflt,
		bytecode.NewInsn(bytecode.OpIconst0),
		bytecode.NewInsn(bytecode.OpIreturn),
	)
	out := roundTrip(t, newTestClass(52, m)).Method("pick", "(I)I")
	reals := out.Instructions.Real()
	ts, ok := reals[1].(*bytecode.TableSwitchInsn)
	if !ok || ts.Min != 1 || ts.Max != 2 || len(ts.Targets) != 2 {
		t.Fatalf("tableswitch = %s", bytecode.Format(reals[1]))
	}
	ls, ok := reals[3].(*bytecode.LookupSwitchInsn)
	if !ok || len(ls.Keys) != 2 {
		t.Fatalf("lookupswitch = %s", bytecode.Format(reals[3]))
	}
	if ls.Keys[0] != -7 || ls.Keys[1] != 100 {
		t.Errorf("lookupswitch keys = %v, want sorted [-7 100]", ls.Keys)
	}
	if ls.Targets[0] != ts.Default {
		t.Error("key -7 does not branch to the default block")
	}
}

func TestRoundTripExceptionTable(t *testing.T) {
	start, end, handler := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccStatic, "guarded", "()V",
		start,
		bytecode.NewMethodInsn(bytecode.OpInvokestatic, "test/Sample", "risky", "()V", false),
		end,
		bytecode.NewInsn(bytecode.OpReturn),
		handler,
		bytecode.NewInsn(bytecode.OpAthrow),
	)
	m.TryCatch = []*TryCatch{{Start: start, End: end, Handler: handler, Type: "java/lang/RuntimeException"}}

	data, err := Encode(newTestClass(52, m), nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Contains(data, []byte("StackMapTable")) {
		t.Error("no StackMapTable emitted for the handler")
	}
	out, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got := out.Method("guarded", "()V")
	if len(got.TryCatch) != 1 {
		t.Fatalf("got %d try-catch entries, want 1", len(got.TryCatch))
	}
	tc := got.TryCatch[0]
	if tc.Type != "java/lang/RuntimeException" {
		t.Errorf("catch type = %q", tc.Type)
	}
	if bytecode.NextReal(tc.Handler).Opcode() != bytecode.OpAthrow {
		t.Error("handler does not start at ATHROW")
	}
}

func TestEncodeDropsUnreachableCode(t *testing.T) {
	end := bytecode.NewLabel()
	start, stop, handler := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccStatic, "skip", "()V",
		bytecode.NewJumpInsn(bytecode.OpGoto, end),
		start,
		bytecode.NewInsn(bytecode.OpNop),
		bytecode.NewInsn(bytecode.OpNop),
		stop,
		end,
		bytecode.NewInsn(bytecode.OpReturn),
		handler,
		bytecode.NewInsn(bytecode.OpAthrow),
	)
	m.TryCatch = []*TryCatch{{Start: start, End: stop, Handler: handler}}
	out := roundTrip(t, newTestClass(52, m)).Method("skip", "()V")

	ops := opcodes(out.Instructions)
	if len(ops) != 2 || ops[0] != bytecode.OpGoto || ops[1] != bytecode.OpReturn {
		t.Errorf("reachable code = %v, want [GOTO RETURN]", ops)
	}
	if len(out.TryCatch) != 0 {
		t.Errorf("empty exception range kept: %d entries", len(out.TryCatch))
	}
}

func TestEncodeWidensLongBranches(t *testing.T) {
	target := bytecode.NewLabel()
	far := bytecode.NewLabel()
	insns := []bytecode.Instruction{
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, target),
		bytecode.NewJumpInsn(bytecode.OpGoto, far),
		target,
	}
	for i := 0; i < 40000; i++ {
		insns = append(insns, bytecode.NewInsn(bytecode.OpNop))
	}
	insns = append(insns, far, bytecode.NewInsn(bytecode.OpReturn))
	m := newTestMethod(AccStatic, "long", "(I)V", insns...)

	out := roundTrip(t, newTestClass(52, m)).Method("long", "(I)V")
	reals := out.Instructions.Real()
	// The IFEQ to the near label stays short; the GOTO past the NOPs is widened.
	if reals[1].Opcode() != bytecode.OpIfeq || reals[2].Opcode() != bytecode.OpGoto {
		t.Fatalf("head = %s %s", bytecode.Format(reals[1]), bytecode.Format(reals[2]))
	}
	if got := bytecode.NextReal(reals[2].(*bytecode.JumpInsn).Target); got != reals[len(reals)-1] {
		t.Errorf("widened GOTO lands on %s, want RETURN", bytecode.Format(got))
	}
}

func TestEncodeWidensConditionalByInversion(t *testing.T) {
	far := bytecode.NewLabel()
	insns := []bytecode.Instruction{
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, far),
	}
	for i := 0; i < 40000; i++ {
		insns = append(insns, bytecode.NewInsn(bytecode.OpNop))
	}
	insns = append(insns, far, bytecode.NewInsn(bytecode.OpReturn))
	m := newTestMethod(AccStatic, "cond", "(I)V", insns...)

	data, err := Encode(newTestClass(52, m), nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	reals := out.Method("cond", "(I)V").Instructions.Real()
	if reals[1].Opcode() != bytecode.OpIfne || reals[2].Opcode() != bytecode.OpGoto {
		t.Errorf("widened conditional = %s %s, want IFNE over GOTO", bytecode.Format(reals[1]), bytecode.Format(reals[2]))
	}
	if bytecode.NextReal(reals[1].(*bytecode.JumpInsn).Target) != reals[3] {
		t.Error("inverted branch does not skip the GOTO")
	}
}

func TestEncodeRejectsSubroutines(t *testing.T) {
	sub := bytecode.NewLabel()
	m := newTestMethod(AccStatic, "old", "()V",
		bytecode.NewJumpInsn(bytecode.OpJsr, sub),
		bytecode.NewInsn(bytecode.OpReturn),
		sub,
		bytecode.NewVarInsn(bytecode.OpAstore, 0),
		bytecode.NewVarInsn(bytecode.OpRet, 0),
	)
	_, err := Encode(newTestClass(49, m), nil)
	if !errors.Is(err, ErrSubroutine) {
		t.Errorf("Encode error = %v, want ErrSubroutine", err)
	}
}

func TestEncodeKeepsRawAttributes(t *testing.T) {
	c := newTestClass(52, newTestMethod(AccStatic, "f", "()V", bytecode.NewInsn(bytecode.OpReturn)))
	c.Attributes = append(c.Attributes, Attribute{Name: "SourceFile", Data: []byte{0, 1}})
	abstract := NewMethod(AccPublic|AccAbstract, "g", "()V")
	c.Methods = append(c.Methods, abstract)

	out := roundTrip(t, c)
	a, ok := out.Attribute("SourceFile")
	if !ok || !bytes.Equal(a.Data, []byte{0, 1}) {
		t.Errorf("SourceFile attribute = %v, %v", a, ok)
	}
	if m := out.Method("g", "()V"); m == nil || m.HasCode() {
		t.Error("abstract method gained a body")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "unexpected end"},
		{"magic", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52}, "bad magic"},
		{"truncated", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 52, 0, 5, 1}, "unexpected end"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.data)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: Parse error = %v, want %q", tt.name, err, tt.want)
		}
	}
}

func TestParseSkipCode(t *testing.T) {
	c := newTestClass(52, newTestMethod(AccStatic, "f", "()V", bytecode.NewInsn(bytecode.OpReturn)))
	c.Interfaces = []string{"java/lang/Runnable"}
	data, err := Encode(c, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := ParseWithOptions(data, ParseOptions{SkipCode: true})
	if err != nil {
		t.Fatalf("ParseWithOptions failed: %v", err)
	}
	if out.Name != "test/Sample" || out.Super != "java/lang/Object" || out.Interfaces[0] != "java/lang/Runnable" {
		t.Errorf("header = %s extends %s implements %v", out.Name, out.Super, out.Interfaces)
	}
	if out.Methods[0].Instructions != nil {
		t.Error("SkipCode decoded a body")
	}
}
