package classfile

import (
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
)

type pairHierarchy map[[2]string]string

func (h pairHierarchy) CommonSuperClass(a, b string) string {
	if a == b {
		return a
	}
	if s, ok := h[[2]string{a, b}]; ok {
		return s
	}
	if s, ok := h[[2]string{b, a}]; ok {
		return s
	}
	return "java/lang/Object"
}

func TestCommonType(t *testing.T) {
	a := &analyzer{h: pairHierarchy{{"java/lang/Integer", "java/lang/Long"}: "java/lang/Number"}}
	tests := []struct {
		x, y, want string
	}{
		{"java/lang/Integer", "java/lang/Long", "java/lang/Number"},
		{"java/lang/Integer", "java/lang/String", "java/lang/Object"},
		{"[Ljava/lang/Integer;", "[Ljava/lang/Long;", "[Ljava/lang/Number;"},
		{"[[Ljava/lang/Integer;", "[[Ljava/lang/Long;", "[[Ljava/lang/Number;"},
		{"[I", "[J", "java/lang/Object"},
		{"[[I", "[[J", "[Ljava/lang/Object;"},
		{"[[I", "[Ljava/lang/String;", "[Ljava/lang/Object;"},
		{"[[I", "[J", "java/lang/Object"},
		{"[I", "java/lang/String", "java/lang/Object"},
		{"[I", "[I", "[I"},
	}
	for _, tt := range tests {
		if got := a.commonType(tt.x, tt.y); got != tt.want {
			t.Errorf("commonType(%s, %s) = %s, want %s", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestAnalyzeMergesAtJoin(t *testing.T) {
	other, join := bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccStatic, "pick", "(Z)Ljava/lang/Number;",
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, other),
		bytecode.NewTypeInsn(bytecode.OpNew, "java/lang/Integer"),
		bytecode.NewVarInsn(bytecode.OpAstore, 1),
		bytecode.NewJumpInsn(bytecode.OpGoto, join),
		other,
		bytecode.NewInsn(bytecode.OpAconstNull),
		bytecode.NewTypeInsn(bytecode.OpCheckcast, "java/lang/Long"),
		bytecode.NewVarInsn(bytecode.OpAstore, 1),
		join,
		bytecode.NewVarInsn(bytecode.OpAload, 1),
		bytecode.NewInsn(bytecode.OpAreturn),
	)
	h := pairHierarchy{{"java/lang/Integer", "java/lang/Long"}: "java/lang/Number"}
	// The NEW is never initialized, so slot 1 holds an uninitialized value on
	// one path and a Long on the other: the merge is top.
	info, err := analyze(newTestClass(52), m, h)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	at := info.index[join]
	if got := info.frames[at].locals[1]; got.kind != vTop {
		t.Errorf("slot 1 at join = %+v, want top", got)
	}
}

func TestAnalyzeCommonSuperclassAtJoin(t *testing.T) {
	other, join := bytecode.NewLabel(), bytecode.NewLabel()
	m := newTestMethod(AccStatic, "pick", "(ZLjava/lang/Integer;Ljava/lang/Long;)Ljava/lang/Number;",
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, other),
		bytecode.NewVarInsn(bytecode.OpAload, 1),
		bytecode.NewJumpInsn(bytecode.OpGoto, join),
		other,
		bytecode.NewVarInsn(bytecode.OpAload, 2),
		join,
		bytecode.NewInsn(bytecode.OpAreturn),
	)
	h := pairHierarchy{{"java/lang/Integer", "java/lang/Long"}: "java/lang/Number"}
	info, err := analyze(newTestClass(52), m, h)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	f := info.frames[info.index[join]]
	if len(f.stack) != 1 || f.stack[0] != objectType("java/lang/Number") {
		t.Errorf("stack at join = %+v, want [java/lang/Number]", f.stack)
	}
	if info.maxStack != 1 || info.maxLocals != 3 {
		t.Errorf("max stack/locals = %d/%d, want 1/3", info.maxStack, info.maxLocals)
	}
}

func TestAnalyzeTracksUninitializedAcrossBranches(t *testing.T) {
	zero, call := bytecode.NewLabel(), bytecode.NewLabel()
	alloc := bytecode.NewTypeInsn(bytecode.OpNew, "java/lang/Integer")
	m := newTestMethod(AccStatic, "box", "(Z)Ljava/lang/Integer;",
		alloc,
		bytecode.NewInsn(bytecode.OpDup),
		bytecode.NewVarInsn(bytecode.OpIload, 0),
		bytecode.NewJumpInsn(bytecode.OpIfeq, zero),
		bytecode.NewInsn(bytecode.OpIconst1),
		bytecode.NewJumpInsn(bytecode.OpGoto, call),
		zero,
		bytecode.NewInsn(bytecode.OpIconst0),
		call,
		bytecode.NewMethodInsn(bytecode.OpInvokespecial, "java/lang/Integer", "<init>", "(I)V", false),
		bytecode.NewInsn(bytecode.OpAreturn),
	)
	info, err := analyze(newTestClass(52), m, nil)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	f := info.frames[info.index[call]]
	want := vtype{kind: vUninit, alloc: alloc}
	if len(f.stack) != 3 || f.stack[0] != want || f.stack[1] != want || f.stack[2] != intType {
		t.Errorf("stack at call = %+v", f.stack)
	}
	ret := info.frames[len(info.reals)-1]
	if len(ret.stack) != 1 || ret.stack[0] != objectType("java/lang/Integer") {
		t.Errorf("stack before ARETURN = %+v, want initialized Integer", ret.stack)
	}

	if _, err := Encode(newTestClass(52, m), nil); err != nil {
		t.Errorf("Encode failed: %v", err)
	}
}

func TestAnalyzeConstructorReceiver(t *testing.T) {
	m := newTestMethod(AccPublic, "<init>", "()V",
		bytecode.NewVarInsn(bytecode.OpAload, 0),
		bytecode.NewMethodInsn(bytecode.OpInvokespecial, "java/lang/Object", "<init>", "()V", false),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	info, err := analyze(newTestClass(52), m, nil)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if got := info.frames[0].locals[0].kind; got != vUninitThis {
		t.Errorf("receiver before super() = %v, want uninitializedThis", got)
	}
	if got := info.frames[2].locals[0]; got != objectType("test/Sample") {
		t.Errorf("receiver after super() = %+v, want test/Sample", got)
	}
}

func TestAnalyzeLongsUseTwoSlots(t *testing.T) {
	m := newTestMethod(AccStatic, "add", "(JJ)J",
		bytecode.NewVarInsn(bytecode.OpLload, 0),
		bytecode.NewVarInsn(bytecode.OpLload, 2),
		bytecode.NewInsn(bytecode.OpLadd),
		bytecode.NewInsn(bytecode.OpLreturn),
	)
	info, err := analyze(newTestClass(52), m, nil)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if info.maxStack != 4 || info.maxLocals != 4 {
		t.Errorf("max stack/locals = %d/%d, want 4/4", info.maxStack, info.maxLocals)
	}
}

func TestAnalyzeStackUnderflow(t *testing.T) {
	m := newTestMethod(AccStatic, "bad", "()V",
		bytecode.NewInsn(bytecode.OpPop),
		bytecode.NewInsn(bytecode.OpReturn),
	)
	if _, err := analyze(newTestClass(52), m, nil); err == nil {
		t.Error("analyze accepted a stack underflow")
	}
}

func TestAnalyzeFallsOffEnd(t *testing.T) {
	m := newTestMethod(AccStatic, "bad", "()V", bytecode.NewInsn(bytecode.OpNop))
	if _, err := analyze(newTestClass(52), m, nil); err == nil {
		t.Error("analyze accepted code that falls off the end")
	}
}

func TestStackMapFrameKinds(t *testing.T) {
	pool := NewPool()
	initial := &frame{locals: []vtype{intType, topType, topType}}
	sm := newStackMapWriter(pool, initial, nil)

	same := []vtype{intType, topType, topType}
	sm.add(5, &frame{locals: same})
	sm.add(10, &frame{locals: same, stack: []vtype{intType}})
	sm.add(20, &frame{locals: []vtype{intType, longType, topType}})
	sm.add(30, &frame{locals: []vtype{topType, topType, topType}})
	sm.add(200, &frame{locals: []vtype{topType, topType, topType}})

	got := sm.bytes()
	want := []byte{
		0, 5,                      // count
		5,                         // same
		64 + 4, itemInteger,       // same_locals_1_stack_item
		252, 0, 9, itemLong,       // append 1
		249, 0, 9,                 // chop 2
		frameSameExtended, 0, 169, // same_frame_extended
	}
	if string(got) != string(want) {
		t.Errorf("StackMapTable = % d\nwant            % d", got, want)
	}
}
