package mask

import (
	"math"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/transform"
)

type operand struct {
	v    int64
	long bool
}

func i(v int32) operand { return operand{v: int64(v)} }
func l(v int64) operand { return operand{v: v, long: true} }

func (o operand) insn() bytecode.Instruction {
	if o.long {
		return bytecode.PushLong(o.v)
	}
	return bytecode.PushInt(int32(o.v))
}

var (
	intOps  = map[string]bytecode.Opcode{"&": bytecode.OpIand, "|": bytecode.OpIor, "^": bytecode.OpIxor, "<<": bytecode.OpIshl, ">>": bytecode.OpIshr, ">>>": bytecode.OpIushr}
	longOps = map[string]bytecode.Opcode{"&": bytecode.OpLand, "|": bytecode.OpLor, "^": bytecode.OpLxor, "<<": bytecode.OpLshl, ">>": bytecode.OpLshr, ">>>": bytecode.OpLushr}
)

// expression builds value maskop mask shiftop shift.
func expression(value operand, maskop string, mask operand, shiftop string, shift int32) []bytecode.Instruction {
	ops := intOps
	if value.long {
		ops = longOps
	}
	return []bytecode.Instruction{
		value.insn(), mask.insn(), bytecode.NewInsn(ops[maskop]),
		bytecode.PushInt(shift), bytecode.NewInsn(ops[shiftop]),
	}
}

func run(t *testing.T, insns []bytecode.Instruction) *bytecode.List {
	t.Helper()
	m := classfile.NewMethod(classfile.AccStatic, "test", "()V")
	m.Instructions.Add(insns...)
	c := classfile.NewClass(52, classfile.AccPublic, "a/A", "java/lang/Object")
	if err := (Transformer{}).Transform(m, &transform.MethodContext{Class: c}); err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	return m.Instructions
}

func assertSame(t *testing.T, want []bytecode.Instruction, got *bytecode.List) {
	t.Helper()
	have := got.Slice()
	if len(have) != len(want) {
		t.Fatalf("got %d instructions, want %d:\n%s", len(have), len(want), bytecode.Disassemble(got))
	}
	for i := range want {
		if !bytecode.Equivalent(want[i], have[i]) {
			t.Errorf("instruction %d = %s, want %s", i, bytecode.Format(have[i]), bytecode.Format(want[i]))
		}
	}
}

func TestMaskRewrites(t *testing.T) {
	tests := []struct {
		name string
		in   []bytecode.Instruction
		want []bytecode.Instruction
	}{
		{
			name: "small mask unchanged",
			in:   expression(i(0), "&", i(1), "<<", 1),
			want: expression(i(0), "&", i(1), "<<", 1),
		},
		{
			name: "and",
			in:   expression(i(0), "&", i(0b1111111), "<<", 28),
			want: expression(i(0), "&", i(0b1111), "<<", 28),
		},
		{
			name: "or",
			in:   expression(i(0), "|", i(0b1111111), "<<", 28),
			want: expression(i(0), "|", i(0b1111), "<<", 28),
		},
		{
			name: "xor",
			in:   expression(i(0), "^", i(0b1111111), "<<", 28),
			want: expression(i(0), "^", i(0b1111), "<<", 28),
		},
		{
			name: "left long",
			in:   expression(l(0), "&", l(math.MaxInt64), "<<", 60),
			want: expression(l(0), "&", l(0b1111), "<<", 60),
		},
		{
			name: "right int",
			in:   expression(i(0), "&", i(0b11011), ">>", 4),
			want: expression(i(0), "&", i(0b10000), ">>", 4),
		},
		{
			name: "right long",
			in:   expression(l(0), "&", l(0b1011), ">>", 3),
			want: expression(l(0), "&", l(0b1000), ">>", 3),
		},
		{
			name: "unsigned right int",
			in:   expression(i(0), "&", i(0b11011), ">>>", 4),
			want: expression(i(0), "&", i(0b10000), ">>>", 4),
		},
		{
			name: "unsigned right long",
			in:   expression(l(0), "&", l(math.MaxInt64), ">>>", 62),
			want: expression(l(0), "&", l(1<<62), ">>>", 62),
		},
		{
			name: "multiple",
			in:   append(expression(i(0), "&", i(0b1111), "<<", 29), expression(l(0), "&", l(math.MaxInt64), ">>>", 62)...),
			want: append(expression(i(0), "&", i(0b111), "<<", 29), expression(l(0), "&", l(1<<62), ">>>", 62)...),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSame(t, tt.want, run(t, tt.in))
		})
	}
}

func TestMaskWithoutShiftOrWithoutMask(t *testing.T) {
	noShift := []bytecode.Instruction{bytecode.PushInt(0), bytecode.PushInt(1), bytecode.NewInsn(bytecode.OpIand)}
	assertSame(t, []bytecode.Instruction{bytecode.PushInt(0), bytecode.PushInt(1), bytecode.NewInsn(bytecode.OpIand)}, run(t, noShift))

	noMask := []bytecode.Instruction{bytecode.PushInt(0), bytecode.PushInt(1), bytecode.NewInsn(bytecode.OpLshl)}
	assertSame(t, []bytecode.Instruction{bytecode.PushInt(0), bytecode.PushInt(1), bytecode.NewInsn(bytecode.OpLshl)}, run(t, noMask))
}

func TestCompactIsIdempotent(t *testing.T) {
	for _, op := range []bytecode.Opcode{bytecode.OpIshl, bytecode.OpIshr, bytecode.OpIushr, bytecode.OpLshl, bytecode.OpLshr, bytecode.OpLushr} {
		for _, mask := range []int64{-1, 0x7F, 0x12345678, math.MaxInt64, math.MinInt32} {
			for _, bits := range []int64{0, 3, 28, 31, 33, 62} {
				once := Compact(mask, bits, op)
				if twice := Compact(once, bits, op); twice != once {
					t.Errorf("%v mask=%#x bits=%d: %#x then %#x", op, mask, bits, once, twice)
				}
			}
		}
	}
}
