package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	// 202 class file opcodes minus the 45 compact encodings.
	if got := OpcodeCount(); got != 157 {
		t.Errorf("OpcodeCount() = %d, want 157", got)
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpAconstNull, "ACONST_NULL"},
		{OpIconstM1, "ICONST_M1"},
		{OpAaload, "AALOAD"},
		{OpLshr, "LSHR"},
		{OpDup2, "DUP2"},
		{OpIfIcmpge, "IF_ICMPGE"},
		{OpInvokedynamic, "INVOKEDYNAMIC"},
		{OpMultianewarray, "MULTIANEWARRAY"},
		{OpIfnonnull, "IFNONNULL"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	// ILOAD_0 is a compact encoding, not an opcode at this level.
	op := Opcode(0x1A)
	got := op.String()
	if !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("compact opcode should return UNKNOWN, got %q", got)
	}
	if OpNone.Kind() != KindPseudo {
		t.Errorf("OpNone.Kind() = %d, want KindPseudo", OpNone.Kind())
	}
}

func TestParseOpcode(t *testing.T) {
	tests := []struct {
		name string
		want Opcode
		ok   bool
	}{
		{"AALOAD", OpAaload, true},
		{"aaload", OpAaload, true},
		{"If_Icmpne", OpIfIcmpne, true},
		{"getstatic", OpGetstatic, true},
		{"ILOAD_0", 0, false},
		{"invalidinstr", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseOpcode(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseOpcode(%q) = %s, %v, want %s, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpBipush, 1},
		{OpSipush, 2},
		{OpIload, 1},
		{OpIinc, 2},
		{OpGoto, 2},
		{OpInvokeinterface, 4},
		{OpMultianewarray, 3},
		{OpTableswitch, -1},
	}

	for _, tt := range tests {
		got := tt.op.OperandLen()
		if got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestOpcodeIsJump(t *testing.T) {
	jumps := []Opcode{OpIfeq, OpIfAcmpne, OpGoto, OpJsr, OpIfnull, OpIfnonnull}
	for _, op := range jumps {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false, want true", op)
		}
	}

	nonJumps := []Opcode{OpNop, OpIadd, OpRet, OpTableswitch, OpReturn}
	for _, op := range nonJumps {
		if op.IsJump() {
			t.Errorf("%s.IsJump() = true, want false", op)
		}
	}

	if OpGoto.IsConditionalJump() || !OpIfnull.IsConditionalJump() {
		t.Error("IsConditionalJump misclassifies GOTO or IFNULL")
	}
}

func TestOpcodeEndsFlow(t *testing.T) {
	ends := []Opcode{OpGoto, OpRet, OpAthrow, OpReturn, OpAreturn, OpTableswitch, OpLookupswitch}
	for _, op := range ends {
		if !op.EndsFlow() {
			t.Errorf("%s.EndsFlow() = false, want true", op)
		}
	}

	continues := []Opcode{OpIfeq, OpJsr, OpInvokestatic, OpNop}
	for _, op := range continues {
		if op.EndsFlow() {
			t.Errorf("%s.EndsFlow() = true, want false", op)
		}
	}
}

func TestOpcodeKinds(t *testing.T) {
	tests := []struct {
		op   Opcode
		want Kind
	}{
		{OpIconst3, KindNone},
		{OpNewarray, KindInt},
		{OpRet, KindVar},
		{OpCheckcast, KindType},
		{OpPutfield, KindField},
		{OpInvokeinterface, KindMethod},
		{OpInvokedynamic, KindInvokeDynamic},
		{OpIfIcmplt, KindJump},
		{OpLdc, KindLdc},
		{OpIinc, KindIinc},
		{OpLookupswitch, KindLookupSwitch},
	}

	for _, tt := range tests {
		if got := tt.op.Kind(); got != tt.want {
			t.Errorf("%s.Kind() = %d, want %d", tt.op, got, tt.want)
		}
	}
}

func TestOpcodeRanges(t *testing.T) {
	rangeTests := []struct {
		name     string
		ops      []Opcode
		minRange Opcode
		maxRange Opcode
	}{
		{"Constants", []Opcode{OpNop, OpIconst5, OpBipush, OpLdc}, 0x00, 0x12},
		{"Loads", []Opcode{OpIload, OpAload, OpSaload}, 0x15, 0x35},
		{"Stores", []Opcode{OpIstore, OpAstore, OpSastore}, 0x36, 0x56},
		{"Stack", []Opcode{OpPop, OpDup2X2, OpSwap}, 0x57, 0x5F},
		{"Math", []Opcode{OpIadd, OpLxor, OpIinc}, 0x60, 0x84},
		{"Control", []Opcode{OpGoto, OpReturn}, 0xA7, 0xB1},
		{"References", []Opcode{OpGetstatic, OpMonitorexit}, 0xB2, 0xC3},
	}

	for _, tt := range rangeTests {
		for _, op := range tt.ops {
			if op < tt.minRange || op > tt.maxRange {
				t.Errorf("%s opcode %s (0x%02X) is outside range [0x%02X, 0x%02X]",
					tt.name, op, byte(op), byte(tt.minRange), byte(tt.maxRange))
			}
		}
	}
}
