package match

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
)

func enc(op bytecode.Opcode) string { return string(EncodeOpcode(op)) }

func TestCompileRejectsUnknownInstruction(t *testing.T) {
	_, err := Compile("invalidinstr")
	var unknown *UnknownInstructionError
	if !errors.As(err, &unknown) {
		t.Fatalf("Compile(invalidinstr) error = %v, want UnknownInstructionError", err)
	}
	if err.Error() != "invalidinstr is not a known instruction." {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestCompileSingleInstruction(t *testing.T) {
	p, err := Compile("AALOAD")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if p.String() != enc(bytecode.OpAaload) {
		t.Errorf("pattern = %q, want %q", p.String(), enc(bytecode.OpAaload))
	}
}

func TestCompileAlternation(t *testing.T) {
	p := MustCompile("NOP|AALOAD")
	want := enc(bytecode.OpNop) + "|" + enc(bytecode.OpAaload)
	if p.String() != want {
		t.Errorf("pattern = %q, want %q", p.String(), want)
	}
}

func TestCompileGroup(t *testing.T) {
	p := MustCompile("(LSHR|DUP2)")
	want := "(" + enc(bytecode.OpLshr) + "|" + enc(bytecode.OpDup2) + ")"
	if p.String() != want {
		t.Errorf("pattern = %q, want %q", p.String(), want)
	}
}

func TestCompileStripsWhitespaceAndIgnoresCase(t *testing.T) {
	a := MustCompile("iload   istore\n\tgoto")
	b := MustCompile("ILOAD ISTORE GOTO")
	if a.String() != b.String() {
		t.Errorf("case/whitespace changed pattern: %q vs %q", a.String(), b.String())
	}
	if strings.ContainsAny(a.String(), " \t\n") {
		t.Errorf("whitespace leaked into %q", a.String())
	}
}

func TestCompileInstructionGroups(t *testing.T) {
	p := MustCompile("iconst")
	want := "(?:" + enc(bytecode.OpIconstM1)
	if !strings.HasPrefix(p.String(), want) {
		t.Errorf("iconst expands to %q, want prefix %q", p.String(), want)
	}
	for _, name := range Groups() {
		if _, err := Compile(name); err != nil {
			t.Errorf("group %q does not compile: %v", name, err)
		}
	}
}

func TestCompileWildcardAndQuantifiers(t *testing.T) {
	p := MustCompile("ILOAD AbstractInsnNode{2} IRETURN")
	want := enc(bytecode.OpIload) + ".{2}" + enc(bytecode.OpIreturn)
	if p.String() != want {
		t.Errorf("pattern = %q, want %q", p.String(), want)
	}
}

func TestEncodeSkipsPseudoInstructions(t *testing.T) {
	lbl := bytecode.NewLabel()
	insns := []bytecode.Instruction{lbl, bytecode.NewInsn(bytecode.OpNop), bytecode.NewLineNumber(1, lbl), bytecode.NewInsn(bytecode.OpReturn)}
	got := Encode(insns)
	if got != enc(bytecode.OpNop)+enc(bytecode.OpReturn) {
		t.Errorf("Encode = %q", got)
	}
	if len([]rune(got)) != 2 || len(got) != 2*encodedWidth {
		t.Errorf("unexpected encoded width: %d bytes", len(got))
	}
}
