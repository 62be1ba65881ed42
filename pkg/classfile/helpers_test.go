package classfile

import (
	"testing"

	"github.com/chazu/deobby/pkg/bytecode"
)

func newTestClass(major uint16, methods ...*Method) *Class {
	c := NewClass(major, AccPublic|AccSuper, "test/Sample", "java/lang/Object")
	c.Methods = methods
	return c
}

func newTestMethod(access AccessFlags, name, desc string, insns ...bytecode.Instruction) *Method {
	m := NewMethod(access, name, desc)
	m.Instructions.Add(insns...)
	return m
}

func roundTrip(t *testing.T, c *Class) *Class {
	t.Helper()
	data, err := Encode(c, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return out
}

func opcodes(l *bytecode.List) []bytecode.Opcode {
	var ops []bytecode.Opcode
	for _, insn := range l.Real() {
		ops = append(ops, insn.Opcode())
	}
	return ops
}

func hasOpcode(l *bytecode.List, op bytecode.Opcode) bool {
	for _, got := range opcodes(l) {
		if got == op {
			return true
		}
	}
	return false
}
