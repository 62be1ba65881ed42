package bytecode

import (
	"fmt"
	"slices"
)

// Equivalent reports whether two instructions have the same opcode and the
// same operand content. Labels compare by identity.
func Equivalent(a, b Instruction) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Opcode() != b.Opcode() {
		return false
	}
	switch x := a.(type) {
	case *Insn:
		_, ok := b.(*Insn)
		return ok
	case *IntInsn:
		y, ok := b.(*IntInsn)
		return ok && x.Operand == y.Operand
	case *VarInsn:
		y, ok := b.(*VarInsn)
		return ok && x.Var == y.Var
	case *TypeInsn:
		y, ok := b.(*TypeInsn)
		return ok && x.Desc == y.Desc
	case *FieldInsn:
		y, ok := b.(*FieldInsn)
		return ok && x.Ref() == y.Ref()
	case *MethodInsn:
		y, ok := b.(*MethodInsn)
		return ok && x.Ref() == y.Ref() && x.Interface == y.Interface
	case *InvokeDynamicInsn:
		y, ok := b.(*InvokeDynamicInsn)
		return ok && x.Name == y.Name && x.Desc == y.Desc && x.Bootstrap == y.Bootstrap
	case *JumpInsn:
		y, ok := b.(*JumpInsn)
		return ok && x.Target == y.Target
	case *LdcInsn:
		y, ok := b.(*LdcInsn)
		return ok && SameConstant(x.Value, y.Value)
	case *IincInsn:
		y, ok := b.(*IincInsn)
		return ok && x.Var == y.Var && x.Incr == y.Incr
	case *TableSwitchInsn:
		y, ok := b.(*TableSwitchInsn)
		return ok && x.Min == y.Min && x.Max == y.Max && x.Default == y.Default && slices.Equal(x.Targets, y.Targets)
	case *LookupSwitchInsn:
		y, ok := b.(*LookupSwitchInsn)
		return ok && x.Default == y.Default && slices.Equal(x.Keys, y.Keys) && slices.Equal(x.Targets, y.Targets)
	case *MultiANewArrayInsn:
		y, ok := b.(*MultiANewArrayInsn)
		return ok && x.Desc == y.Desc && x.Dims == y.Dims
	case *Label:
		return a == b
	case *LineNumber:
		y, ok := b.(*LineNumber)
		return ok && x.Line == y.Line && x.Start == y.Start
	case *Frame:
		y, ok := b.(*Frame)
		return ok && slices.Equal(x.Locals, y.Locals) && slices.Equal(x.Stack, y.Stack)
	}
	panic(fmt.Sprintf("bytecode: unhandled instruction %T", a))
}

// Clone returns an unlinked copy of insn. Label operands are mapped through
// labels; a label missing from the map is created and recorded there, so a
// shared map clones a whole region consistently.
func Clone(insn Instruction, labels map[*Label]*Label) Instruction {
	mapLabel := func(l *Label) *Label {
		if l == nil {
			return nil
		}
		if c, ok := labels[l]; ok {
			return c
		}
		c := NewLabel()
		labels[l] = c
		return c
	}
	mapLabels := func(ls []*Label) []*Label {
		out := make([]*Label, len(ls))
		for i, l := range ls {
			out[i] = mapLabel(l)
		}
		return out
	}

	switch i := insn.(type) {
	case *Insn:
		return NewInsn(i.Op)
	case *IntInsn:
		return NewIntInsn(i.Op, i.Operand)
	case *VarInsn:
		return NewVarInsn(i.Op, i.Var)
	case *TypeInsn:
		return NewTypeInsn(i.Op, i.Desc)
	case *FieldInsn:
		return NewFieldInsn(i.Op, i.Owner, i.Name, i.Desc)
	case *MethodInsn:
		return NewMethodInsn(i.Op, i.Owner, i.Name, i.Desc, i.Interface)
	case *InvokeDynamicInsn:
		return NewInvokeDynamicInsn(i.Name, i.Desc, i.Bootstrap)
	case *JumpInsn:
		return NewJumpInsn(i.Op, mapLabel(i.Target))
	case *LdcInsn:
		return NewLdcInsn(i.Value)
	case *IincInsn:
		return NewIincInsn(i.Var, i.Incr)
	case *TableSwitchInsn:
		return NewTableSwitchInsn(i.Min, i.Max, mapLabel(i.Default), mapLabels(i.Targets)...)
	case *LookupSwitchInsn:
		return NewLookupSwitchInsn(mapLabel(i.Default), slices.Clone(i.Keys), mapLabels(i.Targets))
	case *MultiANewArrayInsn:
		return NewMultiANewArrayInsn(i.Desc, i.Dims)
	case *Label:
		return mapLabel(i)
	case *LineNumber:
		return NewLineNumber(i.Line, mapLabel(i.Start))
	case *Frame:
		return &Frame{Locals: slices.Clone(i.Locals), Stack: slices.Clone(i.Stack)}
	}
	panic(fmt.Sprintf("bytecode: unhandled instruction %T", insn))
}
