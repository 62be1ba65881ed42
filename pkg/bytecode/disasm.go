package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of the instruction list.
func Disassemble(l *List) string {
	return DisassembleWithName(l, "")
}

// DisassembleWithName returns a human-readable listing with a name header.
func DisassembleWithName(l *List, name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d instructions\n", l.Len()))

	names := labelNames(l)
	index := 0
	for insn := l.First(); insn != nil; insn = insn.Next() {
		switch i := insn.(type) {
		case *Label:
			sb.WriteString(fmt.Sprintf("%s:\n", names[i]))
			continue
		case *LineNumber:
			sb.WriteString(fmt.Sprintf("      ; line %d\n", i.Line))
			continue
		case *Frame:
			sb.WriteString(fmt.Sprintf("      ; frame locals=%v stack=%v\n", i.Locals, i.Stack))
			continue
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", index, format(insn, names)))
		index++
	}

	return sb.String()
}

// Format renders a single instruction. Labels are shown by position in
// their list when the instruction is linked, and as L? otherwise.
func Format(insn Instruction) string {
	if insn == nil {
		return "<nil>"
	}
	var names map[*Label]string
	if list := insn.links().list; list != nil {
		names = labelNames(list)
	}
	return format(insn, names)
}

func labelNames(l *List) map[*Label]string {
	names := make(map[*Label]string)
	for insn := l.First(); insn != nil; insn = insn.Next() {
		if lbl, ok := insn.(*Label); ok {
			names[lbl] = "L" + strconv.Itoa(len(names))
		}
	}
	return names
}

func format(insn Instruction, names map[*Label]string) string {
	label := func(l *Label) string {
		if n, ok := names[l]; ok {
			return n
		}
		return "L?"
	}

	op := insn.Opcode().String()
	switch i := insn.(type) {
	case *Insn:
		return op
	case *IntInsn:
		if i.Op == OpNewarray {
			return fmt.Sprintf("%s %s", op, newarrayTypeName(i.Operand))
		}
		return fmt.Sprintf("%s %d", op, i.Operand)
	case *VarInsn:
		return fmt.Sprintf("%s %d", op, i.Var)
	case *TypeInsn:
		return fmt.Sprintf("%s %s", op, i.Desc)
	case *FieldInsn:
		return fmt.Sprintf("%s %s.%s : %s", op, i.Owner, i.Name, i.Desc)
	case *MethodInsn:
		s := fmt.Sprintf("%s %s.%s%s", op, i.Owner, i.Name, i.Desc)
		if i.Interface && i.Op != OpInvokeinterface {
			s += " (itf)"
		}
		return s
	case *InvokeDynamicInsn:
		return fmt.Sprintf("%s %s%s [bsm %d]", op, i.Name, i.Desc, i.Bootstrap)
	case *JumpInsn:
		return fmt.Sprintf("%s %s", op, label(i.Target))
	case *LdcInsn:
		return fmt.Sprintf("%s %s", op, FormatConstant(i.Value))
	case *IincInsn:
		return fmt.Sprintf("%s %d %d", op, i.Var, i.Incr)
	case *TableSwitchInsn:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%s %d..%d", op, i.Min, i.Max))
		for _, t := range i.Targets {
			sb.WriteString(" " + label(t))
		}
		sb.WriteString(" default " + label(i.Default))
		return sb.String()
	case *LookupSwitchInsn:
		var sb strings.Builder
		sb.WriteString(op)
		for k, t := range i.Targets {
			sb.WriteString(fmt.Sprintf(" %d:%s", i.Keys[k], label(t)))
		}
		sb.WriteString(" default " + label(i.Default))
		return sb.String()
	case *MultiANewArrayInsn:
		return fmt.Sprintf("%s %s %d", op, i.Desc, i.Dims)
	case *Label:
		return label(i) + ":"
	case *LineNumber:
		return fmt.Sprintf("LINE %d %s", i.Line, label(i.Start))
	case *Frame:
		return "FRAME"
	}
	return fmt.Sprintf("<%T>", insn)
}

// FormatConstant renders an LDC literal the way Java source would spell it.
func FormatConstant(c Constant) string {
	switch v := c.(type) {
	case Int:
		return strconv.Itoa(int(v))
	case Long:
		return strconv.FormatInt(int64(v), 10) + "L"
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 32) + "F"
	case Double:
		return strconv.FormatFloat(float64(v), 'g', -1, 64) + "D"
	case String:
		s := string(v)
		if len(s) > 40 {
			s = s[:37] + "..."
		}
		return strconv.Quote(s)
	case ClassType:
		return string(v) + ".class"
	case MethodType:
		return "(MethodType) " + string(v)
	case Handle:
		return fmt.Sprintf("(Handle %d) %s.%s%s", v.Kind, v.Owner, v.Name, v.Desc)
	case Dynamic:
		return fmt.Sprintf("(Dynamic) %s:%s [bsm %d]", v.Name, v.Desc, v.Bootstrap)
	}
	return fmt.Sprintf("%v", c)
}

func newarrayTypeName(atype int32) string {
	switch atype {
	case 4:
		return "boolean"
	case 5:
		return "char"
	case 6:
		return "float"
	case 7:
		return "double"
	case 8:
		return "byte"
	case 9:
		return "short"
	case 10:
		return "int"
	case 11:
		return "long"
	}
	return fmt.Sprintf("?%d", atype)
}
