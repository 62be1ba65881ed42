// Package bytecode models JVM method bodies as linked instruction lists.
//
// The model sits between the class file codec (package classfile) and the
// rewrite passes. It is designed for:
//   - Identity-preserving edits (remove, replace, insert without renumbering)
//   - Exhaustive inspection (a closed set of instruction types)
//   - Encoding-independence (no offsets, no constant pool indices)
//
// # Instructions
//
// Every instruction is a pointer to one of the operand shapes below. The
// shape is fixed by the opcode (see Opcode.Kind):
//
//   - Insn: no operand (NOP, ICONST_*, arithmetic, returns, ATHROW)
//   - IntInsn: BIPUSH, SIPUSH, NEWARRAY
//   - VarInsn: loads, stores, RET
//   - TypeInsn, FieldInsn, MethodInsn, InvokeDynamicInsn: symbolic references
//   - JumpInsn, TableSwitchInsn, LookupSwitchInsn: control transfer to labels
//   - LdcInsn: constant pool literals (Int, Long, Float, Double, String, ...)
//   - IincInsn, MultiANewArrayInsn
//
// Label, LineNumber and Frame are pseudo instructions. They report OpNone and
// occupy no bytes in the encoded method.
//
// # Lists
//
// List is a doubly-linked list. An instruction belongs to at most one list,
// so references held by an analysis stay valid while other instructions are
// removed. Misusing an instruction that belongs to another list panics.
//
// # Numeric pushes
//
// PushInt, PushLong and PushValue pick the smallest encoding for a literal;
// NumericValue reads it back. Rewrite passes use them to replace constants
// without caring which push form the compiler chose.
package bytecode
