package bytecode

import (
	"math"
)

// Instruction is one element of a method body. The set of cases is closed:
// only this package can implement it. Use a type switch to inspect operands.
//
// Instructions are identified by pointer. An instruction belongs to at most
// one List at a time; Next and Prev walk that list.
type Instruction interface {
	// Opcode returns the opcode, or OpNone for pseudo instructions.
	Opcode() Opcode
	Next() Instruction
	Prev() Instruction
	links() *node
}

// node carries the list linkage shared by every instruction.
type node struct {
	prev, next Instruction
	list       *List
}

func (n *node) links() *node      { return n }
func (n *node) Next() Instruction { return n.next }
func (n *node) Prev() Instruction { return n.prev }

// IsPseudo reports whether insn is a label, line number or frame marker.
func IsPseudo(insn Instruction) bool {
	return insn.Opcode() == OpNone
}

// Insn is an instruction without operands.
type Insn struct {
	node
	Op Opcode
}

func NewInsn(op Opcode) *Insn  { return &Insn{Op: op} }
func (i *Insn) Opcode() Opcode { return i.Op }

// IntInsn is BIPUSH, SIPUSH or NEWARRAY with its immediate operand.
type IntInsn struct {
	node
	Op      Opcode
	Operand int32
}

func NewIntInsn(op Opcode, operand int32) *IntInsn { return &IntInsn{Op: op, Operand: operand} }
func (i *IntInsn) Opcode() Opcode                  { return i.Op }

// VarInsn loads, stores or returns through a local variable slot.
type VarInsn struct {
	node
	Op  Opcode
	Var int
}

func NewVarInsn(op Opcode, slot int) *VarInsn { return &VarInsn{Op: op, Var: slot} }
func (i *VarInsn) Opcode() Opcode             { return i.Op }

// TypeInsn is NEW, ANEWARRAY, CHECKCAST or INSTANCEOF. Desc is an internal
// class name or an array descriptor.
type TypeInsn struct {
	node
	Op   Opcode
	Desc string
}

func NewTypeInsn(op Opcode, desc string) *TypeInsn { return &TypeInsn{Op: op, Desc: desc} }
func (i *TypeInsn) Opcode() Opcode                 { return i.Op }

// FieldInsn accesses a field.
type FieldInsn struct {
	node
	Op                Opcode
	Owner, Name, Desc string
}

func NewFieldInsn(op Opcode, owner, name, desc string) *FieldInsn {
	return &FieldInsn{Op: op, Owner: owner, Name: name, Desc: desc}
}
func (i *FieldInsn) Opcode() Opcode { return i.Op }

// Ref returns the structural reference to the accessed field.
func (i *FieldInsn) Ref() FieldRef { return FieldRef{Owner: i.Owner, Name: i.Name, Desc: i.Desc} }

// MethodInsn invokes a method. Interface is set when the owner is an
// interface, which decides the constant pool entry kind.
type MethodInsn struct {
	node
	Op                Opcode
	Owner, Name, Desc string
	Interface         bool
}

func NewMethodInsn(op Opcode, owner, name, desc string, itf bool) *MethodInsn {
	return &MethodInsn{Op: op, Owner: owner, Name: name, Desc: desc, Interface: itf}
}
func (i *MethodInsn) Opcode() Opcode { return i.Op }

// Ref returns the structural reference to the invoked method.
func (i *MethodInsn) Ref() MethodRef { return MethodRef{Owner: i.Owner, Name: i.Name, Desc: i.Desc} }

// InvokeDynamicInsn is a dynamic call site. Bootstrap indexes the class's
// BootstrapMethods attribute.
type InvokeDynamicInsn struct {
	node
	Name, Desc string
	Bootstrap  int
}

func NewInvokeDynamicInsn(name, desc string, bootstrap int) *InvokeDynamicInsn {
	return &InvokeDynamicInsn{Name: name, Desc: desc, Bootstrap: bootstrap}
}
func (i *InvokeDynamicInsn) Opcode() Opcode { return OpInvokedynamic }

// JumpInsn branches to Target. Op is mutable so a conditional branch can be
// turned into GOTO in place.
type JumpInsn struct {
	node
	Op     Opcode
	Target *Label
}

func NewJumpInsn(op Opcode, target *Label) *JumpInsn { return &JumpInsn{Op: op, Target: target} }
func (i *JumpInsn) Opcode() Opcode                   { return i.Op }

// LdcInsn pushes a constant pool literal.
type LdcInsn struct {
	node
	Value Constant
}

func NewLdcInsn(v Constant) *LdcInsn { return &LdcInsn{Value: v} }
func (i *LdcInsn) Opcode() Opcode    { return OpLdc }

// IincInsn increments an int local.
type IincInsn struct {
	node
	Var  int
	Incr int
}

func NewIincInsn(slot, incr int) *IincInsn { return &IincInsn{Var: slot, Incr: incr} }
func (i *IincInsn) Opcode() Opcode         { return OpIinc }

// TableSwitchInsn jumps through a dense table indexed from Min to Max.
type TableSwitchInsn struct {
	node
	Min, Max int32
	Default  *Label
	Targets  []*Label
}

func NewTableSwitchInsn(min, max int32, dflt *Label, targets ...*Label) *TableSwitchInsn {
	return &TableSwitchInsn{Min: min, Max: max, Default: dflt, Targets: targets}
}
func (i *TableSwitchInsn) Opcode() Opcode { return OpTableswitch }

// LookupSwitchInsn jumps through sorted key/target pairs.
type LookupSwitchInsn struct {
	node
	Default *Label
	Keys    []int32
	Targets []*Label
}

func NewLookupSwitchInsn(dflt *Label, keys []int32, targets []*Label) *LookupSwitchInsn {
	return &LookupSwitchInsn{Default: dflt, Keys: keys, Targets: targets}
}
func (i *LookupSwitchInsn) Opcode() Opcode { return OpLookupswitch }

// MultiANewArrayInsn allocates a multi-dimensional array.
type MultiANewArrayInsn struct {
	node
	Desc string
	Dims int
}

func NewMultiANewArrayInsn(desc string, dims int) *MultiANewArrayInsn {
	return &MultiANewArrayInsn{Desc: desc, Dims: dims}
}
func (i *MultiANewArrayInsn) Opcode() Opcode { return OpMultianewarray }

// Label marks a position in the instruction list. Branches, switches,
// exception ranges and line numbers refer to labels.
type Label struct {
	node
}

func NewLabel() *Label          { return &Label{} }
func (l *Label) Opcode() Opcode { return OpNone }

// LineNumber maps the code at Start to a source line.
type LineNumber struct {
	node
	Line  int
	Start *Label
}

func NewLineNumber(line int, start *Label) *LineNumber { return &LineNumber{Line: line, Start: start} }
func (l *LineNumber) Opcode() Opcode                   { return OpNone }

// Frame is a stack map frame marker. Frames are recomputed when a class is
// written, so these are informational.
type Frame struct {
	node
	Locals []string
	Stack  []string
}

func (f *Frame) Opcode() Opcode { return OpNone }

// Constant is a value loadable with LDC.
type Constant interface {
	isConstant()
}

type (
	Int    int32
	Long   int64
	Float  float32
	Double float64
	String string
	// ClassType is a java.lang.Class literal: internal name or array descriptor.
	ClassType string
	// MethodType is a java.lang.invoke.MethodType literal: a method descriptor.
	MethodType string
)

// Handle is a java.lang.invoke.MethodHandle literal.
type Handle struct {
	Kind              uint8
	Owner, Name, Desc string
	Interface         bool
}

// Dynamic is a dynamically computed constant.
type Dynamic struct {
	Name, Desc string
	Bootstrap  int
}

func (Int) isConstant()        {}
func (Long) isConstant()       {}
func (Float) isConstant()      {}
func (Double) isConstant()     {}
func (String) isConstant()     {}
func (ClassType) isConstant()  {}
func (MethodType) isConstant() {}
func (Handle) isConstant()     {}
func (Dynamic) isConstant()    {}

// IsWide reports whether c occupies two stack slots.
func IsWide(c Constant) bool {
	switch c.(type) {
	case Long, Double:
		return true
	case Dynamic:
		d := c.(Dynamic).Desc
		return d == "J" || d == "D"
	}
	return false
}

// SameConstant compares constants, treating floating point values by bit
// pattern so NaN equals NaN and 0.0 differs from -0.0.
func SameConstant(a, b Constant) bool {
	switch x := a.(type) {
	case Float:
		y, ok := b.(Float)
		return ok && math.Float32bits(float32(x)) == math.Float32bits(float32(y))
	case Double:
		y, ok := b.(Double)
		return ok && math.Float64bits(float64(x)) == math.Float64bits(float64(y))
	}
	return a == b
}
