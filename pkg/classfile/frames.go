package classfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/deobby/pkg/bytecode"
)

// ErrSubroutine is returned when a method still contains JSR or RET.
// InlineSubroutines removes them.
var ErrSubroutine = errors.New("JSR/RET subroutines must be inlined before encoding")

// Hierarchy answers the question frame merging needs: the most specific
// common superclass of two internal class names.
type Hierarchy interface {
	CommonSuperClass(a, b string) string
}

// objectHierarchy merges every pair of distinct classes to Object.
type objectHierarchy struct{}

func (objectHierarchy) CommonSuperClass(a, b string) string {
	if a == b {
		return a
	}
	return "java/lang/Object"
}

type vkind uint8

const (
	vTop vkind = iota
	vInt
	vFloat
	vLong
	vDouble
	vNull
	vUninitThis
	vObject
	vUninit
)

// vtype is a verification type. Object types carry an internal name or an
// array descriptor; uninitialized types carry the NEW that allocated them.
// Long and double occupy two slots, the second being top.
type vtype struct {
	kind  vkind
	name  string
	alloc bytecode.Instruction
}

var (
	topType    = vtype{kind: vTop}
	intType    = vtype{kind: vInt}
	floatType  = vtype{kind: vFloat}
	longType   = vtype{kind: vLong}
	doubleType = vtype{kind: vDouble}
	nullType   = vtype{kind: vNull}
)

func objectType(name string) vtype { return vtype{kind: vObject, name: name} }

func (t vtype) isWide() bool { return t.kind == vLong || t.kind == vDouble }

func (t vtype) isReference() bool { return t.kind == vObject || t.kind == vNull }

// typesOf returns the slot types for a field descriptor.
func typesOf(desc string) []vtype {
	if desc == "" {
		return []vtype{topType}
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return []vtype{intType}
	case 'F':
		return []vtype{floatType}
	case 'J':
		return []vtype{longType, topType}
	case 'D':
		return []vtype{doubleType, topType}
	case 'V':
		return nil
	case '[':
		return []vtype{objectType(desc)}
	}
	return []vtype{objectType(InternalName(desc))}
}

type frame struct {
	locals []vtype
	stack  []vtype
}

func (f *frame) clone() *frame {
	return &frame{
		locals: append([]vtype(nil), f.locals...),
		stack:  append([]vtype(nil), f.stack...),
	}
}

// machine applies one instruction to a frame.
type machine struct {
	frame
	err error
}

func (s *machine) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf(format, args...)
	}
}

func (s *machine) push(ts ...vtype) { s.stack = append(s.stack, ts...) }

func (s *machine) pop(n int) []vtype {
	if n > len(s.stack) {
		s.fail("stack underflow: need %d, have %d", n, len(s.stack))
		s.stack = s.stack[:0]
		return make([]vtype, n)
	}
	out := append([]vtype(nil), s.stack[len(s.stack)-n:]...)
	s.stack = s.stack[:len(s.stack)-n]
	return out
}

func (s *machine) pop1() vtype { return s.pop(1)[0] }

func (s *machine) popDesc(desc string) { s.pop(TypeSize(desc)) }

func (s *machine) load(slot int) vtype {
	if slot < 0 || slot >= len(s.locals) {
		s.fail("local %d out of range", slot)
		return topType
	}
	return s.locals[slot]
}

func (s *machine) store(slot int, ts ...vtype) {
	if slot < 0 || slot+len(ts) > len(s.locals) {
		s.fail("local %d out of range", slot)
		return
	}
	if slot > 0 && s.locals[slot-1].isWide() {
		s.locals[slot-1] = topType
	}
	copy(s.locals[slot:], ts)
}

// initialize replaces every occurrence of the uninitialized receiver of a
// constructor call with the constructed type.
func (s *machine) initialize(from, to vtype) {
	for i, t := range s.locals {
		if t == from {
			s.locals[i] = to
		}
	}
	for i, t := range s.stack {
		if t == from {
			s.stack[i] = to
		}
	}
}

func constantType(c bytecode.Constant) []vtype {
	switch v := c.(type) {
	case bytecode.Int:
		return []vtype{intType}
	case bytecode.Float:
		return []vtype{floatType}
	case bytecode.Long:
		return []vtype{longType, topType}
	case bytecode.Double:
		return []vtype{doubleType, topType}
	case bytecode.String:
		return []vtype{objectType("java/lang/String")}
	case bytecode.ClassType:
		return []vtype{objectType("java/lang/Class")}
	case bytecode.MethodType:
		return []vtype{objectType("java/lang/invoke/MethodType")}
	case bytecode.Handle:
		return []vtype{objectType("java/lang/invoke/MethodHandle")}
	case bytecode.Dynamic:
		return typesOf(v.Desc)
	}
	return []vtype{topType}
}

var newarrayDescs = map[int32]string{4: "[Z", 5: "[C", 6: "[F", 7: "[D", 8: "[B", 9: "[S", 10: "[I", 11: "[J"}

// arithmetic operand types, indexed by (op - IADD) % 4
var arithTypes = [4][]vtype{{intType}, {longType, topType}, {floatType}, {doubleType, topType}}

func (s *machine) execute(className string, insn bytecode.Instruction) {
	op := insn.Opcode()
	switch v := insn.(type) {
	case *bytecode.IntInsn:
		if op == bytecode.OpNewarray {
			s.pop(1)
			desc, ok := newarrayDescs[v.Operand]
			if !ok {
				s.fail("bad NEWARRAY type %d", v.Operand)
			}
			s.push(objectType(desc))
			return
		}
		s.push(intType)
		return
	case *bytecode.VarInsn:
		switch op {
		case bytecode.OpIload:
			s.push(intType)
		case bytecode.OpFload:
			s.push(floatType)
		case bytecode.OpLload:
			s.push(longType, topType)
		case bytecode.OpDload:
			s.push(doubleType, topType)
		case bytecode.OpAload:
			s.push(s.load(v.Var))
		case bytecode.OpIstore:
			s.pop(1)
			s.store(v.Var, intType)
		case bytecode.OpFstore:
			s.pop(1)
			s.store(v.Var, floatType)
		case bytecode.OpLstore:
			s.pop(2)
			s.store(v.Var, longType, topType)
		case bytecode.OpDstore:
			s.pop(2)
			s.store(v.Var, doubleType, topType)
		case bytecode.OpAstore:
			s.store(v.Var, s.pop1())
		case bytecode.OpRet:
			s.fail("%w", ErrSubroutine)
		}
		return
	case *bytecode.IincInsn:
		s.store(v.Var, intType)
		return
	case *bytecode.LdcInsn:
		s.push(constantType(v.Value)...)
		return
	case *bytecode.TypeInsn:
		switch op {
		case bytecode.OpNew:
			s.push(vtype{kind: vUninit, alloc: insn})
		case bytecode.OpAnewarray:
			s.pop(1)
			s.push(objectType("[" + ObjectDesc(v.Desc)))
		case bytecode.OpCheckcast:
			s.pop(1)
			s.push(objectType(v.Desc))
		case bytecode.OpInstanceof:
			s.pop(1)
			s.push(intType)
		}
		return
	case *bytecode.FieldInsn:
		switch op {
		case bytecode.OpGetstatic:
			s.push(typesOf(v.Desc)...)
		case bytecode.OpPutstatic:
			s.popDesc(v.Desc)
		case bytecode.OpGetfield:
			s.pop(1)
			s.push(typesOf(v.Desc)...)
		case bytecode.OpPutfield:
			s.popDesc(v.Desc)
			s.pop(1)
		}
		return
	case *bytecode.MethodInsn:
		args, ret, err := ParseMethodDescriptor(v.Desc)
		if err != nil {
			s.fail("%v", err)
			return
		}
		for i := len(args) - 1; i >= 0; i-- {
			s.popDesc(args[i])
		}
		if op != bytecode.OpInvokestatic {
			recv := s.pop1()
			if op == bytecode.OpInvokespecial && v.Name == "<init>" {
				switch recv.kind {
				case vUninitThis:
					s.initialize(recv, objectType(className))
				case vUninit:
					s.initialize(recv, objectType(recv.alloc.(*bytecode.TypeInsn).Desc))
				}
			}
		}
		s.push(typesOf(ret)...)
		return
	case *bytecode.InvokeDynamicInsn:
		args, ret, err := ParseMethodDescriptor(v.Desc)
		if err != nil {
			s.fail("%v", err)
			return
		}
		for i := len(args) - 1; i >= 0; i-- {
			s.popDesc(args[i])
		}
		s.push(typesOf(ret)...)
		return
	case *bytecode.JumpInsn:
		switch {
		case op == bytecode.OpGoto:
		case op == bytecode.OpJsr:
			s.fail("%w", ErrSubroutine)
		case op >= bytecode.OpIfIcmpeq && op <= bytecode.OpIfAcmpne:
			s.pop(2)
		default:
			s.pop(1)
		}
		return
	case *bytecode.TableSwitchInsn, *bytecode.LookupSwitchInsn:
		s.pop(1)
		return
	case *bytecode.MultiANewArrayInsn:
		s.pop(v.Dims)
		s.push(objectType(v.Desc))
		return
	}

	switch {
	case op == bytecode.OpNop:
	case op == bytecode.OpAconstNull:
		s.push(nullType)
	case op >= bytecode.OpIconstM1 && op <= bytecode.OpIconst5:
		s.push(intType)
	case op == bytecode.OpLconst0 || op == bytecode.OpLconst1:
		s.push(longType, topType)
	case op >= bytecode.OpFconst0 && op <= bytecode.OpFconst2:
		s.push(floatType)
	case op == bytecode.OpDconst0 || op == bytecode.OpDconst1:
		s.push(doubleType, topType)
	case op >= bytecode.OpIaload && op <= bytecode.OpSaload:
		s.pop(1)
		arr := s.pop1()
		switch op {
		case bytecode.OpLaload:
			s.push(longType, topType)
		case bytecode.OpDaload:
			s.push(doubleType, topType)
		case bytecode.OpFaload:
			s.push(floatType)
		case bytecode.OpAaload:
			s.push(elementType(arr))
		default:
			s.push(intType)
		}
	case op >= bytecode.OpIastore && op <= bytecode.OpSastore:
		if op == bytecode.OpLastore || op == bytecode.OpDastore {
			s.pop(4)
		} else {
			s.pop(3)
		}
	case op == bytecode.OpPop:
		s.pop(1)
	case op == bytecode.OpPop2:
		s.pop(2)
	case op == bytecode.OpDup:
		v := s.pop(1)
		s.push(v[0], v[0])
	case op == bytecode.OpDupX1:
		v := s.pop(2)
		s.push(v[1], v[0], v[1])
	case op == bytecode.OpDupX2:
		v := s.pop(3)
		s.push(v[2], v[0], v[1], v[2])
	case op == bytecode.OpDup2:
		v := s.pop(2)
		s.push(v[0], v[1], v[0], v[1])
	case op == bytecode.OpDup2X1:
		v := s.pop(3)
		s.push(v[1], v[2], v[0], v[1], v[2])
	case op == bytecode.OpDup2X2:
		v := s.pop(4)
		s.push(v[2], v[3], v[0], v[1], v[2], v[3])
	case op == bytecode.OpSwap:
		v := s.pop(2)
		s.push(v[1], v[0])
	case op >= bytecode.OpIadd && op <= bytecode.OpDrem:
		t := arithTypes[(op-bytecode.OpIadd)%4]
		s.pop(2 * len(t))
		s.push(t...)
	case op >= bytecode.OpIneg && op <= bytecode.OpDneg:
		t := arithTypes[(op-bytecode.OpIneg)%4]
		s.pop(len(t))
		s.push(t...)
	case op == bytecode.OpIshl || op == bytecode.OpIshr || op == bytecode.OpIushr:
		s.pop(2)
		s.push(intType)
	case op.IsLongShift():
		s.pop(3)
		s.push(longType, topType)
	case op == bytecode.OpIand || op == bytecode.OpIor || op == bytecode.OpIxor:
		s.pop(2)
		s.push(intType)
	case op == bytecode.OpLand || op == bytecode.OpLor || op == bytecode.OpLxor:
		s.pop(4)
		s.push(longType, topType)
	case op >= bytecode.OpI2l && op <= bytecode.OpI2s:
		s.convert(op)
	case op == bytecode.OpLcmp || op == bytecode.OpDcmpl || op == bytecode.OpDcmpg:
		s.pop(4)
		s.push(intType)
	case op == bytecode.OpFcmpl || op == bytecode.OpFcmpg:
		s.pop(2)
		s.push(intType)
	case op == bytecode.OpIreturn || op == bytecode.OpFreturn || op == bytecode.OpAreturn:
		s.pop(1)
	case op == bytecode.OpLreturn || op == bytecode.OpDreturn:
		s.pop(2)
	case op == bytecode.OpReturn:
	case op == bytecode.OpArraylength:
		s.pop(1)
		s.push(intType)
	case op == bytecode.OpAthrow, op == bytecode.OpMonitorenter, op == bytecode.OpMonitorexit:
		s.pop(1)
	default:
		s.fail("unhandled opcode %s", op)
	}
}

func (s *machine) convert(op bytecode.Opcode) {
	from := map[bytecode.Opcode]int{
		bytecode.OpI2l: 1, bytecode.OpI2f: 1, bytecode.OpI2d: 1,
		bytecode.OpL2i: 2, bytecode.OpL2f: 2, bytecode.OpL2d: 2,
		bytecode.OpF2i: 1, bytecode.OpF2l: 1, bytecode.OpF2d: 1,
		bytecode.OpD2i: 2, bytecode.OpD2l: 2, bytecode.OpD2f: 2,
		bytecode.OpI2b: 1, bytecode.OpI2c: 1, bytecode.OpI2s: 1,
	}[op]
	s.pop(from)
	switch op {
	case bytecode.OpI2l, bytecode.OpF2l, bytecode.OpD2l:
		s.push(longType, topType)
	case bytecode.OpI2f, bytecode.OpL2f, bytecode.OpD2f:
		s.push(floatType)
	case bytecode.OpI2d, bytecode.OpL2d, bytecode.OpF2d:
		s.push(doubleType, topType)
	default:
		s.push(intType)
	}
}

func elementType(arr vtype) vtype {
	if arr.kind == vObject && strings.HasPrefix(arr.name, "[") {
		return typesOf(arr.name[1:])[0]
	}
	if arr.kind == vNull {
		return nullType
	}
	return objectType("java/lang/Object")
}

type handlerEdge struct {
	target    int
	catchType string
}

// analysis is the result of running the type inference over one method.
// frames[i] is the frame before reals[i], nil when the instruction is
// unreachable.
type analysis struct {
	reals     []bytecode.Instruction
	index     map[bytecode.Instruction]int
	frames    []*frame
	initial   *frame
	maxStack  int
	maxLocals int
}

type analyzer struct {
	analysis
	class    *Class
	method   *Method
	h        Hierarchy
	handlers [][]handlerEdge
	queued   []bool
	work     []int
}

func analyze(c *Class, m *Method, h Hierarchy) (*analysis, error) {
	if h == nil {
		h = objectHierarchy{}
	}
	a := &analyzer{class: c, method: m, h: h}
	a.index = make(map[bytecode.Instruction]int)
	var pending []bytecode.Instruction
	for insn := m.Instructions.First(); insn != nil; insn = insn.Next() {
		if bytecode.IsPseudo(insn) {
			pending = append(pending, insn)
			continue
		}
		i := len(a.reals)
		for _, p := range pending {
			a.index[p] = i
		}
		pending = pending[:0]
		a.index[insn] = i
		a.reals = append(a.reals, insn)
	}
	for _, p := range pending {
		a.index[p] = len(a.reals)
	}
	if len(a.reals) == 0 {
		return nil, errors.New("method has no instructions")
	}

	a.frames = make([]*frame, len(a.reals))
	a.handlers = make([][]handlerEdge, len(a.reals))
	a.queued = make([]bool, len(a.reals))
	for _, tc := range m.TryCatch {
		start, ok1 := a.index[tc.Start]
		end, ok2 := a.index[tc.End]
		if !ok1 || !ok2 {
			return nil, errors.New("exception range label is not in the method")
		}
		target, err := a.target(tc.Handler)
		if err != nil {
			return nil, fmt.Errorf("exception handler: %w", err)
		}
		catchType := tc.Type
		if catchType == "" {
			catchType = "java/lang/Throwable"
		}
		for i := start; i < end; i++ {
			a.handlers[i] = append(a.handlers[i], handlerEdge{target: target, catchType: catchType})
		}
	}

	init, err := a.initialFrame()
	if err != nil {
		return nil, err
	}
	a.initial = init
	a.merge(0, init.clone())
	for len(a.work) > 0 {
		i := a.work[len(a.work)-1]
		a.work = a.work[:len(a.work)-1]
		a.queued[i] = false
		if err := a.step(i); err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, bytecode.Format(a.reals[i]), err)
		}
	}
	return &a.analysis, nil
}

func (a *analyzer) target(l *bytecode.Label) (int, error) {
	i, ok := a.index[l]
	if !ok {
		return 0, errors.New("label is not in the method")
	}
	if i == len(a.reals) {
		return 0, errors.New("target is past the last instruction")
	}
	return i, nil
}

func (a *analyzer) initialFrame() (*frame, error) {
	m := a.method
	args, _, err := ParseMethodDescriptor(m.Desc)
	if err != nil {
		return nil, err
	}
	var params []vtype
	if !m.Access.IsStatic() {
		if m.Name == "<init>" && a.class.Name != "java/lang/Object" {
			params = append(params, vtype{kind: vUninitThis})
		} else {
			params = append(params, objectType(a.class.Name))
		}
	}
	for _, arg := range args {
		params = append(params, typesOf(arg)...)
	}

	a.maxLocals = len(params)
	for _, insn := range a.reals {
		top := 0
		switch v := insn.(type) {
		case *bytecode.VarInsn:
			top = v.Var + 1
			if op := v.Op; op == bytecode.OpLload || op == bytecode.OpDload || op == bytecode.OpLstore || op == bytecode.OpDstore {
				top++
			}
		case *bytecode.IincInsn:
			top = v.Var + 1
		}
		a.maxLocals = max(a.maxLocals, top)
	}

	locals := make([]vtype, a.maxLocals)
	copy(locals, params)
	return &frame{locals: locals}, nil
}

func (a *analyzer) step(i int) error {
	in := a.frames[i]
	insn := a.reals[i]
	s := &machine{frame: *in.clone()}
	s.execute(a.class.Name, insn)
	if s.err != nil {
		return s.err
	}
	a.maxStack = max(a.maxStack, len(in.stack), len(s.stack))
	out := &s.frame

	for _, h := range a.handlers[i] {
		hf := &frame{locals: append([]vtype(nil), in.locals...), stack: []vtype{objectType(h.catchType)}}
		a.maxStack = max(a.maxStack, 1)
		if err := a.merge(h.target, hf); err != nil {
			return err
		}
	}

	op := insn.Opcode()
	switch v := insn.(type) {
	case *bytecode.JumpInsn:
		t, err := a.target(v.Target)
		if err != nil {
			return err
		}
		if err := a.merge(t, out); err != nil {
			return err
		}
	case *bytecode.TableSwitchInsn:
		if err := a.mergeLabels(out, v.Default, v.Targets...); err != nil {
			return err
		}
	case *bytecode.LookupSwitchInsn:
		if err := a.mergeLabels(out, v.Default, v.Targets...); err != nil {
			return err
		}
	}
	if !op.EndsFlow() {
		if i+1 == len(a.reals) {
			return errors.New("execution falls off the end of the code")
		}
		return a.merge(i+1, out)
	}
	return nil
}

func (a *analyzer) mergeLabels(out *frame, dflt *bytecode.Label, targets ...*bytecode.Label) error {
	for _, l := range append([]*bytecode.Label{dflt}, targets...) {
		t, err := a.target(l)
		if err != nil {
			return err
		}
		if err := a.merge(t, out); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) merge(i int, f *frame) error {
	old := a.frames[i]
	if old == nil {
		a.frames[i] = f.clone()
		a.enqueue(i)
		return nil
	}
	if len(old.stack) != len(f.stack) {
		return fmt.Errorf("stack height %d does not match %d at instruction %d", len(f.stack), len(old.stack), i)
	}
	changed := false
	for j := range old.locals {
		if t := a.mergeType(old.locals[j], f.locals[j]); t != old.locals[j] {
			old.locals[j] = t
			changed = true
		}
	}
	for j := range old.stack {
		if t := a.mergeType(old.stack[j], f.stack[j]); t != old.stack[j] {
			old.stack[j] = t
			changed = true
		}
	}
	if changed {
		a.enqueue(i)
	}
	return nil
}

func (a *analyzer) enqueue(i int) {
	if !a.queued[i] {
		a.queued[i] = true
		a.work = append(a.work, i)
	}
}

func (a *analyzer) mergeType(x, y vtype) vtype {
	if x == y {
		return x
	}
	if !x.isReference() || !y.isReference() {
		return topType
	}
	if x.kind == vNull {
		return y
	}
	if y.kind == vNull {
		return x
	}
	return objectType(a.commonType(x.name, y.name))
}

func (a *analyzer) commonType(x, y string) string {
	if x == y {
		return x
	}
	dx, ex := splitArray(x)
	dy, ey := splitArray(y)
	switch {
	case dx == 0 && dy == 0:
		return a.h.CommonSuperClass(x, y)
	case dx == 0 || dy == 0:
		return "java/lang/Object"
	case dx == dy:
		if IsReference(ex) && IsReference(ey) {
			return strings.Repeat("[", dx) + ObjectDesc(a.commonType(InternalName(ex), InternalName(ey)))
		}
		return objectArray(dx - 1)
	}
	shallow := ex
	if dy < dx {
		shallow = ey
	}
	d := min(dx, dy)
	if IsReference(shallow) {
		return objectArray(d)
	}
	return objectArray(d - 1)
}

// splitArray returns the dimension count and element descriptor of an
// array type, or 0 and the name itself for a class.
func splitArray(name string) (int, string) {
	d := 0
	for d < len(name) && name[d] == '[' {
		d++
	}
	if d == 0 {
		return 0, name
	}
	return d, name[d:]
}

func objectArray(dims int) string {
	if dims == 0 {
		return "java/lang/Object"
	}
	return strings.Repeat("[", dims) + "Ljava/lang/Object;"
}
