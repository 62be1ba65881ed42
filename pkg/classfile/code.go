package classfile

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/deobby/pkg/bytecode"
)

// ErrCodeTooLarge is returned for a method body over 65535 bytes.
var ErrCodeTooLarge = errors.New("method code too large")

// assembler lays out one method body. Offsets are recomputed until every
// branch fits its encoding; widened branches only grow, so it terminates.
type assembler struct {
	pool    *Pool
	method  *Method
	info    *analysis
	seq     []bytecode.Instruction
	offsets map[bytecode.Instruction]int
	wide    map[*bytecode.JumpInsn]bool
	size    int
}

func (e *encoder) code(m *Method) ([]byte, error) {
	info, err := analyze(e.class, m, e.h)
	if err != nil {
		return nil, err
	}
	a := &assembler{
		pool:    e.pool,
		method:  m,
		info:    info,
		offsets: make(map[bytecode.Instruction]int),
		wide:    make(map[*bytecode.JumpInsn]bool),
	}
	for insn := m.Instructions.First(); insn != nil; insn = insn.Next() {
		if !bytecode.IsPseudo(insn) && info.frames[info.index[insn]] == nil {
			continue
		}
		a.seq = append(a.seq, insn)
	}
	if err := a.layout(); err != nil {
		return nil, err
	}

	var code writer
	for _, insn := range a.seq {
		if err := a.emit(&code, insn); err != nil {
			return nil, fmt.Errorf("%s: %w", bytecode.Format(insn), err)
		}
	}

	var w writer
	w.u2(uint16(info.maxStack))
	w.u2(uint16(info.maxLocals))
	w.u4(uint32(code.len()))
	w.raw(code.bytes())
	a.exceptionTable(&w)

	var attrs []Attribute
	if lines := a.lineNumbers(); lines != nil {
		attrs = append(attrs, Attribute{Name: "LineNumberTable", Data: lines})
	}
	if e.class.Major >= 50 {
		if frames := a.stackMap(); frames != nil {
			attrs = append(attrs, Attribute{Name: "StackMapTable", Data: frames})
		}
	}
	writeAttributes(&w, e.pool, attrs)
	return w.bytes(), nil
}

func (a *assembler) layout() error {
	for {
		pc := 0
		for _, insn := range a.seq {
			a.offsets[insn] = pc
			n, err := a.width(insn, pc)
			if err != nil {
				return fmt.Errorf("%s: %w", bytecode.Format(insn), err)
			}
			pc += n
		}
		a.size = pc
		if pc > math.MaxUint16 {
			return fmt.Errorf("%d bytes: %w", pc, ErrCodeTooLarge)
		}

		grown := false
		for _, insn := range a.seq {
			j, ok := insn.(*bytecode.JumpInsn)
			if !ok || a.wide[j] {
				continue
			}
			target, ok := a.offsets[j.Target]
			if !ok {
				return fmt.Errorf("%s: target label is not in the method", bytecode.Format(j))
			}
			if d := target - a.offsets[j]; d < math.MinInt16 || d > math.MaxInt16 {
				a.wide[j] = true
				grown = true
			}
		}
		if !grown {
			return nil
		}
	}
}

func (a *assembler) width(insn bytecode.Instruction, pc int) (int, error) {
	switch v := insn.(type) {
	case *bytecode.Label, *bytecode.LineNumber, *bytecode.Frame:
		return 0, nil
	case *bytecode.Insn:
		return 1, nil
	case *bytecode.IntInsn:
		if v.Op == bytecode.OpSipush {
			return 3, nil
		}
		return 2, nil
	case *bytecode.VarInsn:
		switch {
		case v.Var < 0 || v.Var > math.MaxUint16:
			return 0, fmt.Errorf("local %d out of range", v.Var)
		case v.Var <= 3 && v.Op != bytecode.OpRet:
			return 1, nil
		case v.Var <= math.MaxUint8:
			return 2, nil
		}
		return 4, nil
	case *bytecode.IincInsn:
		if v.Var <= math.MaxUint8 && v.Incr >= math.MinInt8 && v.Incr <= math.MaxInt8 {
			return 3, nil
		}
		if v.Incr < math.MinInt16 || v.Incr > math.MaxInt16 {
			return 0, fmt.Errorf("increment %d out of range", v.Incr)
		}
		return 6, nil
	case *bytecode.TypeInsn, *bytecode.FieldInsn:
		return 3, nil
	case *bytecode.MethodInsn:
		if v.Op == bytecode.OpInvokeinterface {
			return 5, nil
		}
		return 3, nil
	case *bytecode.InvokeDynamicInsn:
		return 5, nil
	case *bytecode.MultiANewArrayInsn:
		return 4, nil
	case *bytecode.LdcInsn:
		if bytecode.IsWide(v.Value) || a.pool.AddConstant(v.Value) > math.MaxUint8 {
			return 3, nil
		}
		return 2, nil
	case *bytecode.JumpInsn:
		if v.Op == bytecode.OpJsr {
			return 0, ErrSubroutine
		}
		if !a.wide[v] {
			return 3, nil
		}
		if v.Op == bytecode.OpGoto {
			return 5, nil
		}
		return 8, nil
	case *bytecode.TableSwitchInsn:
		if int64(v.Max)-int64(v.Min)+1 != int64(len(v.Targets)) {
			return 0, fmt.Errorf("tableswitch %d..%d has %d targets", v.Min, v.Max, len(v.Targets))
		}
		return 1 + pad(pc) + 12 + 4*len(v.Targets), nil
	case *bytecode.LookupSwitchInsn:
		if len(v.Keys) != len(v.Targets) {
			return 0, fmt.Errorf("lookupswitch has %d keys and %d targets", len(v.Keys), len(v.Targets))
		}
		return 1 + pad(pc) + 8 + 8*len(v.Keys), nil
	}
	return 0, fmt.Errorf("unhandled instruction %T", insn)
}

// invert returns the conditional branch with the opposite condition.
func invert(op bytecode.Opcode) bytecode.Opcode {
	switch op {
	case bytecode.OpIfnull:
		return bytecode.OpIfnonnull
	case bytecode.OpIfnonnull:
		return bytecode.OpIfnull
	}
	if (op-bytecode.OpIfeq)%2 == 0 {
		return op + 1
	}
	return op - 1
}

func (a *assembler) emit(w *writer, insn bytecode.Instruction) error {
	pc := a.offsets[insn]
	if bytecode.IsPseudo(insn) {
		return nil
	}
	if w.len() != pc {
		return fmt.Errorf("layout drift: at %d, expected %d", w.len(), pc)
	}
	switch v := insn.(type) {
	case *bytecode.Insn:
		w.u1(uint8(v.Op))
	case *bytecode.IntInsn:
		w.u1(uint8(v.Op))
		if v.Op == bytecode.OpSipush {
			w.u2(uint16(v.Operand))
		} else {
			w.u1(uint8(v.Operand))
		}
	case *bytecode.VarInsn:
		switch {
		case v.Var <= 3 && v.Op >= bytecode.OpIload && v.Op <= bytecode.OpAload:
			w.u1(rawIload0 + uint8(v.Op-bytecode.OpIload)*4 + uint8(v.Var))
		case v.Var <= 3 && v.Op >= bytecode.OpIstore && v.Op <= bytecode.OpAstore:
			w.u1(rawIstore0 + uint8(v.Op-bytecode.OpIstore)*4 + uint8(v.Var))
		case v.Var <= math.MaxUint8:
			w.u1(uint8(v.Op))
			w.u1(uint8(v.Var))
		default:
			w.u1(rawWide)
			w.u1(uint8(v.Op))
			w.u2(uint16(v.Var))
		}
	case *bytecode.IincInsn:
		if v.Var <= math.MaxUint8 && v.Incr >= math.MinInt8 && v.Incr <= math.MaxInt8 {
			w.u1(uint8(bytecode.OpIinc))
			w.u1(uint8(v.Var))
			w.u1(uint8(int8(v.Incr)))
		} else {
			w.u1(rawWide)
			w.u1(uint8(bytecode.OpIinc))
			w.u2(uint16(v.Var))
			w.u2(uint16(int16(v.Incr)))
		}
	case *bytecode.TypeInsn:
		w.u1(uint8(v.Op))
		w.u2(a.pool.AddClass(v.Desc))
	case *bytecode.FieldInsn:
		w.u1(uint8(v.Op))
		w.u2(a.pool.AddField(v.Owner, v.Name, v.Desc))
	case *bytecode.MethodInsn:
		w.u1(uint8(v.Op))
		w.u2(a.pool.AddMethod(v.Owner, v.Name, v.Desc, v.Interface))
		if v.Op == bytecode.OpInvokeinterface {
			n, err := ArgumentSlots(v.Desc)
			if err != nil {
				return err
			}
			w.u1(uint8(n + 1))
			w.u1(0)
		}
	case *bytecode.InvokeDynamicInsn:
		w.u1(uint8(bytecode.OpInvokedynamic))
		w.u2(a.pool.AddInvokeDynamic(v.Bootstrap, v.Name, v.Desc))
		w.u2(0)
	case *bytecode.MultiANewArrayInsn:
		w.u1(uint8(bytecode.OpMultianewarray))
		w.u2(a.pool.AddClass(v.Desc))
		w.u1(uint8(v.Dims))
	case *bytecode.LdcInsn:
		i := a.pool.AddConstant(v.Value)
		switch {
		case bytecode.IsWide(v.Value):
			w.u1(rawLdc2W)
			w.u2(i)
		case i > math.MaxUint8:
			w.u1(rawLdcW)
			w.u2(i)
		default:
			w.u1(uint8(bytecode.OpLdc))
			w.u1(uint8(i))
		}
	case *bytecode.JumpInsn:
		target := a.offsets[v.Target]
		switch {
		case !a.wide[v]:
			w.u1(uint8(v.Op))
			w.u2(uint16(int16(target - pc)))
		case v.Op == bytecode.OpGoto:
			w.u1(rawGotoW)
			w.u4(uint32(int32(target - pc)))
		default:
			w.u1(uint8(invert(v.Op)))
			w.u2(8)
			w.u1(rawGotoW)
			w.u4(uint32(int32(target - (pc + 3))))
		}
	case *bytecode.TableSwitchInsn:
		w.u1(uint8(bytecode.OpTableswitch))
		for i := 0; i < pad(pc); i++ {
			w.u1(0)
		}
		w.u4(uint32(int32(a.offsets[v.Default] - pc)))
		w.u4(uint32(v.Min))
		w.u4(uint32(v.Max))
		for _, t := range v.Targets {
			w.u4(uint32(int32(a.offsets[t] - pc)))
		}
	case *bytecode.LookupSwitchInsn:
		w.u1(uint8(bytecode.OpLookupswitch))
		for i := 0; i < pad(pc); i++ {
			w.u1(0)
		}
		w.u4(uint32(int32(a.offsets[v.Default] - pc)))
		w.u4(uint32(len(v.Keys)))
		order := make([]int, len(v.Keys))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(x, y int) bool { return v.Keys[order[x]] < v.Keys[order[y]] })
		for _, i := range order {
			w.u4(uint32(v.Keys[i]))
			w.u4(uint32(int32(a.offsets[v.Targets[i]] - pc)))
		}
	default:
		return fmt.Errorf("unhandled instruction %T", insn)
	}
	return nil
}

func (a *assembler) exceptionTable(w *writer) {
	type row struct{ start, end, handler, catchType uint16 }
	var rows []row
	for _, tc := range a.method.TryCatch {
		start, end := a.offsets[tc.Start], a.offsets[tc.End]
		if start >= end {
			continue
		}
		r := row{start: uint16(start), end: uint16(end), handler: uint16(a.offsets[tc.Handler])}
		if tc.Type != "" {
			r.catchType = a.pool.AddClass(tc.Type)
		}
		rows = append(rows, r)
	}
	w.u2(uint16(len(rows)))
	for _, r := range rows {
		w.u2(r.start)
		w.u2(r.end)
		w.u2(r.handler)
		w.u2(r.catchType)
	}
}

func (a *assembler) lineNumbers() []byte {
	var body writer
	n := 0
	for _, insn := range a.seq {
		ln, ok := insn.(*bytecode.LineNumber)
		if !ok {
			continue
		}
		pc, ok := a.offsets[ln.Start]
		if !ok || pc >= a.size {
			continue
		}
		body.u2(uint16(pc))
		body.u2(uint16(ln.Line))
		n++
	}
	if n == 0 {
		return nil
	}
	var w writer
	w.u2(uint16(n))
	w.raw(body.bytes())
	return w.bytes()
}

// stackMap emits a frame at every branch target, switch target and
// handler, and after each widened conditional.
func (a *assembler) stackMap() []byte {
	info := a.info
	need := make(map[int]bool)
	mark := func(l *bytecode.Label) {
		if i, ok := info.index[l]; ok && i < len(info.reals) {
			need[i] = true
		}
	}
	for _, insn := range a.seq {
		switch v := insn.(type) {
		case *bytecode.JumpInsn:
			mark(v.Target)
			if a.wide[v] && v.Op != bytecode.OpGoto {
				need[info.index[v]+1] = true
			}
		case *bytecode.TableSwitchInsn:
			mark(v.Default)
			for _, t := range v.Targets {
				mark(t)
			}
		case *bytecode.LookupSwitchInsn:
			mark(v.Default)
			for _, t := range v.Targets {
				mark(t)
			}
		}
	}
	for _, tc := range a.method.TryCatch {
		if a.offsets[tc.Start] < a.offsets[tc.End] {
			mark(tc.Handler)
		}
	}
	if len(need) == 0 {
		return nil
	}

	indices := make([]int, 0, len(need))
	for i := range need {
		if info.frames[i] != nil {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)

	sm := newStackMapWriter(a.pool, info.initial, func(alloc bytecode.Instruction) int { return a.offsets[alloc] })
	for _, i := range indices {
		sm.add(a.offsets[info.reals[i]], info.frames[i])
	}
	return sm.bytes()
}
