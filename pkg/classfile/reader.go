package classfile

import (
	"fmt"
	"sort"

	"github.com/chazu/deobby/pkg/bytecode"
)

// Compact and wide encodings. They are normalized to their general forms
// on read and chosen again on write, so they never appear in a List.
const (
	rawIload0  = 0x1A
	rawAload3  = 0x2D
	rawIstore0 = 0x3B
	rawAstore3 = 0x4E
	rawLdcW    = 0x13
	rawLdc2W   = 0x14
	rawWide    = 0xC4
	rawGotoW   = 0xC8
	rawJsrW    = 0xC9
)

// ParseOptions controls decoding.
type ParseOptions struct {
	// SkipCode leaves method bodies undecoded: Instructions is nil and the
	// Code attribute is discarded. Header-only reads use it.
	SkipCode bool
}

// Parse decodes a class file.
func Parse(data []byte) (*Class, error) {
	return ParseWithOptions(data, ParseOptions{})
}

// ParseWithOptions decodes a class file.
func ParseWithOptions(data []byte, opts ParseOptions) (*Class, error) {
	r := newReader(data)
	if magic := r.u4("magic"); r.err == nil && magic != Magic {
		return nil, fmt.Errorf("bad magic 0x%08X", magic)
	}
	c := &Class{}
	c.Minor = r.u2("minor_version")
	c.Major = r.u2("major_version")
	if r.err != nil {
		return nil, r.err
	}
	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	c.Access = AccessFlags(r.u2("access_flags"))
	if c.Name, err = pool.ClassName(r.u2("this_class")); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if super := r.u2("super_class"); super != 0 {
		if c.Super, err = pool.ClassName(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	n := int(r.u2("interfaces_count"))
	for i := 0; i < n; i++ {
		name, err := pool.ClassName(r.u2("interface"))
		if err != nil {
			return nil, fmt.Errorf("%s: interface %d: %w", c.Name, i, err)
		}
		c.Interfaces = append(c.Interfaces, name)
	}

	n = int(r.u2("fields_count"))
	for i := 0; i < n; i++ {
		f := &Field{Access: AccessFlags(r.u2("field access"))}
		if f.Name, err = pool.UTF8(r.u2("field name")); err != nil {
			return nil, fmt.Errorf("%s: field %d: %w", c.Name, i, err)
		}
		if f.Desc, err = pool.UTF8(r.u2("field descriptor")); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
		if f.Attributes, err = readAttributes(r, pool); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
		c.Fields = append(c.Fields, f)
	}

	n = int(r.u2("methods_count"))
	for i := 0; i < n; i++ {
		m := &Method{Access: AccessFlags(r.u2("method access"))}
		if m.Name, err = pool.UTF8(r.u2("method name")); err != nil {
			return nil, fmt.Errorf("%s: method %d: %w", c.Name, i, err)
		}
		if m.Desc, err = pool.UTF8(r.u2("method descriptor")); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
		}
		attrs, err := readAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
		}
		for _, a := range attrs {
			if a.Name != "Code" {
				m.Attributes = append(m.Attributes, a)
				continue
			}
			if opts.SkipCode {
				continue
			}
			if err := readCode(a.Data, pool, m); err != nil {
				return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
			}
		}
		c.Methods = append(c.Methods, m)
	}

	if c.Attributes, err = readAttributes(r, pool); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func readAttributes(r *reader, pool *Pool) ([]Attribute, error) {
	n := int(r.u2("attributes_count"))
	var attrs []Attribute
	for i := 0; i < n; i++ {
		name, err := pool.UTF8(r.u2("attribute name"))
		if err != nil {
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("attribute name: %w", err)
		}
		size := int(r.u4("attribute length"))
		data := r.bytes(size, name)
		if r.err != nil {
			return nil, r.err
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, r.err
}

// codeDecoder turns a Code attribute into an instruction list. Branch
// targets, exception ranges and line numbers become labels keyed by
// bytecode offset.
type codeDecoder struct {
	pool   *Pool
	code   []byte
	labels map[int]*bytecode.Label
}

func (d *codeDecoder) label(pc int) *bytecode.Label {
	l, ok := d.labels[pc]
	if !ok {
		l = bytecode.NewLabel()
		d.labels[pc] = l
	}
	return l
}

type decoded struct {
	pc   int
	insn bytecode.Instruction
}

func readCode(data []byte, pool *Pool, m *Method) error {
	r := newReader(data)
	m.MaxStack = int(r.u2("max_stack"))
	m.MaxLocals = int(r.u2("max_locals"))
	size := int(r.u4("code_length"))
	code := r.bytes(size, "code")
	if r.err != nil {
		return r.err
	}

	d := &codeDecoder{pool: pool, code: code, labels: make(map[int]*bytecode.Label)}
	insns, err := d.decode()
	if err != nil {
		return err
	}

	n := int(r.u2("exception_table_length"))
	m.TryCatch = nil
	for i := 0; i < n; i++ {
		start, end, handler := int(r.u2("start_pc")), int(r.u2("end_pc")), int(r.u2("handler_pc"))
		catchType := r.u2("catch_type")
		if r.err != nil {
			return r.err
		}
		tc := &TryCatch{Start: d.label(start), End: d.label(end), Handler: d.label(handler)}
		if catchType != 0 {
			if tc.Type, err = pool.ClassName(catchType); err != nil {
				return fmt.Errorf("exception table entry %d: %w", i, err)
			}
		}
		m.TryCatch = append(m.TryCatch, tc)
	}

	lines := make(map[int][]int)
	attrs, err := readAttributes(r, pool)
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if a.Name != "LineNumberTable" {
			// Offsets inside other Code attributes would go stale; frames
			// and local tables are rebuilt or dropped.
			continue
		}
		lr := newReader(a.Data)
		count := int(lr.u2("line_number_table_length"))
		for i := 0; i < count; i++ {
			pc, line := int(lr.u2("start_pc")), int(lr.u2("line_number"))
			if lr.err != nil {
				return lr.err
			}
			d.label(pc)
			lines[pc] = append(lines[pc], line)
		}
	}

	list := bytecode.NewList()
	placed := make(map[int]bool, len(d.labels))
	place := func(pc int) {
		if l, ok := d.labels[pc]; ok {
			list.Add(l)
			placed[pc] = true
			for _, line := range lines[pc] {
				list.Add(bytecode.NewLineNumber(line, l))
			}
		}
	}
	for _, di := range insns {
		place(di.pc)
		list.Add(di.insn)
	}
	place(len(code))

	if len(placed) != len(d.labels) {
		var bad []int
		for pc := range d.labels {
			if !placed[pc] {
				bad = append(bad, pc)
			}
		}
		sort.Ints(bad)
		return fmt.Errorf("offset %d is not an instruction boundary", bad[0])
	}
	m.Instructions = list
	return nil
}

func (d *codeDecoder) decode() ([]decoded, error) {
	r := newReader(d.code)
	var out []decoded
	for r.pos < len(d.code) {
		pc := r.pos
		insn, err := d.decodeOne(r, pc)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", pc, err)
		}
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, decoded{pc: pc, insn: insn})
	}
	return out, nil
}

func (d *codeDecoder) decodeOne(r *reader, pc int) (bytecode.Instruction, error) {
	b := r.u1("opcode")
	switch {
	case b >= rawIload0 && b <= rawAload3:
		k := int(b - rawIload0)
		return bytecode.NewVarInsn(bytecode.OpIload+bytecode.Opcode(k/4), k%4), nil
	case b >= rawIstore0 && b <= rawAstore3:
		k := int(b - rawIstore0)
		return bytecode.NewVarInsn(bytecode.OpIstore+bytecode.Opcode(k/4), k%4), nil
	}

	switch b {
	case byte(bytecode.OpLdc):
		return d.ldc(uint16(r.u1("ldc index")))
	case rawLdcW, rawLdc2W:
		return d.ldc(r.u2("ldc index"))
	case rawWide:
		op := bytecode.Opcode(r.u1("wide opcode"))
		if op == bytecode.OpIinc {
			slot := int(r.u2("iinc index"))
			return bytecode.NewIincInsn(slot, int(int16(r.u2("iinc const")))), nil
		}
		if !op.Valid() || op.Kind() != bytecode.KindVar {
			return nil, fmt.Errorf("WIDE applied to %s", op)
		}
		return bytecode.NewVarInsn(op, int(r.u2("wide index"))), nil
	case rawGotoW:
		return bytecode.NewJumpInsn(bytecode.OpGoto, d.label(pc+int(int32(r.u4("goto_w offset"))))), nil
	case rawJsrW:
		return bytecode.NewJumpInsn(bytecode.OpJsr, d.label(pc+int(int32(r.u4("jsr_w offset"))))), nil
	}

	op := bytecode.Opcode(b)
	if !op.Valid() {
		return nil, fmt.Errorf("unknown opcode 0x%02X", b)
	}
	switch op.Kind() {
	case bytecode.KindNone:
		return bytecode.NewInsn(op), nil
	case bytecode.KindInt:
		switch op {
		case bytecode.OpBipush:
			return bytecode.NewIntInsn(op, int32(int8(r.u1("bipush")))), nil
		case bytecode.OpSipush:
			return bytecode.NewIntInsn(op, int32(int16(r.u2("sipush")))), nil
		}
		return bytecode.NewIntInsn(op, int32(r.u1("newarray type"))), nil
	case bytecode.KindVar:
		return bytecode.NewVarInsn(op, int(r.u1("local index"))), nil
	case bytecode.KindType:
		name, err := d.pool.ClassName(r.u2("class index"))
		if err != nil {
			return nil, err
		}
		return bytecode.NewTypeInsn(op, name), nil
	case bytecode.KindField:
		owner, name, desc, _, err := d.pool.MemberRef(r.u2("field index"))
		if err != nil {
			return nil, err
		}
		return bytecode.NewFieldInsn(op, owner, name, desc), nil
	case bytecode.KindMethod:
		owner, name, desc, tag, err := d.pool.MemberRef(r.u2("method index"))
		if err != nil {
			return nil, err
		}
		if op == bytecode.OpInvokeinterface {
			r.u1("invokeinterface count")
			r.u1("invokeinterface zero")
		}
		return bytecode.NewMethodInsn(op, owner, name, desc, tag == TagInterfaceMethodref), nil
	case bytecode.KindInvokeDynamic:
		bsm, name, desc, err := d.pool.Dynamic(r.u2("invokedynamic index"))
		if err != nil {
			return nil, err
		}
		r.u2("invokedynamic zero")
		return bytecode.NewInvokeDynamicInsn(name, desc, bsm), nil
	case bytecode.KindJump:
		return bytecode.NewJumpInsn(op, d.label(pc+int(int16(r.u2("branch offset"))))), nil
	case bytecode.KindIinc:
		slot := int(r.u1("iinc index"))
		return bytecode.NewIincInsn(slot, int(int8(r.u1("iinc const")))), nil
	case bytecode.KindTableSwitch:
		r.pos += pad(pc)
		dflt := d.label(pc + int(int32(r.u4("tableswitch default"))))
		low, high := int32(r.u4("tableswitch low")), int32(r.u4("tableswitch high"))
		if r.err == nil && high < low {
			return nil, fmt.Errorf("tableswitch high %d below low %d", high, low)
		}
		n := int(int64(high) - int64(low) + 1)
		if !r.need(4*n, "tableswitch targets") {
			return nil, r.err
		}
		targets := make([]*bytecode.Label, n)
		for i := range targets {
			targets[i] = d.label(pc + int(int32(r.u4("tableswitch target"))))
		}
		return bytecode.NewTableSwitchInsn(low, high, dflt, targets...), nil
	case bytecode.KindLookupSwitch:
		r.pos += pad(pc)
		dflt := d.label(pc + int(int32(r.u4("lookupswitch default"))))
		n := int(int32(r.u4("lookupswitch npairs")))
		if !r.need(8*n, "lookupswitch pairs") {
			return nil, r.err
		}
		keys := make([]int32, n)
		targets := make([]*bytecode.Label, n)
		for i := 0; i < n; i++ {
			keys[i] = int32(r.u4("lookupswitch key"))
			targets[i] = d.label(pc + int(int32(r.u4("lookupswitch target"))))
		}
		return bytecode.NewLookupSwitchInsn(dflt, keys, targets), nil
	case bytecode.KindMultiANewArray:
		name, err := d.pool.ClassName(r.u2("class index"))
		if err != nil {
			return nil, err
		}
		return bytecode.NewMultiANewArrayInsn(name, int(r.u1("dimensions"))), nil
	}
	return nil, fmt.Errorf("unknown opcode 0x%02X", b)
}

func (d *codeDecoder) ldc(i uint16) (bytecode.Instruction, error) {
	c, err := d.pool.Constant(i)
	if err != nil {
		return nil, err
	}
	return bytecode.NewLdcInsn(c), nil
}

// pad returns the alignment bytes following a switch opcode at pc.
func pad(pc int) int {
	return (4 - (pc+1)%4) % 4
}
