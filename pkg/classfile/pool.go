package classfile

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/deobby/pkg/bytecode"
)

// ErrPoolOverflow is returned when a class needs more than 65535 constant
// pool slots.
var ErrPoolOverflow = errors.New("constant pool overflow")

// entry is one constant pool slot. The meaning of n, a and b depends on tag:
// numeric payload in n; referenced indices in a and b; for method handles a
// is the reference kind and b the member.
type entry struct {
	tag  ConstantTag
	s    string
	n    uint64
	a, b uint16
}

// Pool is a constant pool. It is both the table read from a class file and
// the builder the writer appends to: adding an existing constant returns its
// index.
type Pool struct {
	entries  []entry
	index    map[entry]uint16
	overflow bool
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make([]entry, 1), index: make(map[entry]uint16)}
}

// Count returns the constant_pool_count value: one more than the highest index.
func (p *Pool) Count() int { return len(p.entries) }

func (p *Pool) clone() *Pool {
	c := &Pool{
		entries:  make([]entry, len(p.entries)),
		index:    make(map[entry]uint16, len(p.index)),
		overflow: p.overflow,
	}
	copy(c.entries, p.entries)
	for k, v := range p.index {
		c.index[k] = v
	}
	return c
}

func wide(tag ConstantTag) bool { return tag == TagLong || tag == TagDouble }

func (p *Pool) add(e entry) uint16 {
	if i, ok := p.index[e]; ok {
		return i
	}
	slots := 1
	if wide(e.tag) {
		slots = 2
	}
	if len(p.entries)+slots > math.MaxUint16 {
		p.overflow = true
		return 0
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if slots == 2 {
		p.entries = append(p.entries, entry{})
	}
	p.index[e] = i
	return i
}

func (p *Pool) AddUTF8(s string) uint16 {
	if len(s) > math.MaxUint16/2 && len(encodeMUTF8(s)) > math.MaxUint16 {
		p.overflow = true
		return 0
	}
	return p.add(entry{tag: TagUtf8, s: s})
}

func (p *Pool) AddClass(name string) uint16 {
	return p.add(entry{tag: TagClass, a: p.AddUTF8(name)})
}

func (p *Pool) AddString(s string) uint16 {
	return p.add(entry{tag: TagString, a: p.AddUTF8(s)})
}

func (p *Pool) AddInt(v int32) uint16 {
	return p.add(entry{tag: TagInteger, n: uint64(uint32(v))})
}

// AddFloat keys floats by bit pattern so NaN payloads and -0.0 survive.
func (p *Pool) AddFloat(v float32) uint16 {
	return p.add(entry{tag: TagFloat, n: uint64(math.Float32bits(v))})
}

func (p *Pool) AddLong(v int64) uint16 { return p.add(entry{tag: TagLong, n: uint64(v)}) }

func (p *Pool) AddDouble(v float64) uint16 {
	return p.add(entry{tag: TagDouble, n: math.Float64bits(v)})
}

func (p *Pool) AddNameAndType(name, desc string) uint16 {
	return p.add(entry{tag: TagNameAndType, a: p.AddUTF8(name), b: p.AddUTF8(desc)})
}

func (p *Pool) AddField(owner, name, desc string) uint16 {
	return p.add(entry{tag: TagFieldref, a: p.AddClass(owner), b: p.AddNameAndType(name, desc)})
}

func (p *Pool) AddMethod(owner, name, desc string, itf bool) uint16 {
	tag := TagMethodref
	if itf {
		tag = TagInterfaceMethodref
	}
	return p.add(entry{tag: tag, a: p.AddClass(owner), b: p.AddNameAndType(name, desc)})
}

func (p *Pool) AddMethodType(desc string) uint16 {
	return p.add(entry{tag: TagMethodType, a: p.AddUTF8(desc)})
}

func (p *Pool) AddHandle(h bytecode.Handle) uint16 {
	var ref uint16
	if h.Kind <= RefPutStatic {
		ref = p.AddField(h.Owner, h.Name, h.Desc)
	} else {
		ref = p.AddMethod(h.Owner, h.Name, h.Desc, h.Interface)
	}
	return p.add(entry{tag: TagMethodHandle, a: uint16(h.Kind), b: ref})
}

func (p *Pool) AddInvokeDynamic(bootstrap int, name, desc string) uint16 {
	return p.add(entry{tag: TagInvokeDynamic, a: uint16(bootstrap), b: p.AddNameAndType(name, desc)})
}

func (p *Pool) AddDynamic(bootstrap int, name, desc string) uint16 {
	return p.add(entry{tag: TagDynamic, a: uint16(bootstrap), b: p.AddNameAndType(name, desc)})
}

// AddConstant adds an LDC literal.
func (p *Pool) AddConstant(c bytecode.Constant) uint16 {
	switch v := c.(type) {
	case bytecode.Int:
		return p.AddInt(int32(v))
	case bytecode.Long:
		return p.AddLong(int64(v))
	case bytecode.Float:
		return p.AddFloat(float32(v))
	case bytecode.Double:
		return p.AddDouble(float64(v))
	case bytecode.String:
		return p.AddString(string(v))
	case bytecode.ClassType:
		return p.AddClass(string(v))
	case bytecode.MethodType:
		return p.AddMethodType(string(v))
	case bytecode.Handle:
		return p.AddHandle(v)
	case bytecode.Dynamic:
		return p.AddDynamic(v.Bootstrap, v.Name, v.Desc)
	}
	panic(fmt.Sprintf("classfile: unhandled constant %T", c))
}

// Err reports whether the pool outgrew the class file format.
func (p *Pool) Err() error {
	if p.overflow {
		return ErrPoolOverflow
	}
	return nil
}

func (p *Pool) get(i uint16, want ...ConstantTag) (entry, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].tag == 0 {
		return entry{}, fmt.Errorf("invalid constant pool index %d", i)
	}
	e := p.entries[i]
	for _, t := range want {
		if e.tag == t {
			return e, nil
		}
	}
	if len(want) == 0 {
		return e, nil
	}
	return entry{}, fmt.Errorf("constant pool index %d has tag %d, want %v", i, e.tag, want)
}

// Tag returns the tag of entry i, or 0 for an unused slot.
func (p *Pool) Tag(i uint16) ConstantTag {
	if int(i) >= len(p.entries) {
		return 0
	}
	return p.entries[i].tag
}

// UTF8 returns the string at index i.
func (p *Pool) UTF8(i uint16) (string, error) {
	e, err := p.get(i, TagUtf8)
	return e.s, err
}

// ClassName returns the internal name referenced by the Class entry at i.
func (p *Pool) ClassName(i uint16) (string, error) {
	e, err := p.get(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.UTF8(e.a)
}

// NameAndType resolves a NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	e, err := p.get(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.UTF8(e.a); err != nil {
		return "", "", err
	}
	desc, err = p.UTF8(e.b)
	return name, desc, err
}

// MemberRef resolves a field, method or interface method reference.
func (p *Pool) MemberRef(i uint16) (owner, name, desc string, tag ConstantTag, err error) {
	e, err := p.get(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", 0, err
	}
	if owner, err = p.ClassName(e.a); err != nil {
		return "", "", "", 0, err
	}
	name, desc, err = p.NameAndType(e.b)
	return owner, name, desc, e.tag, err
}

// Dynamic resolves an InvokeDynamic or Dynamic entry.
func (p *Pool) Dynamic(i uint16) (bootstrap int, name, desc string, err error) {
	e, err := p.get(i, TagInvokeDynamic, TagDynamic)
	if err != nil {
		return 0, "", "", err
	}
	name, desc, err = p.NameAndType(e.b)
	return int(e.a), name, desc, err
}

// Constant resolves a loadable entry into an LDC literal.
func (p *Pool) Constant(i uint16) (bytecode.Constant, error) {
	e, err := p.get(i)
	if err != nil {
		return nil, err
	}
	switch e.tag {
	case TagInteger:
		return bytecode.Int(int32(uint32(e.n))), nil
	case TagFloat:
		return bytecode.Float(math.Float32frombits(uint32(e.n))), nil
	case TagLong:
		return bytecode.Long(int64(e.n)), nil
	case TagDouble:
		return bytecode.Double(math.Float64frombits(e.n)), nil
	case TagString:
		s, err := p.UTF8(e.a)
		return bytecode.String(s), err
	case TagClass:
		s, err := p.UTF8(e.a)
		return bytecode.ClassType(s), err
	case TagMethodType:
		s, err := p.UTF8(e.a)
		return bytecode.MethodType(s), err
	case TagMethodHandle:
		owner, name, desc, tag, err := p.MemberRef(e.b)
		if err != nil {
			return nil, err
		}
		return bytecode.Handle{Kind: uint8(e.a), Owner: owner, Name: name, Desc: desc, Interface: tag == TagInterfaceMethodref}, nil
	case TagDynamic:
		bsm, name, desc, err := p.Dynamic(i)
		return bytecode.Dynamic{Name: name, Desc: desc, Bootstrap: bsm}, err
	}
	return nil, fmt.Errorf("constant pool index %d (tag %d) is not loadable", i, e.tag)
}

func readPool(r *reader) (*Pool, error) {
	count := int(r.u2("constant_pool_count"))
	p := &Pool{entries: make([]entry, 1, max(count, 1)), index: make(map[entry]uint16, count)}
	for i := 1; i < count; i++ {
		tag := ConstantTag(r.u1("constant tag"))
		e := entry{tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.u2("utf8 length"))
			e.s = decodeMUTF8(r.bytes(n, "utf8 bytes"))
		case TagInteger, TagFloat:
			e.n = uint64(r.u4("32-bit constant"))
		case TagLong, TagDouble:
			e.n = r.u8("64-bit constant")
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			e.a = r.u2("constant reference")
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			e.a = r.u2("constant reference")
			e.b = r.u2("constant reference")
		case TagMethodHandle:
			e.a = uint16(r.u1("reference kind"))
			e.b = r.u2("reference index")
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
		if r.err != nil {
			return nil, r.err
		}
		p.entries = append(p.entries, e)
		if _, dup := p.index[e]; !dup {
			p.index[e] = uint16(i)
		}
		if wide(tag) {
			p.entries = append(p.entries, entry{})
			i++
		}
	}
	return p, nil
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for _, e := range p.entries[1:] {
		if e.tag == 0 {
			continue
		}
		w.u1(uint8(e.tag))
		switch e.tag {
		case TagUtf8:
			b := encodeMUTF8(e.s)
			w.u2(uint16(len(b)))
			w.raw(b)
		case TagInteger, TagFloat:
			w.u4(uint32(e.n))
		case TagLong, TagDouble:
			w.u8(e.n)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(e.a)
		case TagMethodHandle:
			w.u1(uint8(e.a))
			w.u2(e.b)
		default:
			w.u2(e.a)
			w.u2(e.b)
		}
	}
}
