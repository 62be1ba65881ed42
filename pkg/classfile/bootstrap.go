package classfile

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/deobby/pkg/bytecode"
)

const bootstrapAttribute = "BootstrapMethods"

// BootstrapMethod is one entry of the BootstrapMethods attribute: the handle
// run to link a dynamic call site or constant, and its static arguments.
type BootstrapMethod struct {
	Method bytecode.Handle
	Args   []bytecode.Constant
}

// BootstrapMethods decodes the class's BootstrapMethods attribute. A class
// without one has none.
func (c *Class) BootstrapMethods() ([]BootstrapMethod, error) {
	i := c.bootstrapIndex()
	if i < 0 {
		return nil, nil
	}
	if c.pool == nil {
		return nil, fmt.Errorf("%s: %s without a constant pool", c.Name, bootstrapAttribute)
	}
	r := newReader(c.Attributes[i].Data)
	n := int(r.u2("bootstrap method count"))
	out := make([]BootstrapMethod, 0, n)
	for j := 0; j < n; j++ {
		ref := r.u2("bootstrap method ref")
		args := make([]uint16, r.u2("bootstrap argument count"))
		for k := range args {
			args[k] = r.u2("bootstrap argument")
		}
		if r.err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, r.err)
		}

		h, err := c.pool.Constant(ref)
		if err != nil {
			return nil, fmt.Errorf("%s: bootstrap method %d: %w", c.Name, len(out), err)
		}
		handle, ok := h.(bytecode.Handle)
		if !ok {
			return nil, fmt.Errorf("%s: bootstrap method %d is not a method handle", c.Name, len(out))
		}
		bm := BootstrapMethod{Method: handle, Args: make([]bytecode.Constant, len(args))}
		for k, a := range args {
			if bm.Args[k], err = c.pool.Constant(a); err != nil {
				return nil, fmt.Errorf("%s: bootstrap method %d argument %d: %w", c.Name, len(out), k, err)
			}
		}
		out = append(out, bm)
	}
	return out, nil
}

// AddBootstrapMethod appends an entry to the BootstrapMethods attribute,
// creating it if needed, and returns the entry's index for use by
// InvokeDynamicInsn and Dynamic constants.
func (c *Class) AddBootstrapMethod(bm BootstrapMethod) int {
	if c.pool == nil {
		c.pool = NewPool()
	}
	i := c.bootstrapIndex()
	if i < 0 {
		c.Attributes = append(c.Attributes, Attribute{Name: bootstrapAttribute, Data: []byte{0, 0}})
		i = len(c.Attributes) - 1
	}
	data := c.Attributes[i].Data
	n := binary.BigEndian.Uint16(data)

	w := &writer{buf: append([]byte(nil), data...)}
	binary.BigEndian.PutUint16(w.buf, n+1)
	w.u2(c.pool.AddHandle(bm.Method))
	w.u2(uint16(len(bm.Args)))
	for _, a := range bm.Args {
		w.u2(c.pool.AddConstant(a))
	}
	c.Attributes[i].Data = w.buf
	return int(n)
}

func (c *Class) bootstrapIndex() int {
	for i, a := range c.Attributes {
		if a.Name == bootstrapAttribute && len(a.Data) >= 2 {
			return i
		}
	}
	return -1
}
