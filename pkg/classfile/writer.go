package classfile

import (
	"fmt"
)

type encoder struct {
	class *Class
	pool  *Pool
	h     Hierarchy
}

// Encode serializes c. Method bodies are laid out from their instruction
// lists; max stack, max locals and, for version 50 and later, the
// StackMapTable are recomputed. h resolves common superclasses when frames
// merge; nil merges every distinct pair of classes to java/lang/Object.
//
// The constant pool the class was read with is kept as a prefix of the new
// pool, so raw attributes stay valid.
func Encode(c *Class, h Hierarchy) ([]byte, error) {
	pool := NewPool()
	if c.pool != nil {
		pool = c.pool.clone()
	}
	if h == nil {
		h = objectHierarchy{}
	}
	e := &encoder{class: c, pool: pool, h: h}

	var body writer
	body.u2(uint16(c.Access))
	body.u2(pool.AddClass(c.Name))
	if c.Super != "" {
		body.u2(pool.AddClass(c.Super))
	} else {
		body.u2(0)
	}
	body.u2(uint16(len(c.Interfaces)))
	for _, name := range c.Interfaces {
		body.u2(pool.AddClass(name))
	}

	body.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		body.u2(uint16(f.Access))
		body.u2(pool.AddUTF8(f.Name))
		body.u2(pool.AddUTF8(f.Desc))
		writeAttributes(&body, pool, f.Attributes)
	}

	body.u2(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		body.u2(uint16(m.Access))
		body.u2(pool.AddUTF8(m.Name))
		body.u2(pool.AddUTF8(m.Desc))
		attrs := m.Attributes
		if m.HasCode() {
			code, err := e.code(m)
			if err != nil {
				return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
			}
			attrs = append([]Attribute{{Name: "Code", Data: code}}, attrs...)
		}
		writeAttributes(&body, pool, attrs)
	}

	writeAttributes(&body, pool, c.Attributes)
	if err := pool.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}

	var out writer
	out.u4(Magic)
	out.u2(c.Minor)
	out.u2(c.Major)
	pool.write(&out)
	out.raw(body.bytes())
	return out.bytes(), nil
}

func writeAttributes(w *writer, pool *Pool, attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(pool.AddUTF8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
}
