package classfile

import (
	"strings"

	"github.com/chazu/deobby/pkg/bytecode"
)

// Class is a decoded class file.
type Class struct {
	Minor, Major uint16
	Access       AccessFlags
	Name         string
	Super        string // "" only for java/lang/Object and module-info
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	Attributes   []Attribute

	// pool is the constant pool as read. Raw attributes index into it, so
	// the writer keeps every original entry at its original index.
	pool *Pool
}

// Field is a field declaration.
type Field struct {
	Access     AccessFlags
	Name, Desc string
	Attributes []Attribute
}

// Method is a method declaration with its decoded body.
type Method struct {
	Access       AccessFlags
	Name, Desc   string
	Instructions *bytecode.List
	TryCatch     []*TryCatch
	Attributes   []Attribute

	// MaxStack and MaxLocals are as read; the writer recomputes both.
	MaxStack, MaxLocals int
}

// TryCatch is one exception table entry. Type is "" for a catch-all.
type TryCatch struct {
	Start, End, Handler *bytecode.Label
	Type                string
}

// Attribute is an attribute kept verbatim.
type Attribute struct {
	Name string
	Data []byte
}

// NewClass returns an empty class with a fresh constant pool.
func NewClass(major uint16, access AccessFlags, name, super string) *Class {
	return &Class{Major: major, Access: access, Name: name, Super: super, pool: NewPool()}
}

// NewMethod returns a method with an empty instruction list.
func NewMethod(access AccessFlags, name, desc string) *Method {
	return &Method{Access: access, Name: name, Desc: desc, Instructions: bytecode.NewList()}
}

// Pool returns the constant pool the class was read with. Raw attributes
// such as BootstrapMethods index into it.
func (c *Class) Pool() *Pool { return c.pool }

// HasCode reports whether the method carries a body.
func (m *Method) HasCode() bool {
	return !m.Access.IsAbstract() && !m.Access.IsNative() && m.Instructions != nil
}

// Ref returns the structural identity of m declared in c.
func (c *Class) Ref(m *Method) bytecode.MethodRef {
	return bytecode.MethodRef{Owner: c.Name, Name: m.Name, Desc: m.Desc}
}

// Method finds a declared method by name and descriptor.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// Field finds a declared field by name and descriptor.
func (c *Class) Field(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && f.Desc == desc {
			return f
		}
	}
	return nil
}

// RemoveMethod deletes m from the method table. It reports whether m was
// present.
func (c *Class) RemoveMethod(m *Method) bool {
	for i, x := range c.Methods {
		if x == m {
			c.Methods = append(c.Methods[:i], c.Methods[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveField deletes the field with the given name and descriptor.
func (c *Class) RemoveField(name, desc string) bool {
	for i, f := range c.Fields {
		if f.Name == name && f.Desc == desc {
			c.Fields = append(c.Fields[:i], c.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// SimpleName returns the class name without its package.
func (c *Class) SimpleName() string {
	if i := strings.LastIndexByte(c.Name, '/'); i >= 0 {
		return c.Name[i+1:]
	}
	return c.Name
}

// Attribute returns the first class attribute with the given name.
func (c *Class) Attribute(name string) (Attribute, bool) {
	for _, a := range c.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}
