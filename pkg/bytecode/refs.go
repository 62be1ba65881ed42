package bytecode

// FieldRef identifies a field structurally.
type FieldRef struct {
	Owner, Name, Desc string
}

func (r FieldRef) String() string { return r.Owner + "." + r.Name + ":" + r.Desc }

// MethodRef identifies a method structurally.
type MethodRef struct {
	Owner, Name, Desc string
}

func (r MethodRef) String() string { return r.Owner + "." + r.Name + r.Desc }

// ID drops the owner.
func (r MethodRef) ID() MethodID { return MethodID{Name: r.Name, Desc: r.Desc} }

// MethodID is a name and descriptor pair, the part of a method signature
// that overriding matches on.
type MethodID struct {
	Name, Desc string
}

func (id MethodID) String() string { return id.Name + id.Desc }
