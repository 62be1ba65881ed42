package classfile

import "strings"

// AccessFlags is the access_flags bitmask of a class, field or method.
type AccessFlags uint16

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSuper        AccessFlags = 0x0020 // classes
	AccSynchronized AccessFlags = 0x0020 // methods
	AccVolatile     AccessFlags = 0x0040 // fields
	AccBridge       AccessFlags = 0x0040 // methods
	AccTransient    AccessFlags = 0x0080 // fields
	AccVarargs      AccessFlags = 0x0080 // methods
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
	AccStrict       AccessFlags = 0x0800
	AccSynthetic    AccessFlags = 0x1000
	AccAnnotation   AccessFlags = 0x2000
	AccEnum         AccessFlags = 0x4000
	AccModule       AccessFlags = 0x8000
)

func (f AccessFlags) IsPublic() bool    { return f&AccPublic != 0 }
func (f AccessFlags) IsPrivate() bool   { return f&AccPrivate != 0 }
func (f AccessFlags) IsProtected() bool { return f&AccProtected != 0 }
func (f AccessFlags) IsStatic() bool    { return f&AccStatic != 0 }
func (f AccessFlags) IsFinal() bool     { return f&AccFinal != 0 }
func (f AccessFlags) IsNative() bool    { return f&AccNative != 0 }
func (f AccessFlags) IsInterface() bool { return f&AccInterface != 0 }
func (f AccessFlags) IsAbstract() bool  { return f&AccAbstract != 0 }
func (f AccessFlags) IsSynthetic() bool { return f&AccSynthetic != 0 }
func (f AccessFlags) IsEnum() bool      { return f&AccEnum != 0 }

// MethodString renders the flags with method meanings for the shared bits.
func (f AccessFlags) MethodString() string {
	names := []struct {
		flag AccessFlags
		name string
	}{
		{AccPublic, "public"}, {AccPrivate, "private"}, {AccProtected, "protected"},
		{AccStatic, "static"}, {AccFinal, "final"}, {AccSynchronized, "synchronized"},
		{AccBridge, "bridge"}, {AccVarargs, "varargs"}, {AccNative, "native"},
		{AccAbstract, "abstract"}, {AccStrict, "strict"}, {AccSynthetic, "synthetic"},
	}
	var parts []string
	for _, n := range names {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	TagUtf8               ConstantTag = 1
	TagInteger            ConstantTag = 3
	TagFloat              ConstantTag = 4
	TagLong               ConstantTag = 5
	TagDouble             ConstantTag = 6
	TagClass              ConstantTag = 7
	TagString             ConstantTag = 8
	TagFieldref           ConstantTag = 9
	TagMethodref          ConstantTag = 10
	TagInterfaceMethodref ConstantTag = 11
	TagNameAndType        ConstantTag = 12
	TagMethodHandle       ConstantTag = 15
	TagMethodType         ConstantTag = 16
	TagDynamic            ConstantTag = 17
	TagInvokeDynamic      ConstantTag = 18
	TagModule             ConstantTag = 19
	TagPackage            ConstantTag = 20
)

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

// IsClassFile reports whether data starts with the class file magic.
func IsClassFile(data []byte) bool {
	return len(data) >= 4 && data[0] == 0xCA && data[1] == 0xFE && data[2] == 0xBA && data[3] == 0xBE
}
