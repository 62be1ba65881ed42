package classfile

import (
	"fmt"
	"strings"
)

// ParseMethodDescriptor splits a method descriptor such as
// "(I[Ljava/lang/String;)V" into argument and return descriptors.
func ParseMethodDescriptor(desc string) (args []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n := fieldLen(desc[i:])
		if n == 0 {
			return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
		}
		args = append(args, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	ret = desc[i+1:]
	if ret == "" || (ret != "V" && fieldLen(ret) != len(ret)) {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	return args, ret, nil
}

// fieldLen returns the length of the field descriptor at the start of s,
// or 0 when s does not start with one.
func fieldLen(s string) int {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0
		}
		return i + end + 1
	}
	return 0
}

// TypeSize returns the number of local or stack slots a value of the field
// descriptor occupies.
func TypeSize(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V":
		return 0
	}
	return 1
}

// ArgumentSlots returns the local slots taken by the arguments of a method
// descriptor, not counting the receiver.
func ArgumentSlots(desc string) (int, error) {
	args, _, err := ParseMethodDescriptor(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range args {
		n += TypeSize(a)
	}
	return n, nil
}

// ObjectDesc turns an internal name into a field descriptor. Array
// descriptors are returned unchanged.
func ObjectDesc(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// InternalName is the inverse of ObjectDesc for reference descriptors.
func InternalName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// IsReference reports whether desc is an object or array descriptor.
func IsReference(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}
