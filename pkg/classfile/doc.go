// Package classfile reads and writes JVM class files.
//
// Parse decodes a class into a tree: the class header, fields, and methods
// whose Code attributes become bytecode.List instruction lists with labels
// in place of offsets. Compact encodings are normalized away, so ILOAD_0,
// LDC_W and GOTO_W all read as their general forms.
//
// Encode writes the tree back. It chooses encodings again, widens branches
// that no longer fit in 16 bits, drops unreachable code and recomputes max
// stack, max locals and the StackMapTable from a dataflow pass over the
// instructions. Frame merging needs the common superclass of two classes,
// which the caller supplies through Hierarchy.
//
// Subroutines (JSR/RET) cannot be given stack map frames. InlineSubroutines
// rewrites them into plain jumps before a method is encoded.
package classfile
