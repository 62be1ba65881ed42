package bytecode

import (
	"fmt"
	"strings"
)

// Opcode represents a JVM instruction opcode.
// Opcodes are organized into ranges by category as in the class file format.
// Compact encodings (ILOAD_0, LDC_W, GOTO_W, WIDE, ...) are not opcodes at
// this level: the class file reader normalizes them and the writer re-chooses
// them.
type Opcode byte

const (
	// ========================================================================
	// Constants (0x00-0x12)
	// ========================================================================

	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10 // BIPUSH <byte:i8>
	OpSipush     Opcode = 0x11 // SIPUSH <short:i16>
	OpLdc        Opcode = 0x12 // LDC <index> (LDC_W and LDC2_W normalize here)

	// ========================================================================
	// Loads (0x15-0x35)
	// ========================================================================

	OpIload  Opcode = 0x15 // ILOAD <slot>
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIaload Opcode = 0x2E
	OpLaload Opcode = 0x2F
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35

	// ========================================================================
	// Stores (0x36-0x56)
	// ========================================================================

	OpIstore  Opcode = 0x36 // ISTORE <slot>
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIastore Opcode = 0x4F
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56

	// ========================================================================
	// Stack (0x57-0x5F)
	// ========================================================================

	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F

	// ========================================================================
	// Math (0x60-0x84)
	// ========================================================================

	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6A
	OpDmul  Opcode = 0x6B
	OpIdiv  Opcode = 0x6C
	OpLdiv  Opcode = 0x6D
	OpFdiv  Opcode = 0x6E
	OpDdiv  Opcode = 0x6F
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7A
	OpLshr  Opcode = 0x7B
	OpIushr Opcode = 0x7C
	OpLushr Opcode = 0x7D
	OpIand  Opcode = 0x7E
	OpLand  Opcode = 0x7F
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84 // IINC <slot> <const>

	// ========================================================================
	// Conversions (0x85-0x93)
	// ========================================================================

	OpI2l Opcode = 0x85
	OpI2f Opcode = 0x86
	OpI2d Opcode = 0x87
	OpL2i Opcode = 0x88
	OpL2f Opcode = 0x89
	OpL2d Opcode = 0x8A
	OpF2i Opcode = 0x8B
	OpF2l Opcode = 0x8C
	OpF2d Opcode = 0x8D
	OpD2i Opcode = 0x8E
	OpD2l Opcode = 0x8F
	OpD2f Opcode = 0x90
	OpI2b Opcode = 0x91
	OpI2c Opcode = 0x92
	OpI2s Opcode = 0x93

	// ========================================================================
	// Comparisons (0x94-0xA6)
	// ========================================================================

	OpLcmp     Opcode = 0x94
	OpFcmpl    Opcode = 0x95
	OpFcmpg    Opcode = 0x96
	OpDcmpl    Opcode = 0x97
	OpDcmpg    Opcode = 0x98
	OpIfeq     Opcode = 0x99 // IFEQ <offset:i16>
	OpIfne     Opcode = 0x9A
	OpIflt     Opcode = 0x9B
	OpIfge     Opcode = 0x9C
	OpIfgt     Opcode = 0x9D
	OpIfle     Opcode = 0x9E
	OpIfIcmpeq Opcode = 0x9F
	OpIfIcmpne Opcode = 0xA0
	OpIfIcmplt Opcode = 0xA1
	OpIfIcmpge Opcode = 0xA2
	OpIfIcmpgt Opcode = 0xA3
	OpIfIcmple Opcode = 0xA4
	OpIfAcmpeq Opcode = 0xA5
	OpIfAcmpne Opcode = 0xA6

	// ========================================================================
	// Control (0xA7-0xB1)
	// ========================================================================

	OpGoto         Opcode = 0xA7 // GOTO <offset:i16> (GOTO_W normalizes here)
	OpJsr          Opcode = 0xA8 // JSR <offset:i16> (JSR_W normalizes here)
	OpRet          Opcode = 0xA9 // RET <slot>
	OpTableswitch  Opcode = 0xAA
	OpLookupswitch Opcode = 0xAB
	OpIreturn      Opcode = 0xAC
	OpLreturn      Opcode = 0xAD
	OpFreturn      Opcode = 0xAE
	OpDreturn      Opcode = 0xAF
	OpAreturn      Opcode = 0xB0
	OpReturn       Opcode = 0xB1

	// ========================================================================
	// References (0xB2-0xC3)
	// ========================================================================

	OpGetstatic       Opcode = 0xB2 // GETSTATIC <fieldref:u16>
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6 // INVOKEVIRTUAL <methodref:u16>
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9 // INVOKEINTERFACE <methodref:u16> <count:u8> 0
	OpInvokedynamic   Opcode = 0xBA // INVOKEDYNAMIC <indy:u16> 0 0
	OpNew             Opcode = 0xBB // NEW <class:u16>
	OpNewarray        Opcode = 0xBC // NEWARRAY <atype:u8>
	OpAnewarray       Opcode = 0xBD
	OpArraylength     Opcode = 0xBE
	OpAthrow          Opcode = 0xBF
	OpCheckcast       Opcode = 0xC0
	OpInstanceof      Opcode = 0xC1
	OpMonitorenter    Opcode = 0xC2
	OpMonitorexit     Opcode = 0xC3

	// ========================================================================
	// Extended (0xC5-0xC7)
	// ========================================================================

	OpMultianewarray Opcode = 0xC5 // MULTIANEWARRAY <class:u16> <dims:u8>
	OpIfnull         Opcode = 0xC6
	OpIfnonnull      Opcode = 0xC7

	// OpNone is reported by pseudo instructions (labels, line numbers,
	// frames). 0xFF is reserved by the JVM and never appears in a method body.
	OpNone Opcode = 0xFF
)

// Kind identifies the operand shape of an opcode.
type Kind uint8

const (
	KindNone           Kind = iota // no operand
	KindInt                        // BIPUSH, SIPUSH, NEWARRAY
	KindVar                        // local slot
	KindType                       // class or array type
	KindField                      // field reference
	KindMethod                     // method reference
	KindInvokeDynamic              // call site
	KindJump                       // branch target
	KindLdc                        // constant pool literal
	KindIinc                       // slot and increment
	KindTableSwitch                // dense switch
	KindLookupSwitch               // sparse switch
	KindMultiANewArray             // multi-dimensional array creation
	KindPseudo                     // label, line number, frame
)

// OpcodeInfo provides metadata about each opcode for listing and validation.
type OpcodeInfo struct {
	Name       string // JVM mnemonic
	Kind       Kind   // operand shape
	OperandLen int    // operand bytes in the short encoding (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants
	OpNop:        {"NOP", KindNone, 0},
	OpAconstNull: {"ACONST_NULL", KindNone, 0},
	OpIconstM1:   {"ICONST_M1", KindNone, 0},
	OpIconst0:    {"ICONST_0", KindNone, 0},
	OpIconst1:    {"ICONST_1", KindNone, 0},
	OpIconst2:    {"ICONST_2", KindNone, 0},
	OpIconst3:    {"ICONST_3", KindNone, 0},
	OpIconst4:    {"ICONST_4", KindNone, 0},
	OpIconst5:    {"ICONST_5", KindNone, 0},
	OpLconst0:    {"LCONST_0", KindNone, 0},
	OpLconst1:    {"LCONST_1", KindNone, 0},
	OpFconst0:    {"FCONST_0", KindNone, 0},
	OpFconst1:    {"FCONST_1", KindNone, 0},
	OpFconst2:    {"FCONST_2", KindNone, 0},
	OpDconst0:    {"DCONST_0", KindNone, 0},
	OpDconst1:    {"DCONST_1", KindNone, 0},
	OpBipush:     {"BIPUSH", KindInt, 1},
	OpSipush:     {"SIPUSH", KindInt, 2},
	OpLdc:        {"LDC", KindLdc, 1},

	// Loads
	OpIload:  {"ILOAD", KindVar, 1},
	OpLload:  {"LLOAD", KindVar, 1},
	OpFload:  {"FLOAD", KindVar, 1},
	OpDload:  {"DLOAD", KindVar, 1},
	OpAload:  {"ALOAD", KindVar, 1},
	OpIaload: {"IALOAD", KindNone, 0},
	OpLaload: {"LALOAD", KindNone, 0},
	OpFaload: {"FALOAD", KindNone, 0},
	OpDaload: {"DALOAD", KindNone, 0},
	OpAaload: {"AALOAD", KindNone, 0},
	OpBaload: {"BALOAD", KindNone, 0},
	OpCaload: {"CALOAD", KindNone, 0},
	OpSaload: {"SALOAD", KindNone, 0},

	// Stores
	OpIstore:  {"ISTORE", KindVar, 1},
	OpLstore:  {"LSTORE", KindVar, 1},
	OpFstore:  {"FSTORE", KindVar, 1},
	OpDstore:  {"DSTORE", KindVar, 1},
	OpAstore:  {"ASTORE", KindVar, 1},
	OpIastore: {"IASTORE", KindNone, 0},
	OpLastore: {"LASTORE", KindNone, 0},
	OpFastore: {"FASTORE", KindNone, 0},
	OpDastore: {"DASTORE", KindNone, 0},
	OpAastore: {"AASTORE", KindNone, 0},
	OpBastore: {"BASTORE", KindNone, 0},
	OpCastore: {"CASTORE", KindNone, 0},
	OpSastore: {"SASTORE", KindNone, 0},

	// Stack
	OpPop:    {"POP", KindNone, 0},
	OpPop2:   {"POP2", KindNone, 0},
	OpDup:    {"DUP", KindNone, 0},
	OpDupX1:  {"DUP_X1", KindNone, 0},
	OpDupX2:  {"DUP_X2", KindNone, 0},
	OpDup2:   {"DUP2", KindNone, 0},
	OpDup2X1: {"DUP2_X1", KindNone, 0},
	OpDup2X2: {"DUP2_X2", KindNone, 0},
	OpSwap:   {"SWAP", KindNone, 0},

	// Math
	OpIadd:  {"IADD", KindNone, 0},
	OpLadd:  {"LADD", KindNone, 0},
	OpFadd:  {"FADD", KindNone, 0},
	OpDadd:  {"DADD", KindNone, 0},
	OpIsub:  {"ISUB", KindNone, 0},
	OpLsub:  {"LSUB", KindNone, 0},
	OpFsub:  {"FSUB", KindNone, 0},
	OpDsub:  {"DSUB", KindNone, 0},
	OpImul:  {"IMUL", KindNone, 0},
	OpLmul:  {"LMUL", KindNone, 0},
	OpFmul:  {"FMUL", KindNone, 0},
	OpDmul:  {"DMUL", KindNone, 0},
	OpIdiv:  {"IDIV", KindNone, 0},
	OpLdiv:  {"LDIV", KindNone, 0},
	OpFdiv:  {"FDIV", KindNone, 0},
	OpDdiv:  {"DDIV", KindNone, 0},
	OpIrem:  {"IREM", KindNone, 0},
	OpLrem:  {"LREM", KindNone, 0},
	OpFrem:  {"FREM", KindNone, 0},
	OpDrem:  {"DREM", KindNone, 0},
	OpIneg:  {"INEG", KindNone, 0},
	OpLneg:  {"LNEG", KindNone, 0},
	OpFneg:  {"FNEG", KindNone, 0},
	OpDneg:  {"DNEG", KindNone, 0},
	OpIshl:  {"ISHL", KindNone, 0},
	OpLshl:  {"LSHL", KindNone, 0},
	OpIshr:  {"ISHR", KindNone, 0},
	OpLshr:  {"LSHR", KindNone, 0},
	OpIushr: {"IUSHR", KindNone, 0},
	OpLushr: {"LUSHR", KindNone, 0},
	OpIand:  {"IAND", KindNone, 0},
	OpLand:  {"LAND", KindNone, 0},
	OpIor:   {"IOR", KindNone, 0},
	OpLor:   {"LOR", KindNone, 0},
	OpIxor:  {"IXOR", KindNone, 0},
	OpLxor:  {"LXOR", KindNone, 0},
	OpIinc:  {"IINC", KindIinc, 2},

	// Conversions
	OpI2l: {"I2L", KindNone, 0},
	OpI2f: {"I2F", KindNone, 0},
	OpI2d: {"I2D", KindNone, 0},
	OpL2i: {"L2I", KindNone, 0},
	OpL2f: {"L2F", KindNone, 0},
	OpL2d: {"L2D", KindNone, 0},
	OpF2i: {"F2I", KindNone, 0},
	OpF2l: {"F2L", KindNone, 0},
	OpF2d: {"F2D", KindNone, 0},
	OpD2i: {"D2I", KindNone, 0},
	OpD2l: {"D2L", KindNone, 0},
	OpD2f: {"D2F", KindNone, 0},
	OpI2b: {"I2B", KindNone, 0},
	OpI2c: {"I2C", KindNone, 0},
	OpI2s: {"I2S", KindNone, 0},

	// Comparisons
	OpLcmp:     {"LCMP", KindNone, 0},
	OpFcmpl:    {"FCMPL", KindNone, 0},
	OpFcmpg:    {"FCMPG", KindNone, 0},
	OpDcmpl:    {"DCMPL", KindNone, 0},
	OpDcmpg:    {"DCMPG", KindNone, 0},
	OpIfeq:     {"IFEQ", KindJump, 2},
	OpIfne:     {"IFNE", KindJump, 2},
	OpIflt:     {"IFLT", KindJump, 2},
	OpIfge:     {"IFGE", KindJump, 2},
	OpIfgt:     {"IFGT", KindJump, 2},
	OpIfle:     {"IFLE", KindJump, 2},
	OpIfIcmpeq: {"IF_ICMPEQ", KindJump, 2},
	OpIfIcmpne: {"IF_ICMPNE", KindJump, 2},
	OpIfIcmplt: {"IF_ICMPLT", KindJump, 2},
	OpIfIcmpge: {"IF_ICMPGE", KindJump, 2},
	OpIfIcmpgt: {"IF_ICMPGT", KindJump, 2},
	OpIfIcmple: {"IF_ICMPLE", KindJump, 2},
	OpIfAcmpeq: {"IF_ACMPEQ", KindJump, 2},
	OpIfAcmpne: {"IF_ACMPNE", KindJump, 2},

	// Control
	OpGoto:         {"GOTO", KindJump, 2},
	OpJsr:          {"JSR", KindJump, 2},
	OpRet:          {"RET", KindVar, 1},
	OpTableswitch:  {"TABLESWITCH", KindTableSwitch, -1},
	OpLookupswitch: {"LOOKUPSWITCH", KindLookupSwitch, -1},
	OpIreturn:      {"IRETURN", KindNone, 0},
	OpLreturn:      {"LRETURN", KindNone, 0},
	OpFreturn:      {"FRETURN", KindNone, 0},
	OpDreturn:      {"DRETURN", KindNone, 0},
	OpAreturn:      {"ARETURN", KindNone, 0},
	OpReturn:       {"RETURN", KindNone, 0},

	// References
	OpGetstatic:       {"GETSTATIC", KindField, 2},
	OpPutstatic:       {"PUTSTATIC", KindField, 2},
	OpGetfield:        {"GETFIELD", KindField, 2},
	OpPutfield:        {"PUTFIELD", KindField, 2},
	OpInvokevirtual:   {"INVOKEVIRTUAL", KindMethod, 2},
	OpInvokespecial:   {"INVOKESPECIAL", KindMethod, 2},
	OpInvokestatic:    {"INVOKESTATIC", KindMethod, 2},
	OpInvokeinterface: {"INVOKEINTERFACE", KindMethod, 4},
	OpInvokedynamic:   {"INVOKEDYNAMIC", KindInvokeDynamic, 4},
	OpNew:             {"NEW", KindType, 2},
	OpNewarray:        {"NEWARRAY", KindInt, 1},
	OpAnewarray:       {"ANEWARRAY", KindType, 2},
	OpArraylength:     {"ARRAYLENGTH", KindNone, 0},
	OpAthrow:          {"ATHROW", KindNone, 0},
	OpCheckcast:       {"CHECKCAST", KindType, 2},
	OpInstanceof:      {"INSTANCEOF", KindType, 2},
	OpMonitorenter:    {"MONITORENTER", KindNone, 0},
	OpMonitorexit:     {"MONITOREXIT", KindNone, 0},

	// Extended
	OpMultianewarray: {"MULTIANEWARRAY", KindMultiANewArray, 3},
	OpIfnull:         {"IFNULL", KindJump, 2},
	OpIfnonnull:      {"IFNONNULL", KindJump, 2},
}

// opcodesByName is the case-insensitive mnemonic index.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[strings.ToUpper(info.Name)] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	if op == OpNone {
		return OpcodeInfo{Name: "PSEUDO", Kind: KindPseudo}
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// ParseOpcode looks up an opcode by mnemonic, ignoring case.
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToUpper(name)]
	return op, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// Kind returns the operand shape of this opcode.
func (op Opcode) Kind() Kind {
	return GetOpcodeInfo(op).Kind
}

// OperandLen returns the number of operand bytes in the short encoding,
// or -1 for the switches.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// IsJump returns true for branches, GOTO and JSR.
func (op Opcode) IsJump() bool {
	return (op >= OpIfeq && op <= OpJsr) || op == OpIfnull || op == OpIfnonnull
}

// IsConditionalJump returns true for branches that may fall through.
func (op Opcode) IsConditionalJump() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// IsReturn returns true if this opcode returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsInvoke returns true for the five invocation opcodes.
func (op Opcode) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokedynamic
}

// IsSwitch returns true for TABLESWITCH and LOOKUPSWITCH.
func (op Opcode) IsSwitch() bool {
	return op == OpTableswitch || op == OpLookupswitch
}

// EndsFlow returns true if control never falls through to the next instruction.
func (op Opcode) EndsFlow() bool {
	return op == OpGoto || op == OpRet || op == OpAthrow || op.IsReturn() || op.IsSwitch()
}

// IsLongShift returns true for LSHL, LSHR and LUSHR.
func (op Opcode) IsLongShift() bool {
	return op == OpLshl || op == OpLshr || op == OpLushr
}

// IsShift returns true for the six shift opcodes.
func (op Opcode) IsShift() bool {
	return op >= OpIshl && op <= OpLushr
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
