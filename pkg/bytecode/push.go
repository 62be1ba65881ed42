package bytecode

import (
	"fmt"
	"math"
)

// PushInt returns the smallest instruction that pushes v as an int:
// ICONST_* for -1..5, BIPUSH for bytes, SIPUSH for shorts, LDC otherwise.
func PushInt(v int32) Instruction {
	switch {
	case v >= -1 && v <= 5:
		return NewInsn(Opcode(int32(OpIconst0) + v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return NewIntInsn(OpBipush, v)
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return NewIntInsn(OpSipush, v)
	}
	return NewLdcInsn(Int(v))
}

// PushLong returns an LDC of a long literal. Long operands always need a
// two-slot constant.
func PushLong(v int64) Instruction {
	return NewLdcInsn(Long(v))
}

// PushValue encodes v as an int push when it fits in 32 bits and as a long
// literal otherwise.
func PushValue(v int64) Instruction {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return PushInt(int32(v))
	}
	return PushLong(v)
}

// IsIntegralPush reports whether NumericValue can read insn.
func IsIntegralPush(insn Instruction) bool {
	_, err := NumericValue(insn)
	return err == nil
}

// NumericValue extracts the value pushed by ICONST_*, BIPUSH, SIPUSH or an
// LDC of an int or long literal.
func NumericValue(insn Instruction) (int64, error) {
	switch i := insn.(type) {
	case *Insn:
		if i.Op >= OpIconstM1 && i.Op <= OpIconst5 {
			return int64(i.Op) - int64(OpIconst0), nil
		}
	case *IntInsn:
		if i.Op == OpBipush || i.Op == OpSipush {
			return int64(i.Operand), nil
		}
	case *LdcInsn:
		switch v := i.Value.(type) {
		case Int:
			return int64(v), nil
		case Long:
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("%s is not a numeric push", Format(insn))
}
