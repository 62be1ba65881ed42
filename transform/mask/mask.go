// Package mask compacts bit masks that a following shift makes partly
// irrelevant. In (x & m) << s the top s bits of m never survive, and in
// (x & m) >> s the bottom s bits never do, so they are cleared.
package mask

import (
	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform.mask")

const push = "(ICONST | BIPUSH | SIPUSH | LDC)"

var pattern = match.MustCompile(push + " (IAND | IOR | IXOR | LAND | LOR | LXOR) " + push + " (ISHL | ISHR | IUSHR | LSHL | LSHR | LUSHR)")

func integral(m match.Match) bool {
	return bytecode.IsIntegralPush(m[0]) && bytecode.IsIntegralPush(m[2])
}

func rightShift(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpIshr, bytecode.OpIushr, bytecode.OpLshr, bytecode.OpLushr:
		return true
	}
	return false
}

// Compact returns the mask with the bits cleared that a shift by bits
// discards, in 64-bit arithmetic for long shifts and 32-bit otherwise.
func Compact(mask int64, bits int64, op bytecode.Opcode) int64 {
	if op.IsLongShift() {
		m, b := uint64(mask), uint(bits&63)
		if rightShift(op) {
			return int64(m >> b << b)
		}
		return int64(m << b >> b)
	}
	m, b := uint32(int32(mask)), uint(bits&31)
	if rightShift(op) {
		return int64(int32(m >> b << b))
	}
	return int64(int32(m << b >> b))
}

// Transformer is the bit-mask pass.
type Transformer struct {
	transform.Stateless
}

func (Transformer) Name() string { return "bit-mask" }

func (Transformer) Transform(m *classfile.Method, ctx *transform.MethodContext) error {
	matches := match.New(m.Instructions).MatchFunc(pattern, integral)

	rewritten := 0
	for _, mt := range matches {
		pushMask, shift := mt[0], mt[3].Opcode()
		mask, _ := bytecode.NumericValue(pushMask)
		bits, _ := bytecode.NumericValue(mt[2])

		compact := Compact(mask, bits, shift)
		if compact == mask {
			continue
		}

		var repl bytecode.Instruction
		if shift.IsLongShift() {
			repl = bytecode.PushLong(compact)
		} else {
			repl = bytecode.PushInt(int32(compact))
		}
		m.Instructions.Set(pushMask, repl)
		rewritten++
		log.Debugf("mask %#x -> %#x in %s", mask, compact, ctx.Describe(m))
	}

	if rewritten > 0 {
		log.Infof("simplified %d bit masks in %s", rewritten, ctx.Describe(m))
		ctx.Count("mask", rewritten)
	}
	return nil
}
