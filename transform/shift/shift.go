// Package shift canonicalizes constant shift distances. The JVM only reads
// the low five bits of an int shift distance and the low six of a long
// one, so a distance outside [0, width) is rewritten to its masked value.
package shift

import (
	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform.shift")

var pattern = match.MustCompile("(ICONST | BIPUSH | SIPUSH | LDC) (ISHL | ISHR | IUSHR | LSHL | LSHR | LUSHR)")

// Transformer is the bit-shift pass.
type Transformer struct {
	transform.Stateless
}

func (Transformer) Name() string { return "bit-shift" }

func (Transformer) Transform(m *classfile.Method, ctx *transform.MethodContext) error {
	matches := match.New(m.Instructions).MatchFunc(pattern, func(mt match.Match) bool {
		return bytecode.IsIntegralPush(mt[0])
	})

	rewritten := 0
	for _, mt := range matches {
		push, op := mt[0], mt[1].Opcode()
		bits, _ := bytecode.NumericValue(push)
		max := int64(31)
		if op.IsLongShift() {
			max = 63
		}
		if bits >= 0 && bits <= max {
			continue
		}

		canonical := bits & max
		m.Instructions.Set(push, bytecode.PushInt(int32(canonical)))
		rewritten++
		log.Debugf("shift distance %d -> %d in %s", bits, canonical, ctx.Describe(m))
	}

	if rewritten > 0 {
		log.Infof("simplified %d shifts in %s", rewritten, ctx.Describe(m))
		ctx.Count("shift", rewritten)
	}
	return nil
}
