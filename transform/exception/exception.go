// Package exception strips exception-tracing handlers: catch blocks an
// obfuscator wraps around method bodies that only decorate a
// RuntimeException with a trace string and rethrow it.
package exception

import (
	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/transform"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("deobby.transform.exception")

const runtimeException = "java/lang/RuntimeException"

var pattern = match.MustCompile(`
	ASTORE
	ALOAD
	(| LDC INVOKESTATIC |
		NEW DUP
		(LDC INVOKESPECIAL | INVOKESPECIAL LDC INVOKEVIRTUAL)
		((ILOAD | LLOAD | FLOAD | DLOAD | (ALOAD IFNULL LDC GOTO LDC) | BIPUSH) INVOKEVIRTUAL)*
		INVOKEVIRTUAL INVOKESTATIC
	)
	ATHROW`)

// Transformer is the exception-tracing pass.
type Transformer struct {
	transform.Stateless
}

func (Transformer) Name() string { return "exception-tracing" }

func (Transformer) Transform(m *classfile.Method, ctx *transform.MethodContext) error {
	removed := 0
	for _, mt := range match.New(m.Instructions).Match(pattern) {
		found := false
		kept := m.TryCatch[:0]
		for _, tc := range m.TryCatch {
			if tc.Type == runtimeException && bytecode.NextReal(tc.Handler) == mt.First() {
				found = true
				continue
			}
			kept = append(kept, tc)
		}
		m.TryCatch = kept
		if found {
			m.Instructions.Remove(mt...)
			removed++
		}
	}

	if removed > 0 {
		log.Infof("removed %d catch blocks from %s", removed, ctx.Describe(m))
		ctx.Count("handler", removed)
	}
	return nil
}
