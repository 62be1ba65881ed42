package match

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/chazu/deobby/pkg/bytecode"
)

// EncodeOpcode maps an opcode to its code point in the Unicode private use
// area. Every encoded rune takes three bytes in UTF-8.
func EncodeOpcode(op bytecode.Opcode) rune {
	return 0xE000 + rune(op)
}

// encodedWidth is the UTF-8 length of every rune EncodeOpcode returns.
const encodedWidth = 3

// Encode renders the real instructions of insns as one rune each. Pseudo
// instructions are skipped.
func Encode(insns []bytecode.Instruction) string {
	var sb strings.Builder
	sb.Grow(len(insns) * encodedWidth)
	for _, insn := range insns {
		if bytecode.IsPseudo(insn) {
			continue
		}
		sb.WriteRune(EncodeOpcode(insn.Opcode()))
	}
	return sb.String()
}

// UnknownInstructionError is returned by Compile for a name that is neither
// a mnemonic, a group nor the wildcard.
type UnknownInstructionError struct {
	Name string
}

func (e *UnknownInstructionError) Error() string {
	return e.Name + " is not a known instruction."
}

// Pattern is a compiled instruction expression.
type Pattern struct {
	expr string
	re   *regexp.Regexp
}

// String returns the regular expression over the encoded alphabet.
func (p *Pattern) String() string { return p.re.String() }

// Expr returns the source expression.
func (p *Pattern) Expr() string { return p.expr }

// Compile translates a mnemonic expression such as
// "(ICONST | BIPUSH) IAND" into a pattern. Names are case-insensitive and
// may be an opcode mnemonic, a group name or the wildcard "AbstractInsnNode"
// (alias "any"). Other characters pass through to the regular expression;
// whitespace is dropped. A run of digits on its own, such as the bounds in
// "{2,3}", is also passed through.
func Compile(expr string) (*Pattern, error) {
	var regex strings.Builder
	var name strings.Builder

	flush := func() error {
		if name.Len() == 0 {
			return nil
		}
		s, err := resolveName(name.String())
		name.Reset()
		if err != nil {
			return err
		}
		regex.WriteString(s)
		return nil
	}

	for _, c := range expr {
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			name.WriteRune(c)
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if !unicode.IsSpace(c) {
			regex.WriteRune(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(regex.String())
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", expr, err)
	}
	return &Pattern{expr: expr, re: re}, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level pattern variables.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func resolveName(name string) (string, error) {
	if op, ok := bytecode.ParseOpcode(name); ok {
		return string(EncodeOpcode(op)), nil
	}
	lower := strings.ToLower(name)
	if ops, ok := groups[lower]; ok {
		return alternation(ops), nil
	}
	if lower == "abstractinsnnode" || lower == "any" {
		return ".", nil
	}
	if isDigits(name) {
		return name, nil
	}
	return "", &UnknownInstructionError{Name: name}
}

func alternation(ops []bytecode.Opcode) string {
	var sb strings.Builder
	sb.WriteString("(?:")
	for i, op := range ops {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteRune(EncodeOpcode(op))
	}
	sb.WriteByte(')')
	return sb.String()
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// Groups returns the group names accepted by Compile, sorted.
func Groups() []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// groups is the fixed group vocabulary. The *insnnode groups partition the
// opcodes by operand shape; the rest are semantic families.
var groups = func() map[string][]bytecode.Opcode {
	byKind := map[bytecode.Kind]string{
		bytecode.KindNone:           "insnnode",
		bytecode.KindInt:            "intinsnnode",
		bytecode.KindVar:            "varinsnnode",
		bytecode.KindType:           "typeinsnnode",
		bytecode.KindField:          "fieldinsnnode",
		bytecode.KindMethod:         "methodinsnnode",
		bytecode.KindJump:           "jumpinsnnode",
		bytecode.KindLdc:            "ldcinsnnode",
		bytecode.KindIinc:           "iincinsnnode",
		bytecode.KindTableSwitch:    "tableswitchinsnnode",
		bytecode.KindLookupSwitch:   "lookupswitchinsnnode",
		bytecode.KindMultiANewArray: "multianewarrayinsnnode",
	}

	g := make(map[string][]bytecode.Opcode)
	ops := bytecode.AllOpcodes()
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		if name, ok := byKind[op.Kind()]; ok {
			g[name] = append(g[name], op)
		}
	}
	g["methodinsnnode"] = append(g["methodinsnnode"], bytecode.OpInvokedynamic)

	span := func(from, to bytecode.Opcode) []bytecode.Opcode {
		var out []bytecode.Opcode
		for op := from; op <= to; op++ {
			out = append(out, op)
		}
		return out
	}

	g["iconst"] = span(bytecode.OpIconstM1, bytecode.OpIconst5)
	g["pushinstruction"] = []bytecode.Opcode{
		bytecode.OpAconstNull,
		bytecode.OpAload, bytecode.OpIload, bytecode.OpLload, bytecode.OpFload, bytecode.OpDload,
		bytecode.OpBipush, bytecode.OpSipush,
		bytecode.OpLdc,
		bytecode.OpDup, bytecode.OpDup2,
		bytecode.OpGetstatic,
		bytecode.OpLconst0, bytecode.OpLconst1,
		bytecode.OpFconst0, bytecode.OpFconst1, bytecode.OpFconst2,
		bytecode.OpDconst0, bytecode.OpDconst1,
	}
	g["invokeinstruction"] = span(bytecode.OpInvokevirtual, bytecode.OpInvokedynamic)
	g["ifinstruction"] = append(span(bytecode.OpIfeq, bytecode.OpIfAcmpne), bytecode.OpIfnull, bytecode.OpIfnonnull)
	g["arithmetic"] = span(bytecode.OpIadd, bytecode.OpLxor)
	g["shiftinstruction"] = span(bytecode.OpIshl, bytecode.OpLushr)
	g["bitwiseinstruction"] = span(bytecode.OpIand, bytecode.OpLxor)
	g["comparison"] = span(bytecode.OpLcmp, bytecode.OpDcmpg)
	g["arrayinstruction"] = append(append(span(bytecode.OpIaload, bytecode.OpSaload), span(bytecode.OpIastore, bytecode.OpSastore)...), bytecode.OpArraylength)
	g["switchinstruction"] = []bytecode.Opcode{bytecode.OpTableswitch, bytecode.OpLookupswitch}
	g["returninstruction"] = span(bytecode.OpIreturn, bytecode.OpReturn)
	g["loadinstruction"] = span(bytecode.OpIload, bytecode.OpAload)
	g["storeinstruction"] = span(bytecode.OpIstore, bytecode.OpAstore)
	return g
}()
