package match

import (
	"github.com/chazu/deobby/pkg/bytecode"
)

// Match is one occurrence of a pattern: the matched instructions in forward
// order, with their identity preserved.
type Match []bytecode.Instruction

// First returns the first matched instruction.
func (m Match) First() bytecode.Instruction { return m[0] }

// Last returns the last matched instruction.
func (m Match) Last() bytecode.Instruction { return m[len(m)-1] }

// Constraint filters matches the pattern grammar cannot express.
type Constraint func(Match) bool

// Matcher finds pattern occurrences in one instruction list. The encoded
// forms are computed on first use and kept for the Matcher's lifetime, so a
// Matcher reflects the list as it was when first queried. Build a new one
// after editing the list.
type Matcher struct {
	list    *bytecode.List
	insns   []bytecode.Instruction
	forward string
	reverse string
	encoded bool
	flipped bool
}

// New returns a matcher over list.
func New(list *bytecode.List) *Matcher {
	return &Matcher{list: list}
}

func (m *Matcher) text() string {
	if !m.encoded {
		m.insns = m.list.Real()
		m.forward = Encode(m.insns)
		m.encoded = true
	}
	return m.forward
}

func (m *Matcher) reversedText() string {
	if !m.flipped {
		runes := []rune(m.text())
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		m.reverse = string(runes)
		m.flipped = true
	}
	return m.reverse
}

// Match returns every non-overlapping occurrence of p, leftmost first.
func (m *Matcher) Match(p *Pattern) []Match {
	return m.MatchFunc(p, nil)
}

// MatchFunc is Match with a constraint. A rejected occurrence still
// consumes its instructions.
func (m *Matcher) MatchFunc(p *Pattern, c Constraint) []Match {
	text := m.text()
	var out []Match
	for _, loc := range p.re.FindAllStringIndex(text, -1) {
		start, end := loc[0]/encodedWidth, loc[1]/encodedWidth
		if start == end {
			continue
		}
		match := Match(m.insns[start:end:end])
		if c == nil || c(match) {
			out = append(out, match)
		}
	}
	return out
}

// MatchReverse scans the instructions from last to first. The pattern is
// written in that order too, so "ISTORE ILOAD" finds a load preceded by a
// store. The first result is the occurrence nearest the end of the method.
// Each match is returned in forward instruction order.
func (m *Matcher) MatchReverse(p *Pattern, c Constraint) []Match {
	text := m.reversedText()
	n := len(m.insns)
	var out []Match
	for _, loc := range p.re.FindAllStringIndex(text, -1) {
		rs, re := loc[0]/encodedWidth, loc[1]/encodedWidth
		if rs == re {
			continue
		}
		start, end := n-re, n-rs
		match := Match(m.insns[start:end:end])
		if c == nil || c(match) {
			out = append(out, match)
		}
	}
	return out
}

// MatchList is a convenience for a single query over list.
func MatchList(list *bytecode.List, p *Pattern) []Match {
	return New(list).Match(p)
}
