package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/match"
	"github.com/chazu/deobby/program"
)

// MatchCommand searches methods for an instruction pattern.
type MatchCommand struct {
	BaseCmd
	Reverse bool
}

func GetMatchCommand() *MatchCommand {
	c := new(MatchCommand)
	c.Cmd = &cobra.Command{
		Use:   "match <input> <pattern>",
		Short: "List the occurrences of an instruction pattern.",
		Example: "deobby match gamepack.jar \"(ICONST | BIPUSH | SIPUSH | LDC) ISHL\"\n" +
			"deobby match gamepack.jar \"GETSTATIC IFEQ\"",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.match(cmd, args[0], args[1])
		},
	}

	c.Cmd.Flags().BoolVar(&c.Reverse,
		"reverse", false, "scan from the end of each method; the pattern is written last instruction first")

	return c
}

func (c *MatchCommand) match(cmd *cobra.Command, input, expr string) error {
	pattern, err := match.Compile(expr)
	if err != nil {
		return err
	}
	p, err := program.Open(input, program.Options{})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Method", "Offset", "Instructions"})
	total := 0
	for _, cls := range p.Classes() {
		for _, m := range cls.Methods {
			if !m.HasCode() {
				continue
			}
			var matches []match.Match
			if c.Reverse {
				matches = match.New(m.Instructions).MatchReverse(pattern, nil)
			} else {
				matches = match.MatchList(m.Instructions, pattern)
			}
			if len(matches) == 0 {
				continue
			}
			index := realIndex(m.Instructions)
			for _, mt := range matches {
				t.AppendRow(table.Row{cls.Name + "." + m.Name + m.Desc, index[mt.First()], describe(mt)})
			}
			total += len(matches)
		}
	}
	t.AppendFooter(table.Row{"", "Matches", total})
	t.Render()
	return nil
}

// realIndex numbers the real instructions of l the way listings do.
func realIndex(l *bytecode.List) map[bytecode.Instruction]int {
	index := make(map[bytecode.Instruction]int)
	for i, insn := range l.Real() {
		index[insn] = i
	}
	return index
}

func describe(mt match.Match) string {
	parts := make([]string, len(mt))
	for i, insn := range mt {
		parts[i] = bytecode.Format(insn)
	}
	return strings.Join(parts, "; ")
}
