package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/deobby/pkg/bytecode"
	"github.com/chazu/deobby/pkg/classfile"
	"github.com/chazu/deobby/program"
)

// DumpCommand prints instruction listings.
type DumpCommand struct {
	BaseCmd
	Class  string
	Method string
}

func GetDumpCommand() *DumpCommand {
	c := new(DumpCommand)
	c.Cmd = &cobra.Command{
		Use:     "dump <input>",
		Short:   "Disassemble the methods of a .class, .jar or .zip file.",
		Example: "deobby dump gamepack.jar --class client --method init",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.dump(cmd, args[0])
		},
	}

	c.Cmd.Flags().StringVar(&c.Class,
		"class", "", "only this class (a/b/C or a.b.C)")
	c.Cmd.Flags().StringVar(&c.Method,
		"method", "", "only methods with this name, or name plus descriptor")

	return c
}

func (c *DumpCommand) dump(cmd *cobra.Command, input string) error {
	p, err := program.Open(input, program.Options{})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	classes := p.Classes()
	if c.Class != "" {
		cls, err := p.Lookup(strings.ReplaceAll(c.Class, ".", "/"))
		if err != nil {
			return err
		}
		classes = []*classfile.Class{cls}
	}

	found := 0
	for _, cls := range classes {
		for _, m := range cls.Methods {
			if !m.HasCode() || !methodSelected(c.Method, m.Name, m.Desc) {
				continue
			}
			found++
			fmt.Fprint(out, bytecode.DisassembleWithName(m.Instructions, cls.Name+"."+m.Name+m.Desc))
			fmt.Fprintln(out)
		}
	}
	if found == 0 && c.Method != "" {
		return fmt.Errorf("no method matches %q", c.Method)
	}
	return nil
}

func methodSelected(filter, name, desc string) bool {
	return filter == "" || filter == name || filter == name+desc
}
