// deobby rewrites obfuscated JVM class files back into readable bytecode.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	var verbosity int
	rootCmd := &cobra.Command{
		Use:           "deobby <command> [arguments]",
		Short:         "deobby removes obfuscation from JVM bytecode.",
		Long:          "deobby loads class files, runs semantics-preserving rewrite passes over them and writes valid class files back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       "deobby run gamepack.jar -o clean.jar",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(verbosity, nil)
		},
	}
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "log more (repeat for debug output)")

	rootCmd.AddCommand(GetRunCommand().GetCmd())
	rootCmd.AddCommand(GetDumpCommand().GetCmd())
	rootCmd.AddCommand(GetMatchCommand().GetCmd())
	rootCmd.AddCommand(GetInitCommand().GetCmd())
	return rootCmd
}

// BaseCmd holds the cobra command of a subcommand.
type BaseCmd struct {
	Cmd *cobra.Command
}

func (t *BaseCmd) SetCmd(cmd *cobra.Command) {
	t.Cmd = cmd
}

func (t *BaseCmd) GetCmd() *cobra.Command {
	return t.Cmd
}
