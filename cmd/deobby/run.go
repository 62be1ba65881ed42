package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chazu/deobby/deob"
	"github.com/chazu/deobby/manifest"
	"github.com/chazu/deobby/transform"
	"github.com/chazu/deobby/transform/dead"
)

// RunCommand deobfuscates a class file or archive.
type RunCommand struct {
	BaseCmd
	Output    string
	Config    string
	Passes    []string
	Workers   int
	Policy    string
	Classpath []string
	JDK       string
	Report    string
	Metrics   string
}

func GetRunCommand() *RunCommand {
	c := new(RunCommand)
	c.Cmd = &cobra.Command{
		Use:   "run <input>",
		Short: "Run the rewrite passes over a .class, .jar or .zip file.",
		Example: "deobby run gamepack.jar -o clean.jar\n" +
			"deobby run Client.class --pass bit-shift --pass bit-mask",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.manifest(cmd)
			if err != nil {
				return err
			}
			return c.run(cmd, args[0], m)
		},
	}

	c.Cmd.Flags().StringVarP(&c.Output,
		"output", "o", "", "output path (default: from deobby.toml, else beside the input)")
	c.Cmd.Flags().StringVarP(&c.Config,
		"config", "c", "", "configuration file (default: deobby.toml found from the working directory up)")
	c.Cmd.Flags().StringArrayVar(&c.Passes,
		"pass", nil, "pass to run, in order; repeatable (known: exception-tracing, opaque-predicates, bit-shift, bit-mask, dead-methods)")
	c.Cmd.Flags().IntVar(&c.Workers,
		"workers", 0, "classes processed concurrently (1 = sequential)")
	c.Cmd.Flags().StringVar(&c.Policy,
		"dead-method-policy", "", "conservative or aggressive")
	c.Cmd.Flags().StringArrayVar(&c.Classpath,
		"classpath", nil, "extra library jar, jmod or directory; repeatable")
	c.Cmd.Flags().StringVar(&c.JDK,
		"jdk", "", "JDK home to resolve library types against, or \"auto\" for $JAVA_HOME")
	c.Cmd.Flags().StringVar(&c.Report,
		"report", "", "SQLite database to record the run in")
	c.Cmd.Flags().StringVar(&c.Metrics,
		"metrics", "", "Prometheus textfile to write counters to")

	return c
}

// manifest loads the configuration and applies flag overrides. Paths given
// on the command line stay relative to the working directory.
func (c *RunCommand) manifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	var m *manifest.Manifest
	if c.Config != "" {
		m, err = manifest.LoadFile(c.Config)
	} else {
		m, err = manifest.FindAndLoad(wd)
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		if m, err = manifest.Default(wd); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		m.Output.Path = absFrom(wd, c.Output)
	}
	if flags.Changed("pass") {
		m.Pipeline.Passes = c.Passes
	}
	if flags.Changed("workers") {
		m.Pipeline.Workers = c.Workers
	}
	if flags.Changed("dead-method-policy") {
		m.Pipeline.DeadMethodPolicy = c.Policy
	}
	for _, e := range c.Classpath {
		m.Classpath.Entries = append(m.Classpath.Entries, absFrom(wd, e))
	}
	if flags.Changed("jdk") {
		m.Classpath.JDK = c.JDK
		if c.JDK != manifest.JDKAuto {
			m.Classpath.JDK = absFrom(wd, c.JDK)
		}
	}
	if flags.Changed("report") {
		m.Report.Database = absFrom(wd, c.Report)
	}
	if flags.Changed("metrics") {
		m.Report.Metrics = absFrom(wd, c.Metrics)
	}
	return m, nil
}

func (c *RunCommand) run(cmd *cobra.Command, input string, m *manifest.Manifest) error {
	policy, err := dead.ParsePolicy(m.Pipeline.DeadMethodPolicy)
	if err != nil {
		return err
	}
	if err := deob.CheckPasses(m.Pipeline.Passes); err != nil {
		return err
	}

	cp, err := manifest.NewResolver(m).Resolve()
	if err != nil {
		return err
	}
	defer cp.Close()

	session, err := deob.NewSession(deob.Options{
		Passes:          m.Pipeline.Passes,
		Workers:         m.Pipeline.Workers,
		Policy:          policy,
		Library:         cp.Library,
		MaxResourceSize: m.Output.MaxResourceSize,
	})
	if err != nil {
		return err
	}

	ctx := contextOf(cmd)
	res, err := session.Run(ctx, input, defaultOutput(input, m.OutputPath()))
	if err != nil {
		return err
	}
	if err := res.Save(ctx, m.DatabasePath(), m.MetricsPath()); err != nil {
		return err
	}

	stats, err := res.Stats.Snapshot()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printSummary(out, stats)
	fmt.Fprintf(out, "%d classes written to %s in %s\n",
		res.Run.Classes, res.Output, res.Run.Duration.Round(time.Millisecond))
	return nil
}

func printSummary(w io.Writer, stats []transform.Stat) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Rewrites")
	t.AppendHeader(table.Row{"Pass", "Action", "Count"})
	var total float64
	for _, st := range stats {
		t.AppendRow(table.Row{st.Pass, st.Action, int64(st.Count)})
		total += st.Count
	}
	t.AppendFooter(table.Row{"", "Total", int64(total)})
	t.Render()
}

// defaultOutput keeps archives from being overwritten in place: with no
// configured output, in.jar becomes in.deob.jar. Single classes are placed
// beside the input by the program writer.
func defaultOutput(input, output string) string {
	if output != "" {
		return output
	}
	switch ext := filepath.Ext(input); strings.ToLower(ext) {
	case ".jar", ".zip":
		return strings.TrimSuffix(input, ext) + ".deob" + ext
	}
	return ""
}

func absFrom(wd, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(wd, path)
}

// contextOf returns the command's context, which is unset when the tree
// was started with Execute rather than ExecuteContext.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
