package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/deobby/manifest"
)

//go:embed default.toml
var defaultConfig []byte

// InitCommand writes a starter configuration.
type InitCommand struct {
	BaseCmd
	Force bool
}

func GetInitCommand() *InitCommand {
	c := new(InitCommand)
	c.Cmd = &cobra.Command{
		Use:     "init [dir]",
		Short:   "Write a default deobby.toml.",
		Example: "deobby init",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return c.write(cmd, dir)
		},
	}

	c.Cmd.Flags().BoolVarP(&c.Force,
		"force", "f", false, "overwrite an existing configuration")

	return c
}

func (c *InitCommand) write(cmd *cobra.Command, dir string) error {
	path := filepath.Join(dir, manifest.FileName)
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, defaultConfig, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
