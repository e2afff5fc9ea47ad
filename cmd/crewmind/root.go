package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crewmind/internal/config"
	"crewmind/internal/version"
)

// rootOpts holds flags shared by every subcommand.
type rootOpts struct {
	dir        string // project directory holding .crewmind/
	configPath string // explicit config file, overrides dir
}

func (o *rootOpts) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath(o.dir)
}

// newRootCmd creates the root crewmind command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	cmd := &cobra.Command{
		Use:           "crewmind",
		Short:         "LLM agents for a social-deduction simulation",
		Long:          "crewmind connects to the game simulation over TCP and plays every seat\nof the roster with a language-model agent.",
		Version:       fmt.Sprintf("crewmind %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "project directory containing .crewmind/")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default <dir>/.crewmind/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newPathCmd(opts),
		newVentCmd(opts),
		newLogsCmd(opts),
		newDashCmd(opts),
		newReplayCmd(opts),
	)
	return cmd
}
