package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crewmind/internal/config"
)

// newInitCmd creates the "crewmind init" subcommand.
func newInitCmd(opts *rootOpts) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .crewmind/config.yaml",
		Long:  "Writes the default configuration: the six-color roster, two impostors,\nand the shared model settings. Use --force to overwrite an existing file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat config: %w", err)
			}

			cfg := config.Default()
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "wrote %s\n", path)
			fmt.Fprintf(w, "players: %s (impostors: %s)\n",
				strings.Join(cfg.Names(), ", "), strings.Join(cfg.Impostors(), ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
