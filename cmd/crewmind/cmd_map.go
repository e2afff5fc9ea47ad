package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crewmind/internal/config"
	"crewmind/pkg/mapgraph"
)

// loadMap resolves the map: --map wins, then map_file from the config,
// then the built-in ship.
func loadMap(opts *rootOpts, mapFile string) (*mapgraph.Graph, error) {
	if mapFile == "" {
		cfg, err := config.Load(opts.resolvedConfigPath())
		if err != nil {
			return nil, err
		}
		mapFile = cfg.MapFile
	}
	return mapgraph.Load(mapFile)
}

// newPathCmd creates the "crewmind path" subcommand.
func newPathCmd(opts *rootOpts) *cobra.Command {
	var mapFile string
	cmd := &cobra.Command{
		Use:   "path FROM TO",
		Short: "Print the fastest path between two locations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadMap(opts, mapFile)
			if err != nil {
				return err
			}
			path := g.FastestPath(args[0], args[1])
			if len(path) == 0 {
				return fmt.Errorf("no path from %s to %s", args[0], args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
			return nil
		},
	}
	cmd.Flags().StringVar(&mapFile, "map", "", "TOML map file (default: built-in ship)")
	return cmd
}

// newVentCmd creates the "crewmind vent" subcommand.
func newVentCmd(opts *rootOpts) *cobra.Command {
	var mapFile string
	cmd := &cobra.Command{
		Use:   "vent LOCATION",
		Short: "Print the closest vent to a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadMap(opts, mapFile)
			if err != nil {
				return err
			}
			vent, dist, ok := g.ClosestVent(args[0])
			if !ok {
				return fmt.Errorf("no vent reachable from %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d steps)\n", vent, dist)
			return nil
		},
	}
	cmd.Flags().StringVar(&mapFile, "map", "", "TOML map file (default: built-in ship)")
	return cmd
}
