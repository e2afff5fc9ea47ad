package main

import (
	"encoding/json"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"crewmind/pkg/eventlog"
)

// newDashCmd creates the "crewmind dash" subcommand.
func newDashCmd(opts *rootOpts) *cobra.Command {
	var snapshot bool
	cmd := &cobra.Command{
		Use:   "dash [agent]",
		Short: "Live journal dashboard",
		Long:  "Opens a terminal dashboard over the journal. Without a terminal, or with\n--snapshot, prints the recent events and meetings as JSON instead.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := journalPath(opts)
			if err != nil {
				return err
			}
			r, err := eventlog.NewReader(path)
			if err != nil {
				return err
			}
			defer r.Close()

			var agentFilter string
			if len(args) == 1 {
				agentFilter = args[0]
			}

			if snapshot || !isatty.IsTerminal(os.Stdout.Fd()) {
				data, err := snapshotJSON(cmd, r, agentFilter)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			watcher := watchJournalDir(path)
			if watcher != nil {
				defer watcher.Close()
			}
			p := tea.NewProgram(newDashModel(r, watcher, agentFilter), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "print a JSON snapshot and exit")
	return cmd
}

// snapshotJSON renders recent journal state for scripts.
func snapshotJSON(cmd *cobra.Command, src journalSource, agentFilter string) ([]byte, error) {
	events, err := src.Events(cmd.Context(), eventlog.QueryOpts{Agent: agentFilter, Limit: 50})
	if err != nil {
		return nil, err
	}
	meetings, err := src.Meetings(cmd.Context(), 5)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(map[string]any{"events": events, "meetings": meetings})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}
