package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"crewmind/internal/config"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail      int
	eventType string
	session   string
	follow    bool
	meetings  bool
}

// newLogsCmd creates the "crewmind logs" subcommand.
func newLogsCmd(opts *rootOpts) *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs [agent]",
		Short: "Query and tail the journal",
		Long:  "Displays events from the SQLite journal written by `crewmind serve`.\nOptionally filter by agent or event type and follow new events.",
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

			w := cmd.OutOrStdout()
			if cfg.meetings {
				return printMeetings(cmd.Context(), r, w, cfg.tail)
			}

			q := eventlog.QueryOpts{Type: cfg.eventType, SessionID: cfg.session, Limit: cfg.tail}
			if len(args) == 1 {
				q.Agent = args[0]
			}
			if cfg.follow {
				return followLogs(cmd.Context(), r, w, q, filepath.Dir(path))
			}
			_, err = printLogs(cmd.Context(), r, w, q)
			return err
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only show events of this type (action, chat, vote, ...)")
	cmd.Flags().StringVar(&cfg.session, "session", "", "only show events from one connection")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().BoolVar(&cfg.meetings, "meetings", false, "list meetings instead of events")

	return cmd
}

// journalPath resolves the journal from config, falling back to the
// project state dir.
func journalPath(opts *rootOpts) (string, error) {
	cfg, err := config.Load(opts.resolvedConfigPath())
	if err != nil {
		return "", err
	}
	if cfg.Journal != "" {
		return cfg.Journal, nil
	}
	return eventlog.DefaultPath(opts.dir), nil
}

// printLogs writes matching events and returns the highest id seen.
func printLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, q eventlog.QueryOpts) (int64, error) {
	events, err := r.Events(ctx, q)
	if err != nil {
		return q.AfterID, err
	}
	if len(events) == 0 && q.AfterID == 0 {
		fmt.Fprintln(w, "no events found")
		return 0, nil
	}
	last := q.AfterID
	for i := range events {
		formatEvent(w, &events[i])
		last = events[i].ID
	}
	return last, nil
}

// followLogs prints the tail, then prints new rows whenever the journal
// directory changes. A slow ticker covers filesystems without notify support.
func followLogs(ctx context.Context, r *eventlog.Reader, w io.Writer, q eventlog.QueryOpts, dir string) error {
	last, err := printLogs(ctx, r, w, q)
	if err != nil {
		return err
	}

	var changes <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: %v (falling back to polling)", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			log.Printf("fsnotify: watch %s: %v (falling back to polling)", dir, err)
		} else {
			changes = watcher.Events
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	q.Limit = 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
		case <-ticker.C:
		}
		q.AfterID = last
		if last, err = printLogs(ctx, r, w, q); err != nil {
			return err
		}
	}
}

// formatEvent writes a single event in a human-readable format.
func formatEvent(w io.Writer, evt *protocol.JournalEvent) {
	// Format: timestamp | agent | event_type | source | payload
	fmt.Fprintf(w, "%s | %-8s | %-18s | %-10s | %s\n",
		evt.CreatedAt, evt.Agent, evt.Type, evt.Source, evt.Payload)
}

func printMeetings(ctx context.Context, r *eventlog.Reader, w io.Writer, limit int) error {
	meetings, err := r.Meetings(ctx, limit)
	if err != nil {
		return err
	}
	if len(meetings) == 0 {
		fmt.Fprintln(w, "no meetings found")
		return nil
	}
	for _, m := range meetings {
		fmt.Fprintf(w, "%s | %-9s | caller %-8s | outcome %-8s | %s\n",
			m.StartedAt, m.Status, m.Caller, m.Outcome, m.Tally)
	}
	return nil
}
