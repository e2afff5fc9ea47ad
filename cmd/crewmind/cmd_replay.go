package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"crewmind/internal/config"
	"crewmind/pkg/protocol"
	"crewmind/pkg/simclient"
)

// replayConfig holds configuration for the replay command.
type replayConfig struct {
	addr          string
	expectKickoff bool
	timeout       time.Duration
}

// newReplayCmd creates the "crewmind replay" subcommand.
func newReplayCmd(opts *rootOpts) *cobra.Command {
	var cfg replayConfig
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Play a recorded NDJSON script against a running server",
		Long: "Connects to `crewmind serve` as the simulation would and sends each line\n" +
			"of FILE (events or requestChat messages, '#' comments allowed), printing\n" +
			"the actions and meeting broadcasts that come back. Use - for stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.addr == "" {
				c, err := config.Load(opts.resolvedConfigPath())
				if err != nil {
					return err
				}
				cfg.addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
			}
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open script: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runReplay(cmd.Context(), cmd.OutOrStdout(), in, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.addr, "addr", "", "server address (default: host:port from config)")
	cmd.Flags().BoolVar(&cfg.expectKickoff, "kickoff", true, "read the kickoff batch before sending")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Minute, "wait limit per batch")
	return cmd
}

func runReplay(ctx context.Context, w io.Writer, script io.Reader, cfg replayConfig) error {
	c, err := simclient.Dial(ctx, cfg.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	step := func(f func(context.Context) (simclient.Exchange, error)) error {
		sctx, cancel := context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
		ex, err := f(sctx)
		if err != nil {
			return err
		}
		printExchange(w, ex)
		return nil
	}

	if cfg.expectKickoff {
		fmt.Fprintln(w, "# kickoff")
		if err := step(c.Collect); err != nil {
			return fmt.Errorf("kickoff: %w", err)
		}
	}

	scanner := bufio.NewScanner(script)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.DefaultMaxLineBytes)
	for n := 1; scanner.Scan(); n++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		msg, err := protocol.DecodeMessage(line)
		if err != nil {
			return fmt.Errorf("script line %d: %w", n, err)
		}
		if err := c.SendRaw(ctx, line); err != nil {
			return err
		}
		if msg.Type != protocol.MsgEvents {
			continue
		}
		fmt.Fprintf(w, "# batch %d (%d records)\n", n, len(msg.Events))
		if err := step(c.Collect); err != nil {
			return fmt.Errorf("script line %d: %w", n, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return nil
}

func printExchange(w io.Writer, ex simclient.Exchange) {
	for _, b := range ex.Broadcasts {
		fmt.Fprintf(w, "[%s] %s: %s\n", b.Type, b.Agent, b.Details)
	}
	if len(ex.Actions) == 0 {
		fmt.Fprintln(w, "(no actions)")
	}
	for _, a := range ex.Actions {
		fmt.Fprintf(w, "%s: %s %s (t=%g)\n", a.Agent, a.Type, a.Details, a.Time)
	}
}
