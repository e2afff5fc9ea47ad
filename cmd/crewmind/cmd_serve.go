package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"crewmind/internal/config"
	"crewmind/pkg/agent"
	"crewmind/pkg/dispatcher"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/llm"
	"crewmind/pkg/mapgraph"
)

// providerFactory builds the decision provider for one seat. Tests swap in
// scripted providers.
type providerFactory func(cfg *config.Config, p config.Player) agent.DecisionProvider

func llmProviders(cfg *config.Config, p config.Player) agent.DecisionProvider {
	return llm.New(cfg.ProviderConfig(p))
}

// newServeCmd creates the "crewmind serve" subcommand.
func newServeCmd(opts *rootOpts) *cobra.Command {
	var noJournal bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agents and wait for the simulation to connect",
		Long:  "Listens on the configured host:port, plays every roster seat, and runs\nuntil interrupted or until the simulation names an unknown player.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.resolvedConfigPath())
			if err != nil {
				return err
			}
			if noJournal {
				cfg.Journal = ""
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := log.New(cmd.ErrOrStderr(), "crewmind: ", log.LstdFlags)
			return runServe(ctx, &cfg, logger, llmProviders)
		},
	}
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not write the SQLite journal")
	return cmd
}

// runServe wires config into a Server and blocks until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger, providers providerFactory) error {
	graph, err := mapgraph.Load(cfg.MapFile)
	if err != nil {
		return err
	}
	roster, err := buildRoster(cfg, graph, logger, providers)
	if err != nil {
		return err
	}

	var journal *eventlog.Journal
	if cfg.Journal != "" {
		journal, err = eventlog.Open(cfg.Journal)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	srv := dispatcher.NewServer(dispatcher.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		MaxLineBytes:  cfg.MaxLineBytes,
		MeetingRounds: cfg.MeetingRounds,
		SkipKickoff:   !cfg.Kickoff,
		Logger:        logger,
		Journal:       journal,
	}, roster)
	logger.Printf("roster: %s", strings.Join(roster.Names(), ", "))
	return srv.Serve(ctx)
}

// buildRoster creates one engine per configured player. Impostors learn
// who their partners are; crewmates learn nothing.
func buildRoster(cfg *config.Config, graph *mapgraph.Graph, logger *log.Logger, providers providerFactory) (*agent.Roster, error) {
	names := cfg.Names()
	impostors := cfg.Impostors()
	engines := make([]*agent.Engine, 0, len(cfg.Players))
	for _, p := range cfg.Players {
		var partners []string
		if slices.Contains(impostors, p.Name) {
			partners = slices.DeleteFunc(slices.Clone(impostors), func(n string) bool { return n == p.Name })
		}
		instructions := cfg.Instructions
		if p.Instructions != "" {
			instructions = strings.TrimSpace(instructions + "\n" + p.Instructions)
		}
		e, err := agent.New(agent.Config{
			Name:          p.Name,
			Role:          p.Role,
			Impostors:     partners,
			Instructions:  instructions,
			Players:       names,
			HistoryWindow: cfg.HistoryWindow,
			MaxIterations: cfg.MaxIterations,
			Map:           graph,
			Logger:        logger,
		}, providers(cfg, p))
		if err != nil {
			return nil, fmt.Errorf("build agent: %w", err)
		}
		engines = append(engines, e)
	}
	return agent.NewRoster(engines...)
}
