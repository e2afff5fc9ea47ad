// Package config loads the crewmind project configuration from
// .crewmind/config.yaml and applies CREWMIND_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"crewmind/pkg/llm"
	"crewmind/pkg/protocol"
)

// Config represents the .crewmind/config.yaml structure.
type Config struct {
	Host          string   `yaml:"host"           env:"CREWMIND_HOST"`
	Port          int      `yaml:"port"           env:"CREWMIND_PORT"`
	Players       []Player `yaml:"players"`
	Instructions  string   `yaml:"instructions,omitempty"`
	HistoryWindow int      `yaml:"history_window" env:"CREWMIND_HISTORY_WINDOW"` // 0 means default (40), negative means unbounded
	MaxIterations int      `yaml:"max_iterations" env:"CREWMIND_MAX_ITERATIONS"`
	MeetingRounds int      `yaml:"meeting_rounds" env:"CREWMIND_MEETING_ROUNDS"`
	MaxLineBytes  int      `yaml:"max_line_bytes" env:"CREWMIND_MAX_LINE_BYTES"`
	Kickoff       bool     `yaml:"kickoff"        env:"CREWMIND_KICKOFF"`
	MapFile       string   `yaml:"map_file,omitempty" env:"CREWMIND_MAP_FILE"`
	Journal       string   `yaml:"journal,omitempty"  env:"CREWMIND_JOURNAL"`
	LLM           LLM      `yaml:"llm"`
}

// Player is one roster seat.
type Player struct {
	Name         string        `yaml:"name"`
	Role         protocol.Role `yaml:"role"`
	Model        string        `yaml:"model,omitempty"`        // overrides llm.model for this player
	Instructions string        `yaml:"instructions,omitempty"` // appended to the shared instructions
}

// LLM configures the chat-completion backend shared by every player.
type LLM struct {
	Model       string        `yaml:"model"              env:"CREWMIND_LLM_MODEL"`
	BaseURL     string        `yaml:"base_url,omitempty" env:"CREWMIND_LLM_BASE_URL"`
	APIKey      string        `yaml:"api_key,omitempty"  env:"OPENAI_API_KEY"`
	Temperature float64       `yaml:"temperature,omitempty" env:"CREWMIND_LLM_TEMPERATURE"`
	Retries     int           `yaml:"retries"            env:"CREWMIND_LLM_RETRIES"`
	Timeout     time.Duration `yaml:"timeout"            env:"CREWMIND_LLM_TIMEOUT"`
}

// Default returns the configuration written by `crewmind init`: the six
// color roster with Red and Purple as impostors.
func Default() Config {
	players := make([]Player, len(protocol.DefaultPlayers))
	for i, name := range protocol.DefaultPlayers {
		role := protocol.RoleCrewmate
		if name == "Red" || name == "Purple" {
			role = protocol.RoleImpostor
		}
		players[i] = Player{Name: name, Role: role}
	}
	return Config{
		Host:          protocol.DefaultHost,
		Port:          protocol.DefaultPort,
		Players:       players,
		HistoryWindow: protocol.DefaultHistoryWindow,
		MaxIterations: protocol.DefaultMaxTurnIterations,
		MeetingRounds: protocol.DefaultMeetingRounds,
		MaxLineBytes:  protocol.DefaultMaxLineBytes,
		Kickoff:       true,
		LLM: LLM{
			Model:   llm.DefaultModel,
			Retries: 3,
			Timeout: 60 * time.Second,
		},
	}
}

// withDefaults fills zero values left by a sparse file or environment.
func (c *Config) withDefaults() {
	d := Default()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if len(c.Players) == 0 {
		c.Players = d.Players
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MeetingRounds <= 0 {
		c.MeetingRounds = d.MeetingRounds
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.Retries <= 0 {
		c.LLM.Retries = d.LLM.Retries
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
}

// DefaultPath returns the config file location for a project directory.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, protocol.StateDir, protocol.ConfigFile)
}

// Load reads path over Default(), applies environment overrides and
// validates the result. A missing file is not an error: defaults plus
// environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.withDefaults()
	if cfg.Journal == "" {
		cfg.Journal = filepath.Join(filepath.Dir(path), protocol.JournalFile)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the state directory. The file may carry
// an API key, so it is private to the owner.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the roster and the listen port.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	seen := make(map[string]bool, len(c.Players))
	for _, p := range c.Players {
		if p.Name == "" {
			return errors.New("player with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate player %q", p.Name)
		}
		seen[p.Name] = true
		if !p.Role.Valid() {
			return fmt.Errorf("player %s: unknown role %q", p.Name, p.Role)
		}
	}
	return nil
}

// Names returns the roster in configured order.
func (c *Config) Names() []string {
	out := make([]string, len(c.Players))
	for i, p := range c.Players {
		out[i] = p.Name
	}
	return out
}

// Impostors returns the names of every impostor seat.
func (c *Config) Impostors() []string {
	var out []string
	for _, p := range c.Players {
		if p.Role == protocol.RoleImpostor {
			out = append(out, p.Name)
		}
	}
	return out
}

// ProviderConfig returns the llm settings for one player.
func (c *Config) ProviderConfig(p Player) llm.Config {
	model := c.LLM.Model
	if p.Model != "" {
		model = p.Model
	}
	return llm.Config{
		Model:       model,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Retries:     c.LLM.Retries,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}
