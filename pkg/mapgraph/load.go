package mapgraph

import (
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Build turns a Spec into a Graph. Every hallway endpoint must be a declared
// room or hallway.
func Build(s Spec) (*Graph, error) {
	g := New()
	for _, r := range s.Rooms {
		g.AddRoom(r)
	}

	order := slices.Clone(s.HallwayOrder)
	var rest []string
	for h := range s.Hallways {
		if !slices.Contains(order, h) {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	for _, h := range order {
		ends, ok := s.Hallways[h]
		if !ok {
			return nil, fmt.Errorf("hallway %q listed in hallway_order but not defined", h)
		}
		g.AddHallway(h)
		for _, end := range ends {
			if !slices.Contains(s.Rooms, end) && s.Hallways[end] == nil {
				return nil, fmt.Errorf("hallway %q connects unknown location %q", h, end)
			}
			g.AddEdge(h, end)
		}
	}

	for _, grp := range s.Vents {
		for _, v := range grp {
			if !g.Has(v) {
				return nil, fmt.Errorf("vent references unknown location %q", v)
			}
		}
		g.AddVentGroup(grp...)
	}
	return g, nil
}

// LoadTOML reads a map Spec from a TOML file and builds it.
func LoadTOML(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map %s: %w", path, err)
	}
	return ParseTOML(data)
}

// ParseTOML builds a graph from TOML content.
func ParseTOML(data []byte) (*Graph, error) {
	var s Spec
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse map toml: %w", err)
	}
	g, err := Build(s)
	if err != nil {
		return nil, fmt.Errorf("build map: %w", err)
	}
	return g, nil
}

// Load returns the graph at path, or Default when path is empty.
func Load(path string) (*Graph, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadTOML(path)
}
