// Package mapgraph models the ship map as an undirected graph of rooms and
// hallways, plus the set of rooms that contain vents. Queries are plain
// unweighted BFS; neighbors are visited in insertion order so results are
// deterministic for a given map.
package mapgraph

import (
	"fmt"
	"slices"
	"strings"
)

// Graph is an undirected adjacency graph. The zero value is empty and
// usable; build it with AddEdge and AddVentGroup.
type Graph struct {
	nodes     []string
	adj       map[string][]string
	vents     map[string]bool
	ventOrder [][]string
	rooms     []string
	hallways  []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		adj:   make(map[string][]string),
		vents: make(map[string]bool),
	}
}

func (g *Graph) ensure(n string) {
	if g.adj == nil {
		g.adj = make(map[string][]string)
		g.vents = make(map[string]bool)
	}
	if _, ok := g.adj[n]; !ok {
		g.adj[n] = nil
		g.nodes = append(g.nodes, n)
	}
}

// AddRoom registers a room node.
func (g *Graph) AddRoom(name string) {
	g.ensure(name)
	if !slices.Contains(g.rooms, name) {
		g.rooms = append(g.rooms, name)
	}
}

// AddHallway registers a hallway node.
func (g *Graph) AddHallway(name string) {
	g.ensure(name)
	if !slices.Contains(g.hallways, name) {
		g.hallways = append(g.hallways, name)
	}
}

// AddEdge connects a and b in both directions. Duplicate edges are ignored.
func (g *Graph) AddEdge(a, b string) {
	g.ensure(a)
	g.ensure(b)
	if a == b {
		return
	}
	if !slices.Contains(g.adj[a], b) {
		g.adj[a] = append(g.adj[a], b)
	}
	if !slices.Contains(g.adj[b], a) {
		g.adj[b] = append(g.adj[b], a)
	}
}

// AddVentGroup records a set of rooms connected to each other by vents.
func (g *Graph) AddVentGroup(rooms ...string) {
	group := make([]string, 0, len(rooms))
	for _, r := range rooms {
		g.ensure(r)
		g.vents[r] = true
		group = append(group, r)
	}
	g.ventOrder = append(g.ventOrder, group)
}

// Has reports whether the location is a node of the graph.
func (g *Graph) Has(location string) bool {
	_, ok := g.adj[location]
	return ok
}

// IsVent reports whether the location contains a vent.
func (g *Graph) IsVent(location string) bool {
	return g.vents[location]
}

// Neighbors returns the adjacent locations in insertion order.
func (g *Graph) Neighbors(location string) []string {
	return slices.Clone(g.adj[location])
}

// Rooms returns registered rooms in insertion order.
func (g *Graph) Rooms() []string { return slices.Clone(g.rooms) }

// Hallways returns registered hallways in insertion order.
func (g *Graph) Hallways() []string { return slices.Clone(g.hallways) }

// VentGroups returns the vent networks in insertion order.
func (g *Graph) VentGroups() [][]string {
	out := make([][]string, len(g.ventOrder))
	for i, grp := range g.ventOrder {
		out[i] = slices.Clone(grp)
	}
	return out
}

// FastestPath returns a shortest path from start to end, both inclusive.
// FastestPath(x, x) is [x]. It returns nil when end is unreachable.
func (g *Graph) FastestPath(start, end string) []string {
	if start == end {
		return []string{start}
	}
	if !g.Has(start) || !g.Has(end) {
		return nil
	}

	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.adj[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == end {
				return walkBack(prev, start, end)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func walkBack(prev map[string]string, start, end string) []string {
	path := []string{end}
	for n := end; n != start; {
		n = prev[n]
		path = append(path, n)
	}
	slices.Reverse(path)
	return path
}

// ClosestVent returns the nearest vent room to location and its hop
// distance. A location that is itself a vent room has distance 0. ok is
// false when no vent is reachable.
func (g *Graph) ClosestVent(location string) (vent string, distance int, ok bool) {
	if !g.Has(location) {
		return "", -1, false
	}
	dist := map[string]int{location: 0}
	queue := []string{location}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if g.vents[cur] {
			return cur, dist[cur], true
		}
		for _, next := range g.adj[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return "", -1, false
}

// Describe renders the map for an agent briefing.
func (g *Graph) Describe() string {
	var b strings.Builder
	b.WriteString("## Rooms:\n")
	for i, r := range g.rooms {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	b.WriteString("\n## Hallways:\n")
	for _, h := range g.hallways {
		fmt.Fprintf(&b, "%s: %s\n", h, strings.Join(g.adj[h], " - "))
	}
	b.WriteString("\n## Vents:\n")
	for i, grp := range g.ventOrder {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(grp, " - "))
	}
	return b.String()
}
