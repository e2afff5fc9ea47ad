package mapgraph

// Spec is the serializable form of a map. It is what LoadTOML reads and
// what Default is built from.
type Spec struct {
	Rooms    []string            `toml:"rooms"`
	Hallways map[string][]string `toml:"hallways"`
	// HallwayOrder fixes hallway iteration order, since TOML tables are
	// unordered once decoded into a map.
	HallwayOrder []string   `toml:"hallway_order"`
	Vents        [][]string `toml:"vents"`
}

// DefaultSpec is the fourteen-room ship used by the simulation.
func DefaultSpec() Spec {
	return Spec{
		Rooms: []string{
			"Cafeteria", "Weapons", "O2", "Navigation", "Shields", "Communications", "Storage",
			"Electrical", "Lower Engine", "Reactor", "Security", "Upper Engine", "MedBay", "Admin",
		},
		HallwayOrder: []string{
			"Hallway A", "Hallway B", "Hallway C", "Hallway D", "Hallway E", "Hallway F", "Hallway G",
		},
		Hallways: map[string][]string{
			"Hallway A": {"Upper Engine", "MedBay", "Cafeteria"},
			"Hallway B": {"Cafeteria", "Weapons"},
			"Hallway C": {"Upper Engine", "Reactor", "Security", "Lower Engine"},
			"Hallway D": {"Cafeteria", "Admin", "Storage"},
			"Hallway E": {"Weapons", "O2", "Navigation", "Shields"},
			"Hallway F": {"Lower Engine", "Electrical", "Storage"},
			"Hallway G": {"Storage", "Communications", "Shields"},
		},
		Vents: [][]string{
			{"Upper Engine", "Reactor"},
			{"Cafeteria", "Hallway E", "Admin"},
			{"MedBay", "Security", "Electrical"},
			{"Reactor", "Lower Engine"},
			{"Navigation", "Shields"},
		},
	}
}

// Default builds the graph for DefaultSpec.
func Default() *Graph {
	g, _ := Build(DefaultSpec())
	return g
}
