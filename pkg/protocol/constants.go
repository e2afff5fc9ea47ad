package protocol

// Directory, network and meeting constants used throughout crewmind.
const (
	// StateDir is the project-level state directory (config, journal).
	StateDir = ".crewmind"

	// ConfigFile is the config file name inside StateDir.
	ConfigFile = "config.yaml"

	// JournalFile is the SQLite journal file name inside StateDir.
	JournalFile = "journal.db"

	// DefaultHost and DefaultPort are where the simulation connects.
	DefaultHost = "127.0.0.1"
	DefaultPort = 12345

	// DefaultMeetingRounds is the number of chat rounds per meeting.
	DefaultMeetingRounds = 3

	// DefaultHistoryWindow bounds how many merged history entries an agent
	// sees per decision.
	DefaultHistoryWindow = 40

	// DefaultMaxTurnIterations bounds provider calls within one turn.
	DefaultMaxTurnIterations = 8

	// DefaultMaxLineBytes bounds one inbound NDJSON line.
	DefaultMaxLineBytes = 1 << 20

	// SkipVote is the ballot for abstaining.
	SkipVote = "skip"

	// SpawnLocation is where every agent starts.
	SpawnLocation = "Cafeteria"
)

// Role is a player's secret allegiance.
type Role string

// Role constants.
const (
	RoleCrewmate Role = "crewmate"
	RoleImpostor Role = "impostor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCrewmate || r == RoleImpostor
}

// DefaultPlayers is the stable six-color roster.
var DefaultPlayers = []string{"Red", "Yellow", "Green", "Blue", "Purple", "Pink"} //nolint:gochecknoglobals // read-only table
