package agent

import (
	"context"
	"fmt"
	"slices"

	"crewmind/pkg/protocol"
)

// ToolKind tags a ToolInvocation.
type ToolKind string

// Tool kinds. Think and the two queries loop the turn; Continue and Act end
// it. Speak and Vote are only offered during meetings.
const (
	ToolThink     ToolKind = "think"
	ToolQueryPath ToolKind = "get_fastest_path"
	ToolQueryVent ToolKind = "find_closest_vent"
	ToolContinue  ToolKind = "continue_current_action"
	ToolAct       ToolKind = "act"
	ToolSpeak     ToolKind = "speak"
	ToolVote      ToolKind = "vote"
)

// ToolInvocation is the single choice a DecisionProvider returns. Only the
// fields relevant to Kind are set.
type ToolInvocation struct {
	Kind ToolKind

	Text     string              // Think, Speak
	From, To string              // QueryPath
	Location string              // QueryVent
	Action   protocol.ActionKind // Act
	Args     string              // Act details, Vote target
}

// Think returns a think invocation.
func Think(text string) ToolInvocation { return ToolInvocation{Kind: ToolThink, Text: text} }

// QueryPath returns a fastest-path query.
func QueryPath(from, to string) ToolInvocation {
	return ToolInvocation{Kind: ToolQueryPath, From: from, To: to}
}

// QueryVent returns a closest-vent query.
func QueryVent(location string) ToolInvocation {
	return ToolInvocation{Kind: ToolQueryVent, Location: location}
}

// Continue keeps the current action running.
func Continue() ToolInvocation { return ToolInvocation{Kind: ToolContinue} }

// Act issues a concrete action.
func Act(kind protocol.ActionKind, details string) ToolInvocation {
	return ToolInvocation{Kind: ToolAct, Action: kind, Args: details}
}

// Speak says a chat message during a meeting.
func Speak(text string) ToolInvocation { return ToolInvocation{Kind: ToolSpeak, Text: text} }

// VoteFor casts a meeting ballot. Use protocol.SkipVote to abstain.
func VoteFor(target string) ToolInvocation { return ToolInvocation{Kind: ToolVote, Args: target} }

func (t ToolInvocation) String() string {
	switch t.Kind {
	case ToolThink, ToolSpeak:
		return fmt.Sprintf("%s(%q)", t.Kind, t.Text)
	case ToolQueryPath:
		return fmt.Sprintf("%s(%s, %s)", t.Kind, t.From, t.To)
	case ToolQueryVent:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Location)
	case ToolAct:
		return fmt.Sprintf("%s(%q)", t.Action, t.Args)
	case ToolVote:
		return fmt.Sprintf("vote(%s)", t.Args)
	default:
		return string(t.Kind)
	}
}

// ToolParam describes one string argument of a tool.
type ToolParam struct {
	Name        string
	Description string
	Enum        []string
}

// ToolSpec is one entry of the legal set offered to a DecisionProvider.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
	Kind        ToolKind
	Action      protocol.ActionKind // set when Kind == ToolAct
}

// Invocation binds decoded arguments to this tool. Missing arguments are
// left empty; the engine validates them.
func (s ToolSpec) Invocation(args map[string]string) ToolInvocation {
	arg := func(i int) string {
		if i < len(s.Params) {
			return args[s.Params[i].Name]
		}
		return ""
	}
	switch s.Kind {
	case ToolThink:
		return Think(arg(0))
	case ToolQueryPath:
		return QueryPath(arg(0), arg(1))
	case ToolQueryVent:
		return QueryVent(arg(0))
	case ToolContinue:
		return Continue()
	case ToolAct:
		return Act(s.Action, arg(0))
	case ToolSpeak:
		return Speak(arg(0))
	case ToolVote:
		return VoteFor(arg(0))
	default:
		return ToolInvocation{Kind: s.Kind}
	}
}

// Lookup finds a spec by tool name.
func Lookup(specs []ToolSpec, name string) (ToolSpec, bool) {
	i := slices.IndexFunc(specs, func(s ToolSpec) bool { return s.Name == name })
	if i < 0 {
		return ToolSpec{}, false
	}
	return specs[i], true
}

// permits reports whether inv was offered in specs.
func permits(specs []ToolSpec, inv ToolInvocation) bool {
	return slices.ContainsFunc(specs, func(s ToolSpec) bool {
		if s.Kind != inv.Kind {
			return false
		}
		return s.Kind != ToolAct || s.Action == inv.Action
	})
}

// DecisionProvider maps an agent's context and legal tools to exactly one
// invocation. Implementations may block on the network.
type DecisionProvider interface {
	Choose(ctx context.Context, dc DecisionContext, tools []ToolSpec) (ToolInvocation, error)
}

// DecisionFunc adapts a function to DecisionProvider.
type DecisionFunc func(ctx context.Context, dc DecisionContext, tools []ToolSpec) (ToolInvocation, error)

// Choose implements DecisionProvider.
func (f DecisionFunc) Choose(ctx context.Context, dc DecisionContext, tools []ToolSpec) (ToolInvocation, error) {
	return f(ctx, dc, tools)
}

// --- Tool catalogue ---

var (
	thinkSpec = ToolSpec{ //nolint:gochecknoglobals // immutable catalogue entry
		Name:        string(ToolThink),
		Description: "Write down your current reasoning and plans. Replaces your previous thoughts.",
		Params:      []ToolParam{{Name: "thoughts", Description: "Your updated thoughts."}},
		Kind:        ToolThink,
	}
	pathSpec = ToolSpec{ //nolint:gochecknoglobals // immutable catalogue entry
		Name:        string(ToolQueryPath),
		Description: "Get the fastest path between two locations on the map.",
		Params: []ToolParam{
			{Name: "start", Description: "The starting room or hallway."},
			{Name: "end", Description: "The destination room or hallway."},
		},
		Kind: ToolQueryPath,
	}
	ventSpec = ToolSpec{ //nolint:gochecknoglobals // immutable catalogue entry
		Name:        string(ToolQueryVent),
		Description: "Find the closest vent to a location and how many steps away it is.",
		Params:      []ToolParam{{Name: "location", Description: "The room or hallway to search from."}},
		Kind:        ToolQueryVent,
	}
	continueSpec = ToolSpec{ //nolint:gochecknoglobals // immutable catalogue entry
		Name:        string(ToolContinue),
		Description: "Keep doing your current action. Choose this when nothing requires a change of plan.",
		Kind:        ToolContinue,
	}
)

// actionSpec returns the tool for a concrete action kind.
func actionSpec(kind protocol.ActionKind) ToolSpec {
	s := ToolSpec{Kind: ToolAct, Action: kind}
	switch kind {
	case protocol.ActionMove:
		s.Name, s.Description = "move", "Move to a location. Movement continues across turns until you arrive."
		s.Params = []ToolParam{{Name: "to", Description: "The room or hallway to move to."}}
	case protocol.ActionReport:
		s.Name, s.Description = "report", "Report a dead body you can see. This starts a meeting."
		s.Params = []ToolParam{{Name: "body", Description: "The player whose body you found."}}
	case protocol.ActionCallMeeting:
		s.Name, s.Description = "call_meeting", "Press the emergency button to call a meeting."
	case protocol.ActionSabotage:
		s.Name, s.Description = "sabotage", "Sabotage a ship system."
		s.Params = []ToolParam{{Name: "system", Description: "The system to sabotage.", Enum: []string{"Electrical", "O2", "Reactor"}}}
	case protocol.ActionKill:
		s.Name, s.Description = "kill", "Kill a crewmate in range."
		s.Params = []ToolParam{{Name: "target", Description: "The player to kill."}}
	case protocol.ActionVent:
		s.Name, s.Description = "vent", "Travel through the vent network to a connected vent."
		s.Params = []ToolParam{{Name: "vent", Description: "The vent room to come out of."}}
	case protocol.ActionSecurity:
		s.Name, s.Description = "security", "Watch the security cameras."
	case protocol.ActionAdmin:
		s.Name, s.Description = "admin", "Check the admin map for player locations."
	case protocol.ActionTask:
		s.Name, s.Description = "task", "Start the task at your current location. Tasks continue across turns until done."
		s.Params = []ToolParam{{Name: "location", Description: "The task location."}}
	default:
		s.Name, s.Description = string(kind), string(kind)
	}
	return s
}

func speakSpec() ToolSpec {
	return ToolSpec{
		Name:        string(ToolSpeak),
		Description: "Say one message to everyone in the meeting.",
		Params:      []ToolParam{{Name: "message", Description: "What you say."}},
		Kind:        ToolSpeak,
	}
}

func voteSpec(candidates []string) ToolSpec {
	return ToolSpec{
		Name:        string(ToolVote),
		Description: "Cast your vote to eject a player, or skip.",
		Params: []ToolParam{{
			Name:        "target",
			Description: "The player to vote out, or \"" + protocol.SkipVote + "\".",
			Enum:        append(slices.Clone(candidates), protocol.SkipVote),
		}},
		Kind: ToolVote,
	}
}
