package protocol

import (
	"fmt"
	"strings"
)

// EventKind classifies an Event delivered by the simulation.
type EventKind string

// Event kind constants. The set is closed; see EventKind.Valid.
const (
	EventSeePlayer           EventKind = "seePlayer"
	EventSeePlayerEnd        EventKind = "seePlayerEnd"
	EventSeeBody             EventKind = "seeBody"
	EventSeeEnterVent        EventKind = "seeEnterVent"
	EventSeeExitVent         EventKind = "seeExitVent"
	EventCompleteTask        EventKind = "completeTask"
	EventSabotage            EventKind = "sabotage"
	EventSabotageEnd         EventKind = "sabotageEnd"
	EventKillRange           EventKind = "killRange"
	EventKillRangeEnd        EventKind = "killRangeEnd"
	EventBodyFound           EventKind = "bodyFound"
	EventEmergencyMeeting    EventKind = "emergencyMeeting"
	EventKillCooldownEnd     EventKind = "killCooldownEnd"
	EventSabotageCooldownEnd EventKind = "sabotageCooldownEnd"
	EventSecurity            EventKind = "security"
	EventAdmin               EventKind = "admin"
	EventReachLocation       EventKind = "reachLocation"
	EventVote                EventKind = "vote"
	EventChatMessage         EventKind = "chatMessage"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventSeePlayer, EventSeePlayerEnd, EventSeeBody, EventSeeEnterVent, EventSeeExitVent,
		EventCompleteTask, EventSabotage, EventSabotageEnd, EventKillRange, EventKillRangeEnd,
		EventBodyFound, EventEmergencyMeeting, EventKillCooldownEnd, EventSabotageCooldownEnd,
		EventSecurity, EventAdmin, EventReachLocation, EventVote, EventChatMessage:
		return true
	default:
		return false
	}
}

// TriggersMeeting reports whether an event of this kind starts a meeting.
func (k EventKind) TriggersMeeting() bool {
	return k == EventBodyFound || k == EventEmergencyMeeting
}

// Event is an immutable fact about the world delivered to one agent.
type Event struct {
	Type    EventKind `json:"type"`
	Details string    `json:"details"`
	Time    float64   `json:"time"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s at t=%g", e.Details, e.Time)
}

// ActionKind classifies an Action issued by an agent.
type ActionKind string

// Action kind constants.
const (
	ActionMove        ActionKind = "move"
	ActionReport      ActionKind = "report"
	ActionCallMeeting ActionKind = "callMeeting"
	ActionSabotage    ActionKind = "sabotage"
	ActionKill        ActionKind = "kill"
	ActionVent        ActionKind = "vent"
	ActionSecurity    ActionKind = "security"
	ActionAdmin       ActionKind = "admin"
	ActionTask        ActionKind = "task"
)

// AllActionKinds lists every action kind in a stable order.
var AllActionKinds = []ActionKind{ //nolint:gochecknoglobals // read-only table
	ActionMove, ActionReport, ActionCallMeeting, ActionSabotage, ActionKill,
	ActionVent, ActionSecurity, ActionAdmin, ActionTask,
}

// Persists reports whether an action of this kind stays in flight across
// turns. Only moves and tasks do; everything else completes at issuance.
func (k ActionKind) Persists() bool {
	return k == ActionMove || k == ActionTask
}

// CompletedBy reports whether ev finishes an in-flight action of this kind.
func (k ActionKind) CompletedBy(ev EventKind) bool {
	switch k {
	case ActionMove:
		return ev == EventReachLocation
	case ActionTask:
		return ev == EventCompleteTask
	default:
		return false
	}
}

// ParseActionKind maps an available-action name sent by the simulation
// ("Move", "CallMeeting", "emergencyMeeting", ...) to an ActionKind.
func ParseActionKind(name string) (ActionKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "move":
		return ActionMove, true
	case "report":
		return ActionReport, true
	case "callmeeting", "emergencymeeting", "emergency_meeting", "call_meeting":
		return ActionCallMeeting, true
	case "sabotage":
		return ActionSabotage, true
	case "kill":
		return ActionKill, true
	case "vent", "entervent", "enter_vent":
		return ActionVent, true
	case "security":
		return ActionSecurity, true
	case "admin":
		return ActionAdmin, true
	case "task", "dotask", "do_task":
		return ActionTask, true
	default:
		return "", false
	}
}

// Action is a discrete time-stamped commitment by an agent. At most one of
// CompletedAt and InterruptedAt is ever set; once either is set the action
// is terminal.
type Action struct {
	Type          ActionKind `json:"type"`
	Details       string     `json:"details"`
	Time          float64    `json:"time"`
	CompletedAt   *float64   `json:"completedAt,omitempty"`
	InterruptedAt *float64   `json:"interruptedAt,omitempty"`
	InterruptedBy *Event     `json:"interruptedBy,omitempty"`
}

// Terminal reports whether the action has been completed or interrupted.
func (a *Action) Terminal() bool {
	return a.CompletedAt != nil || a.InterruptedAt != nil
}

// Complete marks the action completed at t. It is a no-op on terminal actions.
func (a *Action) Complete(t float64) {
	if a.Terminal() {
		return
	}
	a.CompletedAt = &t
}

// Interrupt marks the action interrupted at t by ev. It is a no-op on
// terminal actions.
func (a *Action) Interrupt(t float64, ev Event) {
	if a.Terminal() {
		return
	}
	by := ev
	a.InterruptedAt = &t
	a.InterruptedBy = &by
}

// Describe renders the action in second person for an agent's own history.
func (a *Action) Describe() string {
	var b strings.Builder
	switch a.Type {
	case ActionMove:
		fmt.Fprintf(&b, "You began moving to %s", a.Details)
	case ActionReport:
		b.WriteString("You reported a body")
	case ActionCallMeeting:
		b.WriteString("You called an emergency meeting")
	case ActionSabotage:
		fmt.Fprintf(&b, "You sabotaged %s", a.Details)
	case ActionKill:
		fmt.Fprintf(&b, "You killed %s", a.Details)
	case ActionVent:
		fmt.Fprintf(&b, "You vented to %s", a.Details)
	case ActionSecurity:
		b.WriteString("You checked security cameras")
	case ActionAdmin:
		b.WriteString("You checked the admin map")
	case ActionTask:
		fmt.Fprintf(&b, "You started a task at %s", a.Details)
	default:
		fmt.Fprintf(&b, "You did %s %s", a.Type, a.Details)
	}
	fmt.Fprintf(&b, " at t=%g", a.Time)
	switch {
	case a.CompletedAt != nil:
		fmt.Fprintf(&b, " and completed it at t=%g", *a.CompletedAt)
	case a.InterruptedAt != nil:
		fmt.Fprintf(&b, " but were interrupted at t=%g", *a.InterruptedAt)
		if a.InterruptedBy != nil {
			fmt.Fprintf(&b, " by: %s", a.InterruptedBy)
		}
	}
	return b.String()
}

// Task is one task assignment in an AgentState snapshot.
type Task struct {
	Location string `json:"location"`
	Type     string `json:"type"`             // short | common | long
	Status   string `json:"status,omitempty"` // incomplete | complete
}

func (t Task) String() string {
	s := t.Location + " - " + t.Type
	if t.Status != "" {
		s += " (" + t.Status + ")"
	}
	return s
}

// AgentState is the simulation-owned snapshot for one agent. The engine only
// reads it.
type AgentState struct {
	Location            string          `json:"location"`
	Sabotage            map[string]bool `json:"sabotage,omitempty"`
	Tasks               []Task          `json:"tasks,omitempty"`
	ImpostorInformation map[string]any  `json:"imposterInformation,omitempty"`
	AvailableActions    []string        `json:"availableActions,omitempty"`
}
