package agent

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"crewmind/pkg/protocol"
)

// EntryKind labels a merged history entry.
type EntryKind string

// History entry kinds.
const (
	EntryEvent  EntryKind = "event"
	EntryAction EntryKind = "action"
	EntryChat   EntryKind = "chat"
)

// HistoryEntry is one line of the merged, time-ordered history view.
type HistoryEntry struct {
	Kind EntryKind
	Time float64
	Text string

	seq int
}

// ChatMessage is one meeting utterance.
type ChatMessage struct {
	Sender  string  `json:"sender"`
	Content string  `json:"content"`
	Time    float64 `json:"time"`
}

func (m ChatMessage) String() string {
	return fmt.Sprintf("%s: %s (t=%g)", m.Sender, m.Content, m.Time)
}

// DecisionContext is everything a DecisionProvider sees for one call.
type DecisionContext struct {
	Agent         string
	SystemPrompt  string
	History       []HistoryEntry
	State         protocol.AgentState
	CurrentAction *protocol.Action
	Thoughts      string
	// Notes holds query results and corrections gathered earlier in the
	// same turn, oldest first.
	Notes []string
	// Instruction is the request for this call.
	Instruction string
}

// Render flattens the context into the user-message text sent to a model.
func (c DecisionContext) Render() string {
	var b strings.Builder

	b.WriteString("# History\n")
	if len(c.History) == 0 {
		b.WriteString("(nothing yet)\n")
	}
	for _, h := range c.History {
		fmt.Fprintf(&b, "[t=%g] %s: %s\n", h.Time, h.Kind, h.Text)
	}

	b.WriteString("\n# Current State\n")
	b.WriteString(renderState(c.State))

	b.WriteString("\n\n# Current Action\n")
	if c.CurrentAction == nil {
		b.WriteString("none")
	} else {
		data, _ := json.Marshal(c.CurrentAction)
		b.Write(data)
	}

	b.WriteString("\n\n# Thoughts\n")
	if c.Thoughts == "" {
		b.WriteString("(none)")
	} else {
		b.WriteString(c.Thoughts)
	}

	if len(c.Notes) > 0 {
		b.WriteString("\n\n# Notes\n")
		for _, n := range c.Notes {
			b.WriteString("- " + n + "\n")
		}
	}

	if c.Instruction != "" {
		b.WriteString("\n\n" + c.Instruction)
	}
	return b.String()
}

func renderState(s protocol.AgentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Location: %s", s.Location)
	if len(s.Sabotage) > 0 {
		keys := make([]string, 0, len(s.Sabotage))
		for k := range s.Sabotage {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b.WriteString("\nSabotage:")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%t", k, s.Sabotage[k])
		}
	}
	if len(s.Tasks) > 0 {
		tasks := make([]string, len(s.Tasks))
		for i, t := range s.Tasks {
			tasks[i] = t.String()
		}
		b.WriteString("\nCurrent Tasks: " + strings.Join(tasks, ", "))
	}
	if len(s.ImpostorInformation) > 0 {
		data, _ := json.Marshal(s.ImpostorInformation)
		b.WriteString("\nImpostor Information: " + string(data))
	}
	if len(s.AvailableActions) > 0 {
		b.WriteString("\nAvailable Actions: " + strings.Join(s.AvailableActions, ", "))
	}
	return b.String()
}

// mergeHistory sorts entries by time, falling back to insertion order, and
// keeps the most recent window entries. A window <= 0 keeps everything.
func mergeHistory(entries []HistoryEntry, window int) []HistoryEntry {
	slices.SortStableFunc(entries, func(a, b HistoryEntry) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		default:
			return a.seq - b.seq
		}
	})
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	return entries
}
