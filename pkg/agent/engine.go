// Package agent implements the per-player turn engine. An Engine owns one
// player's histories and the current-action state machine, and asks a
// DecisionProvider for at most one action per batch of events.
//
// An Engine is not safe for concurrent use. The dispatcher guarantees that
// exactly one goroutine touches a given Engine at a time.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"

	"crewmind/pkg/mapgraph"
	"crewmind/pkg/protocol"
)

// ErrNoDecision is logged when a turn exhausts its iteration budget without
// a terminal choice. The turn then behaves like continue_current_action.
var ErrNoDecision = errors.New("no decision within iteration budget")

// --- Config ---

// Config holds Engine configuration.
type Config struct {
	Name          string
	Role          protocol.Role
	Impostors     []string // peer impostors disclosed in the system prompt
	Instructions  string
	Players       []string // full roster, for the briefing
	HistoryWindow int      // merged history entries per decision (default 40, <0 unbounded)
	MaxIterations int      // provider calls per turn (default 8)
	Map           *mapgraph.Graph
	Logger        *log.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HistoryWindow == 0 {
		out.HistoryWindow = protocol.DefaultHistoryWindow
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = protocol.DefaultMaxTurnIterations
	}
	if out.Map == nil {
		out.Map = mapgraph.Default()
	}
	if out.Logger == nil {
		out.Logger = log.New(io.Discard, "", 0)
	}
	return out
}

// --- Engine ---

type seqEvent struct {
	protocol.Event
	seq int
	// transcript marks chat recorded by ObserveChat; it is rendered from the
	// chat histories instead.
	transcript bool
}

type seqAction struct {
	*protocol.Action
	seq int
}

type seqChat struct {
	ChatMessage
	seq int
}

// Engine is one player's decision-making unit.
type Engine struct {
	cfg          Config
	systemPrompt string
	provider     DecisionProvider

	seq            int
	eventHistory   []seqEvent
	actionHistory  []seqAction
	chatHistory    []seqChat
	meetingChat    []seqChat // current meeting transcript, merged on CloseMeeting
	meetingStart   int
	thoughtHistory []string
	thoughts       string
	current        *protocol.Action
	lastState      protocol.AgentState
}

// New creates an Engine. The role and system prompt are fixed for its
// lifetime.
func New(cfg Config, provider DecisionProvider) (*Engine, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("agent %s: invalid role %q", cfg.Name, cfg.Role)
	}
	if provider == nil {
		return nil, fmt.Errorf("agent %s: decision provider is required", cfg.Name)
	}
	resolved := cfg.withDefaults()
	return &Engine{
		cfg:      resolved,
		provider: provider,
		systemPrompt: BuildSystemPrompt(PromptParams{
			Name:         resolved.Name,
			Role:         resolved.Role,
			Impostors:    resolved.Impostors,
			Instructions: resolved.Instructions,
			Players:      resolved.Players,
			Map:          resolved.Map,
		}),
	}, nil
}

// Name returns the player this engine acts for.
func (e *Engine) Name() string { return e.cfg.Name }

// Role returns the immutable role assignment.
func (e *Engine) Role() protocol.Role { return e.cfg.Role }

// SystemPrompt returns the prompt built at construction.
func (e *Engine) SystemPrompt() string { return e.systemPrompt }

// CurrentAction returns a copy of the in-flight action, or nil.
func (e *Engine) CurrentAction() *protocol.Action {
	if e.current == nil {
		return nil
	}
	c := *e.current
	return &c
}

// Thoughts returns the latest free-text thoughts.
func (e *Engine) Thoughts() string { return e.thoughts }

// ThoughtHistory returns every thought recorded so far.
func (e *Engine) ThoughtHistory() []string { return slices.Clone(e.thoughtHistory) }

// Events returns the event history in arrival order.
func (e *Engine) Events() []protocol.Event {
	out := make([]protocol.Event, len(e.eventHistory))
	for i, ev := range e.eventHistory {
		out[i] = ev.Event
	}
	return out
}

// Actions returns copies of the action history in issue order.
func (e *Engine) Actions() []protocol.Action {
	out := make([]protocol.Action, len(e.actionHistory))
	for i, a := range e.actionHistory {
		out[i] = *a.Action
	}
	return out
}

// Chat returns the permanent chat history.
func (e *Engine) Chat() []ChatMessage {
	out := make([]ChatMessage, len(e.chatHistory))
	for i, m := range e.chatHistory {
		out[i] = m.ChatMessage
	}
	return out
}

func (e *Engine) next() int {
	e.seq++
	return e.seq
}

// --- Turn ---

// OnEvents applies events to the state machine and history, then asks the
// DecisionProvider for this turn's choice. It returns nil when the agent
// keeps its current action (or had nothing to do). The returned action is a
// snapshot; the engine keeps ownership of the original.
func (e *Engine) OnEvents(ctx context.Context, events []protocol.Event, state protocol.AgentState) (*protocol.Action, error) {
	if len(events) == 0 {
		return nil, nil
	}
	e.Observe(events, state)
	return e.decide(ctx, events[len(events)-1], state)
}

// Observe ingests events without deciding. Each event first advances the
// current-action state machine and is then appended to the event history.
func (e *Engine) Observe(events []protocol.Event, state protocol.AgentState) {
	for _, ev := range events {
		e.apply(ev)
		e.eventHistory = append(e.eventHistory, seqEvent{Event: ev, seq: e.next()})
	}
	e.lastState = state
}

// apply advances the current-action state machine for one event.
func (e *Engine) apply(ev protocol.Event) {
	if e.current == nil {
		return
	}
	if e.current.Type.CompletedBy(ev.Type) {
		e.current.Complete(ev.Time)
		e.current = nil
	}
}

func (e *Engine) decide(ctx context.Context, trigger protocol.Event, state protocol.AgentState) (*protocol.Action, error) {
	tools := e.turnTools(state)
	var notes []string

	for range e.cfg.MaxIterations {
		dc := e.decisionContext(state, notes, "Choose your next tool call.")
		inv, err := e.provider.Choose(ctx, dc, tools)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.cfg.Logger.Printf("%s: decision provider: %v", e.cfg.Name, err)
			continue
		}

		if !permits(tools, inv) {
			notes = append(notes, fmt.Sprintf("%s is not available right now. Pick one of the offered tools.", inv))
			continue
		}

		switch inv.Kind {
		case ToolThink:
			e.think(inv.Text)
		case ToolQueryPath:
			notes = append(notes, e.queryPath(inv, state))
		case ToolQueryVent:
			notes = append(notes, e.queryVent(inv, state))
		case ToolContinue:
			return nil, nil
		case ToolAct:
			if note, ok := e.validate(inv, state); !ok {
				notes = append(notes, note)
				continue
			}
			return e.issue(inv, trigger), nil
		default:
			notes = append(notes, fmt.Sprintf("%s cannot be used outside a meeting.", inv.Kind))
		}
	}

	e.cfg.Logger.Printf("%s: %v", e.cfg.Name, ErrNoDecision)
	return nil, nil
}

// validate applies the boundary checks on a concrete action.
func (e *Engine) validate(inv ToolInvocation, state protocol.AgentState) (string, bool) {
	spec := actionSpec(inv.Action)
	args := strings.TrimSpace(inv.Args)
	if len(spec.Params) > 0 && args == "" {
		return fmt.Sprintf("%s needs a %s argument.", spec.Name, spec.Params[0].Name), false
	}
	if inv.Action == protocol.ActionMove && args == state.Location {
		return fmt.Sprintf("You are already in %s. Choose a different destination.", state.Location), false
	}
	return "", true
}

// issue records a concrete action. An outstanding action is interrupted by
// the turn's last event before the new one is recorded.
func (e *Engine) issue(inv ToolInvocation, trigger protocol.Event) *protocol.Action {
	a := &protocol.Action{Type: inv.Action, Details: strings.TrimSpace(inv.Args), Time: trigger.Time}

	if e.current != nil {
		e.current.Interrupt(trigger.Time, trigger)
		e.current = nil
	}
	if a.Type.Persists() {
		e.current = a
	}
	e.actionHistory = append(e.actionHistory, seqAction{Action: a, seq: e.next()})

	out := *a
	return &out
}

func (e *Engine) think(text string) {
	e.thoughts = text
	e.thoughtHistory = append(e.thoughtHistory, text)
}

func (e *Engine) queryPath(inv ToolInvocation, state protocol.AgentState) string {
	from := inv.From
	if from == "" {
		from = state.Location
	}
	path := e.cfg.Map.FastestPath(from, inv.To)
	if len(path) == 0 {
		return fmt.Sprintf("No path from %s to %s.", from, inv.To)
	}
	return fmt.Sprintf("Fastest path from %s to %s: %s.", from, inv.To, strings.Join(path, " -> "))
}

func (e *Engine) queryVent(inv ToolInvocation, state protocol.AgentState) string {
	loc := inv.Location
	if loc == "" {
		loc = state.Location
	}
	vent, dist, ok := e.cfg.Map.ClosestVent(loc)
	if !ok {
		return fmt.Sprintf("No vent reachable from %s.", loc)
	}
	return fmt.Sprintf("Closest vent to %s is %s, %d steps away.", loc, vent, dist)
}

// turnTools builds the legal set for a normal turn.
func (e *Engine) turnTools(state protocol.AgentState) []ToolSpec {
	var tools []ToolSpec
	for _, name := range state.AvailableActions {
		kind, ok := protocol.ParseActionKind(name)
		if !ok {
			e.cfg.Logger.Printf("%s: ignoring unknown available action %q", e.cfg.Name, name)
			continue
		}
		if slices.ContainsFunc(tools, func(s ToolSpec) bool { return s.Action == kind }) {
			continue
		}
		tools = append(tools, actionSpec(kind))
	}
	tools = append(tools, thinkSpec, pathSpec, ventSpec)
	if e.current != nil {
		tools = append(tools, continueSpec)
	}
	return tools
}

// history returns the merged, time-sorted view bounded to the window.
func (e *Engine) history() []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(e.eventHistory)+len(e.actionHistory)+len(e.chatHistory)+len(e.meetingChat))
	for _, ev := range e.eventHistory {
		if ev.transcript {
			continue
		}
		entries = append(entries, HistoryEntry{Kind: EntryEvent, Time: ev.Time, Text: fmt.Sprintf("[%s] %s", ev.Type, ev.Details), seq: ev.seq})
	}
	for _, a := range e.actionHistory {
		entries = append(entries, HistoryEntry{Kind: EntryAction, Time: a.Time, Text: a.Describe(), seq: a.seq})
	}
	for _, m := range e.chatHistory {
		entries = append(entries, HistoryEntry{Kind: EntryChat, Time: m.Time, Text: m.Sender + ": " + m.Content, seq: m.seq})
	}
	for _, m := range e.meetingChat {
		entries = append(entries, HistoryEntry{Kind: EntryChat, Time: m.Time, Text: m.Sender + ": " + m.Content, seq: m.seq})
	}
	return mergeHistory(entries, e.cfg.HistoryWindow)
}

func (e *Engine) decisionContext(state protocol.AgentState, notes []string, instruction string) DecisionContext {
	return DecisionContext{
		Agent:         e.cfg.Name,
		SystemPrompt:  e.systemPrompt,
		History:       e.history(),
		State:         state,
		CurrentAction: e.CurrentAction(),
		Thoughts:      e.thoughts,
		Notes:         slices.Clone(notes),
		Instruction:   instruction,
	}
}
