package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"crewmind/pkg/protocol"
)

// Fallbacks used when a provider fails to produce a meeting choice.
const (
	FallbackChat = "I have nothing to add."
	FallbackVote = protocol.SkipVote
)

// MeetingPrompt describes one speaking turn.
type MeetingPrompt struct {
	Round     int // 1-based
	Rounds    int
	BodyFound bool
	Caller    string
}

func (p MeetingPrompt) instruction(self string) string {
	var b strings.Builder
	if p.BodyFound {
		b.WriteString("A body was reported")
	} else {
		b.WriteString("An emergency meeting was called")
	}
	if p.Caller == self {
		b.WriteString(" by you")
	} else if p.Caller != "" {
		b.WriteString(" by " + p.Caller)
	}
	fmt.Fprintf(&b, ". This is discussion round %d of %d. ", p.Round, p.Rounds)
	if p.Caller == self && p.Round == 1 {
		b.WriteString("Explain what you saw. ")
	}
	b.WriteString("Say one short message to the group with the speak tool.")
	return b.String()
}

// Speak asks the provider for one chat message. A provider that never
// speaks within the iteration budget yields FallbackChat.
func (e *Engine) Speak(ctx context.Context, p MeetingPrompt) (string, error) {
	tools := []ToolSpec{speakSpec(), thinkSpec}
	var notes []string

	for range e.cfg.MaxIterations {
		dc := e.decisionContext(e.lastState, notes, p.instruction(e.cfg.Name))
		inv, err := e.provider.Choose(ctx, dc, tools)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			e.cfg.Logger.Printf("%s: meeting chat: %v", e.cfg.Name, err)
			continue
		}
		switch inv.Kind {
		case ToolThink:
			e.think(inv.Text)
		case ToolSpeak:
			if msg := strings.TrimSpace(inv.Text); msg != "" {
				return msg, nil
			}
			notes = append(notes, "Your message was empty.")
		default:
			notes = append(notes, fmt.Sprintf("%s is not available during the meeting. Use speak.", inv))
		}
	}
	e.cfg.Logger.Printf("%s: meeting chat: %v", e.cfg.Name, ErrNoDecision)
	return FallbackChat, nil
}

// Vote asks the provider for a ballot among candidates. Anything outside
// candidates, including an exhausted budget, counts as a skip.
func (e *Engine) Vote(ctx context.Context, candidates []string) (string, error) {
	tools := []ToolSpec{voteSpec(candidates), thinkSpec}
	var notes []string
	instruction := "Discussion is over. Vote for the player you want to eject, or skip."

	for range e.cfg.MaxIterations {
		dc := e.decisionContext(e.lastState, notes, instruction)
		inv, err := e.provider.Choose(ctx, dc, tools)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			e.cfg.Logger.Printf("%s: meeting vote: %v", e.cfg.Name, err)
			continue
		}
		switch inv.Kind {
		case ToolThink:
			e.think(inv.Text)
		case ToolVote:
			target := strings.TrimSpace(inv.Args)
			if target == protocol.SkipVote || slices.Contains(candidates, target) {
				return target, nil
			}
			notes = append(notes, fmt.Sprintf("%q is not a valid vote. Choose one of: %s, %s.",
				target, strings.Join(candidates, ", "), protocol.SkipVote))
		default:
			notes = append(notes, fmt.Sprintf("%s is not available now. Use vote.", inv))
		}
	}
	e.cfg.Logger.Printf("%s: meeting vote: %v", e.cfg.Name, ErrNoDecision)
	return FallbackVote, nil
}

// BeginMeeting marks the start of a meeting. Chat and vote events recorded
// after it are dropped by AbandonMeeting.
func (e *Engine) BeginMeeting() {
	e.meetingChat = nil
	e.meetingStart = e.seq + 1
}

// ObserveChat appends a meeting message to the pending transcript and the
// event history.
func (e *Engine) ObserveChat(m ChatMessage) {
	e.eventHistory = append(e.eventHistory, seqEvent{
		Event:      protocol.Event{Type: protocol.EventChatMessage, Details: m.Sender + ": " + m.Content, Time: m.Time},
		seq:        e.next(),
		transcript: true,
	})
	e.meetingChat = append(e.meetingChat, seqChat{ChatMessage: m, seq: e.next()})
}

// RecordVote appends a vote event to the event history.
func (e *Engine) RecordVote(ev protocol.Event) {
	e.eventHistory = append(e.eventHistory, seqEvent{Event: ev, seq: e.next()})
}

// CloseMeeting merges the pending transcript into the permanent chat
// history.
func (e *Engine) CloseMeeting() {
	e.chatHistory = append(e.chatHistory, e.meetingChat...)
	e.meetingChat = nil
	e.meetingStart = 0
}

// AbandonMeeting drops the pending transcript and the chat and vote events
// recorded since BeginMeeting.
func (e *Engine) AbandonMeeting() {
	if e.meetingStart > 0 {
		e.eventHistory = slices.DeleteFunc(e.eventHistory, func(ev seqEvent) bool {
			return ev.seq >= e.meetingStart && (ev.Type == protocol.EventChatMessage || ev.Type == protocol.EventVote)
		})
	}
	e.meetingChat = nil
	e.meetingStart = 0
}
