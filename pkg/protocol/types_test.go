package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"crewmind/pkg/protocol"
)

func TestEventKindValid(t *testing.T) {
	t.Parallel()

	valid := []protocol.EventKind{
		protocol.EventSeePlayer, protocol.EventReachLocation, protocol.EventBodyFound,
		protocol.EventChatMessage, protocol.EventVote, protocol.EventSabotageCooldownEnd,
	}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	for _, k := range []protocol.EventKind{"", "teleport", "ReachLocation"} {
		if k.Valid() {
			t.Errorf("expected %q to be invalid", k)
		}
	}
}

func TestEventKindTriggersMeeting(t *testing.T) {
	t.Parallel()

	if !protocol.EventBodyFound.TriggersMeeting() || !protocol.EventEmergencyMeeting.TriggersMeeting() {
		t.Fatal("bodyFound and emergencyMeeting must trigger meetings")
	}
	if protocol.EventSeeBody.TriggersMeeting() {
		t.Fatal("seeBody must not trigger a meeting")
	}
}

func TestActionKindPersists(t *testing.T) {
	t.Parallel()

	for _, k := range protocol.AllActionKinds {
		want := k == protocol.ActionMove || k == protocol.ActionTask
		if got := k.Persists(); got != want {
			t.Errorf("%s.Persists() = %v, want %v", k, got, want)
		}
	}
}

func TestActionKindCompletedBy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind protocol.ActionKind
		ev   protocol.EventKind
		want bool
	}{
		{protocol.ActionMove, protocol.EventReachLocation, true},
		{protocol.ActionMove, protocol.EventCompleteTask, false},
		{protocol.ActionTask, protocol.EventCompleteTask, true},
		{protocol.ActionTask, protocol.EventReachLocation, false},
		{protocol.ActionKill, protocol.EventReachLocation, false},
	}
	for _, tt := range tests {
		if got := tt.kind.CompletedBy(tt.ev); got != tt.want {
			t.Errorf("%s.CompletedBy(%s) = %v, want %v", tt.kind, tt.ev, got, tt.want)
		}
	}
}

func TestParseActionKind(t *testing.T) {
	t.Parallel()

	tests := map[string]protocol.ActionKind{
		"Move":             protocol.ActionMove,
		"move":             protocol.ActionMove,
		"CallMeeting":      protocol.ActionCallMeeting,
		"emergencyMeeting": protocol.ActionCallMeeting,
		"EnterVent":        protocol.ActionVent,
		" Task ":           protocol.ActionTask,
	}
	for in, want := range tests {
		got, ok := protocol.ParseActionKind(in)
		if !ok || got != want {
			t.Errorf("ParseActionKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := protocol.ParseActionKind("fly"); ok {
		t.Error("expected unknown action name to be rejected")
	}
}

func TestActionTerminalTransitions(t *testing.T) {
	t.Parallel()

	a := &protocol.Action{Type: protocol.ActionMove, Details: "Weapons", Time: 1}
	if a.Terminal() {
		t.Fatal("fresh action must not be terminal")
	}
	a.Complete(5)
	if !a.Terminal() || a.CompletedAt == nil || *a.CompletedAt != 5 {
		t.Fatalf("expected completedAt=5, got %+v", a)
	}

	// Terminal actions are never mutated again.
	a.Interrupt(6, protocol.Event{Type: protocol.EventSeeBody, Time: 6})
	if a.InterruptedAt != nil || a.InterruptedBy != nil {
		t.Fatal("interrupt after completion must be ignored")
	}

	b := &protocol.Action{Type: protocol.ActionTask, Details: "MedBay", Time: 2}
	by := protocol.Event{Type: protocol.EventKillRange, Details: "Pink is near", Time: 3}
	b.Interrupt(3, by)
	b.Complete(4)
	if b.CompletedAt != nil {
		t.Fatal("complete after interruption must be ignored")
	}
	if b.InterruptedBy == nil || *b.InterruptedBy != by {
		t.Fatalf("expected interruptedBy=%+v, got %+v", by, b.InterruptedBy)
	}
}

func TestActionRecordJSONOmitsUnsetLifecycle(t *testing.T) {
	t.Parallel()

	rec := protocol.ActionRecord{
		Action: protocol.Action{Type: protocol.ActionMove, Details: "Weapons", Time: 5},
		Agent:  "Red",
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"move","details":"Weapons","time":5,"agent":"Red"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestActionDescribe(t *testing.T) {
	t.Parallel()

	a := &protocol.Action{Type: protocol.ActionMove, Details: "O2", Time: 1}
	a.Interrupt(2, protocol.Event{Type: protocol.EventSeeBody, Details: "You see Blue's body", Time: 2})
	got := a.Describe()
	for _, want := range []string{"moving to O2", "t=1", "interrupted at t=2", "Blue's body"} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe() = %q, missing %q", got, want)
		}
	}
}
