// Package integration_test runs crewmind end to end: a real TCP server,
// the simulation-side client, every engine, meetings and the journal.
package integration_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"crewmind/pkg/agent"
	"crewmind/pkg/dispatcher"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
	"crewmind/pkg/simclient"
)

// suspectRed plays a crewmate who distrusts Red: it walks to Admin, does a
// task when one is offered, and votes Red out. Red itself votes skip.
func suspectRed(name string) agent.DecisionProvider {
	return agent.DecisionFunc(func(_ context.Context, dc agent.DecisionContext, tools []agent.ToolSpec) (agent.ToolInvocation, error) {
		has := func(n string) bool { _, ok := agent.Lookup(tools, n); return ok }
		switch {
		case has("vote"):
			if name == "Red" {
				return agent.VoteFor(protocol.SkipVote), nil
			}
			return agent.VoteFor("Red"), nil
		case has("speak"):
			return agent.Speak(name + " thinks Red is suspicious"), nil
		case dc.CurrentAction != nil:
			return agent.Continue(), nil
		case has("task"):
			return agent.Act(protocol.ActionTask, dc.State.Location), nil
		case has("move") && dc.State.Location != "Admin":
			return agent.Act(protocol.ActionMove, "Admin"), nil
		default:
			return agent.Think("nothing to do"), nil
		}
	})
}

type harness struct {
	addr    string
	journal string
	roster  *agent.Roster
	cancel  context.CancelFunc
	done    chan error
}

func startServer(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), protocol.StateDir, protocol.JournalFile)
	j, err := eventlog.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	var engines []*agent.Engine
	for _, name := range protocol.DefaultPlayers {
		role := protocol.RoleCrewmate
		if name == "Red" {
			role = protocol.RoleImpostor
		}
		e, err := agent.New(agent.Config{Name: name, Role: role, Players: protocol.DefaultPlayers, MaxIterations: 3}, suspectRed(name))
		if err != nil {
			t.Fatal(err)
		}
		engines = append(engines, e)
	}
	roster, err := agent.NewRoster(engines...)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{addr: ln.Addr().String(), journal: path, roster: roster, cancel: cancel, done: make(chan error, 1)}
	srv := dispatcher.NewServer(dispatcher.Config{MeetingRounds: 2, Journal: j}, roster)
	go func() { h.done <- srv.ServeListener(ctx, ln) }()

	t.Cleanup(func() {
		h.stop(t)
		_ = j.Close()
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("server: %v", err)
		}
		h.done <- nil // later stop calls return at once
	case <-time.After(5 * time.Second):
		t.Error("server did not stop")
	}
}

func rec(agentName string, kind protocol.EventKind, details string, at float64, loc string, actions ...string) protocol.Record {
	return protocol.Record{
		Agent: agentName,
		Event: protocol.Event{Type: kind, Details: details, Time: at},
		State: protocol.AgentState{Location: loc, AvailableActions: actions},
	}
}

func TestGameSession(t *testing.T) {
	t.Parallel()
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := simclient.Dial(ctx, h.addr)
	if err != nil {
		t.Fatal(err)
	}

	// Kickoff: every seat walks toward Admin.
	kick, err := c.Collect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(kick.Actions) != len(protocol.DefaultPlayers) || len(kick.Broadcasts) != 0 {
		t.Fatalf("kickoff = %+v", kick)
	}

	// Green arrives and starts a task; Blue is interrupted by nothing and keeps walking.
	ex, err := c.Exchange(ctx, []protocol.Record{
		rec("Blue", protocol.EventSeePlayer, "Green", 4, "Hallway D", "Move"),
		rec("Green", protocol.EventReachLocation, "Admin", 5, "Admin", "Move", "Task"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Actions) != 1 || ex.Actions[0].Agent != "Green" || ex.Actions[0].Type != protocol.ActionTask {
		t.Fatalf("actions = %+v", ex.Actions)
	}

	// Blue finds a body: two rounds for three alive players, then the vote.
	ex, err = c.Exchange(ctx, []protocol.Record{
		rec("Blue", protocol.EventBodyFound, `{"caller":"Blue","alivePlayers":["Red","Blue","Green"]}`, 9, "Admin"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Actions) != 0 {
		t.Fatalf("meeting batch actions = %+v, want none", ex.Actions)
	}
	wantSpeakers := []string{"Blue", "Red", "Green", "Blue", "Red", "Green"}
	if len(ex.Broadcasts) != len(wantSpeakers)+1 {
		t.Fatalf("broadcasts = %+v", ex.Broadcasts)
	}
	for i, want := range wantSpeakers {
		if b := ex.Broadcasts[i]; b.Type != protocol.BroadcastChat || b.Agent != want || b.Time != 9 {
			t.Errorf("broadcast %d = %+v, want chat from %s", i, b, want)
		}
	}
	if vote := ex.Broadcasts[len(wantSpeakers)]; vote.Type != protocol.BroadcastVote || vote.Details != "Red" || vote.Agent != "Blue" {
		t.Errorf("vote broadcast = %+v, want Red ejected", vote)
	}
	_ = c.Close()

	// Reconnect: no second kickoff, and Yellow is still mid-move.
	c2, err := simclient.Dial(ctx, h.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	ex, err = c2.Exchange(ctx, []protocol.Record{rec("Yellow", protocol.EventSeePlayer, "Pink", 12, "Hallway D", "Move")})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Actions) != 0 || len(ex.Broadcasts) != 0 {
		t.Fatalf("after reconnect = %+v", ex)
	}
	_ = c2.Close()
	h.stop(t)

	pink, _ := h.roster.Get("Pink")
	if got := len(pink.Chat()); got != len(wantSpeakers) {
		t.Errorf("Pink saw %d chat lines, want %d", got, len(wantSpeakers))
	}
	yellow, _ := h.roster.Get("Yellow")
	if cur := yellow.CurrentAction(); cur == nil || cur.Type != protocol.ActionMove {
		t.Errorf("Yellow current = %+v, want the kickoff move", cur)
	}

	// The journal holds the whole story.
	r, err := eventlog.NewReader(h.journal)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	counts := map[string]int{}
	events, err := r.Events(context.Background(), eventlog.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		counts[e.Type]++
	}
	want := map[string]int{"connect": 2, "disconnect": 2, "kickoff": 1, "chat": 6, "vote": 3, "meeting_outcome": 1}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("journal %s events = %d, want %d (all: %v)", typ, counts[typ], n, counts)
		}
	}
	meetings, err := r.Meetings(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 1 || meetings[0].Status != "resolved" || meetings[0].Outcome != "Red" || meetings[0].Caller != "Blue" {
		t.Fatalf("meetings = %+v", meetings)
	}
}

func TestUnknownAgentStopsServer(t *testing.T) {
	t.Parallel()
	h := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := simclient.Dial(ctx, h.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Collect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Send(ctx, []protocol.Record{rec("Orange", protocol.EventSeePlayer, "Red", 1, "Admin", "Move")}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-h.done:
		if err == nil {
			t.Fatal("server stopped without an error")
		}
		h.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after an unknown agent")
	}
}
