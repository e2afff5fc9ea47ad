package dispatcher //nolint:testpackage // internal test drives handleConn and lineSplitter directly

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"crewmind/pkg/agent"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
)

// simpleMind votes skip, says one line, keeps in-flight actions, starts a
// task when it can and otherwise walks to Admin.
func simpleMind(name string) agent.DecisionProvider {
	return agent.DecisionFunc(func(_ context.Context, dc agent.DecisionContext, tools []agent.ToolSpec) (agent.ToolInvocation, error) {
		has := func(n string) bool { _, ok := agent.Lookup(tools, n); return ok }
		switch {
		case has("vote"):
			return agent.VoteFor(protocol.SkipVote), nil
		case has("speak"):
			return agent.Speak(name + " has nothing to add"), nil
		case dc.CurrentAction != nil:
			return agent.Continue(), nil
		case has("task"):
			return agent.Act(protocol.ActionTask, dc.State.Location), nil
		case has("move") && dc.State.Location != "Admin":
			return agent.Act(protocol.ActionMove, "Admin"), nil
		default:
			return agent.Think("waiting"), nil
		}
	})
}

func testRoster(t *testing.T) *agent.Roster {
	t.Helper()
	var engines []*agent.Engine
	for _, name := range protocol.DefaultPlayers {
		e, err := agent.New(agent.Config{Name: name, Role: protocol.RoleCrewmate, MaxIterations: 2}, simpleMind(name))
		if err != nil {
			t.Fatal(err)
		}
		engines = append(engines, e)
	}
	r, err := agent.NewRoster(engines...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// client is the simulation side of a connection.
type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newClient(t *testing.T, conn net.Conn) *client {
	t.Helper()
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) write(s string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(s)); err != nil {
		c.t.Fatalf("client write: %v", err)
	}
}

func (c *client) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("client read: %v", err)
	}
	return line
}

func (c *client) readActions() []protocol.ActionRecord {
	c.t.Helper()
	var out []protocol.ActionRecord
	line := c.readLine()
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		c.t.Fatalf("decode actions %q: %v", line, err)
	}
	return out
}

func (c *client) readBroadcast() protocol.Broadcast {
	c.t.Helper()
	var b protocol.Broadcast
	line := c.readLine()
	if err := json.Unmarshal([]byte(line), &b); err != nil {
		c.t.Fatalf("decode broadcast %q: %v", line, err)
	}
	return b
}

func eventsLine(records ...string) string {
	return `{"type":"events","events":[` + strings.Join(records, ",") + "]}\n"
}

func rec(agentName, kind string, at float64, loc string, details string, actions ...string) string {
	acts, _ := json.Marshal(actions)
	return fmt.Sprintf(`{"agent":%q,"event":{"type":%q,"details":%q,"time":%g},"state":{"location":%q,"availableActions":%s}}`,
		agentName, kind, details, at, loc, acts)
}

func TestLineSplitter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		max   int
		input string
		want  string
	}{
		{"complete lines only", 1024, "one\ntwo\n\nthree-partial", "one|two|"},
		{"oversized line skipped", 4, "ok\ntoolongline\nyes\n", "ok|<oversized>|yes"},
		{"oversized partial at EOF", 4, "ok\ntoolongline", "ok"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lines := &lineSplitter{max: tc.max}
			sc := bufio.NewScanner(strings.NewReader(tc.input))
			sc.Buffer(make([]byte, 0, 16), tc.max+1)
			sc.Split(lines.split)
			var got []string
			for sc.Scan() {
				if lines.takeOversized() {
					got = append(got, "<oversized>")
					continue
				}
				got = append(got, sc.Text())
			}
			if err := sc.Err(); err != nil {
				t.Fatal(err)
			}
			if strings.Join(got, "|") != tc.want {
				t.Fatalf("tokens = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHandleConn_Session(t *testing.T) {
	t.Parallel()
	j, err := eventlog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	s := NewServer(Config{MeetingRounds: 1, Journal: j}, testRoster(t))
	serverSide, clientSide := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.handleConn(context.Background(), serverSide) }()
	c := newClient(t, clientSide)

	// Kickoff: every agent spawns in the Cafeteria and walks to Admin.
	kick := c.readActions()
	if len(kick) != len(protocol.DefaultPlayers) {
		t.Fatalf("kickoff actions = %d, want %d", len(kick), len(protocol.DefaultPlayers))
	}
	for i, a := range kick {
		if a.Agent != protocol.DefaultPlayers[i] || a.Type != protocol.ActionMove || a.Details != "Admin" || a.Time != 0 {
			t.Fatalf("kickoff action %d = %+v", i, a)
		}
	}

	// A batch split across writes, preceded by junk lines that are skipped.
	c.write("not json\n")
	c.write(`{"type":"hello"}` + "\n")
	c.write(`{"type":"requestChat","agent":"Red"}` + "\n")
	line := eventsLine(
		rec("Blue", "seePlayer", 2, "Hallway D", "Red", "Move"),
		rec("Red", "reachLocation", 3, "Admin", "Admin", "Move", "Task"),
	)
	c.write(line[:20])
	c.write(line[20:])

	acts := c.readActions()
	if len(acts) != 1 || acts[0].Agent != "Red" || acts[0].Type != protocol.ActionTask || acts[0].Time != 3 {
		t.Fatalf("actions = %+v, want Red's task only", acts)
	}

	// Meeting: one round for two alive players, then the vote, then [].
	c.write(eventsLine(rec("Red", "bodyFound", 10, "Admin", `{"caller":"Red","alivePlayers":["Red","Blue"]}`)))
	for _, want := range []string{"Red", "Blue"} {
		b := c.readBroadcast()
		if b.Type != protocol.BroadcastChat || b.Agent != want || b.Time != 10 {
			t.Fatalf("chat broadcast = %+v, want from %s", b, want)
		}
	}
	vote := c.readBroadcast()
	if vote.Type != protocol.BroadcastVote || vote.Details != protocol.SkipVote || vote.Agent != "Red" {
		t.Fatalf("vote broadcast = %+v", vote)
	}
	if got := c.readLine(); got != "[]\n" {
		t.Fatalf("meeting batch response = %q, want []", got)
	}

	_ = clientSide.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handleConn: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handleConn did not return after client close")
	}

	red, _ := s.roster.Get("Red")
	if len(red.Chat()) != 2 {
		t.Errorf("Red chat history = %d, want 2", len(red.Chat()))
	}
}

func TestServeListener_ReconnectKeepsEngines(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(Config{}, testRoster(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	dial := func() *client {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		return newClient(t, conn)
	}

	first := dial()
	if kick := first.readActions(); len(kick) != len(protocol.DefaultPlayers) {
		t.Fatalf("kickoff = %+v", kick)
	}
	_ = first.conn.Close()

	// No second kickoff; Red is still walking, so it continues.
	second := dial()
	second.write(eventsLine(rec("Red", "seePlayer", 1, "Hallway D", "Blue", "Move")))
	if acts := second.readActions(); len(acts) != 0 {
		t.Fatalf("actions = %+v, want none", acts)
	}
	_ = second.conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeListener did not stop")
	}

	red, _ := s.roster.Get("Red")
	if cur := red.CurrentAction(); cur == nil || cur.Details != "Admin" {
		t.Fatalf("Red current = %+v, want the kickoff move", cur)
	}
}

func TestServeListener_UnknownAgentStops(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(Config{SkipKickoff: true}, testRoster(t))
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(context.Background(), ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	newClient(t, conn).write(eventsLine(rec("Orange", "seePlayer", 1, "Admin", "x", "Move")))

	select {
	case err := <-done:
		var unknown *protocol.UnknownAgentError
		if !errors.As(err, &unknown) {
			t.Fatalf("err = %v, want UnknownAgentError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running after an unknown agent")
	}
}

func TestHandleConn_LineTooLongIsSkipped(t *testing.T) {
	t.Parallel()
	j, err := eventlog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	s := NewServer(Config{SkipKickoff: true, MaxLineBytes: 256, Journal: j}, testRoster(t))
	serverSide, clientSide := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- s.handleConn(context.Background(), serverSide) }()
	c := newClient(t, clientSide)

	c.write(strings.Repeat("x", 400) + "\n")
	c.write(eventsLine(rec("Red", "seePlayer", 1, "Hallway D", "Blue", "Move")))

	acts := c.readActions()
	if len(acts) != 1 || acts[0].Agent != "Red" || acts[0].Details != "Admin" {
		t.Fatalf("actions = %+v, want Red's move after the oversized line", acts)
	}

	_ = clientSide.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handleConn: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handleConn did not return after client close")
	}
}

func TestBroadcastWithoutClient(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, testRoster(t))
	err := s.Broadcast(context.Background(), protocol.Broadcast{Type: protocol.BroadcastChat})
	var terr *protocol.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}
