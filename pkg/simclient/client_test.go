package simclient

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"crewmind/pkg/protocol"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestExchange(t *testing.T) {
	t.Parallel()
	clientSide, serverSide := net.Pipe()
	c := NewWithConn(clientSide)
	defer c.Close()

	go func() {
		r := bufio.NewReader(serverSide)
		line, _ := r.ReadString('\n')
		if !strings.Contains(line, `"type":"events"`) {
			_ = serverSide.Close()
			return
		}
		_, _ = serverSide.Write([]byte(`{"type":"Chat","details":"hi","time":4,"agent":"Red"}` + "\n"))
		_, _ = serverSide.Write([]byte(`{"type":"Vote","details":"skip","time":4,"agent":"Red"}` + "\n"))
		_, _ = serverSide.Write([]byte("[]\n"))
	}()

	ex, err := c.Exchange(testCtx(t), []protocol.Record{{
		Agent: "Red",
		Event: protocol.Event{Type: protocol.EventBodyFound, Time: 4},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Broadcasts) != 2 || ex.Broadcasts[0].Type != protocol.BroadcastChat || ex.Broadcasts[1].Details != protocol.SkipVote {
		t.Fatalf("broadcasts = %+v", ex.Broadcasts)
	}
	if ex.Actions == nil || len(ex.Actions) != 0 {
		t.Fatalf("actions = %#v, want empty non-nil", ex.Actions)
	}
}

func TestDecodeReply(t *testing.T) {
	t.Parallel()
	r, err := decodeReply([]byte(`[{"type":"move","details":"Admin","time":1,"agent":"Red"}]`))
	if err != nil || !r.IsBatch() || len(r.Actions) != 1 || r.Actions[0].Agent != "Red" || r.Actions[0].Details != "Admin" {
		t.Fatalf("reply = %+v, err = %v", r, err)
	}
	for _, bad := range []string{"hello", "[oops", "{oops"} {
		var perr *protocol.ProtocolError
		if _, err := decodeReply([]byte(bad)); !errors.As(err, &perr) {
			t.Errorf("decodeReply(%q) err = %v, want ProtocolError", bad, err)
		}
	}
}

func TestNextWithoutReconnect(t *testing.T) {
	t.Parallel()
	clientSide, serverSide := net.Pipe()
	c := NewWithConn(clientSide)
	defer c.Close()
	_ = serverSide.Close()

	var terr *protocol.TransportError
	if _, err := c.Next(testCtx(t)); !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestReconnectFlushesOutbox(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	first := make(chan net.Conn, 1)
	gotLine := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		first <- conn
		conn2, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn2.Close()
		line, _ := bufio.NewReader(conn2).ReadString('\n')
		gotLine <- line
		_, _ = conn2.Write([]byte(`[{"type":"move","details":"Admin","time":2,"agent":"Red"}]` + "\n"))
	}()

	ctx := testCtx(t)
	c, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetReconnectInterval(10 * time.Millisecond)

	// Queue a batch as if the link were already down, then drop it.
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	if err := c.Send(ctx, []protocol.Record{{Agent: "Red", Event: protocol.Event{Type: protocol.EventSeePlayer, Time: 2}}}); err != nil {
		t.Fatal(err)
	}
	if c.Buffered() != 1 {
		t.Fatalf("buffered = %d, want 1", c.Buffered())
	}
	(<-first).Close()

	r, err := c.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Actions) != 1 || r.Actions[0].Details != "Admin" {
		t.Fatalf("reply = %+v", r)
	}
	if line := <-gotLine; !strings.Contains(line, `"seePlayer"`) {
		t.Fatalf("server got %q, want the queued batch", line)
	}
	if c.Buffered() != 0 {
		t.Errorf("outbox not drained: %d", c.Buffered())
	}
}

func TestOutboxEvictsOldest(t *testing.T) {
	t.Parallel()
	b := newOutbox(2)
	for _, s := range []string{"a", "b", "c"} {
		b.add([]byte(s))
	}
	got := b.drain()
	if len(got) != 2 || string(got[0]) != "b" || string(got[1]) != "c" {
		t.Fatalf("drain = %q", got)
	}
	if b.drain() != nil || b.len() != 0 {
		t.Fatal("outbox should be empty after drain")
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	t.Parallel()
	clientSide, _ := net.Pipe()
	c := NewWithConn(clientSide)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = c.Close()
	}()
	if _, err := c.Next(testCtx(t)); err == nil {
		t.Fatal("Next should fail after Close")
	}
}
