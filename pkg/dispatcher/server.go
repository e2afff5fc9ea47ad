package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"crewmind/pkg/agent"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/meeting"
	"crewmind/pkg/protocol"
)

// --- Config ---

// Config holds Server configuration.
type Config struct {
	Host          string // listen host (default 127.0.0.1)
	Port          int    // listen port (default 12345)
	MaxLineBytes  int    // longest accepted inbound line (default 1 MiB)
	MeetingRounds int    // chat rounds per meeting (default 3)
	SkipKickoff   bool   // don't send the spawn batch on first connect
	Logger        *log.Logger
	Journal       *eventlog.Journal // nil disables journaling
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Host == "" {
		out.Host = protocol.DefaultHost
	}
	if out.Port == 0 {
		out.Port = protocol.DefaultPort
	}
	if out.MaxLineBytes <= 0 {
		out.MaxLineBytes = protocol.DefaultMaxLineBytes
	}
	if out.MeetingRounds <= 0 {
		out.MeetingRounds = protocol.DefaultMeetingRounds
	}
	if out.Logger == nil {
		out.Logger = log.New(io.Discard, "", 0)
	}
	return out
}

// --- Server ---

// Server owns the listening socket and the single active client.
type Server struct {
	cfg      Config
	roster   *agent.Roster
	dispatch *Dispatcher

	// mu serializes writes to conn; every write is one whole line.
	mu      sync.Mutex
	conn    net.Conn
	session string

	kickedOff bool
}

// NewServer wires a Dispatcher and a meeting Coordinator around roster. The
// Server is the coordinator's Broadcaster.
func NewServer(cfg Config, roster *agent.Roster) *Server {
	s := &Server{cfg: cfg.withDefaults(), roster: roster}
	coord := meeting.New(roster, s, meeting.Config{
		Rounds:  s.cfg.MeetingRounds,
		Logger:  s.cfg.Logger,
		Journal: s.cfg.Journal,
	})
	s.dispatch = New(roster, coord, s.cfg.Logger)
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Serve listens on the configured address and serves until ctx is done or
// a batch names an agent outside the roster.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	s.cfg.Logger.Printf("listening on %s", ln.Addr())
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts clients from ln one at a time. Engines persist
// across reconnects. It closes ln before returning.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.cfg.Logger.Printf("accept: %v", err)
			continue
		}
		if err := s.handleConn(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handleConn runs the receive loop for one client. It returns nil when the
// client goes away and an error only for conditions that must stop the
// server.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	session := uuid.NewString()
	s.mu.Lock()
	s.conn, s.session = conn, session
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		s.conn, s.session = nil, ""
		s.mu.Unlock()
		_ = conn.Close()
		_ = s.cfg.Journal.Log(context.WithoutCancel(ctx), "disconnect", "dispatcher", "", session, "")
		s.cfg.Logger.Printf("client %s disconnected", conn.RemoteAddr())
	}()

	s.cfg.Logger.Printf("accepted client %s (session %s)", conn.RemoteAddr(), session)
	_ = s.cfg.Journal.Log(ctx, "connect", "dispatcher", "", session, conn.RemoteAddr().String())

	if !s.cfg.SkipKickoff && !s.kickedOff {
		s.kickedOff = true
		_ = s.cfg.Journal.Log(ctx, "kickoff", "dispatcher", "", session, "")
		if done, err := s.process(ctx, session, kickoffRecords(s.roster)); done {
			return err
		}
	}

	lines := &lineSplitter{max: s.cfg.MaxLineBytes}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.cfg.MaxLineBytes+1)), s.cfg.MaxLineBytes+1)
	scanner.Split(lines.split)

	for scanner.Scan() {
		if lines.takeOversized() {
			perr := &protocol.ProtocolError{Reason: fmt.Sprintf("line exceeds %d bytes", s.cfg.MaxLineBytes)}
			s.cfg.Logger.Printf("skipping line: %v", perr)
			_ = s.cfg.Journal.Log(ctx, "protocol_error", "dispatcher", "", session, perr.Error())
			continue
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.DecodeMessage(line)
		if err != nil {
			s.cfg.Logger.Printf("skipping line: %v", err)
			_ = s.cfg.Journal.Log(ctx, "protocol_error", "dispatcher", "", session, err.Error())
			continue
		}

		switch msg.Type {
		case protocol.MsgRequestChat:
			s.cfg.Logger.Printf("chat request: %s", msg.Raw)
			_ = s.cfg.Journal.Log(ctx, "request_chat", "dispatcher", "", session, string(msg.Raw))
		case protocol.MsgEvents:
			if done, err := s.process(ctx, session, msg.Events); done {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		terr := &protocol.TransportError{Op: "receive", Err: err}
		s.cfg.Logger.Printf("%v", terr)
		_ = s.cfg.Journal.Log(ctx, "transport_error", "dispatcher", "", session, terr.Error())
	}
	return nil
}

// process dispatches one batch and writes the response. done reports that
// the connection must end; err is non-nil when the server must stop too.
func (s *Server) process(ctx context.Context, session string, records []protocol.Record) (done bool, err error) {
	_ = s.cfg.Journal.LogJSON(ctx, "batch", "dispatcher", "", session, map[string]any{"records": len(records)})

	res, err := s.dispatch.Dispatch(ctx, records)
	if err != nil {
		var unknown *protocol.UnknownAgentError
		var terr *protocol.TransportError
		switch {
		case errors.As(err, &unknown):
			s.cfg.Logger.Printf("fatal: %v", err)
			_ = s.cfg.Journal.Log(ctx, "fatal", "dispatcher", unknown.Agent, session, err.Error())
			return true, err
		case errors.As(err, &terr):
			s.cfg.Logger.Printf("dropping client: %v", err)
			return true, nil
		case ctx.Err() != nil:
			return true, nil
		default:
			// Meeting abandoned for a non-transport reason. Keep listening.
			s.cfg.Logger.Printf("batch failed: %v", err)
			_ = s.cfg.Journal.Log(ctx, "batch_error", "dispatcher", "", session, err.Error())
		}
	}

	for _, a := range res.Actions {
		_ = s.cfg.Journal.LogJSON(ctx, "action", a.Agent, a.Agent, session, a.Action)
	}

	actions := res.Actions
	if actions == nil {
		actions = []protocol.ActionRecord{}
	}
	if err := s.send(actions); err != nil {
		s.cfg.Logger.Printf("dropping client: %v", err)
		return true, nil
	}
	return false, nil
}

// Broadcast implements meeting.Broadcaster.
func (s *Server) Broadcast(_ context.Context, b protocol.Broadcast) error {
	return s.send(b)
}

// --- Send helper ---

// send writes v as one line to the active client.
func (s *Server) send(v any) error {
	data, err := protocol.EncodeLine(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return &protocol.TransportError{Op: "send", Err: net.ErrClosed}
	}
	if _, err := s.conn.Write(data); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

// lineSplitter yields only newline-terminated lines. A trailing partial
// line at EOF is dropped, never parsed. Bytes of a line longer than max are
// discarded up to its newline and the line comes back as an empty token
// with the oversized flag set.
type lineSplitter struct {
	max        int
	discarding bool
	oversized  bool
}

func (l *lineSplitter) split(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		if l.discarding || i > l.max {
			l.discarding = false
			l.oversized = true
			return i + 1, data[:0], nil
		}
		return i + 1, data[:i], nil
	}
	if l.discarding || len(data) > l.max {
		l.discarding = true
		return len(data), nil, nil
	}
	if atEOF && len(data) > 0 {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// takeOversized reports and clears the oversized flag for the last token.
func (l *lineSplitter) takeOversized() bool {
	v := l.oversized
	l.oversized = false
	return v
}

// kickoffRecords is the synthetic spawn batch sent before the first read.
func kickoffRecords(roster *agent.Roster) []protocol.Record {
	names := roster.Names()
	out := make([]protocol.Record, len(names))
	for i, name := range names {
		out[i] = protocol.Record{
			Agent: name,
			Event: protocol.Event{
				Type:    protocol.EventSeePlayer,
				Details: "You have entered the game. You should go to a random location.",
				Time:    0,
			},
			State: protocol.AgentState{
				Location:         protocol.SpawnLocation,
				Sabotage:         map[string]bool{},
				AvailableActions: []string{"Move"},
			},
		}
	}
	return out
}
