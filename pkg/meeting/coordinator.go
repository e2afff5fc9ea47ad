// Package meeting runs the chat-then-vote protocol triggered by a body report
// or an emergency meeting. Speakers talk strictly in turn; every message is
// broadcast as it is produced and shown to every engine before the next
// speaker. Votes are collected concurrently and resolved by plurality.
//
// The Coordinator is a library consumed by the dispatcher. It never touches
// the socket directly; all output goes through a Broadcaster.
package meeting

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crewmind/pkg/agent"
	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
)

// Broadcaster delivers one meeting broadcast to the client as one line.
type Broadcaster interface {
	Broadcast(ctx context.Context, b protocol.Broadcast) error
}

// Config holds Coordinator configuration.
type Config struct {
	Rounds  int // chat rounds per meeting (default 3)
	Logger  *log.Logger
	Journal *eventlog.Journal // nil disables journaling
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Rounds <= 0 {
		out.Rounds = protocol.DefaultMeetingRounds
	}
	if out.Logger == nil {
		out.Logger = log.New(io.Discard, "", 0)
	}
	return out
}

// Ballot is one cast vote.
type Ballot struct {
	Voter  string `json:"voter"`
	Target string `json:"target"`
}

// Outcome is the resolved result of one meeting.
type Outcome struct {
	ID         string
	Caller     string
	Speakers   []string
	Transcript []agent.ChatMessage
	Ballots    []Ballot // in speaking order
	Tally      map[string]int
	Result     string // ejected player or protocol.SkipVote
}

// Coordinator runs meetings one at a time.
type Coordinator struct {
	mu     sync.Mutex
	roster *agent.Roster
	out    Broadcaster
	cfg    Config
}

// New creates a Coordinator over a fixed roster.
func New(roster *agent.Roster, out Broadcaster, cfg Config) *Coordinator {
	return &Coordinator{roster: roster, out: out, cfg: cfg.withDefaults()}
}

// meetingRecord is the transient state of one meeting.
type meetingRecord struct {
	id         string
	trigger    protocol.Event
	caller     string
	speakers   []string
	transcript []agent.ChatMessage
	ballots    []Ballot
}

// Run resolves one meeting. On any error the meeting is abandoned: every
// engine drops its pending transcript and no vote state survives.
func (c *Coordinator) Run(ctx context.Context, trigger protocol.Event) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.open(trigger)
	if err != nil {
		return Outcome{}, err
	}

	_ = c.cfg.Journal.StartMeeting(ctx, rec.id, trigger, rec.caller, rec.speakers)
	_ = c.cfg.Journal.LogJSON(ctx, "meeting_start", "meeting", rec.caller, "", map[string]any{
		"meeting": rec.id, "trigger": trigger.Type, "speakers": rec.speakers,
	})
	c.cfg.Logger.Printf("meeting %s: %s by %s, speakers %v", rec.id, trigger.Type, rec.caller, rec.speakers)

	for _, name := range c.roster.Names() {
		e, _ := c.roster.Get(name)
		e.BeginMeeting()
	}

	if err := c.discuss(ctx, rec); err != nil {
		return Outcome{}, c.abandon(ctx, rec, err)
	}
	if err := c.vote(ctx, rec); err != nil {
		return Outcome{}, c.abandon(ctx, rec, err)
	}

	result, tally := Tally(rec.ballots)
	announcer := rec.caller
	if announcer == "" && len(rec.speakers) > 0 {
		announcer = rec.speakers[0]
	}
	if err := c.out.Broadcast(ctx, protocol.Broadcast{
		Type: protocol.BroadcastVote, Details: result, Time: trigger.Time, Agent: announcer,
	}); err != nil {
		return Outcome{}, c.abandon(ctx, rec, &protocol.TransportError{Op: "broadcast vote", Err: err})
	}

	for _, name := range c.roster.Names() {
		e, _ := c.roster.Get(name)
		e.CloseMeeting()
	}

	_ = c.cfg.Journal.FinishMeeting(ctx, rec.id, result, tally)
	_ = c.cfg.Journal.LogJSON(ctx, "meeting_outcome", "meeting", announcer, "", map[string]any{
		"meeting": rec.id, "result": result, "tally": tally,
	})
	c.cfg.Logger.Printf("meeting %s: result %s %v", rec.id, result, tally)

	return Outcome{
		ID:         rec.id,
		Caller:     rec.caller,
		Speakers:   rec.speakers,
		Transcript: rec.transcript,
		Ballots:    rec.ballots,
		Tally:      tally,
		Result:     result,
	}, nil
}

// open parses the trigger and fixes the speaking order.
func (c *Coordinator) open(trigger protocol.Event) (*meetingRecord, error) {
	t := ParseTrigger(trigger.Details)
	alive := t.AlivePlayers
	if len(alive) == 0 {
		alive = c.roster.Names()
	}

	speakers := SpeakingOrder(t.Caller, alive)
	for _, name := range speakers {
		if _, ok := c.roster.Get(name); !ok {
			return nil, &protocol.UnknownAgentError{Agent: name}
		}
	}
	return &meetingRecord{
		id:       uuid.NewString(),
		trigger:  trigger,
		caller:   t.Caller,
		speakers: speakers,
	}, nil
}

// discuss runs the chat rounds. Speakers go strictly one after another.
func (c *Coordinator) discuss(ctx context.Context, rec *meetingRecord) error {
	bodyFound := rec.trigger.Type == protocol.EventBodyFound
	for round := 1; round <= c.cfg.Rounds; round++ {
		for _, speaker := range rec.speakers {
			e, _ := c.roster.Get(speaker)
			msg, err := e.Speak(ctx, agent.MeetingPrompt{
				Round: round, Rounds: c.cfg.Rounds, BodyFound: bodyFound, Caller: rec.caller,
			})
			if err != nil {
				return fmt.Errorf("%s speaking in round %d: %w", speaker, round, err)
			}

			if err := c.out.Broadcast(ctx, protocol.Broadcast{
				Type: protocol.BroadcastChat, Details: msg, Time: rec.trigger.Time, Agent: speaker,
			}); err != nil {
				return &protocol.TransportError{Op: "broadcast chat", Err: err}
			}

			m := agent.ChatMessage{Sender: speaker, Content: msg, Time: rec.trigger.Time}
			rec.transcript = append(rec.transcript, m)
			for _, name := range c.roster.Names() {
				other, _ := c.roster.Get(name)
				other.ObserveChat(m)
			}
			_ = c.cfg.Journal.LogJSON(ctx, "chat", speaker, speaker, "", map[string]any{
				"meeting": rec.id, "round": round, "message": msg,
			})
		}
	}
	return nil
}

// vote collects one ballot per speaker concurrently, then shows every ballot
// to every engine in speaking order. Only the living players named by the
// trigger vote; dead players do not.
func (c *Coordinator) vote(ctx context.Context, rec *meetingRecord) error {
	targets := make([]string, len(rec.speakers))
	g, gctx := errgroup.WithContext(ctx)
	for i, voter := range rec.speakers {
		e, _ := c.roster.Get(voter)
		candidates := slices.DeleteFunc(slices.Clone(rec.speakers), func(s string) bool { return s == voter })
		g.Go(func() error {
			target, err := e.Vote(gctx, candidates)
			if err != nil {
				return fmt.Errorf("%s voting: %w", voter, err)
			}
			targets[i] = target
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, voter := range rec.speakers {
		b := Ballot{Voter: voter, Target: targets[i]}
		rec.ballots = append(rec.ballots, b)
		ev := protocol.Event{
			Type:    protocol.EventVote,
			Details: fmt.Sprintf("%s voted %s", b.Voter, b.Target),
			Time:    rec.trigger.Time,
		}
		for _, name := range c.roster.Names() {
			e, _ := c.roster.Get(name)
			e.RecordVote(ev)
		}
		_ = c.cfg.Journal.LogJSON(ctx, "vote", voter, voter, "", map[string]any{
			"meeting": rec.id, "target": b.Target,
		})
	}
	return nil
}

// abandon discards the meeting everywhere and returns cause.
func (c *Coordinator) abandon(ctx context.Context, rec *meetingRecord, cause error) error {
	for _, name := range c.roster.Names() {
		e, _ := c.roster.Get(name)
		e.AbandonMeeting()
	}
	// The request context may already be gone; journal on a detached one.
	jctx := context.WithoutCancel(ctx)
	_ = c.cfg.Journal.AbandonMeeting(jctx, rec.id)
	_ = c.cfg.Journal.LogJSON(jctx, "meeting_abandoned", "meeting", rec.caller, "", map[string]any{
		"meeting": rec.id, "error": cause.Error(),
	})
	c.cfg.Logger.Printf("meeting %s abandoned: %v", rec.id, cause)
	return fmt.Errorf("meeting %s abandoned: %w", rec.id, cause)
}
