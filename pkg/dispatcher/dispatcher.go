// Package dispatcher bridges the simulation connection and the agents. It
// groups each inbound batch by agent, runs every agent's turn concurrently,
// and writes the actions back in input agent order. A batch that ends in a
// meeting trigger hands control to the meeting coordinator instead.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"

	"golang.org/x/sync/errgroup"

	"crewmind/pkg/agent"
	"crewmind/pkg/meeting"
	"crewmind/pkg/protocol"
)

// MeetingRunner resolves a meeting. *meeting.Coordinator implements it.
type MeetingRunner interface {
	Run(ctx context.Context, trigger protocol.Event) (meeting.Outcome, error)
}

// --- Dispatcher ---

// Dispatcher turns record batches into action batches.
type Dispatcher struct {
	roster   *agent.Roster
	meetings MeetingRunner
	logger   *log.Logger
}

// New creates a Dispatcher. A nil logger discards output.
func New(roster *agent.Roster, meetings MeetingRunner, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{roster: roster, meetings: meetings, logger: logger}
}

// Result is the outcome of one batch.
type Result struct {
	Actions []protocol.ActionRecord // input agent order, nil actions omitted
	Meeting *meeting.Outcome        // set when the batch triggered a meeting
	Skipped int                     // records dropped by validation
}

// batch is one agent's slice of an inbound batch.
type batch struct {
	agent  string
	engine *agent.Engine
	events []protocol.Event
	state  protocol.AgentState
}

// Dispatch processes one batch. Invalid records are logged and dropped. A
// record addressed to an agent outside the roster fails the whole batch with
// *protocol.UnknownAgentError before any engine is touched.
func (d *Dispatcher) Dispatch(ctx context.Context, records []protocol.Record) (Result, error) {
	var res Result
	valid := make([]protocol.Record, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			d.logger.Printf("dropping record: %v", err)
			res.Skipped++
			continue
		}
		if _, ok := d.roster.Get(r.Agent); !ok {
			return res, &protocol.UnknownAgentError{Agent: r.Agent}
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return res, nil
	}

	groups := group(d.roster, valid)
	last := valid[len(valid)-1].Event

	if last.Type.TriggersMeeting() {
		for _, b := range groups {
			b.engine.Observe(b.events, b.state)
		}
		if d.meetings == nil {
			return res, errors.New("meeting triggered with no coordinator")
		}
		out, err := d.meetings.Run(ctx, last)
		if err != nil {
			return res, err
		}
		res.Meeting = &out
		return res, nil
	}

	actions := make([]*protocol.Action, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range groups {
		g.Go(func() error {
			a, err := b.engine.OnEvents(gctx, b.events, b.state)
			if err != nil {
				return fmt.Errorf("agent %s: %w", b.agent, err)
			}
			actions[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, b := range groups {
		if actions[i] == nil {
			continue
		}
		res.Actions = append(res.Actions, protocol.ActionRecord{Action: *actions[i], Agent: b.agent})
	}
	return res, nil
}

// group splits records by agent in order of first appearance. Each agent's
// events are stably sorted by time, and the state that travels with its
// latest event is authoritative.
func group(roster *agent.Roster, records []protocol.Record) []*batch {
	var order []*batch
	byAgent := make(map[string]*batch)
	states := make(map[string][]protocol.Record)
	for _, r := range records {
		b, ok := byAgent[r.Agent]
		if !ok {
			e, _ := roster.Get(r.Agent)
			b = &batch{agent: r.Agent, engine: e}
			byAgent[r.Agent] = b
			order = append(order, b)
		}
		states[r.Agent] = append(states[r.Agent], r)
	}
	for _, b := range order {
		recs := states[b.agent]
		slices.SortStableFunc(recs, func(x, y protocol.Record) int {
			switch {
			case x.Event.Time < y.Event.Time:
				return -1
			case x.Event.Time > y.Event.Time:
				return 1
			default:
				return 0
			}
		})
		b.events = make([]protocol.Event, len(recs))
		for i, r := range recs {
			b.events[i] = r.Event
		}
		b.state = recs[len(recs)-1].State
	}
	return order
}
