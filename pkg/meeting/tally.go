package meeting

import (
	"slices"

	"github.com/tidwall/gjson"

	"crewmind/pkg/protocol"
)

// Trigger is the parsed details payload of a meeting trigger event.
type Trigger struct {
	Caller       string
	AlivePlayers []string
}

// ParseTrigger reads {"caller": ..., "alivePlayers": [...]} from event
// details. Missing or malformed fields are left empty.
func ParseTrigger(details string) Trigger {
	var t Trigger
	if !gjson.Valid(details) {
		return t
	}
	res := gjson.Parse(details)
	t.Caller = res.Get("caller").String()
	for _, p := range res.Get("alivePlayers").Array() {
		if name := p.String(); name != "" {
			t.AlivePlayers = append(t.AlivePlayers, name)
		}
	}
	return t
}

// SpeakingOrder puts the caller first, then the remaining players in their
// given order. Duplicates are dropped. A caller missing from players still
// speaks first.
func SpeakingOrder(caller string, players []string) []string {
	order := make([]string, 0, len(players)+1)
	if caller != "" {
		order = append(order, caller)
	}
	for _, p := range players {
		if !slices.Contains(order, p) {
			order = append(order, p)
		}
	}
	return order
}

// Tally counts ballots and returns the plurality target. Ties go to the
// target that reached the winning count first when ballots are replayed in
// order. No ballots resolves to a skip.
func Tally(ballots []Ballot) (string, map[string]int) {
	counts := make(map[string]int, len(ballots))
	best := 0
	for _, b := range ballots {
		counts[b.Target]++
		best = max(best, counts[b.Target])
	}
	if best == 0 {
		return protocol.SkipVote, counts
	}

	running := make(map[string]int, len(counts))
	for _, b := range ballots {
		running[b.Target]++
		if running[b.Target] == best {
			return b.Target, counts
		}
	}
	return protocol.SkipVote, counts
}
