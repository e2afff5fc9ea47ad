package agent

import "fmt"

// Roster is the fixed set of engines for one process, in registration
// order. It is built once and read concurrently afterwards.
type Roster struct {
	order   []string
	engines map[string]*Engine
}

// NewRoster builds a roster. Duplicate names are rejected.
func NewRoster(engines ...*Engine) (*Roster, error) {
	r := &Roster{engines: make(map[string]*Engine, len(engines))}
	for _, e := range engines {
		if _, dup := r.engines[e.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent %q in roster", e.Name())
		}
		r.engines[e.Name()] = e
		r.order = append(r.order, e.Name())
	}
	return r, nil
}

// Get returns the engine for name.
func (r *Roster) Get(name string) (*Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Names returns agent names in registration order.
func (r *Roster) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of agents.
func (r *Roster) Len() int { return len(r.order) }
