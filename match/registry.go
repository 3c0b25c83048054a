package match

import "sync"

// Registry is the process-wide table of running matches. It is the only
// match-layer object touched by more than one goroutine, so lookup-and-act
// is a single critical section: a Forward can never race a concurrent Remove
// into acting on a torn-down coordinator.
type Registry struct {
	mu           sync.Mutex
	coordinators map[int64]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{
		coordinators: make(map[int64]*Coordinator),
	}
}

// Register adds a coordinator under its id. Registering an id that is
// already present is a no-op, keeping creation idempotent.
func (r *Registry) Register(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.coordinators[c.ID()]; exists {
		return
	}
	r.coordinators[c.ID()] = c
}

func (r *Registry) Remove(matchID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.coordinators, matchID)
}

// Get returns the coordinator for matchID, or nil if the match is not live.
func (r *Registry) Get(matchID int64) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinators[matchID]
}

// Forward invokes action on the coordinator for matchID while holding the
// registry lock. An unknown id means the match already ended and the action
// is silently dropped.
func (r *Registry) Forward(matchID int64, action func(*Coordinator)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coordinators[matchID]; ok {
		action(c)
	}
}

// Len reports how many matches are currently live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coordinators)
}
