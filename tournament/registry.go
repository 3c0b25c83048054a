package tournament

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/storage"
	"github.com/arenalabs/rally/types"
)

type entry struct {
	orch   *Orchestrator
	cancel context.CancelFunc
}

// Registry is the process-wide table of live tournaments. It owns the
// background task running each orchestrator, so an entry disappearing always
// means the task has been (or is being) torn down.
type Registry struct {
	bus     events.Bus
	store   storage.Store
	matches *match.Registry
	opts    []Option

	mu          sync.Mutex
	tournaments map[int64]*entry
}

// NewRegistry builds an empty registry. opts are forwarded to every
// orchestrator it creates.
func NewRegistry(bus events.Bus, store storage.Store, matches *match.Registry, opts ...Option) *Registry {
	return &Registry{
		bus:         bus,
		store:       store,
		matches:     matches,
		tournaments: make(map[int64]*entry),
		opts:        opts,
	}
}

// Create allocates a new tournament, spawns its run task, and seats the
// first participant. Returns the new tournament id.
func (r *Registry) Create(ctx context.Context, first types.Participant) (int64, error) {
	id, err := r.store.NextTournamentID(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "failed to allocate a tournament id")
	}
	if err := r.store.CreateTournament(ctx, storage.Tournament{
		ID:     id,
		Status: storage.StatusPending,
	}); err != nil {
		return 0, eris.Wrapf(err, "failed to create tournament %d", id)
	}

	r.mu.Lock()
	if _, exists := r.tournaments[id]; exists {
		// The id sequence is monotonic, so a collision means a store bug.
		r.mu.Unlock()
		return 0, eris.Errorf("tournament %d already exists", id)
	}
	orch := New(Config{ID: id, Bus: r.bus, Store: r.store, Matches: r.matches}, r.opts...)
	runCtx, cancel := context.WithCancel(context.Background())
	r.tournaments[id] = &entry{orch: orch, cancel: cancel}
	r.mu.Unlock()

	go r.runTournament(runCtx, orch)

	if _, err := orch.AddParticipant(first); err != nil {
		r.cancelAndDelete(id)
		return 0, err
	}
	return id, nil
}

// runTournament owns one orchestrator task for its whole life and guarantees
// the registry entry is deleted when the task exits, however it exits.
func (r *Registry) runTournament(ctx context.Context, orch *Orchestrator) {
	if err := orch.Run(ctx); err != nil {
		log.Error().Err(err).Int64("tournament_id", orch.ID()).Msg("tournament run failed")
	}
	r.mu.Lock()
	delete(r.tournaments, orch.ID())
	r.mu.Unlock()
}

// AddParticipant seats p in an existing tournament and returns the joined
// count.
func (r *Registry) AddParticipant(id int64, p types.Participant) (int, error) {
	orch := r.get(id)
	if orch == nil {
		return 0, eris.Errorf("tournament %d does not exist", id)
	}
	return orch.AddParticipant(p)
}

// JoinRandom seats p in any tournament still waiting for participants,
// creating a fresh one when none is open.
func (r *Registry) JoinRandom(ctx context.Context, p types.Participant) (int64, error) {
	r.mu.Lock()
	var open *Orchestrator
	for _, e := range r.tournaments {
		if e.orch.Joinable() {
			open = e.orch
			break
		}
	}
	r.mu.Unlock()

	if open != nil {
		if _, err := open.AddParticipant(p); err == nil {
			return open.ID(), nil
		}
		// The open slot was taken between the scan and the join; fall
		// through to a fresh tournament.
	}
	return r.Create(ctx, p)
}

// RemoveParticipant unseats p. When the last participant leaves, the
// orchestrator's task is cancelled, awaited, and its entry deleted. The
// await happens outside the registry mutex so leaves on different
// tournaments never serialize on each other.
func (r *Registry) RemoveParticipant(id int64, p types.Participant) (int, error) {
	orch := r.get(id)
	if orch == nil {
		return 0, eris.Errorf("tournament %d does not exist", id)
	}

	remaining, err := orch.RemoveParticipant(p)
	if err != nil {
		return remaining, err
	}
	if remaining == 0 {
		r.cancelAndDelete(id)
	}
	return remaining, nil
}

// Get returns the live orchestrator for id, or nil.
func (r *Registry) Get(id int64) *Orchestrator {
	return r.get(id)
}

// Len reports how many tournaments are currently live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tournaments)
}

// Shutdown cancels every live tournament and waits for their tasks to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.tournaments))
	for _, e := range r.tournaments {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.orch.Done()
	}
}

func (r *Registry) get(id int64) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tournaments[id]; ok {
		return e.orch
	}
	return nil
}

// cancelAndDelete tears one tournament task down and waits until it is gone.
// The run task deletes its own entry; deleting again here is a harmless
// no-op that covers the task having already exited.
func (r *Registry) cancelAndDelete(id int64) {
	r.mu.Lock()
	e, ok := r.tournaments[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.cancel()
	<-e.orch.Done()

	r.mu.Lock()
	delete(r.tournaments, id)
	r.mu.Unlock()
}
