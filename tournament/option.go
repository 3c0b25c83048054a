package tournament

import (
	"math/rand"
	"time"

	"github.com/arenalabs/rally/match"
)

// Option augments how an Orchestrator runs its bracket.
type Option func(*Orchestrator)

// WithShuffleSeed makes round pairings reproducible.
func WithShuffleSeed(seed int64) Option {
	return func(o *Orchestrator) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// WithMatchOptions forwards extra options to every bracket match the
// orchestrator spawns, e.g. a shorter tick interval in tests.
func WithMatchOptions(opts ...match.Option) Option {
	return func(o *Orchestrator) {
		o.matchOpts = append(o.matchOpts, opts...)
	}
}

func newDefaultRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
