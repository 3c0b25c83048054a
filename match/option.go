package match

import (
	"math/rand"
	"time"

	"github.com/arenalabs/rally/sim"
)

// Option augments how a Coordinator runs. Mostly used by tests and by the
// tournament layer to pass tick timing through to bracket matches.
type Option func(*Coordinator)

// WithTickInterval changes the logical tick duration. The default is
// TickInterval (60 Hz).
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.tickInterval = d
	}
}

// WithTickSource replaces the coordinator's own ticker with an external
// channel. Each received value runs at least one tick, so tests can step the
// match manually: WithTickSource(ch) then ch <- time.Now().
func WithTickSource(ch <-chan time.Time) Option {
	return func(c *Coordinator) {
		c.tickSource = ch
	}
}

// WithSimulation starts the coordinator from an existing simulation instead
// of a fresh one.
func WithSimulation(p *sim.Pong) Option {
	return func(c *Coordinator) {
		c.pong = p
	}
}

// WithSeed makes the simulation's serve directions reproducible.
func WithSeed(seed int64) Option {
	return func(c *Coordinator) {
		c.pong = sim.New(rand.New(rand.NewSource(seed)))
	}
}

func newDefaultRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
