// Package match implements the coordinator that drives a single Pong match
// end-to-end, and the process-wide registry that routes per-tick actions to
// the right coordinator.
package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/gamestage"
	"github.com/arenalabs/rally/message"
	"github.com/arenalabs/rally/sim"
	"github.com/arenalabs/rally/statsd"
	"github.com/arenalabs/rally/storage"
	"github.com/arenalabs/rally/types"
)

type Mode string

const (
	ModeLocal  Mode = "LOCAL"
	ModeRemote Mode = "REMOTE"
)

// Match lifecycle stages. Ended and Cancelled are terminal.
const (
	StageCreated         gamestage.Stage = "Created"
	StageWaitingForReady gamestage.Stage = "WaitingForReady"
	StageRunning         gamestage.Stage = "Running"
	StageEnded           gamestage.Stage = "Ended"
	StageCancelled       gamestage.Stage = "Cancelled"
)

// TickInterval is the logical duration of one simulation tick.
const TickInterval = time.Second / 60

const persistTimeout = 5 * time.Second

// Result is what a finished match reports back to its owner.
type Result struct {
	Winner sim.Side
	// WinnerParticipant is the entrant on the winning side. Zero value when
	// the match had no surviving participant (a local player disconnecting).
	WinnerParticipant types.Participant
	Score1            int
	Score2            int
	// Forced is true when the result came from a player exit rather than the
	// simulation reaching the win score.
	Forced bool
}

type command struct {
	side sim.Side
	dir  sim.Direction
}

// Config carries the identity and collaborators of one match. Store may be
// nil for local matches, which persist nothing.
type Config struct {
	ID           int64
	Mode         Mode
	TournamentID int64
	Round        int
	Bus          events.Bus
	Store        storage.Store
}

// Coordinator owns exactly one simulation and runs it to completion. The
// simulation is only ever touched by the Run goroutine; actions arriving from
// connections are handed over through channels.
type Coordinator struct {
	cfg    Config
	stage  gamestage.Atomic
	pong   *sim.Pong
	logger zerolog.Logger

	mu           sync.Mutex
	participants map[sim.Side]types.Participant
	ready        map[string]struct{}
	expected     int
	started      bool
	// snapshot mirrors the simulation state for readers outside the run
	// goroutine. Updated once per tick.
	snapshot sim.State

	start    chan struct{}
	exit     chan types.Participant
	commands chan command
	done     chan struct{}

	tickInterval time.Duration
	tickSource   <-chan time.Time

	persistResults chan error
}

func New(cfg Config, opts ...Option) *Coordinator {
	expected := 2
	if cfg.Mode == ModeLocal {
		expected = 1
	}
	c := &Coordinator{
		cfg:          cfg,
		stage:        gamestage.NewAtomic(StageCreated),
		participants: make(map[sim.Side]types.Participant, expected),
		ready:        make(map[string]struct{}, expected),
		expected:     expected,
		start:        make(chan struct{}),
		exit:         make(chan types.Participant, 2),
		commands:     make(chan command, 64),
		done:         make(chan struct{}),
		tickInterval: TickInterval,
		logger: log.With().
			Int64("match_id", cfg.ID).
			Str("mode", string(cfg.Mode)).
			Logger(),

		persistResults: make(chan error, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pong == nil {
		c.pong = sim.New(newDefaultRand())
	}
	c.snapshot = c.pong.Snapshot()
	return c
}

func (c *Coordinator) ID() int64 { return c.cfg.ID }

func (c *Coordinator) Mode() Mode { return c.cfg.Mode }

func (c *Coordinator) Stage() gamestage.Stage { return c.stage.Load() }

// Participants returns a copy of the side assignments made so far.
func (c *Coordinator) Participants() map[sim.Side]types.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[sim.Side]types.Participant, len(c.participants))
	for side, p := range c.participants {
		out[side] = p
	}
	return out
}

// Group is the broadcast group all remote participants of this match are
// subscribed to.
func (c *Coordinator) Group() string {
	return fmt.Sprintf("match:%d", c.cfg.ID)
}

// Done is closed once Run has fully torn the match down. Owners must wait on
// it before discarding the coordinator, so a late tick can never fire after
// the winner has been recorded.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// PersistResults exposes the outcomes of the fire-and-forget persistence
// calls. Every async store call reports here exactly once; the channel is
// buffered and never blocks the game loop.
func (c *Coordinator) PersistResults() <-chan error {
	return c.persistResults
}

// Init registers a participant and returns the side they play plus the
// current snapshot for the INIT reply. In remote mode the participant's
// connection is also subscribed to the match broadcast group.
func (c *Coordinator) Init(p types.Participant) (sim.Side, sim.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A returning participant keeps their side in every stage, so a client
	// re-issuing INIT mid-game re-syncs with the latest snapshot instead of
	// erroring. Re-adding to the group covers a dropped subscription.
	for side, existing := range c.participants {
		if existing.Key() == p.Key() {
			if c.cfg.Mode == ModeRemote {
				c.cfg.Bus.AddToGroup(c.Group(), p.ConnectionID)
			}
			return side, c.snapshot, nil
		}
	}

	switch c.stage.Load() {
	case StageCreated, StageWaitingForReady:
	default:
		return sim.SideNone, sim.State{}, eris.Errorf("match %d is no longer accepting participants", c.cfg.ID)
	}

	if len(c.participants) >= c.expected {
		return sim.SideNone, sim.State{}, eris.Errorf("match %d is full", c.cfg.ID)
	}

	side := sim.Side1
	if _, taken := c.participants[sim.Side1]; taken {
		side = sim.Side2
	}
	c.participants[side] = p

	if c.cfg.Mode == ModeRemote {
		c.cfg.Bus.AddToGroup(c.Group(), p.ConnectionID)
	}
	c.logger.Info().Str("conn_id", p.ConnectionID).Str("side", side.String()).Msg("participant joined match")
	return side, c.snapshot, nil
}

// Ready counts one ready signal per participant. When every expected
// participant has signalled, the run loop is released.
func (c *Coordinator) Ready(p types.Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	registered := false
	for _, existing := range c.participants {
		if existing.Key() == p.Key() {
			registered = true
			break
		}
	}
	if !registered {
		return eris.Errorf("participant %s is not part of match %d", p.ConnectionID, c.cfg.ID)
	}

	c.ready[p.Key()] = struct{}{}
	if len(c.ready) == c.expected && !c.started {
		c.started = true
		close(c.start)
	}
	return nil
}

// MovePaddle queues a paddle move for the next tick. Moves are accepted at
// any point during play, from either side, with no turn order. If the match
// is not running the move is dropped.
func (c *Coordinator) MovePaddle(side sim.Side, dir sim.Direction) {
	if c.stage.Load() != StageRunning {
		return
	}
	select {
	case c.commands <- command{side: side, dir: dir}:
	default:
		// A full queue means the loop is behind; dropping a held-key repeat
		// is invisible to the player.
	}
}

// PlayerExited reports that a participant disconnected or quit. The run loop
// is unblocked (whether waiting for ready or mid-play) and tears the match
// down with the remaining participant as forced winner.
func (c *Coordinator) PlayerExited(p types.Participant) {
	select {
	case c.exit <- p:
	default:
		// Both players can exit near-simultaneously; one forced teardown is
		// enough.
	}
}

// Run drives the match: it blocks until all participants are ready, then
// loops at the tick cadence until the simulation finishes or a player exits.
// Catch-up ticks are run when the loop wakes late so game speed tracks wall
// clock.
func (c *Coordinator) Run(ctx context.Context) (result Result, err error) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.stage.Store(StageCancelled)
			err = eris.Errorf("match %d panicked: %v", c.cfg.ID, r)
			c.logger.Error().Msg(err.Error())
		}
	}()

	c.stage.CompareAndSwap(StageCreated, StageWaitingForReady)

	select {
	case <-c.start:
	case p := <-c.exit:
		return c.finishForced(p), nil
	case <-ctx.Done():
		c.stage.Store(StageCancelled)
		return Result{}, eris.Wrapf(ctx.Err(), "match %d cancelled before start", c.cfg.ID)
	}

	if !c.stage.CompareAndSwap(StageWaitingForReady, StageRunning) {
		// An exit raced the last ready signal.
		select {
		case p := <-c.exit:
			return c.finishForced(p), nil
		default:
			return Result{}, eris.Errorf("match %d in unexpected stage %s", c.cfg.ID, c.stage.Load())
		}
	}

	c.logger.Info().Msg("match started")
	statsd.EmitMatchCount("started")
	if c.cfg.Mode == ModeRemote {
		c.persistAsync(func(ctx context.Context) error {
			return c.cfg.Store.UpdateMatchStatus(ctx, c.cfg.ID, storage.StatusRunning)
		})
	}
	c.broadcast(message.MatchReady(c.pong.Snapshot()))

	tickC := c.tickSource
	if tickC == nil {
		ticker := time.NewTicker(c.tickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var (
		last time.Time
		lag  time.Duration
	)
	for {
		select {
		case <-ctx.Done():
			c.stage.Store(StageCancelled)
			return Result{}, eris.Wrapf(ctx.Err(), "match %d cancelled", c.cfg.ID)
		case p := <-c.exit:
			return c.finishForced(p), nil
		case cmd := <-c.commands:
			c.pong.MovePaddle(cmd.side, cmd.dir)
		case now := <-tickC:
			steps := 1
			if !last.IsZero() {
				lag += now.Sub(last) - c.tickInterval
				for lag >= c.tickInterval {
					lag -= c.tickInterval
					steps++
				}
				if lag < 0 {
					lag = 0
				}
			}
			last = now
			for i := 0; i < steps; i++ {
				if finished := c.tick(); finished {
					return c.finishNormal(), nil
				}
			}
		}
	}
}

// tick advances the simulation one step and broadcasts the snapshot.
// Reports whether the match just finished.
func (c *Coordinator) tick() bool {
	tickStart := time.Now()
	c.drainCommands()

	scorer, scored := c.pong.Advance()
	snapshot := c.pong.Snapshot()
	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()
	c.broadcast(message.MatchSnapshot(snapshot))

	if scored && c.cfg.Mode == ModeRemote {
		ev := storage.ScoreEvent{
			MatchID: c.cfg.ID,
			Scorer:  scorer.String(),
			Score1:  snapshot.Score1,
			Score2:  snapshot.Score2,
		}
		c.persistAsync(func(ctx context.Context) error {
			return c.cfg.Store.CreateScoreEvent(ctx, ev)
		})
		c.notifyTournament()
	}

	statsd.EmitTickStat(tickStart, "full_tick")
	return c.pong.Finished()
}

// drainCommands applies every queued paddle move so a move sent between
// ticks lands before the ball does.
func (c *Coordinator) drainCommands() {
	for {
		select {
		case cmd := <-c.commands:
			c.pong.MovePaddle(cmd.side, cmd.dir)
		default:
			return
		}
	}
}

func (c *Coordinator) finishNormal() Result {
	c.stage.Store(StageEnded)
	winner := c.pong.Winner()
	snapshot := c.pong.Snapshot()

	c.mu.Lock()
	winnerParticipant := c.participants[winner]
	loserParticipant := c.participants[winner.Opponent()]
	c.mu.Unlock()

	c.broadcast(message.MatchEnd(winner, snapshot))
	c.logger.Info().
		Str("winner", winner.String()).
		Int("score1", snapshot.Score1).
		Int("score2", snapshot.Score2).
		Msg("match finished")
	statsd.EmitMatchCount("completed")

	if c.cfg.Mode == ModeRemote {
		c.persistAsync(func(ctx context.Context) error {
			return c.cfg.Store.UpdateMatchStatus(ctx, c.cfg.ID, storage.StatusCompleted)
		})
		c.persistWins(winnerParticipant, loserParticipant)
	}
	c.releaseGroup()

	return Result{
		Winner:            winner,
		WinnerParticipant: winnerParticipant,
		Score1:            snapshot.Score1,
		Score2:            snapshot.Score2,
	}
}

// finishForced ends the match because a participant left. The remaining
// participant, if any, wins by forfeit.
func (c *Coordinator) finishForced(exited types.Participant) Result {
	c.stage.Store(StageCancelled)
	snapshot := c.pong.Snapshot()

	c.mu.Lock()
	var winner sim.Side
	var winnerParticipant types.Participant
	for side, p := range c.participants {
		if p.Key() != exited.Key() {
			winner = side
			winnerParticipant = p
		}
	}
	loserParticipant := exited
	c.mu.Unlock()

	c.broadcast(message.MatchEnd(winner, snapshot))
	c.logger.Info().
		Str("exited_conn_id", exited.ConnectionID).
		Str("winner", winner.String()).
		Msg("match cancelled by player exit")
	statsd.EmitMatchCount("cancelled")

	if c.cfg.Mode == ModeRemote {
		c.persistAsync(func(ctx context.Context) error {
			return c.cfg.Store.UpdateMatchStatus(ctx, c.cfg.ID, storage.StatusCancelled)
		})
		if winner != sim.SideNone {
			c.persistWins(winnerParticipant, loserParticipant)
		}
		c.notifyTournament()
	}
	c.releaseGroup()

	return Result{
		Winner:            winner,
		WinnerParticipant: winnerParticipant,
		Score1:            snapshot.Score1,
		Score2:            snapshot.Score2,
		Forced:            true,
	}
}

// releaseGroup disbands the broadcast group once the END frame is queued.
// The hub delivers the frame before the teardown.
func (c *Coordinator) releaseGroup() {
	if c.cfg.Mode == ModeRemote {
		c.cfg.Bus.ReleaseGroup(c.Group())
	}
}

func (c *Coordinator) persistWins(winner, loser types.Participant) {
	c.persistAsync(func(ctx context.Context) error {
		return c.cfg.Store.UpdateParticipationWin(ctx, c.cfg.ID, winner.DisplayName, true)
	})
	if loser.DisplayName != "" {
		c.persistAsync(func(ctx context.Context) error {
			return c.cfg.Store.UpdateParticipationWin(ctx, c.cfg.ID, loser.DisplayName, false)
		})
	}
}

// persistAsync runs one store call in the background. Failures are logged
// and reported on the persistResults channel, never retried, and never allowed
// to stall the tick loop.
func (c *Coordinator) persistAsync(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		err := fn(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("persistence call failed")
		}
		select {
		case c.persistResults <- err:
		default:
		}
	}()
}

// notifyTournament nudges any view watching this match's tournament to
// re-fetch state.
func (c *Coordinator) notifyTournament() {
	if c.cfg.TournamentID == 0 {
		return
	}
	raw, err := message.TournamentReload(message.ReloadTournamentStateChange)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode reload notice")
		return
	}
	c.cfg.Bus.SendToGroup(fmt.Sprintf("tournament:%d", c.cfg.TournamentID), raw)
}

// broadcast delivers an already-encoded frame to the match audience: the
// match group for remote games, the lone participant's connection for local
// ones. Encoding errors are programming errors and only logged.
func (c *Coordinator) broadcast(raw []byte, err error) {
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode match frame")
		return
	}
	if c.cfg.Mode == ModeRemote {
		c.cfg.Bus.SendToGroup(c.Group(), raw)
		return
	}
	c.mu.Lock()
	p, ok := c.participants[sim.Side1]
	c.mu.Unlock()
	if ok {
		c.cfg.Bus.SendToConnection(p.ConnectionID, raw)
	}
}
