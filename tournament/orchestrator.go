// Package tournament implements the single-elimination bracket orchestrator
// and the process-wide registry that owns each bracket's background task.
package tournament

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/gamestage"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/message"
	"github.com/arenalabs/rally/sim"
	"github.com/arenalabs/rally/statsd"
	"github.com/arenalabs/rally/storage"
	"github.com/arenalabs/rally/types"
)

// Capacity is the bracket size. Brackets always run 4 entrants over 2 rounds.
const Capacity = 4

const persistTimeout = 5 * time.Second

// Tournament lifecycle stages. Completed and Cancelled are terminal.
const (
	StageCreated                gamestage.Stage = "Created"
	StageWaitingForParticipants gamestage.Stage = "WaitingForParticipants"
	StageRunning                gamestage.Stage = "Running"
	StageCompleted              gamestage.Stage = "Completed"
	StageCancelled              gamestage.Stage = "Cancelled"
)

// Config carries the identity and collaborators of one tournament.
type Config struct {
	ID      int64
	Bus     events.Bus
	Store   storage.Store
	Matches *match.Registry
}

// Orchestrator runs one bracket to completion. The participant list is only
// mutated under mu; the rounds themselves are driven exclusively by the Run
// goroutine.
type Orchestrator struct {
	cfg    Config
	stage  gamestage.Atomic
	logger zerolog.Logger

	mu           sync.Mutex
	participants []types.Participant
	// activeMatch maps a participant to the bracket match they are currently
	// playing, so a mid-round leave can be turned into a forfeit.
	activeMatch map[string]int64
	released    bool

	full chan struct{}
	done chan struct{}

	rng       *rand.Rand
	matchOpts []match.Option
}

func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		stage:       gamestage.NewAtomic(StageCreated),
		activeMatch: make(map[string]int64, Capacity),
		full:        make(chan struct{}),
		done:        make(chan struct{}),
		logger: log.With().
			Int64("tournament_id", cfg.ID).
			Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = newDefaultRand()
	}
	return o
}

func (o *Orchestrator) ID() int64              { return o.cfg.ID }
func (o *Orchestrator) Stage() gamestage.Stage { return o.stage.Load() }

// Group is the broadcast group every joined participant is subscribed to.
// Reload notices for this tournament are fanned out through it.
func (o *Orchestrator) Group() string {
	return fmt.Sprintf("tournament:%d", o.cfg.ID)
}

// Done is closed once Run has fully torn the tournament down.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// ParticipantCount reports how many entrants are currently joined.
func (o *Orchestrator) ParticipantCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.participants)
}

// Joinable reports whether the bracket is still accepting entrants.
func (o *Orchestrator) Joinable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joinableLocked()
}

func (o *Orchestrator) joinableLocked() bool {
	switch o.stage.Load() {
	case StageCreated, StageWaitingForParticipants:
		return len(o.participants) < Capacity
	default:
		return false
	}
}

// AddParticipant registers one entrant and returns the joined count. The
// fourth join releases the bracket. Joining twice with the same connection is
// rejected.
func (o *Orchestrator) AddParticipant(p types.Participant) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.joinableLocked() {
		return len(o.participants), eris.Errorf("tournament %d is not accepting participants", o.cfg.ID)
	}
	for _, existing := range o.participants {
		if existing.Key() == p.Key() {
			return len(o.participants), eris.Errorf("participant %s already joined tournament %d", p.ConnectionID, o.cfg.ID)
		}
	}

	o.participants = append(o.participants, p)
	o.cfg.Bus.AddToGroup(o.Group(), p.ConnectionID)
	o.logger.Info().Str("conn_id", p.ConnectionID).Str("name", p.DisplayName).Msg("participant joined tournament")

	count := len(o.participants)
	if count == Capacity && !o.released {
		o.released = true
		close(o.full)
	}
	o.notifyReload(message.ReloadPlayerChange)
	return count, nil
}

// RemoveParticipant drops one entrant and returns how many remain. A leave
// during a running round forfeits the leaver's current match instead of
// touching the bracket. Zero remaining means the owner should cancel the
// whole orchestrator.
func (o *Orchestrator) RemoveParticipant(p types.Participant) (int, error) {
	o.mu.Lock()

	idx := -1
	for i, existing := range o.participants {
		if existing.Key() == p.Key() {
			idx = i
			break
		}
	}
	if idx < 0 {
		remaining := len(o.participants)
		o.mu.Unlock()
		return remaining, eris.Errorf("participant %s is not in tournament %d", p.ConnectionID, o.cfg.ID)
	}

	o.participants = append(o.participants[:idx], o.participants[idx+1:]...)
	remaining := len(o.participants)
	matchID, playing := o.activeMatch[p.Key()]
	if remaining == 0 {
		// The last leave condemns the bracket under the same lock, so no
		// join can land between this removal and the owner's cancel.
		o.stage.CompareAndSwap(StageCreated, StageCancelled)
		o.stage.CompareAndSwap(StageWaitingForParticipants, StageCancelled)
	}
	o.mu.Unlock()

	o.cfg.Bus.RemoveFromGroup(o.Group(), p.ConnectionID)
	o.logger.Info().Str("conn_id", p.ConnectionID).Int("remaining", remaining).Msg("participant left tournament")

	if playing {
		o.cfg.Matches.Forward(matchID, func(c *match.Coordinator) {
			c.PlayerExited(p)
		})
	}
	if remaining > 0 {
		o.notifyReload(message.ReloadPlayerChange)
	}
	return remaining, nil
}

// Run drives the bracket: it blocks until the bracket is full, then plays
// rounds until one entrant remains. Any persistence failure during round
// progression aborts the tournament with a wrapped error and the Cancelled
// stage; gameplay already broadcast is not rolled back.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer close(o.done)
	defer func() {
		if r := recover(); r != nil {
			o.stage.Store(StageCancelled)
			err = eris.Errorf("tournament %d panicked: %v", o.cfg.ID, r)
			o.logger.Error().Msg(err.Error())
		}
	}()

	o.stage.CompareAndSwap(StageCreated, StageWaitingForParticipants)

	select {
	case <-o.full:
	case <-ctx.Done():
		o.stage.Store(StageCancelled)
		return eris.Wrapf(ctx.Err(), "tournament %d cancelled before start", o.cfg.ID)
	}

	o.stage.CompareAndSwap(StageWaitingForParticipants, StageRunning)
	o.logger.Info().Msg("tournament started")
	statsd.EmitTournamentCount("started")

	if err := o.cfg.Store.UpdateTournamentStatus(ctx, o.cfg.ID, storage.StatusRunning); err != nil {
		return o.fail(ctx, eris.Wrapf(err, "tournament %d failed to persist start", o.cfg.ID))
	}
	o.notifyReload(message.ReloadTournamentStateChange)

	o.mu.Lock()
	entrants := append([]types.Participant(nil), o.participants...)
	o.mu.Unlock()

	round := 0
	for len(entrants) > 1 {
		round++
		winners, err := o.playRound(ctx, round, entrants)
		if err != nil {
			return o.fail(ctx, err)
		}
		entrants = winners
	}

	champion := entrants[0]
	if err := o.cfg.Store.UpdateParticipationRanking(ctx, o.cfg.ID, champion.DisplayName, 1); err != nil {
		return o.fail(ctx, eris.Wrapf(err, "tournament %d failed to persist champion", o.cfg.ID))
	}
	if err := o.cfg.Store.UpdateTournamentStatus(ctx, o.cfg.ID, storage.StatusCompleted); err != nil {
		return o.fail(ctx, eris.Wrapf(err, "tournament %d failed to persist completion", o.cfg.ID))
	}

	o.stage.Store(StageCompleted)
	o.logger.Info().Str("champion", champion.DisplayName).Msg("tournament completed")
	statsd.EmitTournamentCount("completed")
	o.notifyReload(message.ReloadTournamentStateChange)
	o.cfg.Bus.ReleaseGroup(o.Group())
	return nil
}

// playRound pairs the entrants at random, runs every pairing concurrently,
// ranks the losers, and returns the winners. The next round never starts
// until every match of this round has reported a result.
func (o *Orchestrator) playRound(ctx context.Context, round int, entrants []types.Participant) ([]types.Participant, error) {
	if err := o.cfg.Store.CreateRound(ctx, o.cfg.ID, round); err != nil {
		return nil, eris.Wrapf(err, "tournament %d failed to create round %d", o.cfg.ID, round)
	}

	paired := append([]types.Participant(nil), entrants...)
	o.rng.Shuffle(len(paired), func(i, j int) {
		paired[i], paired[j] = paired[j], paired[i]
	})

	// All losers of one round share the same elimination rank.
	loserRank := len(paired)/2 + 1
	winners := make([]types.Participant, len(paired)/2)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < len(paired); i += 2 {
		p1, p2 := paired[i], paired[i+1]
		slot := i / 2

		matchID, err := o.cfg.Store.NextMatchID(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "tournament %d failed to allocate a match id", o.cfg.ID)
		}
		if err := o.cfg.Store.CreateMatch(ctx, storage.Match{
			ID:           matchID,
			TournamentID: o.cfg.ID,
			Round:        round,
			Player1:      p1.DisplayName,
			Player2:      p2.DisplayName,
			Status:       storage.StatusPending,
		}); err != nil {
			return nil, eris.Wrapf(err, "tournament %d failed to create match %d", o.cfg.ID, matchID)
		}

		c := match.New(match.Config{
			ID:           matchID,
			Mode:         match.ModeRemote,
			TournamentID: o.cfg.ID,
			Round:        round,
			Bus:          o.cfg.Bus,
			Store:        o.cfg.Store,
		}, o.matchOpts...)

		// Sides are assigned up front so the players only have to signal
		// ready; a reconnecting player re-issuing INIT keeps their side.
		if _, _, err := c.Init(p1); err != nil {
			return nil, eris.Wrapf(err, "tournament %d failed to seat %s", o.cfg.ID, p1.ConnectionID)
		}
		if _, _, err := c.Init(p2); err != nil {
			return nil, eris.Wrapf(err, "tournament %d failed to seat %s", o.cfg.ID, p2.ConnectionID)
		}

		o.cfg.Matches.Register(c)
		o.trackMatch(matchID, p1, p2)
		o.logger.Info().
			Int64("match_id", matchID).
			Int("round", round).
			Str("side1", p1.DisplayName).
			Str("side2", p2.DisplayName).
			Msg("bracket match created")

		g.Go(func() error {
			defer func() {
				<-c.Done()
				o.cfg.Matches.Remove(matchID)
				o.untrackMatch(p1, p2)
			}()

			res, err := c.Run(gctx)
			if err != nil {
				return eris.Wrapf(err, "tournament %d match %d aborted", o.cfg.ID, matchID)
			}
			if res.Winner == sim.SideNone {
				return eris.Errorf("tournament %d match %d ended with no surviving participant", o.cfg.ID, matchID)
			}

			winners[slot] = res.WinnerParticipant
			loser := p1
			if loser.Key() == res.WinnerParticipant.Key() {
				loser = p2
			}
			if err := o.cfg.Store.UpdateParticipationRanking(gctx, o.cfg.ID, loser.DisplayName, loserRank); err != nil {
				return eris.Wrapf(err, "tournament %d failed to rank %s", o.cfg.ID, loser.DisplayName)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := o.cfg.Store.UpdateRoundStatus(ctx, o.cfg.ID, round, storage.StatusCompleted); err != nil {
		return nil, eris.Wrapf(err, "tournament %d failed to complete round %d", o.cfg.ID, round)
	}
	o.notifyReload(message.ReloadTournamentStateChange)
	return winners, nil
}

// fail marks the tournament cancelled and records the status best-effort. The
// original error always wins over a status-update failure.
func (o *Orchestrator) fail(_ context.Context, cause error) error {
	o.stage.Store(StageCancelled)
	o.logger.Error().Err(cause).Msg("tournament aborted")
	statsd.EmitTournamentCount("cancelled")
	// The status write runs on a fresh context so a cancelled tournament is
	// still recorded as cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.cfg.Store.UpdateTournamentStatus(ctx, o.cfg.ID, storage.StatusCancelled); err != nil {
		o.logger.Error().Err(err).Msg("failed to persist tournament cancellation")
	}
	o.notifyReload(message.ReloadTournamentStateChange)
	o.cfg.Bus.ReleaseGroup(o.Group())
	return cause
}

func (o *Orchestrator) trackMatch(matchID int64, players ...types.Participant) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range players {
		o.activeMatch[p.Key()] = matchID
	}
}

func (o *Orchestrator) untrackMatch(players ...types.Participant) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range players {
		delete(o.activeMatch, p.Key())
	}
}

// notifyReload hints every subscribed view to re-fetch tournament state.
func (o *Orchestrator) notifyReload(event message.ReloadEvent) {
	raw, err := message.TournamentReload(event)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode reload notice")
		return
	}
	o.cfg.Bus.SendToGroup(o.Group(), raw)
}
