package tournament_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/sim"
	"github.com/arenalabs/rally/testutils"
	"github.com/arenalabs/rally/tournament"
	"github.com/arenalabs/rally/types"
)

func entrant(name string) types.Participant {
	return types.Participant{ConnectionID: "conn-" + name, DisplayName: name}
}

type fixture struct {
	bus     *testutils.FakeBus
	store   *testutils.FakeStore
	matches *match.Registry
	reg     *tournament.Registry
}

func newFixture(t *testing.T, opts ...tournament.Option) *fixture {
	t.Helper()
	f := &fixture{
		bus:     testutils.NewFakeBus(),
		store:   testutils.NewFakeStore(),
		matches: match.NewRegistry(),
	}
	f.reg = tournament.NewRegistry(f.bus, f.store, f.matches, opts...)
	t.Cleanup(f.reg.Shutdown)
	return f
}

// forfeitSide2 forces the given bracket match to end with side 1 as winner
// and returns both display names.
func (f *fixture) forfeitSide2(t *testing.T, matchID int64) (winner, loser string) {
	t.Helper()
	f.matches.Forward(matchID, func(c *match.Coordinator) {
		seats := c.Participants()
		winner = seats[sim.Side1].DisplayName
		loser = seats[sim.Side2].DisplayName
		c.PlayerExited(seats[sim.Side2])
	})
	assert.Check(t, winner != "", "match %d was not found in the registry", matchID)
	return winner, loser
}

func waitMatchCount(t *testing.T, f *fixture, want int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := f.matches.Len(); got != want {
			return poll.Continue("want %d live matches, have %d", want, got)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
}

func waitTournamentGone(t *testing.T, f *fixture) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := f.reg.Len(); got != 0 {
			return poll.Continue("want every tournament torn down, have %d", got)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
}

func TestTournamentRunsToCompletion(t *testing.T) {
	f := newFixture(t, tournament.WithShuffleSeed(42))
	ctx := context.Background()

	id, err := f.reg.Create(ctx, entrant("alice"))
	assert.NilError(t, err)
	for _, name := range []string{"bob", "carol", "dave"} {
		_, err := f.reg.AddParticipant(id, entrant(name))
		assert.NilError(t, err)
	}
	orch := f.reg.Get(id)
	assert.Assert(t, orch != nil)

	// Both semifinals come up concurrently; side 2 of each forfeits.
	waitMatchCount(t, f, 2)
	_, loser1 := f.forfeitSide2(t, 1)
	_, loser2 := f.forfeitSide2(t, 2)

	// The final only exists once both semifinals have reported.
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if f.matches.Get(3) == nil {
			return poll.Continue("final not created yet")
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
	champion, runnerUp := f.forfeitSide2(t, 3)

	waitTournamentGone(t, f)
	assert.Equal(t, tournament.StageCompleted, orch.Stage())
	assert.Equal(t, 0, f.matches.Len())

	assert.Equal(t, 1, f.store.Ranking(champion))
	assert.Equal(t, 2, f.store.Ranking(runnerUp))
	assert.Equal(t, 3, f.store.Ranking(loser1))
	assert.Equal(t, 3, f.store.Ranking(loser2))

	// 2 semifinals + 1 final, over 2 rounds.
	assert.Equal(t, 3, f.store.CallCount("CreateMatch"))
	assert.Equal(t, 2, f.store.CallCount("CreateRound"))
	assert.Equal(t, 2, f.store.CallCount("UpdateRoundStatus"))
	// One status write for start, one for completion.
	assert.Equal(t, 2, f.store.CallCount("UpdateTournamentStatus"))
}

func TestLastLeaverCancelsPendingTournament(t *testing.T) {
	for joined := 1; joined <= 3; joined++ {
		t.Run(fmt.Sprintf("%d_joined", joined), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			id, err := f.reg.Create(ctx, entrant("p0"))
			assert.NilError(t, err)
			for i := 1; i < joined; i++ {
				_, err := f.reg.AddParticipant(id, entrant(fmt.Sprintf("p%d", i)))
				assert.NilError(t, err)
			}
			orch := f.reg.Get(id)
			assert.Assert(t, orch != nil)

			for i := joined - 1; i > 0; i-- {
				remaining, err := f.reg.RemoveParticipant(id, entrant(fmt.Sprintf("p%d", i)))
				assert.NilError(t, err)
				assert.Equal(t, i, remaining)
			}
			remaining, err := f.reg.RemoveParticipant(id, entrant("p0"))
			assert.NilError(t, err)
			assert.Equal(t, 0, remaining)

			// The last leave cancels and awaits the run task before
			// returning, so the entry must already be gone.
			assert.Equal(t, 0, f.reg.Len())
			assert.Equal(t, tournament.StageCancelled, orch.Stage())
		})
	}
}

func TestJoinCannotLandAfterLastLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.reg.Create(ctx, entrant("alice"))
	assert.NilError(t, err)
	orch := f.reg.Get(id)
	assert.Assert(t, orch != nil)

	// Step into the window between the last leave and the registry's cancel:
	// remove through the orchestrator directly, while the registry entry
	// still exists.
	remaining, err := orch.RemoveParticipant(entrant("alice"))
	assert.NilError(t, err)
	assert.Equal(t, 0, remaining)

	// The emptied bracket must already refuse joins; a JOIN-OK here would
	// hand the client an id that is about to be torn down.
	_, err = f.reg.AddParticipant(id, entrant("bob"))
	assert.ErrorContains(t, err, "not accepting")
	assert.Equal(t, tournament.StageCancelled, orch.Stage())
	assert.Equal(t, 0, orch.ParticipantCount())
}

func TestJoinRandomPrefersOpenTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reg.JoinRandom(ctx, entrant("alice"))
	assert.NilError(t, err)
	for _, name := range []string{"bob", "carol", "dave"} {
		id, err := f.reg.JoinRandom(ctx, entrant(name))
		assert.NilError(t, err)
		assert.Equal(t, first, id)
	}

	// The first bracket is full and running, so the next random join opens
	// a fresh one.
	second, err := f.reg.JoinRandom(ctx, entrant("erin"))
	assert.NilError(t, err)
	assert.Check(t, second != first)
	assert.Equal(t, 2, f.reg.Len())
}

func TestAddParticipantRejectsDuplicatesAndOverflow(t *testing.T) {
	orch := tournament.New(tournament.Config{
		ID:      1,
		Bus:     testutils.NewFakeBus(),
		Store:   testutils.NewFakeStore(),
		Matches: match.NewRegistry(),
	})

	count, err := orch.AddParticipant(entrant("alice"))
	assert.NilError(t, err)
	assert.Equal(t, 1, count)

	_, err = orch.AddParticipant(entrant("alice"))
	assert.ErrorContains(t, err, "already joined")

	for _, name := range []string{"bob", "carol", "dave"} {
		_, err := orch.AddParticipant(entrant(name))
		assert.NilError(t, err)
	}
	_, err = orch.AddParticipant(entrant("erin"))
	assert.ErrorContains(t, err, "not accepting")
	assert.Equal(t, tournament.Capacity, orch.ParticipantCount())
}

func TestPersistenceFailureCancelsTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.FailOn("CreateRound", errors.New("store down"))

	id, err := f.reg.Create(ctx, entrant("alice"))
	assert.NilError(t, err)
	orch := f.reg.Get(id)
	assert.Assert(t, orch != nil)
	for _, name := range []string{"bob", "carol", "dave"} {
		_, err := f.reg.AddParticipant(id, entrant(name))
		assert.NilError(t, err)
	}

	waitTournamentGone(t, f)
	assert.Equal(t, tournament.StageCancelled, orch.Stage())
	assert.Equal(t, 0, f.matches.Len())
	assert.Equal(t, 0, f.store.CallCount("CreateMatch"))
	// One status write for start, one for the cancellation.
	assert.Equal(t, 2, f.store.CallCount("UpdateTournamentStatus"))
}

func TestRemovalsOnDifferentTournamentsDoNotSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reg.Create(ctx, entrant("alice"))
	assert.NilError(t, err)
	second, err := f.reg.Create(ctx, entrant("bob"))
	assert.NilError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.reg.RemoveParticipant(first, entrant("alice"))
		assert.Check(t, err == nil)
	}()
	go func() {
		defer wg.Done()
		_, err := f.reg.RemoveParticipant(second, entrant("bob"))
		assert.Check(t, err == nil)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent removals blocked each other")
	}
	assert.Equal(t, 0, f.reg.Len())
}

func TestMidMatchLeaveForfeitsTheMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.reg.Create(ctx, entrant("alice"))
	assert.NilError(t, err)
	for _, name := range []string{"bob", "carol", "dave"} {
		_, err := f.reg.AddParticipant(id, entrant(name))
		assert.NilError(t, err)
	}
	waitMatchCount(t, f, 2)

	// Find alice's semifinal and make her leave the tournament; her
	// opponent must advance by forfeit.
	var aliceMatch int64
	var opponent string
	for _, matchID := range []int64{1, 2} {
		f.matches.Forward(matchID, func(c *match.Coordinator) {
			for side, p := range c.Participants() {
				if p.DisplayName == "alice" {
					aliceMatch = matchID
					opponent = c.Participants()[side.Opponent()].DisplayName
				}
			}
		})
	}
	assert.Assert(t, aliceMatch != 0)

	remaining, err := f.reg.RemoveParticipant(id, entrant("alice"))
	assert.NilError(t, err)
	assert.Equal(t, 3, remaining)

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if f.matches.Get(aliceMatch) != nil {
			return poll.Continue("forfeited match still live")
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
	assert.Equal(t, 3, f.store.Ranking("alice"))
	assert.Check(t, opponent != "")
	assert.Equal(t, 0, f.store.Ranking(opponent))
}
