package session_test

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/session"
	"github.com/arenalabs/rally/testutils"
	"github.com/arenalabs/rally/tournament"
	"github.com/arenalabs/rally/types"
)

type env struct {
	bus         *testutils.FakeBus
	store       *testutils.FakeStore
	matches     *match.Registry
	tournaments *tournament.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		bus:     testutils.NewFakeBus(),
		store:   testutils.NewFakeStore(),
		matches: match.NewRegistry(),
	}
	e.tournaments = tournament.NewRegistry(e.bus, e.store, e.matches)
	t.Cleanup(e.tournaments.Shutdown)
	return e
}

func (e *env) dispatcher(connID string) *session.Dispatcher {
	return session.NewDispatcher(
		types.Participant{ConnectionID: connID},
		e.matches, e.tournaments, e.bus,
	)
}

func waitFrame(t *testing.T, bus *testutils.FakeBus, substring string) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if !bus.ContainsFrame(substring) {
			return poll.Continue("no frame containing %s yet", substring)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(time.Millisecond))
}

func TestLocalMatchFlowOverDispatcher(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"INIT","data":{"mode":"LOCAL"}}}`))

	// The INIT reply goes straight back to the initiating connection with
	// the assigned side and starting snapshot.
	frames := e.bus.FramesToConnection("conn-1")
	assert.Equal(t, 1, len(frames))
	assert.Check(t, e.bus.ContainsFrame(`"team":"1"`))
	assert.Check(t, e.bus.ContainsFrame(`"stage":"INIT"`))

	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"READY","data":{}}}`))
	waitFrame(t, e.bus, `"stage":"READY"`)
	waitFrame(t, e.bus, `"stage":"PLAY"`)

	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"PLAY","data":{"team":"2","move":"DOWN"}}}`))

	// Disconnecting forfeits the running match.
	d.Disconnect()
	waitFrame(t, e.bus, `"stage":"END"`)
	// A local match never touches the registry.
	assert.Equal(t, 0, e.matches.Len())
}

func TestOutOfOrderMatchFramesAreDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	// READY and PLAY before INIT must be dropped without replies.
	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"READY","data":{}}}`))
	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"PLAY","data":{"team":"1","move":"UP"}}}`))
	assert.Equal(t, 0, len(e.bus.Frames()))

	// The session still accepts a well-ordered INIT afterwards.
	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"INIT","data":{"mode":"LOCAL"}}}`))
	assert.Equal(t, 1, len(e.bus.FramesToConnection("conn-1")))
	d.Disconnect()
}

func TestRemoteInitForUnknownMatchIsDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"INIT","data":{"mode":"REMOTE","match_id":99}}}`))
	assert.Equal(t, 0, len(e.bus.Frames()))

	// The failed INIT must not have advanced the stage machine.
	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"READY","data":{}}}`))
	assert.Equal(t, 0, len(e.bus.Frames()))
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	d.Dispatch(ctx, []byte(`not json`))
	d.Dispatch(ctx, []byte(`{"category":"CHAT","payload":{}}`))
	d.Dispatch(ctx, []byte(`{"category":"MATCH","payload":{"stage":"DANCE","data":{}}}`))
	d.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"RELOAD","data":{}}}`))

	assert.Equal(t, 0, len(e.bus.Frames()))
	assert.Equal(t, 0, e.matches.Len())
	assert.Equal(t, 0, e.tournaments.Len())
}

func TestTournamentJoinCreateAndLeave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	d.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"JOIN","data":{"join_type":"CREATE","participation_name":"alice"}}}`))
	assert.Check(t, e.bus.ContainsFrame(`"status":"OK"`))
	assert.Check(t, e.bus.ContainsFrame(`"tournament_id":1`))
	assert.Equal(t, 1, e.tournaments.Len())

	// Joining again while already entered fails with a null id.
	d.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"JOIN","data":{"join_type":"CREATE","participation_name":"alice"}}}`))
	assert.Check(t, e.bus.ContainsFrame(`"tournament_id":null`))
	assert.Equal(t, 1, e.tournaments.Len())

	// Leaving as the last participant cancels the tournament.
	d.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"LEAVE","data":{"tournament_id":1}}}`))
	assert.Equal(t, 0, e.tournaments.Len())
}

func TestTournamentJoinSelectedUnknownIDFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.dispatcher("conn-1")

	d.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"JOIN","data":{"join_type":"SELECTED","participation_name":"alice","tournament_id":7}}}`))
	assert.Check(t, e.bus.ContainsFrame(`"status":"ERROR"`))
	assert.Equal(t, 0, e.tournaments.Len())
}

func TestDisconnectLeavesTournament(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d1 := e.dispatcher("conn-1")
	d2 := e.dispatcher("conn-2")
	d1.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"JOIN","data":{"join_type":"CREATE","participation_name":"alice"}}}`))
	d2.Dispatch(ctx, []byte(`{"category":"TOURNAMENT","payload":{"type":"JOIN","data":{"join_type":"RANDOM","participation_name":"bob"}}}`))
	assert.Equal(t, 1, e.tournaments.Len())

	orch := e.tournaments.Get(1)
	assert.Assert(t, orch != nil)
	assert.Equal(t, 2, orch.ParticipantCount())

	d2.Disconnect()
	assert.Equal(t, 1, orch.ParticipantCount())
	d1.Disconnect()
	assert.Equal(t, 0, e.tournaments.Len())
}
