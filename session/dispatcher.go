package session

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/message"
	"github.com/arenalabs/rally/tournament"
	"github.com/arenalabs/rally/types"
)

// Dispatcher routes one connection's inbound frames to its session handlers.
// Protocol errors (malformed frames, out-of-order stages, unknown enum
// values) are logged and dropped; the connection stays open.
type Dispatcher struct {
	participant types.Participant
	match       *MatchSession
	tournament  *TournamentSession
	logger      zerolog.Logger
}

func NewDispatcher(
	p types.Participant,
	matches *match.Registry,
	tournaments *tournament.Registry,
	bus events.Bus,
) *Dispatcher {
	return &Dispatcher{
		participant: p,
		match:       NewMatchSession(p, matches, bus),
		tournament:  NewTournamentSession(p, tournaments, bus),
		logger: log.With().
			Str("conn_id", p.ConnectionID).
			Logger(),
	}
}

// Dispatch handles one raw inbound frame.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	env, err := message.DecodeEnvelope(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("dropped frame")
		return
	}

	switch env.Category {
	case message.CategoryMatch:
		err = d.match.Handle(env.Payload)
	case message.CategoryTournament:
		err = d.tournament.Handle(ctx, env.Payload)
	}
	if err != nil {
		d.logger.Warn().Err(err).Str("category", string(env.Category)).Msg("dropped frame")
	}
}

// Disconnect tears down whatever the connection was doing: an open match is
// forfeited, a joined tournament is left.
func (d *Dispatcher) Disconnect() {
	d.match.Disconnect()
	d.tournament.Disconnect()
	d.logger.Info().Msg("connection sessions closed")
}
