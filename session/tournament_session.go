package session

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/message"
	"github.com/arenalabs/rally/tournament"
	"github.com/arenalabs/rally/types"
)

// TournamentSession is the per-connection handler for TOURNAMENT frames. A
// connection can be entered in at most one tournament at a time.
type TournamentSession struct {
	participant types.Participant
	tournaments *tournament.Registry
	bus         events.Bus
	logger      zerolog.Logger

	// joined is the tournament this connection is entered in, 0 for none.
	joined int64
}

func NewTournamentSession(p types.Participant, tournaments *tournament.Registry, bus events.Bus) *TournamentSession {
	return &TournamentSession{
		participant: p,
		tournaments: tournaments,
		bus:         bus,
		logger: log.With().
			Str("conn_id", p.ConnectionID).
			Str("session", "tournament").
			Logger(),
	}
}

// Handle processes one TOURNAMENT payload.
func (s *TournamentSession) Handle(ctx context.Context, raw []byte) error {
	p, err := message.DecodeTournamentPayload(raw)
	if err != nil {
		return err
	}
	switch p.Type {
	case message.TypeJoin:
		return s.handleJoin(ctx, p.Data)
	case message.TypeLeave:
		return s.handleLeave(p.Data)
	}
	return nil
}

// handleJoin seats the participant per join_type and always answers with a
// JOIN result frame: OK carries the tournament id, ERROR a null one.
func (s *TournamentSession) handleJoin(ctx context.Context, data []byte) error {
	join, err := message.DecodeTournamentJoinData(data)
	if err != nil {
		return err
	}
	if s.joined != 0 {
		s.reply(message.TournamentJoinResult(false, 0))
		return nil
	}

	entrant := s.participant
	entrant.DisplayName = join.ParticipationName

	var id int64
	var joinErr error
	switch join.JoinType {
	case message.JoinCreate:
		id, joinErr = s.tournaments.Create(ctx, entrant)
	case message.JoinRandom:
		id, joinErr = s.tournaments.JoinRandom(ctx, entrant)
	case message.JoinSelected:
		id = join.TournamentID
		_, joinErr = s.tournaments.AddParticipant(id, entrant)
	}
	if joinErr != nil {
		s.logger.Warn().Err(joinErr).Str("join_type", string(join.JoinType)).Msg("tournament join failed")
		s.reply(message.TournamentJoinResult(false, 0))
		return nil
	}

	s.joined = id
	s.participant = entrant
	s.reply(message.TournamentJoinResult(true, id))
	return nil
}

func (s *TournamentSession) handleLeave(data []byte) error {
	leave, err := message.DecodeTournamentLeaveData(data)
	if err != nil {
		return err
	}
	if s.joined == 0 || s.joined != leave.TournamentID {
		return nil
	}
	s.leave()
	return nil
}

// Disconnect withdraws the participant from their tournament, if any.
func (s *TournamentSession) Disconnect() {
	if s.joined == 0 {
		return
	}
	s.leave()
}

func (s *TournamentSession) leave() {
	if _, err := s.tournaments.RemoveParticipant(s.joined, s.participant); err != nil {
		// The tournament may have completed and deleted itself already.
		s.logger.Debug().Err(err).Int64("tournament_id", s.joined).Msg("leave had no effect")
	}
	s.joined = 0
}

func (s *TournamentSession) reply(raw []byte, err error) {
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}
	s.bus.SendToConnection(s.participant.ConnectionID, raw)
}
