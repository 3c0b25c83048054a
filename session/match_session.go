// Package session holds the per-connection message handlers. Each live
// connection owns one Dispatcher, which owns one MatchSession and one
// TournamentSession; every handler runs on that connection's read loop, so
// session state needs no locking.
package session

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arenalabs/rally/events"
	"github.com/arenalabs/rally/match"
	"github.com/arenalabs/rally/message"
	"github.com/arenalabs/rally/types"
)

// MatchSession is the per-connection state machine for MATCH frames. It
// enforces stage ordering: INIT opens a match, READY must follow INIT, PLAY
// repeats after READY, END or a disconnect closes it. An out-of-order frame
// is a protocol error and is dropped.
type MatchSession struct {
	participant types.Participant
	matches     *match.Registry
	bus         events.Bus
	logger      zerolog.Logger

	// local is set only for mode LOCAL, where the session owns the
	// coordinator exclusively and the registry is bypassed.
	local   *match.Coordinator
	matchID int64
	next    message.MatchStage
}

func NewMatchSession(p types.Participant, matches *match.Registry, bus events.Bus) *MatchSession {
	return &MatchSession{
		participant: p,
		matches:     matches,
		bus:         bus,
		next:        message.StageInit,
		logger: log.With().
			Str("conn_id", p.ConnectionID).
			Str("session", "match").
			Logger(),
	}
}

// Handle processes one MATCH payload.
func (s *MatchSession) Handle(raw []byte) error {
	p, err := message.DecodeMatchPayload(raw)
	if err != nil {
		return err
	}
	if err := s.checkStage(p.Stage); err != nil {
		return err
	}

	switch p.Stage {
	case message.StageInit:
		return s.handleInit(p.Data)
	case message.StageReady:
		return s.handleReady()
	case message.StagePlay:
		return s.handlePlay(p.Data)
	case message.StageEnd:
		return s.handleEnd()
	}
	return nil
}

// checkStage rejects frames that arrive out of order. PLAY repeats; END is
// accepted any time a match is open.
func (s *MatchSession) checkStage(stage message.MatchStage) error {
	if stage == s.next {
		return nil
	}
	if stage == message.StageEnd && s.active() {
		return nil
	}
	return eris.Errorf("unexpected %s frame, next expected stage is %s", stage, s.next)
}

func (s *MatchSession) active() bool {
	return s.next != message.StageInit
}

func (s *MatchSession) handleInit(data []byte) error {
	init, err := message.DecodeMatchInitData(data)
	if err != nil {
		return err
	}

	switch init.Mode {
	case message.ModeLocal:
		// A local match never touches the registry: this connection is the
		// only one that can reach it.
		c := match.New(match.Config{Mode: match.ModeLocal, Bus: s.bus})
		side, state, err := c.Init(s.participant)
		if err != nil {
			return err
		}
		go func() {
			if _, err := c.Run(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("local match run failed")
			}
		}()
		s.local = c
		s.reply(message.MatchInitReply(side, 0, state))
	case message.ModeRemote:
		found := false
		var initErr error
		s.matches.Forward(init.MatchID, func(c *match.Coordinator) {
			found = true
			side, state, err := c.Init(s.participant)
			if err != nil {
				initErr = err
				return
			}
			s.reply(message.MatchInitReply(side, init.MatchID, state))
		})
		if !found {
			return eris.Errorf("match %d is not running", init.MatchID)
		}
		if initErr != nil {
			return initErr
		}
		s.matchID = init.MatchID
	}

	s.next = message.StageReady
	return nil
}

func (s *MatchSession) handleReady() error {
	err := s.forward(func(c *match.Coordinator) {
		if readyErr := c.Ready(s.participant); readyErr != nil {
			s.logger.Warn().Err(readyErr).Msg("ready signal rejected")
		}
	})
	if err != nil {
		return err
	}
	s.next = message.StagePlay
	return nil
}

func (s *MatchSession) handlePlay(data []byte) error {
	play, err := message.DecodeMatchPlayData(data)
	if err != nil {
		return err
	}
	// The team comes from the payload rather than the seat assignment: a
	// local player drives both paddles over one connection.
	return s.forward(func(c *match.Coordinator) {
		c.MovePaddle(play.Side(), play.Direction())
	})
}

// handleEnd closes the session's match. A match still in progress is
// forfeited, an already finished one just gets its session state cleared.
func (s *MatchSession) handleEnd() error {
	err := s.forward(func(c *match.Coordinator) {
		c.PlayerExited(s.participant)
	})
	s.reset()
	return err
}

// Disconnect forfeits any open match. Called by the dispatcher when the
// connection drops.
func (s *MatchSession) Disconnect() {
	if !s.active() {
		return
	}
	if err := s.forward(func(c *match.Coordinator) {
		c.PlayerExited(s.participant)
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to exit match on disconnect")
	}
	s.reset()
}

// forward routes an action to the session's coordinator: directly for a local
// match, through the registry for a remote one. A remote match missing from
// the registry already ended, which is not an error.
func (s *MatchSession) forward(action func(*match.Coordinator)) error {
	if s.local != nil {
		action(s.local)
		return nil
	}
	if s.matchID == 0 {
		return eris.New("no open match for this session")
	}
	s.matches.Forward(s.matchID, action)
	return nil
}

func (s *MatchSession) reset() {
	s.local = nil
	s.matchID = 0
	s.next = message.StageInit
}

// reply sends an already-encoded frame back to this session's connection.
func (s *MatchSession) reply(raw []byte, err error) {
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}
	s.bus.SendToConnection(s.participant.ConnectionID, raw)
}
