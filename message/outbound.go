package message

import (
	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/arenalabs/rally/sim"
)

// MatchSnapshotData is the server-populated broadcast body for READY, PLAY,
// and END frames. Win is only set on END.
type MatchSnapshotData struct {
	Win      string  `json:"win,omitempty"`
	Score1   int     `json:"score1"`
	Score2   int     `json:"score2"`
	Paddle1Y float64 `json:"paddle1"`
	Paddle2Y float64 `json:"paddle2"`
	BallX    float64 `json:"ball_x"`
	BallY    float64 `json:"ball_y"`
	BallVX   float64 `json:"ball_vx"`
	BallVY   float64 `json:"ball_vy"`
}

// MatchInitReplyData is the direct reply to an INIT, telling the initiating
// connection which side it plays and where the simulation currently stands.
type MatchInitReplyData struct {
	MatchSnapshotData
	Team    string `json:"team"`
	MatchID int64  `json:"match_id,omitempty"`
}

func snapshotData(s sim.State) MatchSnapshotData {
	return MatchSnapshotData{
		Score1:   s.Score1,
		Score2:   s.Score2,
		Paddle1Y: s.Paddle1Y,
		Paddle2Y: s.Paddle2Y,
		BallX:    s.BallX,
		BallY:    s.BallY,
		BallVX:   s.BallVX,
		BallVY:   s.BallVY,
	}
}

func encodeMatch(stage MatchStage, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode match data")
	}
	payload, err := json.Marshal(MatchPayload{Stage: stage, Data: body})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode match payload")
	}
	raw, err := json.Marshal(Envelope{Category: CategoryMatch, Payload: payload})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode envelope")
	}
	return raw, nil
}

// MatchInitReply builds the frame sent back to the connection that issued an
// INIT. matchID is 0 for local games.
func MatchInitReply(side sim.Side, matchID int64, s sim.State) ([]byte, error) {
	return encodeMatch(StageInit, MatchInitReplyData{
		MatchSnapshotData: snapshotData(s),
		Team:              side.String(),
		MatchID:           matchID,
	})
}

// MatchReady builds the broadcast announcing that all expected participants
// signalled ready and the tick loop is about to start.
func MatchReady(s sim.State) ([]byte, error) {
	return encodeMatch(StageReady, snapshotData(s))
}

// MatchSnapshot builds the per-tick broadcast of the playfield.
func MatchSnapshot(s sim.State) ([]byte, error) {
	return encodeMatch(StagePlay, snapshotData(s))
}

// MatchEnd builds the terminal broadcast carrying the (possibly forced)
// result.
func MatchEnd(winner sim.Side, s sim.State) ([]byte, error) {
	data := snapshotData(s)
	data.Win = winner.String()
	return encodeMatch(StageEnd, data)
}
