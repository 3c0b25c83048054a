// Package message defines the JSON wire protocol spoken over each duplex
// connection. Every frame is an Envelope whose category selects the payload
// shape. Category and stage values are closed enums; anything outside them is
// a protocol error for the dispatcher to drop.
package message

import (
	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/arenalabs/rally/sim"
)

type Category string

const (
	CategoryMatch      Category = "MATCH"
	CategoryTournament Category = "TOURNAMENT"
)

// Envelope is the top-level frame. Payload decoding is deferred until the
// category has routed the frame to a session handler.
type Envelope struct {
	Category Category        `json:"category"`
	Payload  json.RawMessage `json:"payload"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, eris.Wrap(err, "malformed envelope")
	}
	switch env.Category {
	case CategoryMatch, CategoryTournament:
		return env, nil
	default:
		return Envelope{}, eris.Errorf("unknown message category %q", env.Category)
	}
}

type MatchStage string

const (
	StageInit  MatchStage = "INIT"
	StageReady MatchStage = "READY"
	StagePlay  MatchStage = "PLAY"
	StageEnd   MatchStage = "END"
)

type MatchPayload struct {
	Stage MatchStage      `json:"stage"`
	Data  json.RawMessage `json:"data"`
}

func DecodeMatchPayload(raw []byte) (MatchPayload, error) {
	var p MatchPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return MatchPayload{}, eris.Wrap(err, "malformed match payload")
	}
	switch p.Stage {
	case StageInit, StageReady, StagePlay, StageEnd:
		return p, nil
	default:
		return MatchPayload{}, eris.Errorf("unknown match stage %q", p.Stage)
	}
}

type MatchMode string

const (
	ModeLocal  MatchMode = "LOCAL"
	ModeRemote MatchMode = "REMOTE"
)

type MatchInitData struct {
	Mode    MatchMode `json:"mode"`
	MatchID int64     `json:"match_id,omitempty"`
}

func DecodeMatchInitData(raw []byte) (MatchInitData, error) {
	var d MatchInitData
	if err := json.Unmarshal(raw, &d); err != nil {
		return MatchInitData{}, eris.Wrap(err, "malformed INIT data")
	}
	switch d.Mode {
	case ModeLocal, ModeRemote:
		return d, nil
	default:
		return MatchInitData{}, eris.Errorf("unknown match mode %q", d.Mode)
	}
}

type MatchPlayData struct {
	Team string `json:"team"`
	Move string `json:"move"`
}

func DecodeMatchPlayData(raw []byte) (MatchPlayData, error) {
	var d MatchPlayData
	if err := json.Unmarshal(raw, &d); err != nil {
		return MatchPlayData{}, eris.Wrap(err, "malformed PLAY data")
	}
	if d.Team != "1" && d.Team != "2" {
		return MatchPlayData{}, eris.Errorf("unknown team %q", d.Team)
	}
	if d.Move != "UP" && d.Move != "DOWN" {
		return MatchPlayData{}, eris.Errorf("unknown move %q", d.Move)
	}
	return d, nil
}

// Side converts the wire team tag to a simulation side.
func (d MatchPlayData) Side() sim.Side {
	if d.Team == "1" {
		return sim.Side1
	}
	return sim.Side2
}

// Direction converts the wire move tag to a paddle direction.
func (d MatchPlayData) Direction() sim.Direction {
	if d.Move == "UP" {
		return sim.DirUp
	}
	return sim.DirDown
}
