package message

import (
	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

type TournamentType string

const (
	TypeJoin   TournamentType = "JOIN"
	TypeLeave  TournamentType = "LEAVE"
	TypeReload TournamentType = "RELOAD"
)

type TournamentPayload struct {
	Type TournamentType  `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeTournamentPayload validates inbound tournament frames. RELOAD is
// server-to-client only, so it is rejected here.
func DecodeTournamentPayload(raw []byte) (TournamentPayload, error) {
	var p TournamentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return TournamentPayload{}, eris.Wrap(err, "malformed tournament payload")
	}
	switch p.Type {
	case TypeJoin, TypeLeave:
		return p, nil
	default:
		return TournamentPayload{}, eris.Errorf("unknown tournament message type %q", p.Type)
	}
}

type JoinType string

const (
	JoinCreate   JoinType = "CREATE"
	JoinRandom   JoinType = "RANDOM"
	JoinSelected JoinType = "SELECTED"
)

type TournamentJoinData struct {
	JoinType          JoinType `json:"join_type"`
	ParticipationName string   `json:"participation_name"`
	TournamentID      int64    `json:"tournament_id,omitempty"`
}

func DecodeTournamentJoinData(raw []byte) (TournamentJoinData, error) {
	var d TournamentJoinData
	if err := json.Unmarshal(raw, &d); err != nil {
		return TournamentJoinData{}, eris.Wrap(err, "malformed JOIN data")
	}
	switch d.JoinType {
	case JoinCreate, JoinRandom, JoinSelected:
	default:
		return TournamentJoinData{}, eris.Errorf("unknown join type %q", d.JoinType)
	}
	if d.ParticipationName == "" {
		return TournamentJoinData{}, eris.New("participation_name must not be empty")
	}
	if d.JoinType == JoinSelected && d.TournamentID == 0 {
		return TournamentJoinData{}, eris.New("SELECTED join requires tournament_id")
	}
	return d, nil
}

type TournamentLeaveData struct {
	TournamentID int64 `json:"tournament_id"`
}

func DecodeTournamentLeaveData(raw []byte) (TournamentLeaveData, error) {
	var d TournamentLeaveData
	if err := json.Unmarshal(raw, &d); err != nil {
		return TournamentLeaveData{}, eris.Wrap(err, "malformed LEAVE data")
	}
	if d.TournamentID == 0 {
		return TournamentLeaveData{}, eris.New("LEAVE requires tournament_id")
	}
	return d, nil
}

type joinResultData struct {
	Status       string `json:"status"`
	TournamentID *int64 `json:"tournament_id"`
}

func encodeTournament(typ TournamentType, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode tournament data")
	}
	payload, err := json.Marshal(TournamentPayload{Type: typ, Data: body})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode tournament payload")
	}
	raw, err := json.Marshal(Envelope{Category: CategoryTournament, Payload: payload})
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode envelope")
	}
	return raw, nil
}

// TournamentJoinResult builds the direct JOIN reply. A failed join carries a
// null tournament id.
func TournamentJoinResult(ok bool, tournamentID int64) ([]byte, error) {
	data := joinResultData{Status: "ERROR"}
	if ok {
		data.Status = "OK"
		data.TournamentID = &tournamentID
	}
	return encodeTournament(TypeJoin, data)
}

// ReloadEvent hints which slice of tournament state the client should
// re-fetch out of band.
type ReloadEvent string

const (
	ReloadPlayerChange          ReloadEvent = "PLAYER_CHANGE"
	ReloadTournamentStateChange ReloadEvent = "TOURNAMENT_STATE_CHANGE"
)

type reloadData struct {
	Event ReloadEvent `json:"event"`
}

// TournamentReload builds the reload notice broadcast to a tournament group.
// It is a hint, not a state payload.
func TournamentReload(event ReloadEvent) ([]byte, error) {
	return encodeTournament(TypeReload, reloadData{Event: event})
}
