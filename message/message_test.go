package message_test

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/arenalabs/rally/message"
)

func TestDecodeEnvelopeRejectsUnknownCategory(t *testing.T) {
	_, err := message.DecodeEnvelope([]byte(`{"category":"CHAT","payload":{}}`))
	assert.ErrorContains(t, err, "unknown message category")

	_, err = message.DecodeEnvelope([]byte(`not json`))
	assert.ErrorContains(t, err, "malformed envelope")

	env, err := message.DecodeEnvelope([]byte(`{"category":"MATCH","payload":{"stage":"INIT"}}`))
	assert.NilError(t, err)
	assert.Equal(t, message.CategoryMatch, env.Category)
}

func TestDecodeMatchPayloadValidatesStage(t *testing.T) {
	_, err := message.DecodeMatchPayload([]byte(`{"stage":"PAUSE","data":{}}`))
	assert.ErrorContains(t, err, "unknown match stage")

	p, err := message.DecodeMatchPayload([]byte(`{"stage":"PLAY","data":{"team":"1","move":"UP"}}`))
	assert.NilError(t, err)
	assert.Equal(t, message.StagePlay, p.Stage)
}

func TestDecodeMatchPlayDataValidatesTeamAndMove(t *testing.T) {
	_, err := message.DecodeMatchPlayData([]byte(`{"team":"3","move":"UP"}`))
	assert.ErrorContains(t, err, "unknown team")

	_, err = message.DecodeMatchPlayData([]byte(`{"team":"1","move":"LEFT"}`))
	assert.ErrorContains(t, err, "unknown move")

	d, err := message.DecodeMatchPlayData([]byte(`{"team":"2","move":"DOWN"}`))
	assert.NilError(t, err)
	assert.Equal(t, "2", d.Team)
}

func TestDecodeTournamentJoinData(t *testing.T) {
	_, err := message.DecodeTournamentJoinData([]byte(`{"join_type":"SELECTED","participation_name":"ada"}`))
	assert.ErrorContains(t, err, "requires tournament_id")

	_, err = message.DecodeTournamentJoinData([]byte(`{"join_type":"CREATE","participation_name":""}`))
	assert.ErrorContains(t, err, "must not be empty")

	d, err := message.DecodeTournamentJoinData([]byte(`{"join_type":"RANDOM","participation_name":"ada"}`))
	assert.NilError(t, err)
	assert.Equal(t, message.JoinRandom, d.JoinType)
}

func TestJoinResultCarriesNullIDOnError(t *testing.T) {
	raw, err := message.TournamentJoinResult(false, 0)
	assert.NilError(t, err)
	assert.Check(t, strings.Contains(string(raw), `"tournament_id":null`))
	assert.Check(t, strings.Contains(string(raw), `"status":"ERROR"`))

	raw, err = message.TournamentJoinResult(true, 42)
	assert.NilError(t, err)
	assert.Check(t, strings.Contains(string(raw), `"tournament_id":42`))
}
