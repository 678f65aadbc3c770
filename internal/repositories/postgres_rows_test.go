package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/models"
)

func TestRoomRowsKeepModerators(t *testing.T) {
	room := sampleRoom("r1", base)
	room.Settings = map[string]any{"theme": "dark"}
	row := toRoomRow(room)

	got := fromRoomRows(row, []participantRow{
		{RoomID: "r1", ParticipantID: "host", Nickname: "Host", Role: roleModerator, JoinedAt: base},
		{RoomID: "r1", ParticipantID: "guest", Nickname: "Guest", Role: roleMember, JoinedAt: base},
	})

	assert.True(t, got.IsModerator("host"))
	assert.False(t, got.IsModerator("guest"))
	assert.True(t, got.Participants["host"].IsModerator)
	assert.Equal(t, "dark", got.Settings["theme"])
}

func TestMessagePayloadSurvivesJSONColumn(t *testing.T) {
	msg := sampleMessage("m1", "r1", base)
	msg.Type = models.MessagePoll
	msg.Poll = &models.PollData{Question: "Q", Options: []models.PollOption{{ID: "opt-1", Text: "A", Votes: []string{"u"}}}}
	msg.Reactions = map[string][]string{"👍": {"u"}}

	row := toMessageRow(msg)
	value, err := row.Payload.Value()
	require.NoError(t, err)

	var scanned jsonColumn[messagePayload]
	require.NoError(t, scanned.Scan(value))
	row.Payload = scanned

	got := fromMessageRow(row)
	require.NotNil(t, got.Poll)
	assert.Equal(t, []string{"u"}, got.Poll.Options[0].Votes)
	assert.Equal(t, []string{"u"}, got.Reactions["👍"])
	assert.NotNil(t, got.ReadBy)
}

func TestJSONColumnScan(t *testing.T) {
	var col jsonColumn[map[string]any]
	require.NoError(t, col.Scan(nil))
	assert.Nil(t, col.V)
	require.NoError(t, col.Scan(`{"a":1}`))
	assert.Equal(t, float64(1), col.V["a"])
	assert.Error(t, col.Scan(42))
}
