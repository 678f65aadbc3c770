package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRoom(id string, at time.Time) models.Room {
	return models.Room{
		ID:           id,
		Code:         "ABC123",
		CreatedAt:    at,
		MaxUsers:     4,
		Participants: map[string]models.Participant{"host": {ID: "host", Nickname: "Host", JoinedAt: at}},
		Moderators:   map[string]struct{}{"host": {}},
	}
}

func sampleMessage(id, roomID string, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    roomID,
		SenderID:  "host",
		Content:   "hi " + id,
		Type:      models.MessageNormal,
		Timestamp: at,
		Reactions: map[string][]string{},
	}
}

func TestMemoryStoreRooms(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRoom(ctx, sampleRoom("b", base.Add(time.Second))))
	require.NoError(t, s.SaveRoom(ctx, sampleRoom("a", base)))

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "a", rooms[0].ID)

	got, err := s.GetRoom(ctx, "a")
	require.NoError(t, err)
	got.Participants["intruder"] = models.Participant{ID: "intruder"}
	again, err := s.GetRoom(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, again.Participants, 1)

	require.NoError(t, s.DeleteRoom(ctx, "a"))
	require.NoError(t, s.DeleteRoom(ctx, "a"))
	_, err = s.GetRoom(ctx, "a")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveMessage(ctx, sampleMessage("m2", "room", base.Add(time.Second))))
	require.NoError(t, s.SaveMessage(ctx, sampleMessage("m1", "room", base)))
	require.NoError(t, s.SaveMessage(ctx, sampleMessage("other", "elsewhere", base)))

	updated := sampleMessage("m2", "room", base.Add(time.Second))
	updated.Content = "edited"
	require.NoError(t, s.SaveMessage(ctx, updated))

	msgs, err := s.ListMessages(ctx, "room")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "edited", msgs[1].Content)

	require.NoError(t, s.DeleteMessage(ctx, "m1"))
	_, err = s.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	require.NoError(t, s.DeleteRoomMessages(ctx, "room"))
	msgs, err = s.ListMessages(ctx, "room")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.GetMessage(ctx, "other")
	assert.NoError(t, err)
}

func TestMemoryStoreDirectMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	dms := []models.DirectMessage{
		{ID: "d1", ConversationID: "alice_bob", SenderID: "alice", RecipientID: "bob", Timestamp: base},
		{ID: "d2", ConversationID: "alice_bob", SenderID: "bob", RecipientID: "alice", Timestamp: base.Add(time.Second)},
		{ID: "d3", ConversationID: "alice_carol", SenderID: "carol", RecipientID: "alice", Timestamp: base.Add(2 * time.Second)},
	}
	for _, dm := range dms {
		require.NoError(t, s.SaveDirectMessage(ctx, dm))
	}

	thread, err := s.ListConversation(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Len(t, thread, 2)

	forAlice, err := s.ListDirectMessagesForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, forAlice, 3)
	forBob, err := s.ListDirectMessagesForUser(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, forBob, 2)

	_, err = s.GetDirectMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NoError(t, s.Ping(ctx))
}
