package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/repositories"
)

func newConversations(t *testing.T) (*ConversationManager, *testClock) {
	t.Helper()
	clock := newTestClock()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewConversationManager(repositories.NewMemoryStore(), 0, clock.Now, log), clock
}

func sendDM(t *testing.T, c *ConversationManager, from, to, content string) string {
	t.Helper()
	dm, err := c.SendDM(context.Background(), SendDMParams{SenderID: from, RecipientID: to, Content: content})
	require.NoError(t, err)
	return dm.ID
}

func TestConversationIDIsOrderIndependent(t *testing.T) {
	assert.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	assert.Equal(t, "alice_bob", ConversationID("bob", "alice"))
	assert.NotEqual(t, ConversationID("alice", "bob"), ConversationID("alice", "carol"))
}

func TestSendDMValidation(t *testing.T) {
	c, _ := newConversations(t)
	ctx := context.Background()

	_, err := c.SendDM(ctx, SendDMParams{SenderID: "a", RecipientID: "a", Content: "me"})
	assert.ErrorIs(t, err, ErrSelfConversation)
	_, err = c.SendDM(ctx, SendDMParams{SenderID: "a", RecipientID: "b", Content: " "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = c.SendDM(ctx, SendDMParams{SenderID: "a", Content: "hi"})
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestGetConversationIsChronologicalFromBothSides(t *testing.T) {
	c, clock := newConversations(t)
	ctx := context.Background()

	first := sendDM(t, c, "alice", "bob", "hi")
	clock.Advance(time.Second)
	second := sendDM(t, c, "bob", "alice", "hey")
	clock.Advance(time.Second)
	sendDM(t, c, "alice", "carol", "elsewhere")

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		thread, err := c.GetConversation(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.Len(t, thread, 2)
		assert.Equal(t, first, thread[0].ID)
		assert.Equal(t, second, thread[1].ID)
	}
}

func TestDirectMessagesNeverExpire(t *testing.T) {
	c, clock := newConversations(t)
	sendDM(t, c, "alice", "bob", "still here")
	clock.Advance(90 * 24 * time.Hour)

	thread, err := c.GetConversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, thread, 1)
}

func TestContextHistory(t *testing.T) {
	c, _ := newConversations(t)
	ctx := context.Background()

	_, err := c.SendDM(ctx, SendDMParams{SenderID: "user", RecipientID: "assistant", Content: "about bob", ContextID: "bob"})
	require.NoError(t, err)
	_, err = c.SendDM(ctx, SendDMParams{SenderID: "assistant", RecipientID: "user", Content: "bob says hi", ContextID: "bob"})
	require.NoError(t, err)
	_, err = c.SendDM(ctx, SendDMParams{SenderID: "user", RecipientID: "assistant", Content: "about carol", ContextID: "carol"})
	require.NoError(t, err)

	history, err := c.GetContextHistory(ctx, "user", "assistant", "bob")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, dm := range history {
		assert.Equal(t, "bob", dm.ContextID)
	}
}

func TestListConversations(t *testing.T) {
	c, clock := newConversations(t)
	ctx := context.Background()

	sendDM(t, c, "bob", "alice", "one")
	clock.Advance(time.Second)
	sendDM(t, c, "bob", "alice", "two")
	clock.Advance(time.Second)
	sendDM(t, c, "alice", "carol", "latest")

	summaries, err := c.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "carol", summaries[0].PeerID)
	assert.Equal(t, "latest", summaries[0].LastMessage.Content)
	assert.Zero(t, summaries[0].UnreadCount)

	assert.Equal(t, "bob", summaries[1].PeerID)
	assert.Equal(t, "two", summaries[1].LastMessage.Content)
	assert.Equal(t, 2, summaries[1].UnreadCount)
}

func TestEditDM(t *testing.T) {
	c, clock := newConversations(t)
	ctx := context.Background()
	id := sendDM(t, c, "alice", "bob", "typo")

	_, err := c.EditDM(ctx, id, "fixed", "bob")
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	edited, err := c.EditDM(ctx, id, "fixed", "alice")
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)
	assert.True(t, edited.IsEdited)

	clock.Advance(49 * time.Hour)
	_, err = c.EditDM(ctx, id, "too late", "alice")
	assert.ErrorIs(t, err, ErrEditWindowExpired)

	_, err = c.EditDM(ctx, "missing", "x", "alice")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteDMIsIdempotent(t *testing.T) {
	c, clock := newConversations(t)
	ctx := context.Background()
	id := sendDM(t, c, "alice", "bob", "secret")

	_, err := c.DeleteDM(ctx, id, "bob")
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	first, err := c.DeleteDM(ctx, id, "alice")
	require.NoError(t, err)
	assert.True(t, first.IsDeleted)

	clock.Advance(time.Minute)
	second, err := c.DeleteDM(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMarkDMReadKeepsFirstReadTime(t *testing.T) {
	c, clock := newConversations(t)
	ctx := context.Background()
	id := sendDM(t, c, "alice", "bob", "ping")

	_, err := c.MarkDMRead(ctx, id, "alice")
	assert.ErrorIs(t, err, ErrNotRecipient)

	first, err := c.MarkDMRead(ctx, id, "bob")
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.True(t, first.Delivered)

	clock.Advance(time.Hour)
	second, err := c.MarkDMRead(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)

	summaries, err := c.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Zero(t, summaries[0].UnreadCount)
}
