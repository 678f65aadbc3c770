package chat

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/models"
	"roomchat/internal/repositories"
)

func messageIDs(msgs []models.Message) []string {
	return lo.Map(msgs, func(m models.Message, _ int) string { return m.ID })
}

func TestMessageVisibleUntilTTL(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		ctx := context.Background()
		room := f.createRoom(t, 2)

		ttl := time.Duration(1+rng.Intn(3600)) * time.Second
		msg, err := f.messages.CreateMessage(ctx, CreateMessageParams{
			RoomID: room.ID, SenderID: "host", Content: "tick", TTL: &ttl,
		})
		require.NoError(t, err)

		before := time.Duration(rng.Int63n(int64(ttl)))
		f.clock.Advance(before)
		msgs, err := f.messages.GetMessages(ctx, room.ID)
		require.NoError(t, err)
		assert.Contains(t, messageIDs(msgs), msg.ID, "ttl=%s read after %s", ttl, before)

		f.clock.Advance(ttl - before + time.Duration(rng.Intn(1000))*time.Millisecond)
		msgs, err = f.messages.GetMessages(ctx, room.ID)
		require.NoError(t, err)
		assert.NotContains(t, messageIDs(msgs), msg.ID, "ttl=%s", ttl)
	}
}

func TestZeroTTLMessageIsNeverStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)

	for _, ttl := range []time.Duration{0, -time.Minute} {
		msg, err := f.messages.CreateMessage(ctx, CreateMessageParams{
			RoomID: room.ID, SenderID: "host", Content: "gone", TTL: &ttl,
		})
		require.ErrorIs(t, err, ErrMessageExpired, "ttl=%s", ttl)
		assert.Empty(t, msg.ID)
	}

	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, f.messages.PendingExpirations())
}

// vanishingRooms finds the room once, then reports it gone.
type vanishingRooms struct {
	mu    sync.Mutex
	room  models.Room
	calls int
}

func (v *vanishingRooms) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.calls > 1 || roomID != v.room.ID {
		return models.Room{}, ErrRoomNotFound
	}
	return v.room, nil
}

func TestMessageOfRoomRemovedDuringCreateIsDropped(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	lookup := &vanishingRooms{room: models.Room{ID: "room-1"}}
	messages := NewMessageManager(lookup, store, nil, MessageOptions{}, logs.GetLoggerFromLevel(slog.LevelDebug))
	t.Cleanup(messages.Close)

	for _, kind := range []models.MessageType{models.MessageNormal, models.MessageSystem} {
		lookup.calls = 0
		_, err := messages.CreateMessage(ctx, CreateMessageParams{RoomID: "room-1", SenderID: "host", Content: "late", Type: kind})
		require.ErrorIs(t, err, ErrRoomNotFound, "type=%s", kind)
	}

	msgs, err := store.ListMessages(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, messages.PendingExpirations())
}

func TestSystemAndAIMessagesNeverExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)

	for _, kind := range []models.MessageType{models.MessageSystem, models.MessageAI} {
		msg, err := f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, Content: "note", Type: kind})
		require.NoError(t, err)
		assert.Nil(t, msg.ExpiresAt)
	}
	f.clock.Advance(365 * 24 * time.Hour)

	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Zero(t, f.messages.PendingExpirations())
}

func TestCreateMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)

	_, err := f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, SenderID: "host", Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, Content: "x", Type: "sticker"})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
	_, err = f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, Content: "x", Type: models.MessageFake})
	assert.ErrorIs(t, err, ErrInvalidMessageType)
	_, err = f.messages.CreateImageMessage(ctx, CreateMessageParams{RoomID: room.ID, SenderID: "host"}, models.ImageData{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = f.messages.CreateFileMessage(ctx, CreateMessageParams{RoomID: room.ID, SenderID: "host"}, models.FileData{URL: "https://cdn/x"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: "missing", Content: "x"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMediaMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	params := CreateMessageParams{RoomID: room.ID, SenderID: "host", SenderNickname: "Host"}

	img, err := f.messages.CreateImageMessage(ctx, params, models.ImageData{URL: "https://cdn/cat.png", Width: 10, Height: 20})
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, img.Type)
	require.NotNil(t, img.Image)

	file, err := f.messages.CreateFileMessage(ctx, params, models.FileData{URL: "https://cdn/a.pdf", Name: "a.pdf", Size: 42})
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", file.File.Name)

	voice, err := f.messages.CreateVoiceMessage(ctx, params, models.VoiceData{URL: "https://cdn/v.ogg", DurationSeconds: 3.5})
	require.NoError(t, err)
	require.NotNil(t, voice.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), *voice.ExpiresAt)
}

func TestInjectedFakeMessageIsNeverStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	f.say(t, room.ID, "host", "real")

	fake, err := f.messages.InjectFakeMessage(ctx, room.ID, "totally real", "Admin")
	require.NoError(t, err)
	assert.Equal(t, models.MessageFake, fake.Type)
	assert.Equal(t, "Admin", fake.SpoofSource)

	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.NotContains(t, messageIDs(msgs), fake.ID)
	_, err = f.messages.GetMessage(ctx, fake.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = f.messages.InjectFakeMessage(ctx, room.ID, " ", "Admin")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestEditMessageOwnerAndWindow(t *testing.T) {
	cases := []struct {
		name    string
		userID  string
		elapsed time.Duration
		wantErr error
	}{
		{"sender within window", "host", time.Hour, nil},
		{"sender at window edge", "host", 48 * time.Hour, nil},
		{"sender after window", "host", 48*time.Hour + time.Second, ErrEditWindowExpired},
		{"other user within window", "guest", time.Hour, ErrNotMessageOwner},
		{"other user after window", "guest", 72 * time.Hour, ErrNotMessageOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			room := f.createRoom(t, 2)
			ttl := 100 * time.Hour
			msg, err := f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, SenderID: "host", Content: "v1", TTL: &ttl})
			require.NoError(t, err)

			f.clock.Advance(tc.elapsed)
			edited, err := f.messages.EditMessage(ctx, msg.ID, "v2", tc.userID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				got, err := f.messages.GetMessage(ctx, msg.ID)
				require.NoError(t, err)
				assert.Equal(t, "v1", got.Content)
				assert.False(t, got.IsEdited)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "v2", edited.Content)
			assert.True(t, edited.IsEdited)
			require.NotNil(t, edited.EditedAt)
		})
	}
}

func TestDeleteMessageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 3)
	guest := f.join(t, room, "guest")
	msg := f.say(t, room.ID, guest.ID, "oops")

	_, err := f.messages.DeleteMessage(ctx, msg.ID, "someone", false)
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	first, err := f.messages.DeleteMessage(ctx, msg.ID, guest.ID, false)
	require.NoError(t, err)
	assert.True(t, first.IsDeleted)
	assert.Equal(t, models.DeletedContent, first.Content)

	f.clock.Advance(time.Minute)
	second, err := f.messages.DeleteMessage(ctx, msg.ID, "host", true)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, first, msgs[0])

	_, err = f.messages.EditMessage(ctx, msg.ID, "again", guest.ID)
	assert.ErrorIs(t, err, ErrMessageDeleted)
}

func TestModeratorCanDeleteAnyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 3)
	guest := f.join(t, room, "guest")
	msg := f.say(t, room.ID, guest.ID, "spam")

	deleted, err := f.messages.DeleteMessage(ctx, msg.ID, "host", true)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
}

func TestPinRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	msg := f.say(t, room.ID, "host", "rules")

	_, err := f.messages.PinMessage(ctx, msg.ID, false)
	assert.ErrorIs(t, err, ErrNotModerator)

	pinned, err := f.messages.PinMessage(ctx, msg.ID, true)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)
	require.NotNil(t, pinned.PinnedAt)

	list, err := f.messages.GetPinnedMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, messageIDs(list))

	_, err = f.messages.UnpinMessage(ctx, msg.ID, false)
	assert.ErrorIs(t, err, ErrNotModerator)
	unpinned, err := f.messages.UnpinMessage(ctx, msg.ID, true)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)
	assert.Nil(t, unpinned.PinnedAt)
}

func TestReactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	msg := f.say(t, room.ID, "host", "nice")

	_, err := f.messages.AddReaction(ctx, msg.ID, "👍", "a")
	require.NoError(t, err)
	again, err := f.messages.AddReaction(ctx, msg.ID, "👍", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Reactions["👍"])

	_, err = f.messages.AddReaction(ctx, msg.ID, "👍", "b")
	require.NoError(t, err)
	removed, err := f.messages.RemoveReaction(ctx, msg.ID, "👍", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, removed.Reactions["👍"])

	last, err := f.messages.RemoveReaction(ctx, msg.ID, "👍", "b")
	require.NoError(t, err)
	assert.NotContains(t, last.Reactions, "👍")

	_, err = f.messages.AddReaction(ctx, msg.ID, " ", "a")
	assert.ErrorIs(t, err, ErrEmptyEmoji)
}

func TestToggleReactionTwiceRestoresCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	msg := f.say(t, room.ID, "host", "toggle me")
	_, err := f.messages.AddReaction(ctx, msg.ID, "🔥", "other")
	require.NoError(t, err)

	before, err := f.messages.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	for _, emoji := range []string{"🔥", "🎉"} {
		_, err = f.messages.ToggleReaction(ctx, msg.ID, emoji, "me")
		require.NoError(t, err)
		after, err := f.messages.ToggleReaction(ctx, msg.ID, emoji, "me")
		require.NoError(t, err)
		assert.Equal(t, before.Reactions, after.Reactions)
	}
}

func createPoll(t *testing.T, f *fixture, roomID string, allowMultiple bool) models.Message {
	t.Helper()
	poll, err := f.messages.CreatePollMessage(context.Background(), CreatePollParams{
		RoomID:        roomID,
		SenderID:      "host",
		Question:      "Lunch?",
		Options:       []string{"A", "B", "C"},
		AllowMultiple: allowMultiple,
	})
	require.NoError(t, err)
	return poll
}

func TestSingleChoicePollMovesVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	poll := createPoll(t, f, room.ID, false)
	optA, optB := poll.Poll.Options[0].ID, poll.Poll.Options[1].ID

	_, err := f.messages.VotePoll(ctx, poll.ID, optA, "voter")
	require.NoError(t, err)
	got, err := f.messages.VotePoll(ctx, poll.ID, optB, "voter")
	require.NoError(t, err)

	assert.NotContains(t, got.Poll.Option(optA).Votes, "voter")
	assert.Equal(t, []string{"voter"}, got.Poll.Option(optB).Votes)
}

func TestSingleChoicePollNeverHoldsTwoVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	poll := createPoll(t, f, room.ID, false)

	rng := rand.New(rand.NewSource(7))
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		option := poll.Poll.Options[rng.Intn(len(poll.Poll.Options))].ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.messages.VotePoll(ctx, poll.ID, option, "voter")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.messages.GetMessage(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Poll.VotesOf("voter"))
}

func TestMultipleChoicePoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	poll := createPoll(t, f, room.ID, true)

	for _, o := range poll.Poll.Options {
		_, err := f.messages.VotePoll(ctx, poll.ID, o.ID, "voter")
		require.NoError(t, err)
	}
	same, err := f.messages.VotePoll(ctx, poll.ID, poll.Poll.Options[0].ID, "voter")
	require.NoError(t, err)
	assert.Equal(t, 3, same.Poll.VotesOf("voter"))

	retracted, err := f.messages.RetractVote(ctx, poll.ID, poll.Poll.Options[0].ID, "voter")
	require.NoError(t, err)
	assert.Equal(t, 2, retracted.Poll.VotesOf("voter"))

	_, err = f.messages.VotePoll(ctx, poll.ID, "nope", "voter")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

func TestClosePoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 3)
	guest := f.join(t, room, "guest")
	poll := createPoll(t, f, room.ID, false)

	_, err := f.messages.ClosePoll(ctx, poll.ID, guest.ID)
	assert.ErrorIs(t, err, ErrNotPollOwner)

	closed, err := f.messages.ClosePoll(ctx, poll.ID, "host")
	require.NoError(t, err)
	assert.True(t, closed.Poll.IsClosed)
	require.NotNil(t, closed.Poll.ClosedAt)

	_, err = f.messages.VotePoll(ctx, poll.ID, poll.Poll.Options[0].ID, guest.ID)
	assert.ErrorIs(t, err, ErrPollClosed)

	plain := f.say(t, room.ID, "host", "not a poll")
	_, err = f.messages.VotePoll(ctx, plain.ID, "opt-1", guest.ID)
	assert.ErrorIs(t, err, ErrNotAPoll)
}

func TestCreatePollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)

	_, err := f.messages.CreatePollMessage(ctx, CreatePollParams{RoomID: room.ID, Question: "Q", Options: []string{"only", "  "}})
	assert.ErrorIs(t, err, ErrInvalidPoll)
	_, err = f.messages.CreatePollMessage(ctx, CreatePollParams{RoomID: room.ID, Question: " ", Options: []string{"A", "B"}})
	assert.ErrorIs(t, err, ErrInvalidPoll)
}

func TestMarkMessageRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 3)
	msg := f.say(t, room.ID, "host", "read me")

	own, err := f.messages.MarkMessageRead(ctx, msg.ID, "host", "Host")
	require.NoError(t, err)
	assert.Empty(t, own.ReadBy)
	assert.False(t, own.Delivered)

	first, err := f.messages.MarkMessageRead(ctx, msg.ID, "guest", "Guest")
	require.NoError(t, err)
	require.Len(t, first.ReadBy, 1)
	assert.True(t, first.Delivered)

	f.clock.Advance(time.Minute)
	second, err := f.messages.MarkMessageRead(ctx, msg.ID, "guest", "Guest")
	require.NoError(t, err)
	assert.Equal(t, first.ReadBy, second.ReadBy)
}

func TestClearRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)
	f.say(t, room.ID, "host", "one")
	f.say(t, room.ID, "host", "two")
	sys, err := f.messages.CreateMessage(ctx, CreateMessageParams{RoomID: room.ID, Content: "welcome", Type: models.MessageSystem})
	require.NoError(t, err)

	removed, err := f.messages.ClearRoom(ctx, room.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{sys.ID}, messageIDs(msgs))
	assert.Zero(t, f.messages.PendingExpirations())

	removed, err = f.messages.ClearRoom(ctx, room.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	msgs, err = f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessagesOrderedByTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.createRoom(t, 2)

	var want []string
	for _, text := range []string{"a", "b", "c"} {
		want = append(want, f.say(t, room.ID, "host", text).ID)
		f.clock.Advance(time.Millisecond)
	}
	msgs, err := f.messages.GetMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, want, messageIDs(msgs))
}

func TestExpirySweepRemovesMessageAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	room := f.createRoom(t, 2)

	expired := make(chan Expiration, 1)
	f.messages.SetOnExpired(func(_ context.Context, e Expiration) { expired <- e })
	f.messages.Start(ctx)

	msg := f.say(t, room.ID, "host", "short lived")
	f.clock.Advance(31 * time.Minute)

	select {
	case e := <-expired:
		assert.Equal(t, msg.ID, e.MessageID)
		assert.Equal(t, room.ID, e.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("expiration was not announced")
	}
	_, err := f.transient.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
}

func TestExpireOfMissingMessageIsNoop(t *testing.T) {
	f := newFixture(t)
	called := false
	f.messages.SetOnExpired(func(context.Context, Expiration) { called = true })

	f.messages.expire(context.Background(), Expiration{MessageID: "gone", RoomID: "room"})
	assert.False(t, called)
}

func TestRestoreSchedulesDurableExpirations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.rooms.CreateRoom(ctx, CreateRoomParams{CreatorID: "host", CreatorNickname: "Host", IsPersistent: true})
	require.NoError(t, err)
	live := f.say(t, room.ID, "host", "live")
	f.clock.Advance(20 * time.Minute)
	f.say(t, room.ID, "host", "later")
	f.clock.Advance(15 * time.Minute)

	restarted := NewMessageManager(f.rooms, repositories.NewMemoryStore(), f.durable, MessageOptions{Now: f.clock.Now}, logs.GetLoggerFromLevel(slog.LevelDebug))
	n, err := restarted.Restore(ctx, f.rooms.ListRooms(ctx))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.durable.GetMessage(ctx, live.ID)
	assert.ErrorIs(t, err, repositories.ErrMessageNotFound)
}
