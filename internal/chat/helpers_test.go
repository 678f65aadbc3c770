package chat

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"roomchat/internal/models"
	"roomchat/internal/repositories"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	rooms     *RoomManager
	messages  *MessageManager
	transient *repositories.MemoryStore
	durable   *repositories.MemoryStore
	clock     *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clock := newTestClock()
	transient := repositories.NewMemoryStore()
	durable := repositories.NewMemoryStore()

	rooms := NewRoomManager(transient, durable, RoomOptions{Now: clock.Now}, log)
	messages := NewMessageManager(rooms, transient, durable, MessageOptions{
		Now:           clock.Now,
		SweepInterval: 5 * time.Millisecond,
	}, log)
	rooms.SetPurger(messages)
	t.Cleanup(messages.Close)

	return &fixture{rooms: rooms, messages: messages, transient: transient, durable: durable, clock: clock}
}

// createRoom makes a room owned by "host" and returns it.
func (f *fixture) createRoom(t *testing.T, maxUsers int) models.Room {
	t.Helper()
	room, err := f.rooms.CreateRoom(context.Background(), CreateRoomParams{
		MaxUsers:        maxUsers,
		CreatorID:       "host",
		CreatorNickname: "Host",
	})
	require.NoError(t, err)
	return room
}

func (f *fixture) join(t *testing.T, room models.Room, nickname string) models.Participant {
	t.Helper()
	_, p, err := f.rooms.JoinRoom(context.Background(), room.Code, nickname)
	require.NoError(t, err)
	return p
}

func (f *fixture) say(t *testing.T, roomID, senderID, content string) models.Message {
	t.Helper()
	msg, err := f.messages.CreateMessage(context.Background(), CreateMessageParams{
		RoomID:         roomID,
		SenderID:       senderID,
		SenderNickname: senderID,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}
