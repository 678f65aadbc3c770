package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"

	"roomchat/internal/models"
)

// MemoryStore is the transient in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	rooms      map[string]models.Room
	messages   map[string]models.Message
	roomIndex  map[string][]string
	dms        map[string]models.DirectMessage
	convIndex  map[string][]string
	userConvos map[string]map[string]struct{}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:      make(map[string]models.Room),
		messages:   make(map[string]models.Message),
		roomIndex:  make(map[string][]string),
		dms:        make(map[string]models.DirectMessage),
		convIndex:  make(map[string][]string),
		userConvos: make(map[string]map[string]struct{}),
	}
}

// SaveRoom inserts or replaces a room.
func (s *MemoryStore) SaveRoom(_ context.Context, room models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = room.Clone()
	return nil
}

// GetRoom fetches a room by id.
func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room.Clone(), nil
}

// ListRooms returns every stored room ordered by creation.
func (s *MemoryStore) ListRooms(_ context.Context) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := lo.MapToSlice(s.rooms, func(_ string, r models.Room) models.Room { return r.Clone() })
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

// DeleteRoom removes a room. Deleting an absent room is not an error.
func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// SaveMessage inserts or replaces a message.
func (s *MemoryStore) SaveMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; !exists {
		s.roomIndex[msg.RoomID] = append(s.roomIndex[msg.RoomID], msg.ID)
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

// GetMessage fetches a message by id.
func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// ListMessages returns the messages of a room in timestamp order.
func (s *MemoryStore) ListMessages(_ context.Context, roomID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.roomIndex[roomID]
	msgs := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			msgs = append(msgs, msg.Clone())
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

// DeleteMessage hard-deletes a message. Deleting an absent message is not an error.
func (s *MemoryStore) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil
	}
	delete(s.messages, messageID)
	s.roomIndex[msg.RoomID] = lo.Without(s.roomIndex[msg.RoomID], messageID)
	if len(s.roomIndex[msg.RoomID]) == 0 {
		delete(s.roomIndex, msg.RoomID)
	}
	return nil
}

// DeleteRoomMessages hard-deletes every message of a room.
func (s *MemoryStore) DeleteRoomMessages(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.roomIndex[roomID] {
		delete(s.messages, id)
	}
	delete(s.roomIndex, roomID)
	return nil
}

// SaveDirectMessage inserts or replaces a direct message.
func (s *MemoryStore) SaveDirectMessage(_ context.Context, msg models.DirectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dms[msg.ID]; !exists {
		s.convIndex[msg.ConversationID] = append(s.convIndex[msg.ConversationID], msg.ID)
		for _, userID := range []string{msg.SenderID, msg.RecipientID} {
			if s.userConvos[userID] == nil {
				s.userConvos[userID] = make(map[string]struct{})
			}
			s.userConvos[userID][msg.ConversationID] = struct{}{}
		}
	}
	s.dms[msg.ID] = msg.Clone()
	return nil
}

// GetDirectMessage fetches a direct message by id.
func (s *MemoryStore) GetDirectMessage(_ context.Context, messageID string) (models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.dms[messageID]
	if !ok {
		return models.DirectMessage{}, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// ListConversation returns a conversation in timestamp order.
func (s *MemoryStore) ListConversation(_ context.Context, conversationID string) ([]models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(conversationID), nil
}

// ListDirectMessagesForUser returns every direct message the user sent or received.
func (s *MemoryStore) ListDirectMessagesForUser(_ context.Context, userID string) ([]models.DirectMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []models.DirectMessage
	for convID := range s.userConvos[userID] {
		msgs = append(msgs, s.conversationLocked(convID)...)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) conversationLocked(conversationID string) []models.DirectMessage {
	ids := s.convIndex[conversationID]
	msgs := make([]models.DirectMessage, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.dms[id]; ok {
			msgs = append(msgs, msg.Clone())
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs
}

var _ Store = (*MemoryStore)(nil)
