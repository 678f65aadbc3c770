package repositories

import (
	"context"
	"errors"

	"roomchat/internal/models"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Store abstracts room, message and direct-message persistence.
// Implementations only persist; rules live in the managers.
type Store interface {
	SaveRoom(ctx context.Context, room models.Room) error
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error

	SaveMessage(ctx context.Context, msg models.Message) error
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteRoomMessages(ctx context.Context, roomID string) error

	SaveDirectMessage(ctx context.Context, msg models.DirectMessage) error
	GetDirectMessage(ctx context.Context, messageID string) (models.DirectMessage, error)
	ListConversation(ctx context.Context, conversationID string) ([]models.DirectMessage, error)
	ListDirectMessagesForUser(ctx context.Context, userID string) ([]models.DirectMessage, error)

	Ping(ctx context.Context) error
}
