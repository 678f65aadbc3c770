package repositories

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"roomchat/internal/models"
)

const (
	roleModerator = "moderator"
	roleMember    = "member"
)

// jsonColumn stores any value as a JSONB column.
type jsonColumn[T any] struct {
	V T
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (j *jsonColumn[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &j.V)
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}

type roomRow struct {
	ID           string                     `db:"id"`
	Code         string                     `db:"code"`
	Name         string                     `db:"name"`
	MaxUsers     int                        `db:"max_users"`
	IsLocked     bool                       `db:"is_locked"`
	IsPersistent bool                       `db:"is_persistent"`
	ExpiresAt    *time.Time                 `db:"expires_at"`
	CreatedBy    string                     `db:"created_by"`
	Settings     jsonColumn[map[string]any] `db:"settings"`
	CreatedAt    time.Time                  `db:"created_at"`
}

type participantRow struct {
	RoomID        string    `db:"room_id"`
	ParticipantID string    `db:"participant_id"`
	Nickname      string    `db:"nickname"`
	Role          string    `db:"role"`
	JoinedAt      time.Time `db:"joined_at"`
}

type messagePayload struct {
	Image *models.ImageData `json:"image,omitempty"`
	File  *models.FileData  `json:"file,omitempty"`
	Voice *models.VoiceData `json:"voice,omitempty"`
	Poll  *models.PollData  `json:"poll,omitempty"`
}

type messageRow struct {
	ID             string                           `db:"id"`
	RoomID         string                           `db:"room_id"`
	SenderID       string                           `db:"sender_id"`
	SenderNickname string                           `db:"sender_nickname"`
	Content        string                           `db:"content"`
	Type           string                           `db:"type"`
	CreatedAt      time.Time                        `db:"created_at"`
	ExpiresAt      *time.Time                       `db:"expires_at"`
	Payload        jsonColumn[messagePayload]       `db:"payload"`
	IsEdited       bool                             `db:"is_edited"`
	EditedAt       *time.Time                       `db:"edited_at"`
	IsDeleted      bool                             `db:"is_deleted"`
	DeletedAt      *time.Time                       `db:"deleted_at"`
	IsPinned       bool                             `db:"is_pinned"`
	PinnedAt       *time.Time                       `db:"pinned_at"`
	Reactions      jsonColumn[map[string][]string]  `db:"reactions"`
	ReadBy         jsonColumn[[]models.ReadReceipt] `db:"read_by"`
	Delivered      bool                             `db:"delivered"`
}

type directMessageRow struct {
	ID             string     `db:"id"`
	ConversationID string     `db:"conversation_id"`
	SenderID       string     `db:"sender_id"`
	SenderNickname string     `db:"sender_nickname"`
	RecipientID    string     `db:"recipient_id"`
	ContextID      string     `db:"context_id"`
	Content        string     `db:"content"`
	CreatedAt      time.Time  `db:"created_at"`
	IsEdited       bool       `db:"is_edited"`
	EditedAt       *time.Time `db:"edited_at"`
	IsDeleted      bool       `db:"is_deleted"`
	DeletedAt      *time.Time `db:"deleted_at"`
	ReadAt         *time.Time `db:"read_at"`
	Delivered      bool       `db:"delivered"`
}

func toRoomRow(room models.Room) roomRow {
	return roomRow{
		ID:           room.ID,
		Code:         room.Code,
		Name:         room.Name,
		MaxUsers:     room.MaxUsers,
		IsLocked:     room.IsLocked,
		IsPersistent: room.IsPersistent,
		ExpiresAt:    room.ExpiresAt,
		CreatedBy:    room.CreatedBy,
		Settings:     jsonColumn[map[string]any]{V: room.Settings},
		CreatedAt:    room.CreatedAt,
	}
}

func fromRoomRows(row roomRow, participants []participantRow) models.Room {
	room := models.Room{
		ID:           row.ID,
		Code:         row.Code,
		Name:         row.Name,
		CreatedAt:    row.CreatedAt,
		MaxUsers:     row.MaxUsers,
		IsLocked:     row.IsLocked,
		IsPersistent: row.IsPersistent,
		ExpiresAt:    row.ExpiresAt,
		CreatedBy:    row.CreatedBy,
		Settings:     row.Settings.V,
		Participants: make(map[string]models.Participant, len(participants)),
		Moderators:   make(map[string]struct{}),
	}
	for _, p := range participants {
		isModerator := p.Role == roleModerator
		room.Participants[p.ParticipantID] = models.Participant{
			ID:          p.ParticipantID,
			Nickname:    p.Nickname,
			JoinedAt:    p.JoinedAt,
			IsModerator: isModerator,
		}
		if isModerator {
			room.Moderators[p.ParticipantID] = struct{}{}
		}
	}
	return room
}

func toMessageRow(msg models.Message) messageRow {
	return messageRow{
		ID:             msg.ID,
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		SenderNickname: msg.SenderNickname,
		Content:        msg.Content,
		Type:           string(msg.Type),
		CreatedAt:      msg.Timestamp,
		ExpiresAt:      msg.ExpiresAt,
		Payload: jsonColumn[messagePayload]{V: messagePayload{
			Image: msg.Image,
			File:  msg.File,
			Voice: msg.Voice,
			Poll:  msg.Poll,
		}},
		IsEdited:  msg.IsEdited,
		EditedAt:  msg.EditedAt,
		IsDeleted: msg.IsDeleted,
		DeletedAt: msg.DeletedAt,
		IsPinned:  msg.IsPinned,
		PinnedAt:  msg.PinnedAt,
		Reactions: jsonColumn[map[string][]string]{V: msg.Reactions},
		ReadBy:    jsonColumn[[]models.ReadReceipt]{V: msg.ReadBy},
		Delivered: msg.Delivered,
	}
}

func fromMessageRow(row messageRow) models.Message {
	msg := models.Message{
		ID:             row.ID,
		RoomID:         row.RoomID,
		SenderID:       row.SenderID,
		SenderNickname: row.SenderNickname,
		Content:        row.Content,
		Type:           models.MessageType(row.Type),
		Timestamp:      row.CreatedAt,
		ExpiresAt:      row.ExpiresAt,
		Image:          row.Payload.V.Image,
		File:           row.Payload.V.File,
		Voice:          row.Payload.V.Voice,
		Poll:           row.Payload.V.Poll,
		IsEdited:       row.IsEdited,
		EditedAt:       row.EditedAt,
		IsDeleted:      row.IsDeleted,
		DeletedAt:      row.DeletedAt,
		IsPinned:       row.IsPinned,
		PinnedAt:       row.PinnedAt,
		Reactions:      row.Reactions.V,
		ReadBy:         row.ReadBy.V,
		Delivered:      row.Delivered,
	}
	return msg.Clone()
}

func toDirectMessageRow(msg models.DirectMessage) directMessageRow {
	return directMessageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderNickname: msg.SenderNickname,
		RecipientID:    msg.RecipientID,
		ContextID:      msg.ContextID,
		Content:        msg.Content,
		CreatedAt:      msg.Timestamp,
		IsEdited:       msg.IsEdited,
		EditedAt:       msg.EditedAt,
		IsDeleted:      msg.IsDeleted,
		DeletedAt:      msg.DeletedAt,
		ReadAt:         msg.ReadAt,
		Delivered:      msg.Delivered,
	}
}

func fromDirectMessageRow(row directMessageRow) models.DirectMessage {
	return models.DirectMessage{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		SenderNickname: row.SenderNickname,
		RecipientID:    row.RecipientID,
		ContextID:      row.ContextID,
		Content:        row.Content,
		Timestamp:      row.CreatedAt,
		IsEdited:       row.IsEdited,
		EditedAt:       row.EditedAt,
		IsDeleted:      row.IsDeleted,
		DeletedAt:      row.DeletedAt,
		ReadAt:         row.ReadAt,
		Delivered:      row.Delivered,
	}
}
