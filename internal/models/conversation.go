package models

import "time"

// DirectMessage is a message in a 1:1 conversation.
type DirectMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderNickname string     `json:"sender_nickname,omitempty"`
	RecipientID    string     `json:"recipient_id"`
	ContextID      string     `json:"context_id,omitempty"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	IsEdited       bool       `json:"is_edited"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	Delivered      bool       `json:"delivered"`
}

// ConversationSummary provides an API-friendly view of a conversation for one user.
type ConversationSummary struct {
	ConversationID string        `json:"conversation_id"`
	PeerID         string        `json:"peer_id"`
	LastMessage    DirectMessage `json:"last_message"`
	UnreadCount    int           `json:"unread_count"`
}

// Clone returns a copy that shares no pointers with dm.
func (dm DirectMessage) Clone() DirectMessage {
	out := dm
	out.EditedAt = cloneTime(dm.EditedAt)
	out.DeletedAt = cloneTime(dm.DeletedAt)
	out.ReadAt = cloneTime(dm.ReadAt)
	return out
}
