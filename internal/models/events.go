package models

// Gateway event types fanned out to connected participants.
const (
	EventMessage           = "message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventMessageExpired    = "message_expired"
	EventMessagePinned     = "message_pinned"
	EventMessageUnpinned   = "message_unpinned"
	EventReaction          = "reaction"
	EventPollUpdated       = "poll_updated"
	EventMessageRead       = "message_read"
	EventRoomCleared       = "room_cleared"
	EventRoomLocked        = "room_locked"
	EventRoomUnlocked      = "room_unlocked"
	EventCodeRegenerated   = "code_regenerated"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventModeratorPromoted = "moderator_promoted"
	EventDirectMessage     = "dm"
	EventDirectEdited      = "dm_edited"
	EventDirectDeleted     = "dm_deleted"
	EventDirectRead        = "dm_read"
)

// RoomEvent is broadcast through room websockets.
type RoomEvent struct {
	Type          string       `json:"type"`
	RoomID        string       `json:"room_id"`
	Message       *Message     `json:"message,omitempty"`
	MessageID     string       `json:"message_id,omitempty"`
	Participant   *Participant `json:"participant,omitempty"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Code          string       `json:"code,omitempty"`
}

// DirectEvent is delivered to the user sockets of both DM parties.
type DirectEvent struct {
	Type      string         `json:"type"`
	Message   *DirectMessage `json:"message,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
}
