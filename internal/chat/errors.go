package chat

import "errors"

// Validation errors.
var (
	ErrInvalidCode        = errors.New("invalid room code")
	ErrInvalidMaxUsers    = errors.New("invalid max users")
	ErrEmptyNickname      = errors.New("nickname is required")
	ErrEmptyContent       = errors.New("content is required")
	ErrEmptyEmoji         = errors.New("emoji is required")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidPoll        = errors.New("poll needs a question and at least two options")
	ErrInvalidPayload     = errors.New("invalid message payload")
	ErrUnknownOption      = errors.New("unknown poll option")
	ErrSelfConversation   = errors.New("cannot message yourself")
)

// Authorization errors.
var (
	ErrNotModerator    = errors.New("moderator privileges required")
	ErrNotMessageOwner = errors.New("only the sender can do this")
	ErrNotPollOwner    = errors.New("only the poll creator can close it")
	ErrNotRecipient    = errors.New("only the recipient can do this")
)

// Capacity and state errors.
var (
	ErrRoomFull          = errors.New("room is full")
	ErrRoomLocked        = errors.New("room is locked")
	ErrPollClosed        = errors.New("poll is closed")
	ErrNotAPoll          = errors.New("message is not a poll")
	ErrEditWindowExpired = errors.New("edit window has expired")
	ErrMessageDeleted    = errors.New("message was deleted")
	ErrMessageExpired    = errors.New("message expired on creation")
	ErrAlreadyJoined     = errors.New("participant already in room")
)

// Not-found errors.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrParticipantNotFound = errors.New("participant not found")
)
