package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/chat"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{chat.ErrInvalidCode, http.StatusBadRequest, "INVALID_CODE"},
	{chat.ErrInvalidMaxUsers, http.StatusBadRequest, "INVALID_MAX_USERS"},
	{chat.ErrEmptyNickname, http.StatusBadRequest, "EMPTY_NICKNAME"},
	{chat.ErrEmptyContent, http.StatusBadRequest, "EMPTY_CONTENT"},
	{chat.ErrEmptyEmoji, http.StatusBadRequest, "EMPTY_EMOJI"},
	{chat.ErrInvalidMessageType, http.StatusBadRequest, "INVALID_MESSAGE_TYPE"},
	{chat.ErrInvalidPoll, http.StatusBadRequest, "INVALID_POLL"},
	{chat.ErrInvalidPayload, http.StatusBadRequest, "INVALID_PAYLOAD"},
	{chat.ErrUnknownOption, http.StatusBadRequest, "UNKNOWN_OPTION"},
	{chat.ErrSelfConversation, http.StatusBadRequest, "SELF_CONVERSATION"},

	{chat.ErrNotModerator, http.StatusForbidden, "NOT_MODERATOR"},
	{chat.ErrNotMessageOwner, http.StatusForbidden, "NOT_MESSAGE_OWNER"},
	{chat.ErrNotPollOwner, http.StatusForbidden, "NOT_POLL_OWNER"},
	{chat.ErrNotRecipient, http.StatusForbidden, "NOT_RECIPIENT"},

	{chat.ErrRoomFull, http.StatusConflict, "ROOM_FULL"},
	{chat.ErrRoomLocked, http.StatusConflict, "ROOM_LOCKED"},
	{chat.ErrPollClosed, http.StatusConflict, "POLL_CLOSED"},
	{chat.ErrNotAPoll, http.StatusConflict, "NOT_A_POLL"},
	{chat.ErrEditWindowExpired, http.StatusConflict, "EDIT_WINDOW_EXPIRED"},
	{chat.ErrMessageDeleted, http.StatusConflict, "MESSAGE_DELETED"},
	{chat.ErrAlreadyJoined, http.StatusConflict, "ALREADY_JOINED"},

	{chat.ErrRoomNotFound, http.StatusNotFound, "ROOM_NOT_FOUND"},
	{chat.ErrMessageNotFound, http.StatusNotFound, "MESSAGE_NOT_FOUND"},
	{chat.ErrParticipantNotFound, http.StatusNotFound, "PARTICIPANT_NOT_FOUND"},

	{chat.ErrMessageExpired, http.StatusGone, "MESSAGE_EXPIRED"},
}

var errNotParticipant = errors.New("not a participant of this room")

// writeError maps domain errors to a status and machine-readable code.
// Anything unknown is a storage failure and surfaces as a generic 500.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	if errors.Is(err, errNotParticipant) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "NOT_PARTICIPANT"})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": m.err.Error(), "code": m.code})
			return
		}
	}
	_ = c.Error(err)
	log.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
}
