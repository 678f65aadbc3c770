package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/chat"
	"roomchat/internal/models"
	"roomchat/internal/telemetry"
)

// MessageHandler serves edits and interactions on individual room messages.
type MessageHandler struct {
	rooms    *chat.RoomManager
	messages *chat.MessageManager
	hub      Broadcaster
	auditor  Auditor
	log      *slog.Logger
}

// NewMessageHandler builds a MessageHandler. hub and auditor may be nil.
func NewMessageHandler(rooms *chat.RoomManager, messages *chat.MessageManager, hub Broadcaster, auditor Auditor, log *slog.Logger) *MessageHandler {
	return &MessageHandler{rooms: rooms, messages: messages, hub: hub, auditor: auditor, log: log}
}

func (h *MessageHandler) broadcast(eventType string, msg models.Message) {
	if h.hub != nil {
		h.hub.BroadcastRoom(msg.RoomID, models.RoomEvent{Type: eventType, Message: &msg, MessageID: msg.ID})
	}
}

// isModerator resolves the caller's role in the room of the message.
func (h *MessageHandler) isModerator(ctx context.Context, messageID, userID string) (bool, error) {
	msg, err := h.messages.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}
	return h.rooms.IsModerator(ctx, msg.RoomID, userID)
}

// GetMessage returns one live message.
func (h *MessageHandler) GetMessage(c *gin.Context) {
	msg, err := h.messages.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// EditMessage changes the content of the caller's own message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req struct {
		UserID  string `json:"userId" binding:"required"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), c.Param("id"), req.Content, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventMessageEdited, msg)
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage tombstones a message. The sender or a moderator may delete.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	messageID := c.Param("id")
	isModerator, err := h.isModerator(ctx, messageID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	msg, err := h.messages.DeleteMessage(ctx, messageID, req.UserID, isModerator)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventMessageDeleted, msg)
	if isModerator && msg.SenderID != req.UserID {
		audit(c, h.auditor, telemetry.AuditRecord{
			Action:    telemetry.ActionMessageDeleted,
			RoomID:    msg.RoomID,
			MessageID: msg.ID,
			ActorID:   req.UserID,
			Text:      "message deleted by moderator",
		})
	}
	c.JSON(http.StatusOK, msg)
}

// PinMessage pins a message. Moderators only.
func (h *MessageHandler) PinMessage(c *gin.Context) {
	h.setPinned(c, true)
}

// UnpinMessage unpins a message. Moderators only.
func (h *MessageHandler) UnpinMessage(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *MessageHandler) setPinned(c *gin.Context, pinned bool) {
	var req moderatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	messageID := c.Param("id")
	isModerator, err := h.isModerator(ctx, messageID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	var msg models.Message
	eventType, action := models.EventMessagePinned, telemetry.ActionMessagePinned
	if pinned {
		msg, err = h.messages.PinMessage(ctx, messageID, isModerator)
	} else {
		msg, err = h.messages.UnpinMessage(ctx, messageID, isModerator)
		eventType, action = models.EventMessageUnpinned, telemetry.ActionMessageUnpinned
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(eventType, msg)
	audit(c, h.auditor, telemetry.AuditRecord{
		Action:    action,
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		ActorID:   req.UserID,
		Text:      action,
	})
	c.JSON(http.StatusOK, msg)
}

type reactionRequest struct {
	UserID string `json:"userId" binding:"required"`
	Emoji  string `json:"emoji"`
	Toggle bool   `json:"toggle"`
}

// AddReaction records a reaction. With toggle set, an existing reaction is removed instead.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	add := h.messages.AddReaction
	if req.Toggle {
		add = h.messages.ToggleReaction
	}
	msg, err := add(c.Request.Context(), c.Param("id"), req.Emoji, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventReaction, msg)
	c.JSON(http.StatusOK, msg)
}

// RemoveReaction drops the caller's reaction.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.RemoveReaction(c.Request.Context(), c.Param("id"), req.Emoji, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventReaction, msg)
	c.JSON(http.StatusOK, msg)
}

type voteRequest struct {
	UserID   string `json:"userId" binding:"required"`
	OptionID string `json:"optionId" binding:"required"`
}

// Vote casts a poll vote.
func (h *MessageHandler) Vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.VotePoll(c.Request.Context(), c.Param("id"), req.OptionID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventPollUpdated, msg)
	c.JSON(http.StatusOK, msg)
}

// RetractVote removes a poll vote.
func (h *MessageHandler) RetractVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.RetractVote(c.Request.Context(), c.Param("id"), req.OptionID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventPollUpdated, msg)
	c.JSON(http.StatusOK, msg)
}

// ClosePoll ends voting. Poll creator only.
func (h *MessageHandler) ClosePoll(c *gin.Context) {
	var req moderatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.ClosePoll(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventPollUpdated, msg)
	c.JSON(http.StatusOK, msg)
}

// MarkRead adds a read receipt.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req struct {
		UserID   string `json:"userId" binding:"required"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.messages.MarkMessageRead(c.Request.Context(), c.Param("id"), req.UserID, req.Nickname)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(models.EventMessageRead, msg)
	c.JSON(http.StatusOK, msg)
}
