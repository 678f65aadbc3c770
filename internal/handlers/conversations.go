package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/chat"
	"roomchat/internal/models"
)

// ConversationHandler serves direct-message endpoints.
type ConversationHandler struct {
	conversations *chat.ConversationManager
	hub           Broadcaster
	log           *slog.Logger
}

// NewConversationHandler builds a ConversationHandler. hub may be nil.
func NewConversationHandler(conversations *chat.ConversationManager, hub Broadcaster, log *slog.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, hub: hub, log: log}
}

func (h *ConversationHandler) notify(eventType string, dm models.DirectMessage) {
	if h.hub == nil {
		return
	}
	h.hub.SendToUsers(models.DirectEvent{Type: eventType, Message: &dm, MessageID: dm.ID}, dm.SenderID, dm.RecipientID)
}

// ListConversations returns one summary per counterpart of the user.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	summaries, err := h.conversations.ListConversations(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns the thread between two users. With ?context= only
// that assistant context is returned.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	userID, peerID := c.Param("user_id"), c.Param("peer_id")

	var (
		msgs []models.DirectMessage
		err  error
	)
	if contextID, ok := c.GetQuery("context"); ok {
		msgs, err = h.conversations.GetContextHistory(ctx, userID, peerID, contextID)
	} else {
		msgs, err = h.conversations.GetConversation(ctx, userID, peerID)
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": chat.ConversationID(userID, peerID),
		"messages":       msgs,
	})
}

// SendDM sends a direct message from user_id to peer_id.
func (h *ConversationHandler) SendDM(c *gin.Context) {
	var req struct {
		Content   string `json:"content"`
		Nickname  string `json:"nickname"`
		ContextID string `json:"contextId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dm, err := h.conversations.SendDM(c.Request.Context(), chat.SendDMParams{
		SenderID:       c.Param("user_id"),
		SenderNickname: req.Nickname,
		RecipientID:    c.Param("peer_id"),
		Content:        req.Content,
		ContextID:      req.ContextID,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.notify(models.EventDirectMessage, dm)
	c.JSON(http.StatusCreated, dm)
}

// EditDM edits the caller's own direct message.
func (h *ConversationHandler) EditDM(c *gin.Context) {
	var req struct {
		UserID  string `json:"userId" binding:"required"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dm, err := h.conversations.EditDM(c.Request.Context(), c.Param("id"), req.Content, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.notify(models.EventDirectEdited, dm)
	c.JSON(http.StatusOK, dm)
}

// DeleteDM tombstones the caller's own direct message.
func (h *ConversationHandler) DeleteDM(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dm, err := h.conversations.DeleteDM(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.notify(models.EventDirectDeleted, dm)
	c.JSON(http.StatusOK, dm)
}

// MarkDMRead marks a direct message read by its recipient.
func (h *ConversationHandler) MarkDMRead(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dm, err := h.conversations.MarkDMRead(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.notify(models.EventDirectRead, dm)
	c.JSON(http.StatusOK, dm)
}
