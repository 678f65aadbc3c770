package handlers

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"roomchat/internal/chat"
	"roomchat/internal/models"
	"roomchat/internal/telemetry"
)

const defaultHostNickname = "Host"

// RoomHandler serves room lifecycle, membership and room-scoped message endpoints.
type RoomHandler struct {
	rooms    *chat.RoomManager
	messages *chat.MessageManager
	hub      Broadcaster
	auditor  Auditor
	baseURL  string
	log      *slog.Logger
}

// NewRoomHandler builds a RoomHandler. hub and auditor may be nil.
func NewRoomHandler(rooms *chat.RoomManager, messages *chat.MessageManager, hub Broadcaster, auditor Auditor, baseURL string, log *slog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:    rooms,
		messages: messages,
		hub:      hub,
		auditor:  auditor,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}
}

func (h *RoomHandler) inviteLink(code string) string {
	return h.baseURL + "/join/" + code
}

func (h *RoomHandler) broadcast(roomID string, event models.RoomEvent) {
	if h.hub != nil {
		h.hub.BroadcastRoom(roomID, event)
	}
}

// CreateRoom creates a room with the caller as its moderator.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		MaxUsers   int            `json:"maxUsers" binding:"gte=0"`
		Nickname   string         `json:"nickname"`
		UserID     string         `json:"userId"`
		Name       string         `json:"name"`
		Persistent bool           `json:"persistent"`
		Settings   map[string]any `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Nickname) == "" {
		req.Nickname = defaultHostNickname
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), chat.CreateRoomParams{
		MaxUsers:        req.MaxUsers,
		CreatorID:       req.UserID,
		CreatorNickname: req.Nickname,
		Name:            req.Name,
		IsPersistent:    req.Persistent,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":            room.ID,
		"code":          room.Code,
		"inviteLink":    h.inviteLink(room.Code),
		"participantId": room.CreatedBy,
		"room":          room,
	})
}

// GetRoom looks a room up by its code.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoomByCode(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, room.Summary())
}

// JoinRoom adds a participant to the room identified by code.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, participant, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("room"), req.Nickname)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(room.ID, models.RoomEvent{Type: models.EventParticipantJoined, Participant: &participant})

	c.JSON(http.StatusOK, gin.H{
		"roomId":        room.ID,
		"participantId": participant.ID,
		"nickname":      participant.Nickname,
	})
}

// LeaveRoom removes a participant.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	roomID := c.Param("room")
	result, err := h.rooms.RemoveParticipant(c.Request.Context(), roomID, req.ParticipantID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if !result.RoomClosed {
		h.broadcast(roomID, models.RoomEvent{Type: models.EventParticipantLeft, ParticipantID: req.ParticipantID})
		if result.PromotedID != "" {
			h.broadcast(roomID, models.RoomEvent{Type: models.EventModeratorPromoted, ParticipantID: result.PromotedID})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "left",
		"promotedId": result.PromotedID,
		"roomClosed": result.RoomClosed,
	})
}

type moderatorRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// LockRoom stops new joins.
func (h *RoomHandler) LockRoom(c *gin.Context) {
	h.toggleLock(c, true)
}

// UnlockRoom allows joins again.
func (h *RoomHandler) UnlockRoom(c *gin.Context) {
	h.toggleLock(c, false)
}

func (h *RoomHandler) toggleLock(c *gin.Context, locked bool) {
	var req moderatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	roomID := c.Param("room")
	var (
		room models.Room
		err  error
	)
	eventType, action := models.EventRoomLocked, telemetry.ActionRoomLocked
	if locked {
		room, err = h.rooms.LockRoom(c.Request.Context(), roomID, req.UserID)
	} else {
		room, err = h.rooms.UnlockRoom(c.Request.Context(), roomID, req.UserID)
		eventType, action = models.EventRoomUnlocked, telemetry.ActionRoomUnlocked
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(roomID, models.RoomEvent{Type: eventType})
	audit(c, h.auditor, telemetry.AuditRecord{Action: action, RoomID: roomID, ActorID: req.UserID, Text: action})

	c.JSON(http.StatusOK, gin.H{"id": room.ID, "isLocked": room.IsLocked})
}

// RegenerateCode issues a new room code.
func (h *RoomHandler) RegenerateCode(c *gin.Context) {
	var req moderatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	roomID := c.Param("room")
	room, err := h.rooms.RegenerateRoomCode(c.Request.Context(), roomID, req.UserID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(roomID, models.RoomEvent{Type: models.EventCodeRegenerated, Code: room.Code})
	audit(c, h.auditor, telemetry.AuditRecord{
		Action:  telemetry.ActionCodeRegenerated,
		RoomID:  roomID,
		ActorID: req.UserID,
		Text:    "room code regenerated",
	})

	c.JSON(http.StatusOK, gin.H{"code": room.Code, "inviteLink": h.inviteLink(room.Code)})
}

// ListParticipants returns the members of a room, oldest first.
func (h *RoomHandler) ListParticipants(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	participants := lo.Values(room.Participants)
	sort.Slice(participants, func(i, j int) bool { return participants[i].JoinedAt.Before(participants[j].JoinedAt) })
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// GetMessages returns the live messages of a room.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	msgs, err := h.messages.GetMessages(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetPinnedMessages returns the pinned messages of a room.
func (h *RoomHandler) GetPinnedMessages(c *gin.Context) {
	msgs, err := h.messages.GetPinnedMessages(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type pollRequest struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	AllowMultiple bool     `json:"allowMultiple"`
}

// PostMessage creates a message from a room participant.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	var req struct {
		UserID     string            `json:"userId" binding:"required"`
		Content    string            `json:"content"`
		Type       string            `json:"type"`
		Image      *models.ImageData `json:"image"`
		File       *models.FileData  `json:"file"`
		Voice      *models.VoiceData `json:"voice"`
		Poll       *pollRequest      `json:"poll"`
		TTLSeconds *int              `json:"ttlSeconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("room")
	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	sender, ok := room.Participants[req.UserID]
	if !ok {
		writeError(c, h.log, errNotParticipant)
		return
	}

	var ttl *time.Duration
	if req.TTLSeconds != nil {
		ttl = lo.ToPtr(time.Duration(*req.TTLSeconds) * time.Second)
	}

	var msg models.Message
	if models.MessageType(req.Type) == models.MessagePoll {
		if req.Poll == nil {
			writeError(c, h.log, chat.ErrInvalidPoll)
			return
		}
		msg, err = h.messages.CreatePollMessage(ctx, chat.CreatePollParams{
			RoomID:         roomID,
			SenderID:       sender.ID,
			SenderNickname: sender.Nickname,
			Question:       req.Poll.Question,
			Options:        req.Poll.Options,
			AllowMultiple:  req.Poll.AllowMultiple,
			TTL:            ttl,
		})
	} else {
		msg, err = h.messages.CreateMessage(ctx, chat.CreateMessageParams{
			RoomID:         roomID,
			SenderID:       sender.ID,
			SenderNickname: sender.Nickname,
			Content:        req.Content,
			Type:           models.MessageType(req.Type),
			Image:          req.Image,
			File:           req.File,
			Voice:          req.Voice,
			TTL:            ttl,
		})
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(roomID, models.RoomEvent{Type: models.EventMessage, Message: &msg})
	c.JSON(http.StatusCreated, msg)
}

// ClearRoom removes the messages of a room. Moderators only.
func (h *RoomHandler) ClearRoom(c *gin.Context) {
	var req struct {
		UserID         string `json:"userId" binding:"required"`
		PreserveSystem bool   `json:"preserveSystem"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("room")
	if err := h.requireModerator(c, roomID, req.UserID); err != nil {
		writeError(c, h.log, err)
		return
	}
	removed, err := h.messages.ClearRoom(ctx, roomID, req.PreserveSystem)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(roomID, models.RoomEvent{Type: models.EventRoomCleared})
	audit(c, h.auditor, telemetry.AuditRecord{
		Action:  telemetry.ActionRoomCleared,
		RoomID:  roomID,
		ActorID: req.UserID,
		Text:    "room cleared",
	})

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// InjectFake fans out a spoofed message that is never stored. Moderators only.
func (h *RoomHandler) InjectFake(c *gin.Context) {
	var req struct {
		UserID      string `json:"userId" binding:"required"`
		Content     string `json:"content"`
		SpoofSource string `json:"spoofSource"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	roomID := c.Param("room")
	if err := h.requireModerator(c, roomID, req.UserID); err != nil {
		writeError(c, h.log, err)
		return
	}
	msg, err := h.messages.InjectFakeMessage(ctx, roomID, req.Content, req.SpoofSource)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.broadcast(roomID, models.RoomEvent{Type: models.EventMessage, Message: &msg})
	audit(c, h.auditor, telemetry.AuditRecord{
		Action:    telemetry.ActionFakeInjected,
		RoomID:    roomID,
		MessageID: msg.ID,
		ActorID:   req.UserID,
		Text:      "fake message injected as " + req.SpoofSource,
	})

	c.JSON(http.StatusOK, msg)
}

func (h *RoomHandler) requireModerator(c *gin.Context, roomID, userID string) error {
	ok, err := h.rooms.IsModerator(c.Request.Context(), roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.ErrNotModerator
	}
	return nil
}
