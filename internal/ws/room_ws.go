package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"roomchat/internal/chat"
	"roomchat/internal/middleware"
	"roomchat/internal/models"
	"roomchat/internal/observability"
)

// RoomService is the part of the room manager the gateway needs.
type RoomService interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	AttachConnection(ctx context.Context, roomID, participantID, connID string) error
	RemoveParticipant(ctx context.Context, roomID, participantID string) (chat.LeaveResult, error)
}

// MessageService is the part of the message manager the gateway needs.
type MessageService interface {
	CreateMessage(ctx context.Context, params chat.CreateMessageParams) (models.Message, error)
	MarkMessageRead(ctx context.Context, messageID, userID, nickname string) (models.Message, error)
}

// RoomWebSocketHandler handles room websocket connections.
type RoomWebSocketHandler struct {
	hub      *Hub
	rooms    RoomService
	messages MessageService
	log      *slog.Logger
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, rooms RoomService, messages MessageService, log *slog.Logger) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{hub: hub, rooms: rooms, messages: messages, log: log}
}

// Handle upgrades the connection of a room participant and serves it until
// it closes. Closing the socket removes the participant from the room.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room")
	participantID := c.Query("participantId")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantId is required", "code": "INVALID_PARTICIPANT"})
		return
	}

	ctx, span := otel.Tracer("roomchat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID))
	c.Request = c.Request.WithContext(ctx)

	room, err := h.rooms.GetRoom(ctx, roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": "ROOM_NOT_FOUND"})
		return
	}
	participant, ok := room.Participants[participantID]
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this room", "code": "NOT_PARTICIPANT"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		ResourceID:  roomID,
		UserID:      participantID,
		IP:          c.ClientIP(),
		RequestID:   middleware.RequestIDFrom(c),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	if err := h.rooms.AttachConnection(ctx, roomID, participantID, info.ConnID); err != nil {
		h.log.Warn("attach connection failed", "room_id", roomID, "participant_id", participantID, "error", err)
	}
	h.hub.AddRoomClient(roomID, conn, info)
	observability.IncWSActive(kindRoom)
	h.hub.publishWS(ctx, kindRoom, "ws_connect", info, "")

	go h.serve(context.WithoutCancel(ctx), conn, room.ID, participant, info)
}

func (h *RoomWebSocketHandler) serve(ctx context.Context, conn *websocket.Conn, roomID string, participant models.Participant, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveRoomClient(roomID, conn)
		observability.DecWSActive(kindRoom)
		h.hub.publishWS(ctx, kindRoom, "ws_disconnect", info, closeReason)
		conn.Close()
		h.leave(ctx, roomID, participant.ID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishWS(ctx, kindRoom, "ws_error", info, closeReason)
			}
			return
		}
		frame, err := parseFrame(data)
		if err != nil {
			h.hub.reply(kindRoom, roomID, conn, errorFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		h.handleFrame(ctx, conn, roomID, participant, frame)
	}
}

func (h *RoomWebSocketHandler) handleFrame(ctx context.Context, conn *websocket.Conn, roomID string, participant models.Participant, frame inboundFrame) {
	switch frame.Type {
	case "message":
		msg, err := h.messages.CreateMessage(ctx, chat.CreateMessageParams{
			RoomID:         roomID,
			SenderID:       participant.ID,
			SenderNickname: participant.Nickname,
			Content:        frame.Content,
		})
		if err != nil {
			h.hub.reply(kindRoom, roomID, conn, errorFrame{Type: "error", Error: err.Error()})
			return
		}
		h.hub.BroadcastRoom(roomID, models.RoomEvent{Type: models.EventMessage, Message: &msg})
	case "read":
		msg, err := h.messages.MarkMessageRead(ctx, frame.MessageID, participant.ID, participant.Nickname)
		if err != nil {
			h.hub.reply(kindRoom, roomID, conn, errorFrame{Type: "error", Error: err.Error()})
			return
		}
		h.hub.BroadcastRoom(roomID, models.RoomEvent{Type: models.EventMessageRead, Message: &msg})
	case "ping":
		h.hub.reply(kindRoom, roomID, conn, map[string]string{"type": "pong"})
	default:
		h.hub.reply(kindRoom, roomID, conn, errorFrame{Type: "error", Error: "unknown frame type"})
	}
}

func (h *RoomWebSocketHandler) leave(ctx context.Context, roomID, participantID string) {
	result, err := h.rooms.RemoveParticipant(ctx, roomID, participantID)
	if err != nil {
		if !errors.Is(err, chat.ErrParticipantNotFound) && !errors.Is(err, chat.ErrRoomNotFound) {
			h.log.Error("remove participant on disconnect", "room_id", roomID, "participant_id", participantID, "error", err)
		}
		return
	}
	if result.RoomClosed {
		return
	}
	h.hub.BroadcastRoom(roomID, models.RoomEvent{Type: models.EventParticipantLeft, ParticipantID: participantID})
	if result.PromotedID != "" {
		h.hub.BroadcastRoom(roomID, models.RoomEvent{Type: models.EventModeratorPromoted, ParticipantID: result.PromotedID})
	}
}
