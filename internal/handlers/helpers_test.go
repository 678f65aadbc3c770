package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roomchat/internal/chat"
	"roomchat/internal/models"
	"roomchat/internal/repositories"
	"roomchat/internal/telemetry"
)

type recordingHub struct {
	mu     sync.Mutex
	room   []models.RoomEvent
	direct []models.DirectEvent
	users  [][]string
}

func (h *recordingHub) BroadcastRoom(roomID string, event models.RoomEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	event.RoomID = roomID
	h.room = append(h.room, event)
}

func (h *recordingHub) SendToUsers(event models.DirectEvent, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct = append(h.direct, event)
	h.users = append(h.users, userIDs)
}

func (h *recordingHub) roomTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, 0, len(h.room))
	for _, e := range h.room {
		types = append(types, e.Type)
	}
	return types
}

type auditorMock struct {
	mock.Mock
}

func (m *auditorMock) Emit(ctx context.Context, level string, record telemetry.AuditRecord) {
	m.Called(ctx, level, record)
}

type testServer struct {
	router        *gin.Engine
	rooms         *chat.RoomManager
	messages      *chat.MessageManager
	conversations *chat.ConversationManager
	hub           *recordingHub
	auditor       *auditorMock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	store := repositories.NewMemoryStore()
	rooms := chat.NewRoomManager(store, nil, chat.RoomOptions{}, log)
	messages := chat.NewMessageManager(rooms, store, nil, chat.MessageOptions{}, log)
	rooms.SetPurger(messages)
	t.Cleanup(messages.Close)
	conversations := chat.NewConversationManager(store, 0, nil, log)

	hub := &recordingHub{}
	auditor := &auditorMock{}
	router := gin.New()
	RegisterRoutes(router,
		NewRoomHandler(rooms, messages, hub, auditor, "https://chat.example/", log),
		NewMessageHandler(rooms, messages, hub, auditor, log),
		NewConversationHandler(conversations, hub, log),
	)
	return &testServer{router: router, rooms: rooms, messages: messages, conversations: conversations, hub: hub, auditor: auditor}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decode[map[string]string](t, rec)
	require.Equal(t, code, resp["code"])
}

type createdRoom struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	InviteLink    string `json:"inviteLink"`
	ParticipantID string `json:"participantId"`
}

func (s *testServer) createRoom(t *testing.T, maxUsers int) createdRoom {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rooms", map[string]any{"maxUsers": maxUsers, "nickname": "Host", "userId": "host"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createdRoom](t, rec)
}

func (s *testServer) joinRoom(t *testing.T, code, nickname string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rooms/"+code+"/join", map[string]string{"nickname": nickname})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[map[string]string](t, rec)["participantId"]
}

func (s *testServer) postMessage(t *testing.T, roomID, userID, content string) models.Message {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/rooms/"+roomID+"/messages", map[string]string{"userId": userID, "content": content})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Message](t, rec)
}
