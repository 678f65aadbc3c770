package ws

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newConnID() string {
	return uuid.NewString()
}

// inboundFrame is what room clients may send over the socket.
type inboundFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func parseFrame(data []byte) (inboundFrame, error) {
	var frame inboundFrame
	err := json.Unmarshal(data, &frame)
	return frame, err
}
