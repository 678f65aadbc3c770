package ws

import "time"

type ConnInfo struct {
	ConnID      string
	ResourceID  string
	UserID      string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
