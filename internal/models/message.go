package models

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// MessageType enumerates the content variants a room message can carry.
type MessageType string

const (
	MessageNormal MessageType = "normal"
	MessageSystem MessageType = "system"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessagePoll   MessageType = "poll"
	MessageFake   MessageType = "fake"
	MessageAI     MessageType = "ai"
)

// DeletedContent replaces the content of soft-deleted messages.
const DeletedContent = "This message was deleted"

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageNormal, MessageSystem, MessageImage, MessageFile, MessageVoice, MessagePoll, MessageFake, MessageAI:
		return true
	}
	return false
}

// Expires reports whether messages of this type get a TTL.
func (t MessageType) Expires() bool {
	return t != MessageSystem && t != MessageAI
}

// Message is a room-scoped chat message.
type Message struct {
	ID             string              `json:"id"`
	RoomID         string              `json:"room_id"`
	SenderID       string              `json:"sender_id"`
	SenderNickname string              `json:"sender_nickname"`
	Content        string              `json:"content"`
	Type           MessageType         `json:"type"`
	Timestamp      time.Time           `json:"timestamp"`
	ExpiresAt      *time.Time          `json:"expires_at,omitempty"`
	Image          *ImageData          `json:"image,omitempty"`
	File           *FileData           `json:"file,omitempty"`
	Voice          *VoiceData          `json:"voice,omitempty"`
	Poll           *PollData           `json:"poll,omitempty"`
	SpoofSource    string              `json:"spoof_source,omitempty"`
	IsEdited       bool                `json:"is_edited"`
	EditedAt       *time.Time          `json:"edited_at,omitempty"`
	IsDeleted      bool                `json:"is_deleted"`
	DeletedAt      *time.Time          `json:"deleted_at,omitempty"`
	IsPinned       bool                `json:"is_pinned"`
	PinnedAt       *time.Time          `json:"pinned_at,omitempty"`
	Reactions      map[string][]string `json:"reactions"`
	ReadBy         []ReadReceipt       `json:"read_by"`
	Delivered      bool                `json:"delivered"`
}

// ImageData is the payload of an image message.
type ImageData struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// FileData is the payload of a file message.
type FileData struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// VoiceData is the payload of a voice message.
type VoiceData struct {
	URL             string  `json:"url"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// PollData is the payload of a poll message.
type PollData struct {
	Question      string       `json:"question"`
	Options       []PollOption `json:"options"`
	AllowMultiple bool         `json:"allow_multiple"`
	IsClosed      bool         `json:"is_closed"`
	ClosedAt      *time.Time   `json:"closed_at,omitempty"`
}

// PollOption is one answer of a poll and the ids that voted for it.
type PollOption struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID   string    `json:"user_id"`
	Nickname string    `json:"nickname"`
	ReadAt   time.Time `json:"read_at"`
}

// IsLive reports whether the message is still visible at now.
func (m Message) IsLive(now time.Time) bool {
	return m.ExpiresAt == nil || now.Before(*m.ExpiresAt)
}

// HasReader reports whether userID already has a read receipt.
func (m Message) HasReader(userID string) bool {
	return lo.ContainsBy(m.ReadBy, func(r ReadReceipt) bool { return r.UserID == userID })
}

// Option returns a pointer to the option with the given id.
func (p *PollData) Option(id string) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// VotesOf counts how many options userID currently votes for.
func (p *PollData) VotesOf(userID string) int {
	return lo.CountBy(p.Options, func(o PollOption) bool { return lo.Contains(o.Votes, userID) })
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.ExpiresAt = cloneTime(m.ExpiresAt)
	out.EditedAt = cloneTime(m.EditedAt)
	out.DeletedAt = cloneTime(m.DeletedAt)
	out.PinnedAt = cloneTime(m.PinnedAt)
	if m.Image != nil {
		img := *m.Image
		out.Image = &img
	}
	if m.File != nil {
		file := *m.File
		out.File = &file
	}
	if m.Voice != nil {
		voice := *m.Voice
		out.Voice = &voice
	}
	if m.Poll != nil {
		poll := *m.Poll
		poll.ClosedAt = cloneTime(m.Poll.ClosedAt)
		poll.Options = make([]PollOption, len(m.Poll.Options))
		for i, o := range m.Poll.Options {
			o.Votes = slices.Clone(o.Votes)
			if o.Votes == nil {
				o.Votes = []string{}
			}
			poll.Options[i] = o
		}
		out.Poll = &poll
	}
	out.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		out.Reactions[emoji] = slices.Clone(users)
	}
	out.ReadBy = slices.Clone(m.ReadBy)
	if out.ReadBy == nil {
		out.ReadBy = []ReadReceipt{}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
