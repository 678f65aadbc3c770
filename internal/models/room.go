package models

import "time"

// Room represents a bounded chat space addressed by a short code.
type Room struct {
	ID           string                 `db:"id" json:"id"`
	Code         string                 `db:"code" json:"code"`
	Name         string                 `db:"name" json:"name,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
	MaxUsers     int                    `db:"max_users" json:"max_users"`
	Participants map[string]Participant `db:"-" json:"participants"`
	IsLocked     bool                   `db:"is_locked" json:"is_locked"`
	Moderators   map[string]struct{}    `db:"-" json:"-"`
	IsPersistent bool                   `db:"is_persistent" json:"is_persistent"`
	ExpiresAt    *time.Time             `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy    string                 `db:"created_by" json:"created_by,omitempty"`
	Settings     map[string]any         `db:"-" json:"settings,omitempty"`
}

// Participant is a member of a room. It only lives as part of its room.
type Participant struct {
	ID          string    `json:"id"`
	Nickname    string    `json:"nickname"`
	JoinedAt    time.Time `json:"joined_at"`
	ConnID      string    `json:"-"`
	IsModerator bool      `json:"is_moderator"`
}

// RoomSummary is the public view of a room returned by code lookups.
type RoomSummary struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name,omitempty"`
	MaxUsers         int       `json:"max_users"`
	ParticipantCount int       `json:"participant_count"`
	IsLocked         bool      `json:"is_locked"`
	IsPersistent     bool      `json:"is_persistent"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsModerator reports whether the user belongs to the moderator set.
func (r Room) IsModerator(userID string) bool {
	_, ok := r.Moderators[userID]
	return ok
}

// IsFull reports whether the room has reached capacity.
func (r Room) IsFull() bool {
	return len(r.Participants) >= r.MaxUsers
}

// IsExpired reports whether a persistent room is past its expiry.
func (r Room) IsExpired(now time.Time) bool {
	return r.IsPersistent && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// ModeratorIDs returns the moderator ids in no particular order.
func (r Room) ModeratorIDs() []string {
	ids := make([]string, 0, len(r.Moderators))
	for id := range r.Moderators {
		ids = append(ids, id)
	}
	return ids
}

// Summary builds the lookup view of the room.
func (r Room) Summary() RoomSummary {
	return RoomSummary{
		ID:               r.ID,
		Code:             r.Code,
		Name:             r.Name,
		MaxUsers:         r.MaxUsers,
		ParticipantCount: len(r.Participants),
		IsLocked:         r.IsLocked,
		IsPersistent:     r.IsPersistent,
		CreatedAt:        r.CreatedAt,
	}
}

// Clone returns a deep copy so callers never share maps with the owner.
func (r Room) Clone() Room {
	out := r
	out.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		p.IsModerator = r.IsModerator(id)
		out.Participants[id] = p
	}
	out.Moderators = make(map[string]struct{}, len(r.Moderators))
	for id := range r.Moderators {
		out.Moderators[id] = struct{}{}
	}
	if r.Settings != nil {
		out.Settings = make(map[string]any, len(r.Settings))
		for k, v := range r.Settings {
			out.Settings[k] = v
		}
	}
	if r.ExpiresAt != nil {
		at := *r.ExpiresAt
		out.ExpiresAt = &at
	}
	return out
}
