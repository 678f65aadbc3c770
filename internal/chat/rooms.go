package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"roomchat/internal/models"
	"roomchat/internal/observability"
	"roomchat/internal/repositories"
)

const maxCodeAttempts = 32

// RoomOptions tunes RoomManager.
type RoomOptions struct {
	DefaultMaxUsers   int
	MaxUsersLimit     int
	CodeLength        int
	PersistentRoomTTL time.Duration
	Now               func() time.Time
}

// RoomPurger removes every message of a room. MessageManager implements it.
type RoomPurger interface {
	PurgeRoom(ctx context.Context, roomID string) error
}

// CreateRoomParams describes a new room and its creator.
type CreateRoomParams struct {
	MaxUsers        int
	CreatorID       string
	CreatorNickname string
	Name            string
	IsPersistent    bool
	Settings        map[string]any
}

// LeaveResult reports the side effects of a participant leaving.
type LeaveResult struct {
	PromotedID string
	RoomClosed bool
}

type roomEntry struct {
	mu      sync.Mutex
	room    models.Room
	removed bool
}

// RoomManager owns room state. Each room has its own mutex so capacity
// checks, lock flags and moderator changes never race.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
	codes map[string]string

	transient repositories.Store
	durable   repositories.Store
	purger    RoomPurger
	opts      RoomOptions
	log       *slog.Logger
}

// NewRoomManager builds a RoomManager. durable may be nil, in which case
// persistent rooms fall back to the transient store.
func NewRoomManager(transient, durable repositories.Store, opts RoomOptions, log *slog.Logger) *RoomManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CodeLength == 0 {
		opts.CodeLength = 6
	}
	if opts.DefaultMaxUsers == 0 {
		opts.DefaultMaxUsers = 10
	}
	if opts.MaxUsersLimit == 0 {
		opts.MaxUsersLimit = 100
	}
	if opts.PersistentRoomTTL == 0 {
		opts.PersistentRoomTTL = 24 * time.Hour
	}
	return &RoomManager{
		rooms:     make(map[string]*roomEntry),
		codes:     make(map[string]string),
		transient: transient,
		durable:   durable,
		opts:      opts,
		log:       log,
	}
}

// SetPurger wires the component that deletes messages of removed rooms.
func (m *RoomManager) SetPurger(p RoomPurger) {
	m.purger = p
}

// CodeLength returns the fixed length of room codes.
func (m *RoomManager) CodeLength() int {
	return m.opts.CodeLength
}

// CreateRoom creates a room whose creator is its only participant and moderator.
func (m *RoomManager) CreateRoom(ctx context.Context, params CreateRoomParams) (models.Room, error) {
	maxUsers := params.MaxUsers
	if maxUsers == 0 {
		maxUsers = m.opts.DefaultMaxUsers
	}
	if maxUsers < 1 || maxUsers > m.opts.MaxUsersLimit {
		return models.Room{}, ErrInvalidMaxUsers
	}
	nickname := strings.TrimSpace(params.CreatorNickname)
	if nickname == "" {
		return models.Room{}, ErrEmptyNickname
	}
	creatorID := params.CreatorID
	if creatorID == "" {
		creatorID = uuid.NewString()
	}

	now := m.opts.Now()
	room := models.Room{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(params.Name),
		CreatedAt: now,
		MaxUsers:  maxUsers,
		Participants: map[string]models.Participant{
			creatorID: {ID: creatorID, Nickname: nickname, JoinedAt: now, IsModerator: true},
		},
		Moderators:   map[string]struct{}{creatorID: {}},
		IsPersistent: params.IsPersistent,
		CreatedBy:    creatorID,
		Settings:     params.Settings,
	}
	if room.IsPersistent {
		room.ExpiresAt = lo.ToPtr(now.Add(m.opts.PersistentRoomTTL))
	}

	m.mu.Lock()
	code, err := m.uniqueCodeLocked()
	if err != nil {
		m.mu.Unlock()
		return models.Room{}, err
	}
	room.Code = code
	entry := &roomEntry{room: room}
	m.rooms[room.ID] = entry
	m.codes[code] = room.ID
	entry.mu.Lock()
	m.mu.Unlock()
	defer entry.mu.Unlock()

	if err := m.storeFor(room).SaveRoom(ctx, room); err != nil {
		m.mu.Lock()
		delete(m.rooms, room.ID)
		delete(m.codes, code)
		m.mu.Unlock()
		entry.removed = true
		return models.Room{}, fmt.Errorf("save room: %w", err)
	}

	observability.IncActiveRooms()
	m.log.Info("room created", "room_id", room.ID, "code", code, "max_users", maxUsers, "persistent", room.IsPersistent)
	return room.Clone(), nil
}

// GetRoom returns a snapshot of the room.
func (m *RoomManager) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	entry, err := m.entry(roomID)
	if err != nil {
		return models.Room{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return models.Room{}, ErrRoomNotFound
	}
	return entry.room.Clone(), nil
}

// GetRoomByCode resolves an active room from its code.
func (m *RoomManager) GetRoomByCode(ctx context.Context, code string) (models.Room, error) {
	normalized, err := NormalizeCode(code, m.opts.CodeLength)
	if err != nil {
		return models.Room{}, err
	}
	m.mu.RLock()
	roomID, ok := m.codes[normalized]
	m.mu.RUnlock()
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return m.GetRoom(ctx, roomID)
}

// ListRooms returns snapshots of every active room, oldest first.
func (m *RoomManager) ListRooms(ctx context.Context) []models.Room {
	m.mu.RLock()
	ids := lo.Keys(m.rooms)
	m.mu.RUnlock()

	rooms := make([]models.Room, 0, len(ids))
	for _, id := range ids {
		if room, err := m.GetRoom(ctx, id); err == nil {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms
}

// JoinRoom adds a new participant to the room identified by code.
func (m *RoomManager) JoinRoom(ctx context.Context, code, nickname string) (models.Room, models.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return models.Room{}, models.Participant{}, ErrEmptyNickname
	}
	room, err := m.GetRoomByCode(ctx, code)
	if err != nil {
		return models.Room{}, models.Participant{}, err
	}
	participant := models.Participant{ID: uuid.NewString(), Nickname: nickname}
	updated, err := m.AddParticipant(ctx, room.ID, participant)
	if err != nil {
		return models.Room{}, models.Participant{}, err
	}
	return updated, updated.Participants[participant.ID], nil
}

// AddParticipant inserts a participant. A locked or full room is left untouched.
func (m *RoomManager) AddParticipant(ctx context.Context, roomID string, participant models.Participant) (models.Room, error) {
	room, err := m.update(ctx, roomID, func(room *models.Room) error {
		if _, exists := room.Participants[participant.ID]; exists {
			return ErrAlreadyJoined
		}
		if room.IsLocked {
			return ErrRoomLocked
		}
		if room.IsFull() {
			return ErrRoomFull
		}
		if participant.JoinedAt.IsZero() {
			participant.JoinedAt = m.opts.Now()
		}
		participant.IsModerator = room.IsModerator(participant.ID)
		room.Participants[participant.ID] = participant
		return nil
	})
	if err != nil {
		observability.IncRoomJoin(joinResult(err))
		return models.Room{}, err
	}
	observability.IncRoomJoin("ok")
	m.log.Debug("participant joined", "room_id", roomID, "participant_id", participant.ID, "count", len(room.Participants))
	return room, nil
}

// RemoveParticipant drops a participant. When the last moderator leaves the
// oldest remaining participant is promoted. An emptied transient room is
// closed before its mutex is released, so no join can slip in.
func (m *RoomManager) RemoveParticipant(ctx context.Context, roomID, participantID string) (LeaveResult, error) {
	var result LeaveResult
	err := m.withEntry(roomID, func(entry *roomEntry) error {
		next := entry.room.Clone()
		if _, ok := next.Participants[participantID]; !ok {
			return ErrParticipantNotFound
		}
		delete(next.Participants, participantID)
		delete(next.Moderators, participantID)
		if len(next.Participants) == 0 && !next.IsPersistent {
			result.RoomClosed = true
			return m.removeLocked(ctx, entry)
		}
		if len(next.Moderators) == 0 && len(next.Participants) > 0 {
			oldest := oldestParticipant(next.Participants)
			next.Moderators[oldest.ID] = struct{}{}
			oldest.IsModerator = true
			next.Participants[oldest.ID] = oldest
			result.PromotedID = oldest.ID
		}
		return m.commitLocked(ctx, entry, next)
	})
	if err != nil {
		return LeaveResult{}, err
	}
	m.log.Debug("participant left", "room_id", roomID, "participant_id", participantID,
		"promoted", result.PromotedID, "closed", result.RoomClosed)
	return result, nil
}

// AttachConnection records the transport handle of a participant.
func (m *RoomManager) AttachConnection(ctx context.Context, roomID, participantID, connID string) error {
	entry, err := m.entry(roomID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return ErrRoomNotFound
	}
	p, ok := entry.room.Participants[participantID]
	if !ok {
		return ErrParticipantNotFound
	}
	p.ConnID = connID
	entry.room.Participants[participantID] = p
	return nil
}

// IsModerator reports whether userID moderates the room.
func (m *RoomManager) IsModerator(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := m.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsModerator(userID), nil
}

// LockRoom stops new joins. Moderators only.
func (m *RoomManager) LockRoom(ctx context.Context, roomID, userID string) (models.Room, error) {
	return m.setLocked(ctx, roomID, userID, true)
}

// UnlockRoom allows joins again. Moderators only.
func (m *RoomManager) UnlockRoom(ctx context.Context, roomID, userID string) (models.Room, error) {
	return m.setLocked(ctx, roomID, userID, false)
}

func (m *RoomManager) setLocked(ctx context.Context, roomID, userID string, locked bool) (models.Room, error) {
	return m.update(ctx, roomID, func(room *models.Room) error {
		if !room.IsModerator(userID) {
			return ErrNotModerator
		}
		room.IsLocked = locked
		return nil
	})
}

// RegenerateRoomCode issues a new code and invalidates the old one.
// Current members are unaffected.
func (m *RoomManager) RegenerateRoomCode(ctx context.Context, roomID, userID string) (models.Room, error) {
	var oldCode, newCode string
	room, err := m.update(ctx, roomID, func(room *models.Room) error {
		if !room.IsModerator(userID) {
			return ErrNotModerator
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		code, err := m.uniqueCodeLocked()
		if err != nil {
			return err
		}
		oldCode, newCode = room.Code, code
		room.Code = code
		// reserved now so no concurrent create can take it
		m.codes[code] = room.ID
		return nil
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if newCode != "" {
			delete(m.codes, newCode)
		}
		return models.Room{}, err
	}
	delete(m.codes, oldCode)
	m.log.Info("room code regenerated", "room_id", roomID, "by", userID)
	return room, nil
}

// CleanupExpiredRooms deletes persistent rooms past their expiry together with their messages.
func (m *RoomManager) CleanupExpiredRooms(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("roomchat/chat").Start(ctx, "rooms.cleanup_expired")
	defer span.End()

	now := m.opts.Now()
	expired := lo.Filter(m.ListRooms(ctx), func(r models.Room, _ int) bool { return r.IsExpired(now) })

	removed := 0
	for _, room := range expired {
		if err := m.deleteRoom(ctx, room.ID); err != nil {
			if errors.Is(err, ErrRoomNotFound) {
				continue
			}
			span.RecordError(err)
			return removed, err
		}
		removed++
	}
	span.SetAttributes(attribute.Int("rooms.removed", removed))
	if removed > 0 {
		observability.AddRoomsExpired(removed)
		m.log.Info("expired rooms removed", "count", removed)
	}
	return removed, nil
}

// RunCleanup sweeps expired rooms every interval until ctx is done.
func (m *RoomManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupExpiredRooms(ctx); err != nil {
				m.log.Error("room cleanup failed", "error", err)
			}
		}
	}
}

// Restore loads unexpired persistent rooms from the durable store. Sockets do
// not survive a restart, so only the creator and moderators stay members.
func (m *RoomManager) Restore(ctx context.Context) (int, error) {
	if m.durable == nil {
		return 0, nil
	}
	rooms, err := m.durable.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}
	now := m.opts.Now()
	restored := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, room := range rooms {
		if !room.IsPersistent || room.IsExpired(now) {
			continue
		}
		if _, taken := m.codes[room.Code]; taken {
			m.log.Warn("skipping restored room with duplicate code", "room_id", room.ID, "code", room.Code)
			continue
		}
		room = resetMembership(room)
		if err := m.durable.SaveRoom(ctx, room); err != nil {
			return restored, fmt.Errorf("save restored room: %w", err)
		}
		m.rooms[room.ID] = &roomEntry{room: room}
		m.codes[room.Code] = room.ID
		restored++
		observability.IncActiveRooms()
	}
	m.log.Info("persistent rooms restored", "count", restored)
	return restored, nil
}

// update applies fn to a copy of the room under its mutex, persists the copy
// and only then commits it. fn errors leave the room untouched.
func (m *RoomManager) update(ctx context.Context, roomID string, fn func(room *models.Room) error) (models.Room, error) {
	var out models.Room
	err := m.withEntry(roomID, func(entry *roomEntry) error {
		next := entry.room.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if err := m.commitLocked(ctx, entry, next); err != nil {
			return err
		}
		out = next.Clone()
		return nil
	})
	if err != nil {
		return models.Room{}, err
	}
	return out, nil
}

// withEntry runs fn while holding the mutex of a room that is still active.
func (m *RoomManager) withEntry(roomID string, fn func(entry *roomEntry) error) error {
	entry, err := m.entry(roomID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return ErrRoomNotFound
	}
	return fn(entry)
}

func (m *RoomManager) commitLocked(ctx context.Context, entry *roomEntry, next models.Room) error {
	if err := m.storeFor(next).SaveRoom(ctx, next); err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	entry.room = next
	return nil
}

func (m *RoomManager) deleteRoom(ctx context.Context, roomID string) error {
	return m.withEntry(roomID, func(entry *roomEntry) error {
		return m.removeLocked(ctx, entry)
	})
}

// removeLocked closes a room whose mutex the caller holds and drops its messages.
func (m *RoomManager) removeLocked(ctx context.Context, entry *roomEntry) error {
	roomID := entry.room.ID
	entry.removed = true

	m.mu.Lock()
	delete(m.rooms, roomID)
	if m.codes[entry.room.Code] == roomID {
		delete(m.codes, entry.room.Code)
	}
	m.mu.Unlock()
	observability.DecActiveRooms()

	if err := m.storeFor(entry.room).DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if m.purger != nil {
		if err := m.purger.PurgeRoom(ctx, roomID); err != nil {
			return fmt.Errorf("purge room messages: %w", err)
		}
	}
	m.log.Info("room deleted", "room_id", roomID)
	return nil
}

func (m *RoomManager) entry(roomID string) (*roomEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return entry, nil
}

func (m *RoomManager) uniqueCodeLocked() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateCode(m.opts.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if _, taken := m.codes[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}

func (m *RoomManager) storeFor(room models.Room) repositories.Store {
	if room.IsPersistent && m.durable != nil {
		return m.durable
	}
	return m.transient
}

func resetMembership(room models.Room) models.Room {
	room = room.Clone()
	room.Participants = lo.PickBy(room.Participants, func(id string, _ models.Participant) bool {
		return id == room.CreatedBy || room.IsModerator(id)
	})
	for id, p := range room.Participants {
		p.ConnID = ""
		room.Participants[id] = p
	}
	return room
}

func oldestParticipant(participants map[string]models.Participant) models.Participant {
	all := lo.Values(participants)
	sort.Slice(all, func(i, j int) bool {
		if all[i].JoinedAt.Equal(all[j].JoinedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].JoinedAt.Before(all[j].JoinedAt)
	})
	return all[0]
}

func joinResult(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return "full"
	case errors.Is(err, ErrRoomLocked):
		return "locked"
	case errors.Is(err, ErrRoomNotFound):
		return "not_found"
	default:
		return "error"
	}
}
