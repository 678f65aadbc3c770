package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"roomchat/internal/models"
	"roomchat/internal/observability"
	"roomchat/internal/repositories"
)

// RoomLookup resolves rooms for MessageManager. RoomManager implements it.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

// MessageOptions tunes MessageManager.
type MessageOptions struct {
	TTL           time.Duration
	EditWindow    time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// CreateMessageParams describes a room message. TTL overrides the default
// lifetime when set.
type CreateMessageParams struct {
	RoomID         string
	SenderID       string
	SenderNickname string
	Content        string
	Type           models.MessageType
	Image          *models.ImageData
	File           *models.FileData
	Voice          *models.VoiceData
	TTL            *time.Duration
}

// CreatePollParams describes a poll message.
type CreatePollParams struct {
	RoomID         string
	SenderID       string
	SenderNickname string
	Question       string
	Options        []string
	AllowMultiple  bool
	TTL            *time.Duration
}

// MessageManager owns room messages, their expiry and their interactions.
type MessageManager struct {
	rooms     RoomLookup
	transient repositories.Store
	durable   repositories.Store
	expiry    *ExpiryQueue
	locks     *keyedMutex
	opts      MessageOptions
	log       *slog.Logger

	onExpired func(ctx context.Context, e Expiration)
	cancel    context.CancelFunc
}

// NewMessageManager builds a MessageManager. durable may be nil.
func NewMessageManager(rooms RoomLookup, transient, durable repositories.Store, opts MessageOptions, log *slog.Logger) *MessageManager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL == 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.EditWindow == 0 {
		opts.EditWindow = 48 * time.Hour
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Second
	}
	return &MessageManager{
		rooms:     rooms,
		transient: transient,
		durable:   durable,
		expiry:    NewExpiryQueue(opts.SweepInterval, opts.Now, log),
		locks:     newKeyedMutex(),
		opts:      opts,
		log:       log,
	}
}

// SetOnExpired registers a callback run after an expired message is removed.
func (m *MessageManager) SetOnExpired(fn func(ctx context.Context, e Expiration)) {
	m.onExpired = fn
}

// Start launches the expiry sweep. Close stops it.
func (m *MessageManager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.expiry.Run(ctx, m.expire)
}

// Close cancels every pending expiration.
func (m *MessageManager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.expiry.Stop()
}

// PendingExpirations reports how many messages wait for their deadline.
func (m *MessageManager) PendingExpirations() int {
	return m.expiry.Len()
}

// CreateMessage stores a text-like message (normal, system, ai, voice, image, file).
func (m *MessageManager) CreateMessage(ctx context.Context, params CreateMessageParams) (models.Message, error) {
	if params.Type == "" {
		params.Type = models.MessageNormal
	}
	if !params.Type.Valid() || params.Type == models.MessageFake || params.Type == models.MessagePoll {
		return models.Message{}, ErrInvalidMessageType
	}
	params.Content = strings.TrimSpace(params.Content)
	if err := validatePayload(params); err != nil {
		return models.Message{}, err
	}

	msg := m.newMessage(params.RoomID, params.SenderID, params.SenderNickname, params.Type)
	msg.Content = params.Content
	msg.Image = params.Image
	msg.File = params.File
	msg.Voice = params.Voice
	return m.store(ctx, msg, params.TTL)
}

// CreateImageMessage stores an image message.
func (m *MessageManager) CreateImageMessage(ctx context.Context, params CreateMessageParams, image models.ImageData) (models.Message, error) {
	params.Type = models.MessageImage
	params.Image = &image
	return m.CreateMessage(ctx, params)
}

// CreateFileMessage stores a file message.
func (m *MessageManager) CreateFileMessage(ctx context.Context, params CreateMessageParams, file models.FileData) (models.Message, error) {
	params.Type = models.MessageFile
	params.File = &file
	return m.CreateMessage(ctx, params)
}

// CreateVoiceMessage stores a voice message.
func (m *MessageManager) CreateVoiceMessage(ctx context.Context, params CreateMessageParams, voice models.VoiceData) (models.Message, error) {
	params.Type = models.MessageVoice
	params.Voice = &voice
	return m.CreateMessage(ctx, params)
}

// CreatePollMessage stores a poll with at least two options.
func (m *MessageManager) CreatePollMessage(ctx context.Context, params CreatePollParams) (models.Message, error) {
	question := strings.TrimSpace(params.Question)
	options := lo.Filter(lo.Map(params.Options, func(o string, _ int) string { return strings.TrimSpace(o) }),
		func(o string, _ int) bool { return o != "" })
	if question == "" || len(options) < 2 {
		return models.Message{}, ErrInvalidPoll
	}

	msg := m.newMessage(params.RoomID, params.SenderID, params.SenderNickname, models.MessagePoll)
	msg.Content = question
	msg.Poll = &models.PollData{
		Question:      question,
		AllowMultiple: params.AllowMultiple,
		Options: lo.Map(options, func(text string, i int) models.PollOption {
			return models.PollOption{ID: fmt.Sprintf("opt-%d", i+1), Text: text, Votes: []string{}}
		}),
	}
	return m.store(ctx, msg, params.TTL)
}

// InjectFakeMessage builds a spoofed message. It is never stored, so the
// caller must fan it out and no later read returns it.
func (m *MessageManager) InjectFakeMessage(ctx context.Context, roomID, content, spoofSource string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if _, err := m.rooms.GetRoom(ctx, roomID); err != nil {
		return models.Message{}, err
	}
	msg := m.newMessage(roomID, "", spoofSource, models.MessageFake)
	msg.Content = content
	msg.SpoofSource = spoofSource
	observability.IncMessagesCreated(string(models.MessageFake))
	return msg, nil
}

// GetMessages returns the live messages of a room in timestamp order.
func (m *MessageManager) GetMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	room, err := m.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.storeFor(room).ListMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	now := m.opts.Now()
	live := lo.Filter(msgs, func(msg models.Message, _ int) bool { return msg.IsLive(now) })
	sort.SliceStable(live, func(i, j int) bool { return live[i].Timestamp.Before(live[j].Timestamp) })
	return live, nil
}

// GetPinnedMessages returns the live pinned messages of a room.
func (m *MessageManager) GetPinnedMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	msgs, err := m.GetMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(msgs, func(msg models.Message, _ int) bool { return msg.IsPinned }), nil
}

// GetMessage returns one live message.
func (m *MessageManager) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	msg, _, err := m.locate(ctx, messageID)
	return msg, err
}

// EditMessage replaces the content of a message. Only the sender may edit,
// and only within the edit window.
func (m *MessageManager) EditMessage(ctx context.Context, messageID, content, userID string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	return m.mutate(ctx, messageID, func(msg *models.Message, now time.Time) error {
		if msg.SenderID != userID {
			return ErrNotMessageOwner
		}
		if msg.IsDeleted {
			return ErrMessageDeleted
		}
		if now.Sub(msg.Timestamp) > m.opts.EditWindow {
			return ErrEditWindowExpired
		}
		msg.Content = content
		msg.IsEdited = true
		msg.EditedAt = lo.ToPtr(now)
		return nil
	})
}

// DeleteMessage soft-deletes a message. The sender or a moderator may delete.
// Deleting twice leaves the tombstone untouched.
func (m *MessageManager) DeleteMessage(ctx context.Context, messageID, userID string, isModerator bool) (models.Message, error) {
	return m.mutate(ctx, messageID, func(msg *models.Message, now time.Time) error {
		if !isModerator && msg.SenderID != userID {
			return ErrNotMessageOwner
		}
		if msg.IsDeleted {
			return errUnchanged
		}
		msg.IsDeleted = true
		msg.DeletedAt = lo.ToPtr(now)
		msg.Content = models.DeletedContent
		msg.Image, msg.File, msg.Voice = nil, nil, nil
		return nil
	})
}

// PinMessage pins a message. Moderators only.
func (m *MessageManager) PinMessage(ctx context.Context, messageID string, isModerator bool) (models.Message, error) {
	return m.setPinned(ctx, messageID, isModerator, true)
}

// UnpinMessage unpins a message. Moderators only.
func (m *MessageManager) UnpinMessage(ctx context.Context, messageID string, isModerator bool) (models.Message, error) {
	return m.setPinned(ctx, messageID, isModerator, false)
}

func (m *MessageManager) setPinned(ctx context.Context, messageID string, isModerator, pinned bool) (models.Message, error) {
	if !isModerator {
		return models.Message{}, ErrNotModerator
	}
	return m.mutate(ctx, messageID, func(msg *models.Message, now time.Time) error {
		if msg.IsPinned == pinned {
			return errUnchanged
		}
		msg.IsPinned = pinned
		msg.PinnedAt = nil
		if pinned {
			msg.PinnedAt = lo.ToPtr(now)
		}
		return nil
	})
}

// AddReaction records userID under emoji. Adding twice is a no-op.
func (m *MessageManager) AddReaction(ctx context.Context, messageID, emoji, userID string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.Message{}, ErrEmptyEmoji
	}
	return m.mutate(ctx, messageID, func(msg *models.Message, _ time.Time) error {
		if msg.IsDeleted {
			return ErrMessageDeleted
		}
		if lo.Contains(msg.Reactions[emoji], userID) {
			return errUnchanged
		}
		msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
		return nil
	})
}

// RemoveReaction drops userID from emoji. The emoji disappears with its last reactor.
func (m *MessageManager) RemoveReaction(ctx context.Context, messageID, emoji, userID string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.Message{}, ErrEmptyEmoji
	}
	return m.mutate(ctx, messageID, func(msg *models.Message, _ time.Time) error {
		if !lo.Contains(msg.Reactions[emoji], userID) {
			return errUnchanged
		}
		removeReactor(msg, emoji, userID)
		return nil
	})
}

// ToggleReaction adds the reaction if absent and removes it otherwise.
func (m *MessageManager) ToggleReaction(ctx context.Context, messageID, emoji, userID string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.Message{}, ErrEmptyEmoji
	}
	return m.mutate(ctx, messageID, func(msg *models.Message, _ time.Time) error {
		if lo.Contains(msg.Reactions[emoji], userID) {
			removeReactor(msg, emoji, userID)
			return nil
		}
		if msg.IsDeleted {
			return ErrMessageDeleted
		}
		msg.Reactions[emoji] = append(msg.Reactions[emoji], userID)
		return nil
	})
}

func removeReactor(msg *models.Message, emoji, userID string) {
	rest := lo.Without(msg.Reactions[emoji], userID)
	if len(rest) == 0 {
		delete(msg.Reactions, emoji)
		return
	}
	msg.Reactions[emoji] = rest
}

// VotePoll casts a vote. In single-choice polls a vote for another option
// first retracts the previous one.
func (m *MessageManager) VotePoll(ctx context.Context, messageID, optionID, userID string) (models.Message, error) {
	return m.mutatePoll(ctx, messageID, func(poll *models.PollData) error {
		option := poll.Option(optionID)
		if option == nil {
			return ErrUnknownOption
		}
		if lo.Contains(option.Votes, userID) {
			return errUnchanged
		}
		if !poll.AllowMultiple {
			for i := range poll.Options {
				poll.Options[i].Votes = lo.Without(poll.Options[i].Votes, userID)
			}
		}
		option.Votes = append(option.Votes, userID)
		return nil
	})
}

// RetractVote removes userID's vote from one option.
func (m *MessageManager) RetractVote(ctx context.Context, messageID, optionID, userID string) (models.Message, error) {
	return m.mutatePoll(ctx, messageID, func(poll *models.PollData) error {
		option := poll.Option(optionID)
		if option == nil {
			return ErrUnknownOption
		}
		if !lo.Contains(option.Votes, userID) {
			return errUnchanged
		}
		option.Votes = lo.Without(option.Votes, userID)
		return nil
	})
}

func (m *MessageManager) mutatePoll(ctx context.Context, messageID string, fn func(poll *models.PollData) error) (models.Message, error) {
	return m.mutate(ctx, messageID, func(msg *models.Message, _ time.Time) error {
		if msg.Type != models.MessagePoll || msg.Poll == nil {
			return ErrNotAPoll
		}
		if msg.IsDeleted {
			return ErrMessageDeleted
		}
		if msg.Poll.IsClosed {
			return ErrPollClosed
		}
		return fn(msg.Poll)
	})
}

// ClosePoll ends voting. Only the poll creator may close it.
func (m *MessageManager) ClosePoll(ctx context.Context, messageID, userID string) (models.Message, error) {
	return m.mutate(ctx, messageID, func(msg *models.Message, now time.Time) error {
		if msg.Type != models.MessagePoll || msg.Poll == nil {
			return ErrNotAPoll
		}
		if msg.SenderID != userID {
			return ErrNotPollOwner
		}
		if msg.Poll.IsClosed {
			return errUnchanged
		}
		msg.Poll.IsClosed = true
		msg.Poll.ClosedAt = lo.ToPtr(now)
		return nil
	})
}

// MarkMessageRead adds a read receipt and marks the message delivered.
// The sender reading their own message changes nothing.
func (m *MessageManager) MarkMessageRead(ctx context.Context, messageID, userID, nickname string) (models.Message, error) {
	return m.mutate(ctx, messageID, func(msg *models.Message, now time.Time) error {
		if msg.SenderID == userID {
			return errUnchanged
		}
		if msg.HasReader(userID) {
			if msg.Delivered {
				return errUnchanged
			}
			msg.Delivered = true
			return nil
		}
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{UserID: userID, Nickname: nickname, ReadAt: now})
		msg.Delivered = true
		return nil
	})
}

// ClearRoom removes the messages of a room, optionally keeping system
// messages, and returns how many were removed.
func (m *MessageManager) ClearRoom(ctx context.Context, roomID string, preserveSystem bool) (int, error) {
	room, err := m.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	store := m.storeFor(room)
	if !preserveSystem {
		msgs, err := store.ListMessages(ctx, roomID)
		if err != nil {
			return 0, fmt.Errorf("list messages: %w", err)
		}
		m.expiry.CancelRoom(roomID)
		if err := store.DeleteRoomMessages(ctx, roomID); err != nil {
			return 0, fmt.Errorf("delete room messages: %w", err)
		}
		m.log.Info("room cleared", "room_id", roomID, "removed", len(msgs))
		return len(msgs), nil
	}

	msgs, err := store.ListMessages(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	removed := 0
	for _, msg := range msgs {
		if msg.Type == models.MessageSystem {
			continue
		}
		m.expiry.Cancel(msg.ID)
		if err := store.DeleteMessage(ctx, msg.ID); err != nil {
			return removed, fmt.Errorf("delete message: %w", err)
		}
		removed++
	}
	m.log.Info("room cleared", "room_id", roomID, "removed", removed, "preserve_system", true)
	return removed, nil
}

// PurgeRoom drops every message of a room from both stores and cancels
// their expirations. It does not require the room to still exist.
func (m *MessageManager) PurgeRoom(ctx context.Context, roomID string) error {
	m.expiry.CancelRoom(roomID)
	if err := m.transient.DeleteRoomMessages(ctx, roomID); err != nil {
		return fmt.Errorf("delete transient messages: %w", err)
	}
	if m.durable != nil {
		if err := m.durable.DeleteRoomMessages(ctx, roomID); err != nil {
			return fmt.Errorf("delete durable messages: %w", err)
		}
	}
	return nil
}

// Restore re-registers expirations of messages kept in the durable store.
func (m *MessageManager) Restore(ctx context.Context, rooms []models.Room) (int, error) {
	if m.durable == nil {
		return 0, nil
	}
	now := m.opts.Now()
	scheduled := 0
	for _, room := range rooms {
		msgs, err := m.durable.ListMessages(ctx, room.ID)
		if err != nil {
			return scheduled, fmt.Errorf("list messages: %w", err)
		}
		for _, msg := range msgs {
			if msg.ExpiresAt == nil {
				continue
			}
			if !msg.IsLive(now) {
				if err := m.durable.DeleteMessage(ctx, msg.ID); err != nil {
					return scheduled, fmt.Errorf("delete message: %w", err)
				}
				continue
			}
			m.expiry.Schedule(msg.ID, msg.RoomID, *msg.ExpiresAt)
			scheduled++
		}
	}
	return scheduled, nil
}

// errUnchanged short-circuits mutate when nothing needs saving.
var errUnchanged = errors.New("unchanged")

// mutate applies fn to a copy of the message under the message's lock and
// saves it back to the store it came from.
func (m *MessageManager) mutate(ctx context.Context, messageID string, fn func(msg *models.Message, now time.Time) error) (models.Message, error) {
	unlock := m.locks.Lock(messageID)
	defer unlock()

	msg, store, err := m.locate(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	next := msg.Clone()
	if err := fn(&next, m.opts.Now()); err != nil {
		if errors.Is(err, errUnchanged) {
			return msg, nil
		}
		return models.Message{}, err
	}
	if err := store.SaveMessage(ctx, next); err != nil {
		return models.Message{}, fmt.Errorf("save message: %w", err)
	}
	return next, nil
}

// locate finds a live message in the transient store first, then the durable one.
func (m *MessageManager) locate(ctx context.Context, messageID string) (models.Message, repositories.Store, error) {
	stores := []repositories.Store{m.transient}
	if m.durable != nil {
		stores = append(stores, m.durable)
	}
	for _, store := range stores {
		msg, err := store.GetMessage(ctx, messageID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return models.Message{}, nil, fmt.Errorf("get message: %w", err)
		}
		if !msg.IsLive(m.opts.Now()) {
			return models.Message{}, nil, ErrMessageNotFound
		}
		return msg, store, nil
	}
	return models.Message{}, nil, ErrMessageNotFound
}

func (m *MessageManager) newMessage(roomID, senderID, nickname string, kind models.MessageType) models.Message {
	return models.Message{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		SenderID:       senderID,
		SenderNickname: nickname,
		Type:           kind,
		Timestamp:      m.opts.Now(),
		Reactions:      map[string][]string{},
		ReadBy:         []models.ReadReceipt{},
	}
}

// store assigns the expiry, persists the message and schedules its removal.
// A message whose lifetime is already over is dropped with ErrMessageExpired.
func (m *MessageManager) store(ctx context.Context, msg models.Message, ttl *time.Duration) (models.Message, error) {
	room, err := m.rooms.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return models.Message{}, err
	}

	if msg.Type.Expires() {
		lifetime := m.opts.TTL
		if ttl != nil {
			lifetime = *ttl
		}
		msg.ExpiresAt = lo.ToPtr(msg.Timestamp.Add(lifetime))
		if lifetime <= 0 {
			observability.IncMessagesCreated(string(msg.Type))
			observability.IncMessagesExpired()
			m.log.Debug("message expired on creation", "room_id", msg.RoomID, "message_id", msg.ID)
			return models.Message{}, ErrMessageExpired
		}
	}

	target := m.storeFor(room)
	if err := target.SaveMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("save message: %w", err)
	}
	// the room may have been removed and purged while the message was saved
	if _, err := m.rooms.GetRoom(ctx, msg.RoomID); err != nil {
		if delErr := target.DeleteMessage(ctx, msg.ID); delErr != nil && !errors.Is(delErr, repositories.ErrMessageNotFound) {
			m.log.Error("drop message of removed room", "room_id", msg.RoomID, "message_id", msg.ID, "error", delErr)
		}
		return models.Message{}, err
	}
	if msg.ExpiresAt != nil {
		m.expiry.Schedule(msg.ID, msg.RoomID, *msg.ExpiresAt)
	}
	observability.IncMessagesCreated(string(msg.Type))
	return msg.Clone(), nil
}

// expire removes a message whose deadline passed. A message that is
// already gone is ignored.
func (m *MessageManager) expire(ctx context.Context, e Expiration) {
	unlock := m.locks.Lock(e.MessageID)
	defer unlock()

	stores := []repositories.Store{m.transient}
	if m.durable != nil {
		stores = append(stores, m.durable)
	}
	for _, store := range stores {
		if _, err := store.GetMessage(ctx, e.MessageID); err != nil {
			if !errors.Is(err, repositories.ErrMessageNotFound) {
				m.log.Error("lookup expiring message", "message_id", e.MessageID, "error", err)
			}
			continue
		}
		if err := store.DeleteMessage(ctx, e.MessageID); err != nil {
			m.log.Error("delete expired message", "message_id", e.MessageID, "error", err)
			return
		}
		observability.IncMessagesExpired()
		m.log.Debug("message expired", "room_id", e.RoomID, "message_id", e.MessageID)
		if m.onExpired != nil {
			m.onExpired(ctx, e)
		}
		return
	}
}

func (m *MessageManager) storeFor(room models.Room) repositories.Store {
	if room.IsPersistent && m.durable != nil {
		return m.durable
	}
	return m.transient
}

func validatePayload(params CreateMessageParams) error {
	switch params.Type {
	case models.MessageImage:
		if params.Image == nil || strings.TrimSpace(params.Image.URL) == "" {
			return ErrInvalidPayload
		}
	case models.MessageFile:
		if params.File == nil || strings.TrimSpace(params.File.URL) == "" || strings.TrimSpace(params.File.Name) == "" {
			return ErrInvalidPayload
		}
	case models.MessageVoice:
		if params.Voice == nil || strings.TrimSpace(params.Voice.URL) == "" {
			return ErrInvalidPayload
		}
	default:
		if params.Content == "" {
			return ErrEmptyContent
		}
	}
	return nil
}
