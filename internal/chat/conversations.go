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

// ConversationID is the order-independent id of the thread between a and b.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// SendDMParams describes a direct message. ContextID threads assistant
// replies per counterpart.
type SendDMParams struct {
	SenderID       string
	SenderNickname string
	RecipientID    string
	Content        string
	ContextID      string
}

// ConversationManager owns direct messages. DMs never expire.
type ConversationManager struct {
	store      repositories.Store
	locks      *keyedMutex
	editWindow time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewConversationManager builds a ConversationManager on top of store.
func NewConversationManager(store repositories.Store, editWindow time.Duration, now func() time.Time, log *slog.Logger) *ConversationManager {
	if now == nil {
		now = time.Now
	}
	if editWindow == 0 {
		editWindow = 48 * time.Hour
	}
	return &ConversationManager{
		store:      store,
		locks:      newKeyedMutex(),
		editWindow: editWindow,
		now:        now,
		log:        log,
	}
}

// SendDM stores a direct message from sender to recipient.
func (c *ConversationManager) SendDM(ctx context.Context, params SendDMParams) (models.DirectMessage, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return models.DirectMessage{}, ErrEmptyContent
	}
	if params.SenderID == "" || params.RecipientID == "" {
		return models.DirectMessage{}, ErrParticipantNotFound
	}
	if params.SenderID == params.RecipientID {
		return models.DirectMessage{}, ErrSelfConversation
	}

	dm := models.DirectMessage{
		ID:             uuid.NewString(),
		ConversationID: ConversationID(params.SenderID, params.RecipientID),
		SenderID:       params.SenderID,
		SenderNickname: params.SenderNickname,
		RecipientID:    params.RecipientID,
		ContextID:      params.ContextID,
		Content:        content,
		Timestamp:      c.now(),
	}
	if err := c.store.SaveDirectMessage(ctx, dm); err != nil {
		return models.DirectMessage{}, fmt.Errorf("save direct message: %w", err)
	}
	observability.IncDirectMessages()
	c.log.Debug("dm sent", "conversation_id", dm.ConversationID, "message_id", dm.ID)
	return dm, nil
}

// GetConversation returns the thread between a and b in timestamp order.
func (c *ConversationManager) GetConversation(ctx context.Context, a, b string) ([]models.DirectMessage, error) {
	msgs, err := c.store.ListConversation(ctx, ConversationID(a, b))
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

// GetContextHistory returns the part of the a/b thread tagged with contextID.
func (c *ConversationManager) GetContextHistory(ctx context.Context, a, b, contextID string) ([]models.DirectMessage, error) {
	msgs, err := c.GetConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	return lo.Filter(msgs, func(dm models.DirectMessage, _ int) bool { return dm.ContextID == contextID }), nil
}

// ListConversations summarises every thread of userID, most recent first.
func (c *ConversationManager) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	msgs, err := c.store.ListDirectMessagesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list direct messages: %w", err)
	}

	byConversation := lo.GroupBy(msgs, func(dm models.DirectMessage) string { return dm.ConversationID })
	summaries := make([]models.ConversationSummary, 0, len(byConversation))
	for id, thread := range byConversation {
		last := lo.MaxBy(thread, func(a, b models.DirectMessage) bool { return a.Timestamp.After(b.Timestamp) })
		peer := last.RecipientID
		if peer == userID {
			peer = last.SenderID
		}
		summaries = append(summaries, models.ConversationSummary{
			ConversationID: id,
			PeerID:         peer,
			LastMessage:    last,
			UnreadCount: lo.CountBy(thread, func(dm models.DirectMessage) bool {
				return dm.RecipientID == userID && dm.ReadAt == nil && !dm.IsDeleted
			}),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.Timestamp.After(summaries[j].LastMessage.Timestamp)
	})
	return summaries, nil
}

// EditDM replaces the content of a DM. Sender only, within the edit window.
func (c *ConversationManager) EditDM(ctx context.Context, messageID, content, userID string) (models.DirectMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.DirectMessage{}, ErrEmptyContent
	}
	return c.mutate(ctx, messageID, func(dm *models.DirectMessage, now time.Time) error {
		if dm.SenderID != userID {
			return ErrNotMessageOwner
		}
		if dm.IsDeleted {
			return ErrMessageDeleted
		}
		if now.Sub(dm.Timestamp) > c.editWindow {
			return ErrEditWindowExpired
		}
		dm.Content = content
		dm.IsEdited = true
		dm.EditedAt = lo.ToPtr(now)
		return nil
	})
}

// DeleteDM soft-deletes a DM. Only the sender may delete it.
func (c *ConversationManager) DeleteDM(ctx context.Context, messageID, userID string) (models.DirectMessage, error) {
	return c.mutate(ctx, messageID, func(dm *models.DirectMessage, now time.Time) error {
		if dm.SenderID != userID {
			return ErrNotMessageOwner
		}
		if dm.IsDeleted {
			return errUnchanged
		}
		dm.IsDeleted = true
		dm.DeletedAt = lo.ToPtr(now)
		dm.Content = models.DeletedContent
		return nil
	})
}

// MarkDMRead records that the recipient read the DM. Repeated calls keep
// the first read time.
func (c *ConversationManager) MarkDMRead(ctx context.Context, messageID, userID string) (models.DirectMessage, error) {
	return c.mutate(ctx, messageID, func(dm *models.DirectMessage, now time.Time) error {
		if dm.RecipientID != userID {
			return ErrNotRecipient
		}
		if dm.ReadAt != nil {
			return errUnchanged
		}
		dm.ReadAt = lo.ToPtr(now)
		dm.Delivered = true
		return nil
	})
}

func (c *ConversationManager) mutate(ctx context.Context, messageID string, fn func(dm *models.DirectMessage, now time.Time) error) (models.DirectMessage, error) {
	unlock := c.locks.Lock(messageID)
	defer unlock()

	dm, err := c.store.GetDirectMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.DirectMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return models.DirectMessage{}, fmt.Errorf("get direct message: %w", err)
	}
	next := dm.Clone()
	if err := fn(&next, c.now()); err != nil {
		if errors.Is(err, errUnchanged) {
			return dm, nil
		}
		return models.DirectMessage{}, err
	}
	if err := c.store.SaveDirectMessage(ctx, next); err != nil {
		return models.DirectMessage{}, fmt.Errorf("save direct message: %w", err)
	}
	return next, nil
}
