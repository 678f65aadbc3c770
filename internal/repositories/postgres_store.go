package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"roomchat/internal/models"
)

// PostgresStore is the durable Store backed by sqlx.
type PostgresStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sqlx.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

const roomColumns = `id, code, name, max_users, is_locked, is_persistent, expires_at, created_by, settings, created_at`

const messageColumns = `id, room_id, sender_id, sender_nickname, content, type, created_at, expires_at, payload,
    is_edited, edited_at, is_deleted, deleted_at, is_pinned, pinned_at, reactions, read_by, delivered`

const directColumns = `id, conversation_id, sender_id, sender_nickname, recipient_id, context_id, content, created_at,
    is_edited, edited_at, is_deleted, deleted_at, read_at, delivered`

// SaveRoom upserts the room row and replaces its participant rows atomically.
func (s *PostgresStore) SaveRoom(ctx context.Context, room models.Room) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO rooms (`+roomColumns+`)
        VALUES (:id, :code, :name, :max_users, :is_locked, :is_persistent, :expires_at, :created_by, :settings, :created_at)
        ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, max_users = EXCLUDED.max_users,
            is_locked = EXCLUDED.is_locked, is_persistent = EXCLUDED.is_persistent, expires_at = EXCLUDED.expires_at,
            created_by = EXCLUDED.created_by, settings = EXCLUDED.settings`, toRoomRow(room)); err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id=$1`, room.ID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	for id, p := range room.Participants {
		role := roleMember
		if room.IsModerator(id) {
			role = roleModerator
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, participant_id, nickname, role, joined_at)
            VALUES ($1, $2, $3, $4, $5)`, room.ID, id, p.Nickname, role, p.JoinedAt); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// GetRoom fetches a room and its participants.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var row roomRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}

	var participants []participantRow
	if err := s.db.SelectContext(ctx, &participants, `SELECT room_id, participant_id, nickname, role, joined_at
        FROM room_participants WHERE room_id=$1 ORDER BY joined_at ASC`, roomID); err != nil {
		return models.Room{}, err
	}
	return fromRoomRows(row, participants), nil
}

// ListRooms returns every stored room with participants.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rows []roomRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	var participants []participantRow
	if err := s.db.SelectContext(ctx, &participants, `SELECT room_id, participant_id, nickname, role, joined_at
        FROM room_participants ORDER BY joined_at ASC`); err != nil {
		return nil, err
	}
	byRoom := lo.GroupBy(participants, func(p participantRow) string { return p.RoomID })
	return lo.Map(rows, func(row roomRow, _ int) models.Room {
		return fromRoomRows(row, byRoom[row.ID])
	}), nil
}

// DeleteRoom removes the room; participants cascade.
func (s *PostgresStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID)
	return err
}

// SaveMessage upserts a room message.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg models.Message) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO room_messages (`+messageColumns+`)
        VALUES (:id, :room_id, :sender_id, :sender_nickname, :content, :type, :created_at, :expires_at, :payload,
            :is_edited, :edited_at, :is_deleted, :deleted_at, :is_pinned, :pinned_at, :reactions, :read_by, :delivered)
        ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, payload = EXCLUDED.payload,
            is_edited = EXCLUDED.is_edited, edited_at = EXCLUDED.edited_at,
            is_deleted = EXCLUDED.is_deleted, deleted_at = EXCLUDED.deleted_at,
            is_pinned = EXCLUDED.is_pinned, pinned_at = EXCLUDED.pinned_at,
            reactions = EXCLUDED.reactions, read_by = EXCLUDED.read_by, delivered = EXCLUDED.delivered`, toMessageRow(msg))
	return err
}

// GetMessage retrieves a single room message.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM room_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return fromMessageRow(row), nil
}

// ListMessages returns room messages ordered by creation.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM room_messages
        WHERE room_id=$1 ORDER BY created_at ASC`, roomID); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row messageRow, _ int) models.Message { return fromMessageRow(row) }), nil
}

// DeleteMessage hard-deletes a room message.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM room_messages WHERE id=$1`, messageID)
	return err
}

// DeleteRoomMessages hard-deletes every message of a room.
func (s *PostgresStore) DeleteRoomMessages(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM room_messages WHERE room_id=$1`, roomID)
	return err
}

// SaveDirectMessage upserts a direct message.
func (s *PostgresStore) SaveDirectMessage(ctx context.Context, msg models.DirectMessage) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO direct_messages (`+directColumns+`)
        VALUES (:id, :conversation_id, :sender_id, :sender_nickname, :recipient_id, :context_id, :content, :created_at,
            :is_edited, :edited_at, :is_deleted, :deleted_at, :read_at, :delivered)
        ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content,
            is_edited = EXCLUDED.is_edited, edited_at = EXCLUDED.edited_at,
            is_deleted = EXCLUDED.is_deleted, deleted_at = EXCLUDED.deleted_at,
            read_at = EXCLUDED.read_at, delivered = EXCLUDED.delivered`, toDirectMessageRow(msg))
	return err
}

// GetDirectMessage retrieves a single direct message.
func (s *PostgresStore) GetDirectMessage(ctx context.Context, messageID string) (models.DirectMessage, error) {
	var row directMessageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+directColumns+` FROM direct_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DirectMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return models.DirectMessage{}, err
	}
	return fromDirectMessageRow(row), nil
}

// ListConversation returns a conversation ordered by creation.
func (s *PostgresStore) ListConversation(ctx context.Context, conversationID string) ([]models.DirectMessage, error) {
	var rows []directMessageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+directColumns+` FROM direct_messages
        WHERE conversation_id=$1 ORDER BY created_at ASC`, conversationID); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row directMessageRow, _ int) models.DirectMessage { return fromDirectMessageRow(row) }), nil
}

// ListDirectMessagesForUser returns every direct message the user sent or received.
func (s *PostgresStore) ListDirectMessagesForUser(ctx context.Context, userID string) ([]models.DirectMessage, error) {
	var rows []directMessageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+directColumns+` FROM direct_messages
        WHERE sender_id=$1 OR recipient_id=$1 ORDER BY created_at ASC`, userID); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row directMessageRow, _ int) models.DirectMessage { return fromDirectMessageRow(row) }), nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn("postgres ping failed", "error", err)
		return err
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
