package postgres

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"math"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

// MessageRepository implements domain.MessageRepository for PostgreSQL
type MessageRepository struct {
	db *sql.DB
	tx *TxManager
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db, tx: NewTxManager(db)}
}

// Append takes the room row lock by bumping last_message_id, inserts the
// message under that id and clears the recipient's exit, all in one
// transaction.
func (r *MessageRepository) Append(ctx context.Context, params domain.AppendParams) (*domain.Message, error) {
	defer observability.ObserveStoreOperation(storeName, "append_message", time.Now())

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds
	createdAt = createdAt.Truncate(time.Microsecond)

	msg := &domain.Message{
		RoomID:    params.RoomID,
		SenderID:  params.SenderID,
		Content:   params.Content,
		CreatedAt: createdAt,
	}

	err := r.tx.WithTx(ctx, "append message", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE chat_rooms
			SET last_message_id = last_message_id + 1, last_message_at = $2
			WHERE id = $1
			RETURNING last_message_id
		`, params.RoomID, createdAt).Scan(&msg.ID)
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return domain.ErrChatroomNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (room_id, id, sender_id, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, msg.RoomID, msg.ID, msg.SenderID, msg.Content, msg.CreatedAt); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM chat_room_exits
			WHERE room_id = $1 AND user_id = $2
		`, params.RoomID, params.RecipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Page streams a page straight from the result set. Each range runs the
// query again.
func (r *MessageRepository) Page(ctx context.Context, roomID string, before int64, limit int) iter.Seq2[*domain.Message, error] {
	if before <= 0 {
		before = math.MaxInt64
	}
	query := `
		SELECT id, room_id, sender_id, content, created_at
		FROM messages
		WHERE room_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT $3
	`

	return func(yield func(*domain.Message, error) bool) {
		defer observability.ObserveStoreOperation(storeName, "page_messages", time.Now())

		rows, err := r.db.QueryContext(ctx, query, roomID, before, limit)
		if isInvalidText(err) {
			yield(nil, domain.ErrChatroomNotFound)
			return
		}
		if err != nil {
			yield(nil, mapError("page messages", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			msg := &domain.Message{}
			if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
				yield(nil, mapError("scan message", err))
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, mapError("page messages", err))
		}
	}
}
