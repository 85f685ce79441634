package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

// ReadCursorRepository implements domain.ReadCursorRepository for PostgreSQL
type ReadCursorRepository struct {
	db *sql.DB
}

// NewReadCursorRepository creates a new PostgreSQL read cursor repository
func NewReadCursorRepository(db *sql.DB) *ReadCursorRepository {
	return &ReadCursorRepository{db: db}
}

// AdvanceTo upserts the cursor with GREATEST so it never moves backwards.
func (r *ReadCursorRepository) AdvanceTo(ctx context.Context, roomID, userID string, messageID int64) (int64, error) {
	defer observability.ObserveStoreOperation(storeName, "advance_cursor", time.Now())

	query := `
		INSERT INTO read_cursors (room_id, user_id, last_read_message_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET last_read_message_id = GREATEST(read_cursors.last_read_message_id, EXCLUDED.last_read_message_id),
			updated_at = CASE
				WHEN EXCLUDED.last_read_message_id > read_cursors.last_read_message_id THEN EXCLUDED.updated_at
				ELSE read_cursors.updated_at
			END
		RETURNING last_read_message_id
	`
	var stored int64
	if err := r.db.QueryRowContext(ctx, query, roomID, userID, messageID).Scan(&stored); err != nil {
		return 0, mapError("advance read cursor", err)
	}
	return stored, nil
}

// Get returns the stored cursor or NoneRead.
func (r *ReadCursorRepository) Get(ctx context.Context, roomID, userID string) (int64, error) {
	defer observability.ObserveStoreOperation(storeName, "get_cursor", time.Now())

	query := `
		SELECT last_read_message_id
		FROM read_cursors
		WHERE room_id = $1 AND user_id = $2
	`
	var stored int64
	err := r.db.QueryRowContext(ctx, query, roomID, userID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NoneRead, nil
	}
	if err != nil {
		return 0, mapError("get read cursor", err)
	}
	return stored, nil
}
