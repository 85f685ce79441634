package domain

import (
	"context"
	"time"
)

// NoneRead is the cursor value of a user who has read nothing in a room.
const NoneRead int64 = 0

// ReadCursor is the highest message id a user has acknowledged in a room.
type ReadCursor struct {
	RoomID            string    `json:"room_id"`
	UserID            string    `json:"user_id"`
	LastReadMessageID int64     `json:"last_read_message_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ReadCursorRepository defines the interface for read cursor data access
type ReadCursorRepository interface {
	// AdvanceTo stores max(current, messageID) atomically and returns the
	// stored value afterwards.
	AdvanceTo(ctx context.Context, roomID, userID string, messageID int64) (int64, error)
	// Get returns the stored cursor or NoneRead.
	Get(ctx context.Context, roomID, userID string) (int64, error)
}
