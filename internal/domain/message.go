package domain

import (
	"context"
	"iter"
	"time"
)

const (
	// DefaultMaxContentLength bounds message content, counted in runes.
	DefaultMaxContentLength = 2000
	DefaultPageSize         = 50
	MaxPageSize             = 100
)

// Message represents a chat message
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendParams carries everything the store needs to append atomically.
// RecipientID is removed from the room's ExitedBy set in the same unit.
type AppendParams struct {
	RoomID      string
	SenderID    string
	RecipientID string
	Content     string
	CreatedAt   time.Time
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// Append assigns the next id for the room under a per-room serialization
	// point, persists the message, advances the room's LastMessageID and
	// LastMessageAt and clears the recipient's exit. Either all of it is
	// durable or none of it is.
	Append(ctx context.Context, params AppendParams) (*Message, error)
	// Page yields messages with id < before (before <= 0 means from the
	// newest), id descending, at most limit of them. Each iteration reads
	// the store again.
	Page(ctx context.Context, roomID string, before int64, limit int) iter.Seq2[*Message, error]
}

// CollectPage drains a page sequence into a slice.
func CollectPage(seq iter.Seq2[*Message, error]) ([]*Message, error) {
	messages := make([]*Message, 0)
	for msg, err := range seq {
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
