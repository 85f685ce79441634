package postgres

import (
	"context"
	"database/sql"
)

// Store bundles the PostgreSQL repositories over one connection pool.
type Store struct {
	db *sql.DB

	Chatrooms   *ChatroomRepository
	Messages    *MessageRepository
	ReadCursors *ReadCursorRepository
	Blocks      *BlockRepository
}

// NewStore creates all repositories on db
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		Chatrooms:   NewChatroomRepository(db),
		Messages:    NewMessageRepository(db),
		ReadCursors: NewReadCursorRepository(db),
		Blocks:      NewBlockRepository(db),
	}
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
