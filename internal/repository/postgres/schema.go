package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates every table the chat store needs. Participant and user id
// columns use the "C" collation so the CHECK on the normalized pair agrees
// with Go's byte-wise string ordering.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_rooms (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	participant_a TEXT COLLATE "C" NOT NULL CHECK (length(participant_a) > 0),
	participant_b TEXT COLLATE "C" NOT NULL CHECK (length(participant_b) > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_message_id BIGINT NOT NULL DEFAULT 0,
	last_message_at TIMESTAMPTZ,
	CONSTRAINT chat_rooms_pair_key UNIQUE (participant_a, participant_b),
	CONSTRAINT chat_rooms_pair_order CHECK (participant_a < participant_b)
);

CREATE INDEX IF NOT EXISTS idx_chat_rooms_participant_b ON chat_rooms(participant_b);

CREATE TABLE IF NOT EXISTS chat_room_exits (
	room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
	user_id TEXT COLLATE "C" NOT NULL,
	exited_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
	id BIGINT NOT NULL CHECK (id > 0),
	sender_id TEXT COLLATE "C" NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, id)
);

CREATE TABLE IF NOT EXISTS read_cursors (
	room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
	user_id TEXT COLLATE "C" NOT NULL,
	last_read_message_id BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS block_relations (
	blocker_id TEXT COLLATE "C" NOT NULL,
	blocked_id TEXT COLLATE "C" NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (blocker_id, blocked_id),
	CHECK (blocker_id <> blocked_id)
);

CREATE INDEX IF NOT EXISTS idx_block_relations_blocked ON block_relations(blocked_id, blocker_id);
`

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
