package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	"github.com/lib/pq"
)

const storeName = "postgres"

const pairConstraint = "chat_rooms_pair_key"

const selectRoom = `
		SELECT r.id, r.participant_a, r.participant_b, r.created_at, r.last_message_id, r.last_message_at,
			COALESCE(array_agg(e.user_id ORDER BY e.user_id) FILTER (WHERE e.user_id IS NOT NULL), '{}')
		FROM chat_rooms r
		LEFT JOIN chat_room_exits e ON e.room_id = r.id
	`

// ChatroomRepository implements domain.ChatroomRepository for PostgreSQL
type ChatroomRepository struct {
	db *sql.DB
}

// NewChatroomRepository creates a new PostgreSQL chatroom repository
func NewChatroomRepository(db *sql.DB) *ChatroomRepository {
	return &ChatroomRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*domain.Chatroom, error) {
	room := &domain.Chatroom{}
	var lastAt sql.NullTime
	var exited pq.StringArray
	if err := row.Scan(
		&room.ID,
		&room.ParticipantA,
		&room.ParticipantB,
		&room.CreatedAt,
		&room.LastMessageID,
		&lastAt,
		&exited,
	); err != nil {
		return nil, err
	}
	if lastAt.Valid {
		at := lastAt.Time
		room.LastMessageAt = &at
	}
	room.ExitedBy = []string(exited)
	return room, nil
}

// FindOrCreate returns the room for the normalized pair. A concurrent insert
// of the same pair surfaces as a unique violation and is resolved by
// reading the winner's row.
func (r *ChatroomRepository) FindOrCreate(ctx context.Context, participantA, participantB string) (*domain.Chatroom, bool, error) {
	defer observability.ObserveStoreOperation(storeName, "find_or_create_room", time.Now())

	a, b := domain.NormalizePair(participantA, participantB)

	room, err := r.getByPair(ctx, a, b)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, domain.ErrChatroomNotFound) {
		return nil, false, err
	}

	query := `
		INSERT INTO chat_rooms (participant_a, participant_b)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	room = &domain.Chatroom{ParticipantA: a, ParticipantB: b, ExitedBy: []string{}}
	err = r.db.QueryRowContext(ctx, query, a, b).Scan(&room.ID, &room.CreatedAt)
	if IsUniqueViolation(err, pairConstraint) {
		room, err = r.getByPair(ctx, a, b)
		return room, false, err
	}
	if err != nil {
		return nil, false, mapError("create chatroom", err)
	}
	return room, true, nil
}

func (r *ChatroomRepository) getByPair(ctx context.Context, a, b string) (*domain.Chatroom, error) {
	query := selectRoom + `
		WHERE r.participant_a = $1 AND r.participant_b = $2
		GROUP BY r.id
	`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, a, b))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrChatroomNotFound
	}
	if err != nil {
		return nil, mapError("get chatroom by pair", err)
	}
	return room, nil
}

// GetByID retrieves a chatroom by ID
func (r *ChatroomRepository) GetByID(ctx context.Context, id string) (*domain.Chatroom, error) {
	defer observability.ObserveStoreOperation(storeName, "get_room", time.Now())

	query := selectRoom + `
		WHERE r.id = $1
		GROUP BY r.id
	`
	room, err := scanRoom(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, domain.ErrChatroomNotFound
	}
	if err != nil {
		return nil, mapError("get chatroom", err)
	}
	return room, nil
}

// ListVisible returns rooms where userID participates and has not exited,
// most recent activity first.
func (r *ChatroomRepository) ListVisible(ctx context.Context, userID string) ([]*domain.Chatroom, error) {
	defer observability.ObserveStoreOperation(storeName, "list_rooms", time.Now())

	query := selectRoom + `
		WHERE (r.participant_a = $1 OR r.participant_b = $1)
			AND NOT EXISTS (
				SELECT 1 FROM chat_room_exits x
				WHERE x.room_id = r.id AND x.user_id = $1
			)
		GROUP BY r.id
		ORDER BY r.last_message_at DESC NULLS LAST, r.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapError("list chatrooms", err)
	}
	defer rows.Close()

	rooms := make([]*domain.Chatroom, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, mapError("scan chatroom", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list chatrooms", err)
	}
	return rooms, nil
}

// AddExit adds userID to the room's exit set. Exiting twice is a no-op.
func (r *ChatroomRepository) AddExit(ctx context.Context, roomID, userID string) error {
	defer observability.ObserveStoreOperation(storeName, "add_exit", time.Now())

	query := `
		INSERT INTO chat_room_exits (room_id, user_id)
		SELECT id, $2 FROM chat_rooms
		WHERE id = $1 AND (participant_a = $2 OR participant_b = $2)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, roomID, userID)
	if isInvalidText(err) {
		return domain.ErrChatroomNotFound
	}
	if err != nil {
		return mapError("add exit", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	// Nothing inserted: already exited, not a participant, or no such room.
	room, err := r.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(userID) {
		return domain.ErrNotParticipant
	}
	return nil
}
