// Package memory is a process-local implementation of the chat store
// interfaces. It keeps the same atomicity guarantees as the durable stores
// and backs unit tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"anonchat/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type pairKey struct{ a, b string }

type cursorKey struct{ roomID, userID string }

type blockKey struct{ blocker, blocked string }

// roomState is the per-room arena entry. Its mutex is the room's
// serialization point for id assignment and ExitedBy changes.
type roomState struct {
	mu       sync.Mutex
	room     domain.Chatroom
	exited   map[string]struct{}
	messages []*domain.Message
}

func (s *roomState) snapshot() *domain.Chatroom {
	room := s.room
	room.ExitedBy = lo.Keys(s.exited)
	sort.Strings(room.ExitedBy)
	if s.room.LastMessageAt != nil {
		at := *s.room.LastMessageAt
		room.LastMessageAt = &at
	}
	return &room
}

// Store implements ChatroomRepository, MessageRepository,
// ReadCursorRepository and BlockRepository.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*roomState
	pairs   map[pairKey]string
	cursors map[cursorKey]int64
	blocks  map[blockKey]*domain.BlockRelation

	now func() time.Time
}

var (
	_ domain.ChatroomRepository   = (*Store)(nil)
	_ domain.MessageRepository    = (*Store)(nil)
	_ domain.ReadCursorRepository = (*Store)(nil)
	_ domain.BlockRepository      = (*Store)(nil)
)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		rooms:   make(map[string]*roomState),
		pairs:   make(map[pairKey]string),
		cursors: make(map[cursorKey]int64),
		blocks:  make(map[blockKey]*domain.BlockRelation),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) room(id string) (*roomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[id]
	return st, ok
}

// FindOrCreate returns the room for the pair, inserting it when absent.
func (s *Store) FindOrCreate(ctx context.Context, participantA, participantB string) (*domain.Chatroom, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	a, b := domain.NormalizePair(participantA, participantB)
	key := pairKey{a, b}

	s.mu.Lock()
	if id, ok := s.pairs[key]; ok {
		st := s.rooms[id]
		s.mu.Unlock()
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.snapshot(), false, nil
	}

	st := &roomState{
		room: domain.Chatroom{
			ID:           uuid.NewString(),
			ParticipantA: a,
			ParticipantB: b,
			CreatedAt:    s.now(),
		},
		exited: make(map[string]struct{}),
	}
	s.rooms[st.room.ID] = st
	s.pairs[key] = st.room.ID
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), true, nil
}

// GetByID retrieves a chatroom by ID
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Chatroom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := s.room(id)
	if !ok {
		return nil, domain.ErrChatroomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// ListVisible returns the rooms userID participates in and has not exited.
func (s *Store) ListVisible(ctx context.Context, userID string) ([]*domain.Chatroom, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	states := lo.Values(s.rooms)
	s.mu.RUnlock()

	rooms := make([]*domain.Chatroom, 0)
	for _, st := range states {
		st.mu.Lock()
		room := st.snapshot()
		st.mu.Unlock()
		if room.VisibleTo(userID) {
			rooms = append(rooms, room)
		}
	}
	domain.SortForListing(rooms)
	return rooms, nil
}

// AddExit adds userID to the room's ExitedBy set.
func (s *Store) AddExit(ctx context.Context, roomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, ok := s.room(roomID)
	if !ok {
		return domain.ErrChatroomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.room.IsParticipant(userID) {
		return domain.ErrNotParticipant
	}
	st.exited[userID] = struct{}{}
	return nil
}

// Append assigns the next id under the room lock and stores the message.
func (s *Store) Append(ctx context.Context, params domain.AppendParams) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := s.room(params.RoomID)
	if !ok {
		return nil, domain.ErrChatroomNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	msg := &domain.Message{
		ID:        st.room.LastMessageID + 1,
		RoomID:    params.RoomID,
		SenderID:  params.SenderID,
		Content:   params.Content,
		CreatedAt: createdAt,
	}
	st.messages = append(st.messages, msg)
	st.room.LastMessageID = msg.ID
	st.room.LastMessageAt = &createdAt
	delete(st.exited, params.RecipientID)

	out := *msg
	return &out, nil
}

// Page yields messages older than before, newest first.
func (s *Store) Page(ctx context.Context, roomID string, before int64, limit int) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		st, ok := s.room(roomID)
		if !ok {
			yield(nil, domain.ErrChatroomNotFound)
			return
		}

		st.mu.Lock()
		// messages are stored in id order and never removed, so the slice
		// header captured here is a stable snapshot.
		messages := st.messages
		st.mu.Unlock()

		end := len(messages)
		if before > 0 {
			end = sort.Search(len(messages), func(i int) bool { return messages[i].ID >= before })
		}
		for i, n := end-1, 0; i >= 0 && n < limit; i, n = i-1, n+1 {
			msg := *messages[i]
			if !yield(&msg, nil) {
				return
			}
		}
	}
}

// AdvanceTo stores max(current, messageID).
func (s *Store) AdvanceTo(ctx context.Context, roomID, userID string, messageID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := cursorKey{roomID, userID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.cursors[key]; current >= messageID {
		return current, nil
	}
	s.cursors[key] = messageID
	return messageID, nil
}

// Get returns the stored cursor or NoneRead.
func (s *Store) Get(ctx context.Context, roomID, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.cursors[cursorKey{roomID, userID}]; ok {
		return v, nil
	}
	return domain.NoneRead, nil
}

// Insert records the relation unless it already exists.
func (s *Store) Insert(ctx context.Context, relation *domain.BlockRelation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := blockKey{relation.BlockerID, relation.BlockedID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blocks[key]; ok {
		relation.CreatedAt = existing.CreatedAt
		return nil
	}
	if relation.CreatedAt.IsZero() {
		relation.CreatedAt = s.now()
	}
	stored := *relation
	s.blocks[key] = &stored
	return nil
}

// ExistsEitherDirection tests both directions.
func (s *Store) ExistsEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ab := s.blocks[blockKey{userA, userB}]
	_, ba := s.blocks[blockKey{userB, userA}]
	return ab || ba, nil
}

// ListByBlocker returns the blocker's relations, newest first.
func (s *Store) ListByBlocker(ctx context.Context, blockerID string) ([]*domain.BlockRelation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	relations := lo.FilterMap(lo.Values(s.blocks), func(r *domain.BlockRelation, _ int) (*domain.BlockRelation, bool) {
		if r.BlockerID != blockerID {
			return nil, false
		}
		out := *r
		return &out, true
	})
	s.mu.RUnlock()

	sort.Slice(relations, func(i, j int) bool {
		if relations[i].CreatedAt.Equal(relations[j].CreatedAt) {
			return relations[i].BlockedID > relations[j].BlockedID
		}
		return relations[i].CreatedAt.After(relations[j].CreatedAt)
	})
	return relations, nil
}
