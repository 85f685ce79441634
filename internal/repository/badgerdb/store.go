// Package badgerdb stores chat state in an embedded BadgerDB.
//
// Key layout (user ids may contain ':' so composite keys use a NUL separator):
//
//	room:{room}                  JSON roomRecord
//	pair:{a}\x00{b}              room id for the normalized pair
//	uroom:{user}\x00{room}       membership index for listing
//	exit:{room}\x00{user}        exit set member
//	msg:{room}:{id:%020d}        JSON message, ids sort lexicographically
//	read:{room}\x00{user}        big-endian cursor
//	block:{blocker}\x00{blocked} JSON block relation
package badgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"sort"
	"sync"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const storeName = "badger"

const sep = "\x00"

const stripeCount = 64

// maxIDKey sorts after every zero-padded message id.
const maxIDKey = "99999999999999999999"

func roomKey(roomID string) []byte { return []byte("room:" + roomID) }

func pairKey(a, b string) []byte { return []byte("pair:" + a + sep + b) }

func userRoomPrefix(userID string) []byte { return []byte("uroom:" + userID + sep) }

func userRoomKey(userID, roomID string) []byte { return append(userRoomPrefix(userID), roomID...) }

func exitPrefix(roomID string) []byte { return []byte("exit:" + roomID + sep) }

func exitKey(roomID, userID string) []byte { return append(exitPrefix(roomID), userID...) }

func messagePrefix(roomID string) []byte { return []byte("msg:" + roomID + ":") }

func messageKey(roomID string, id int64) []byte {
	return fmt.Appendf(messagePrefix(roomID), "%020d", id)
}

func cursorKey(roomID, userID string) []byte { return []byte("read:" + roomID + sep + userID) }

func blockPrefix(blockerID string) []byte { return []byte("block:" + blockerID + sep) }

func blockKey(blockerID, blockedID string) []byte { return append(blockPrefix(blockerID), blockedID...) }

type roomRecord struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageID int64      `json:"last_message_id"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// stripes is a fixed set of mutexes selected by key hash. Rooms that share
// a stripe serialize against each other, which is harmless.
type stripes [stripeCount]sync.Mutex

func (s *stripes) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &s[h.Sum32()%stripeCount]
	m.Lock()
	return m.Unlock
}

// Store implements the chat repositories on one Badger database.
type Store struct {
	db    *badger.DB
	rooms stripes
	keys  stripes

	now func() time.Time
}

var (
	_ domain.ChatroomRepository   = (*Store)(nil)
	_ domain.MessageRepository    = (*Store)(nil)
	_ domain.ReadCursorRepository = (*Store)(nil)
	_ domain.BlockRepository      = (*Store)(nil)
)

// NewStore wraps an open database. The caller owns db and closes it.
func NewStore(db *badger.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ping verifies the database accepts reads.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return domain.Unavailable("ping", badger.ErrDBClosed)
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case domain.KindOf(err) != domain.KindInternal:
		return err
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, badger.ErrConflict):
		return domain.Conflict(op, err)
	}
	return domain.Unavailable(op, err)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return json.Unmarshal(val, v) })
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func loadRoom(txn *badger.Txn, roomID string) (*domain.Chatroom, error) {
	var rec roomRecord
	if err := getJSON(txn, roomKey(roomID), &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrChatroomNotFound
		}
		return nil, err
	}

	exited := make([]string, 0)
	prefix := exitPrefix(roomID)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		exited = append(exited, string(it.Item().Key()[len(prefix):]))
	}

	return &domain.Chatroom{
		ID:            rec.ID,
		ParticipantA:  rec.ParticipantA,
		ParticipantB:  rec.ParticipantB,
		CreatedAt:     rec.CreatedAt,
		ExitedBy:      exited,
		LastMessageID: rec.LastMessageID,
		LastMessageAt: rec.LastMessageAt,
	}, nil
}

// FindOrCreate returns the room for the normalized pair, creating it and
// both membership index entries in one transaction when absent.
func (s *Store) FindOrCreate(ctx context.Context, participantA, participantB string) (*domain.Chatroom, bool, error) {
	defer observability.ObserveStoreOperation(storeName, "find_or_create_room", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	a, b := domain.NormalizePair(participantA, participantB)
	unlock := s.keys.lock(string(pairKey(a, b)))
	defer unlock()

	var room *domain.Chatroom
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(a, b))
		if err == nil {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			room, err = loadRoom(txn, string(id))
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec := roomRecord{ID: uuid.NewString(), ParticipantA: a, ParticipantB: b, CreatedAt: s.now()}
		if err := setJSON(txn, roomKey(rec.ID), rec); err != nil {
			return err
		}
		for _, set := range []struct{ k, v []byte }{
			{pairKey(a, b), []byte(rec.ID)},
			{userRoomKey(a, rec.ID), nil},
			{userRoomKey(b, rec.ID), nil},
		} {
			if err := txn.Set(set.k, set.v); err != nil {
				return err
			}
		}
		room = &domain.Chatroom{ID: rec.ID, ParticipantA: a, ParticipantB: b, CreatedAt: rec.CreatedAt, ExitedBy: []string{}}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, mapError("find or create chatroom", err)
	}
	return room, created, nil
}

// GetByID retrieves a chatroom by ID
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Chatroom, error) {
	defer observability.ObserveStoreOperation(storeName, "get_room", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room *domain.Chatroom
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = loadRoom(txn, id)
		return err
	})
	if err != nil {
		return nil, mapError("get chatroom", err)
	}
	return room, nil
}

// ListVisible scans the user's membership index and filters exited rooms.
func (s *Store) ListVisible(ctx context.Context, userID string) ([]*domain.Chatroom, error) {
	defer observability.ObserveStoreOperation(storeName, "list_rooms", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rooms := make([]*domain.Chatroom, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := userRoomPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		ids := make([]string, 0)
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		it.Close()

		for _, id := range ids {
			room, err := loadRoom(txn, id)
			if err != nil {
				return err
			}
			if room.VisibleTo(userID) {
				rooms = append(rooms, room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list chatrooms", err)
	}
	domain.SortForListing(rooms)
	return rooms, nil
}

// AddExit adds userID to the room's exit set.
func (s *Store) AddExit(ctx context.Context, roomID, userID string) error {
	defer observability.ObserveStoreOperation(storeName, "add_exit", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.rooms.lock(roomID)
	defer unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		var rec roomRecord
		if err := getJSON(txn, roomKey(roomID), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrChatroomNotFound
			}
			return err
		}
		if rec.ParticipantA != userID && rec.ParticipantB != userID {
			return domain.ErrNotParticipant
		}
		return txn.Set(exitKey(roomID, userID), nil)
	})
	return mapError("add exit", err)
}

// Append assigns the next id while holding the room's stripe and commits
// the message, the room record and the recipient's exit removal together.
func (s *Store) Append(ctx context.Context, params domain.AppendParams) (*domain.Message, error) {
	defer observability.ObserveStoreOperation(storeName, "append_message", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.rooms.lock(params.RoomID)
	defer unlock()

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var msg *domain.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec roomRecord
		if err := getJSON(txn, roomKey(params.RoomID), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrChatroomNotFound
			}
			return err
		}

		rec.LastMessageID++
		rec.LastMessageAt = lo.ToPtr(createdAt)
		msg = &domain.Message{
			ID:        rec.LastMessageID,
			RoomID:    params.RoomID,
			SenderID:  params.SenderID,
			Content:   params.Content,
			CreatedAt: createdAt,
		}

		if err := setJSON(txn, messageKey(params.RoomID, msg.ID), msg); err != nil {
			return err
		}
		if err := setJSON(txn, roomKey(params.RoomID), rec); err != nil {
			return err
		}
		return txn.Delete(exitKey(params.RoomID, params.RecipientID))
	})
	if err != nil {
		return nil, mapError("append message", err)
	}
	return msg, nil
}

// Page walks the room's messages backwards from before. Each range opens a
// fresh read transaction.
func (s *Store) Page(ctx context.Context, roomID string, before int64, limit int) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		defer observability.ObserveStoreOperation(storeName, "page_messages", time.Now())
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		prefix := messagePrefix(roomID)
		seek := append(messagePrefix(roomID), maxIDKey...)
		if before > 0 {
			seek = messageKey(roomID, before-1)
		}

		stopped := false
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			n := 0
			for it.Seek(seek); it.ValidForPrefix(prefix) && n < limit; it.Next() {
				msg := &domain.Message{}
				if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, msg) }); err != nil {
					return err
				}
				n++
				if !yield(msg, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, mapError("page messages", err))
		}
	}
}

// AdvanceTo stores max(current, messageID) under the cursor's stripe.
func (s *Store) AdvanceTo(ctx context.Context, roomID, userID string, messageID int64) (int64, error) {
	defer observability.ObserveStoreOperation(storeName, "advance_cursor", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := cursorKey(roomID, userID)
	unlock := s.keys.lock(string(key))
	defer unlock()

	var stored int64
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readCursor(txn, key)
		if err != nil {
			return err
		}
		if current >= messageID {
			stored = current
			return nil
		}
		stored = messageID
		return txn.Set(key, binary.BigEndian.AppendUint64(nil, uint64(messageID)))
	})
	if err != nil {
		return 0, mapError("advance read cursor", err)
	}
	return stored, nil
}

func readCursor(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.NoneRead, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt cursor value of %d bytes", len(val))
		}
		v = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return v, err
}

// Get returns the stored cursor or NoneRead.
func (s *Store) Get(ctx context.Context, roomID, userID string) (int64, error) {
	defer observability.ObserveStoreOperation(storeName, "get_cursor", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var v int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		v, err = readCursor(txn, cursorKey(roomID, userID))
		return err
	})
	if err != nil {
		return 0, mapError("get read cursor", err)
	}
	return v, nil
}

// Insert records the relation unless it already exists.
func (s *Store) Insert(ctx context.Context, relation *domain.BlockRelation) error {
	defer observability.ObserveStoreOperation(storeName, "insert_block", time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}

	key := blockKey(relation.BlockerID, relation.BlockedID)
	unlock := s.keys.lock(string(key))
	defer unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing domain.BlockRelation
		err := getJSON(txn, key, &existing)
		if err == nil {
			relation.CreatedAt = existing.CreatedAt
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if relation.CreatedAt.IsZero() {
			relation.CreatedAt = s.now()
		}
		return setJSON(txn, key, relation)
	})
	return mapError("insert block", err)
}

// ExistsEitherDirection tests both directions in one read transaction.
func (s *Store) ExistsEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	defer observability.ObserveStoreOperation(storeName, "exists_block", time.Now())
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range [][]byte{blockKey(userA, userB), blockKey(userB, userA)} {
			_, err := txn.Get(key)
			if err == nil {
				found = true
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, mapError("check block", err)
	}
	return found, nil
}

// ListByBlocker returns the blocker's relations, newest first.
func (s *Store) ListByBlocker(ctx context.Context, blockerID string) ([]*domain.BlockRelation, error) {
	defer observability.ObserveStoreOperation(storeName, "list_blocks", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	relations := make([]*domain.BlockRelation, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := blockPrefix(blockerID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			rel := &domain.BlockRelation{}
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, rel) }); err != nil {
				return err
			}
			relations = append(relations, rel)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("list blocks", err)
	}

	sort.Slice(relations, func(i, j int) bool {
		a, b := relations[i], relations[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.BlockedID > b.BlockedID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return relations, nil
}
