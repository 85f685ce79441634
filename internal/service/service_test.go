package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"anonchat/internal/domain"
	"anonchat/internal/repository/memory"
	"anonchat/internal/testutil"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store     *memory.Store
	publisher *testutil.MockEventPublisher
	blocks    *BlockService
	rooms     *ChatroomService
	messages  *MessageService
	reads     *ReadService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	publisher := testutil.NewMockEventPublisher()
	blocks := NewBlockService(store)
	return &testEnv{
		store:     store,
		publisher: publisher,
		blocks:    blocks,
		rooms:     NewChatroomService(store, blocks),
		messages:  NewMessageService(store, store, blocks, publisher, 0),
		reads:     NewReadService(store, store, publisher),
	}
}

func (e *testEnv) room(t *testing.T, a, b string) *domain.Chatroom {
	t.Helper()
	room, _, err := e.rooms.CreateOrFind(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

func (e *testEnv) send(t *testing.T, roomID, sender string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.messages.Append(context.Background(), roomID, sender, "message")
		require.NoError(t, err)
	}
}

func pageIDs(t *testing.T, env *testEnv, roomID, userID string, before *int64, size int) []int64 {
	t.Helper()
	seq, err := env.messages.GetPage(context.Background(), roomID, userID, before, size)
	require.NoError(t, err)
	msgs, err := domain.CollectPage(seq)
	require.NoError(t, err)
	return lo.Map(msgs, func(m *domain.Message, _ int) int64 { return m.ID })
}

func TestBlockService_Block(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.ErrorIs(t, env.blocks.Block(ctx, "alice", "alice"), domain.ErrSelfBlock)
	assert.ErrorIs(t, env.blocks.Block(ctx, "", "bob"), domain.ErrInvalidArgument)

	require.NoError(t, env.blocks.Block(ctx, "alice", "bob"))
	require.NoError(t, env.blocks.Block(ctx, "alice", "bob"))

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		blocked, err := env.blocks.IsBlockedEitherDirection(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, blocked)
	}

	list, err := env.blocks.ListBlocked(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].BlockedID)

	list, err = env.blocks.ListBlocked(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChatroomService_CreateOrFind(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	room, created, err := env.rooms.CreateOrFind(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := env.rooms.CreateOrFind(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	_, _, err = env.rooms.CreateOrFind(ctx, "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, _, err = env.rooms.CreateOrFind(ctx, "alice", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, env.blocks.Block(ctx, "alice", "bob"))
	_, _, err = env.rooms.CreateOrFind(ctx, "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrBlocked)
}

func TestChatroomService_CreateOrFind_KeepsExit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))

	again, created, err := env.rooms.CreateOrFind(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"alice"}, again.ExitedBy)
}

func TestChatroomService_CreateOrFind_Concurrent(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, _, err := env.rooms.CreateOrFind(context.Background(), "alice", "bob")
			assert.NoError(t, err)
			ids[i] = room.ID
		}(i)
	}
	wg.Wait()
	assert.Len(t, lo.Uniq(ids), 1)
}

func TestChatroomService_Exit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	assert.ErrorIs(t, env.rooms.Exit(ctx, "missing", "alice"), domain.ErrNotFound)
	assert.ErrorIs(t, env.rooms.Exit(ctx, room.ID, "carol"), domain.ErrForbidden)

	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))
	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))

	rooms, err := env.rooms.ListRooms(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rooms)

	rooms, err = env.rooms.ListRooms(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	// history stays reachable by id
	got, err := env.rooms.Get(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, got.HasExited("alice"))
}

func TestChatroomService_ResurrectOnIncomingMessage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))
	env.send(t, room.ID, "bob", 1)

	rooms, err := env.rooms.ListRooms(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)
}

func TestChatroomService_SenderExitIsKept(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))
	env.send(t, room.ID, "alice", 1)

	rooms, err := env.rooms.ListRooms(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestChatroomService_ListRooms_Order(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	ab := env.room(t, "alice", "bob")
	ac := env.room(t, "alice", "carol")
	ad := env.room(t, "alice", "dave")
	env.send(t, ab.ID, "bob", 1)
	env.send(t, ac.ID, "carol", 1)

	rooms, err := env.rooms.ListRooms(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{ac.ID, ab.ID, ad.ID}, lo.Map(rooms, func(r *domain.Chatroom, _ int) string { return r.ID }))
}

func TestMessageService_Append(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	tests := []struct {
		name    string
		roomID  string
		sender  string
		content string
		wantErr error
	}{
		{"empty", room.ID, "alice", "", domain.ErrEmptyContent},
		{"whitespace_only", room.ID, "alice", " \n\t ", domain.ErrInvalidArgument},
		{"too_long", room.ID, "alice", strings.Repeat("x", domain.DefaultMaxContentLength+1), domain.ErrContentTooLong},
		{"unknown_room", "missing", "alice", "hi", domain.ErrNotFound},
		{"outsider", room.ID, "carol", "hi", domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.messages.Append(ctx, tt.roomID, tt.sender, tt.content)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, env.publisher.Published())

	msg, err := env.messages.Append(ctx, room.ID, "alice", strings.Repeat("é", domain.DefaultMaxContentLength))
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestMessageService_Append_PublishesAfterDurableWrite(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	ctx := domain.WithOriginConn(context.Background(), "conn-1")
	env.publisher.PublishFunc = func(_ context.Context, e domain.Event) error {
		seq := env.store.Page(context.Background(), e.RoomID, 0, 1)
		msgs, err := domain.CollectPage(seq)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "event published before the message was stored")
		return nil
	}

	msg, err := env.messages.Append(ctx, room.ID, "bob", "hi")
	require.NoError(t, err)

	events := env.publisher.OfType(domain.EventMessageAppended)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].ActorID)
	assert.Equal(t, "alice", events[0].TargetID)
	assert.Equal(t, "conn-1", events[0].OriginConnID)
	assert.Equal(t, msg.ID, events[0].Message.ID)
}

func TestMessageService_Append_PublishFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.publisher.PublishFunc = func(context.Context, domain.Event) error { return errors.New("bus down") }

	_, err := env.messages.Append(context.Background(), room.ID, "alice", "hi")
	assert.NoError(t, err)
}

func TestMessageService_Append_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	failing := &testutil.FailingMessageRepository{
		MessageRepository: env.store,
		AppendErr:         domain.Conflict("append", errors.New("txn conflict")),
	}
	svc := NewMessageService(env.store, failing, env.blocks, env.publisher, 0)

	_, err := svc.Append(context.Background(), room.ID, "alice", "hi")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, env.publisher.Published())

	got, err := env.rooms.Get(context.Background(), room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LastMessageID)
}

func TestMessageService_BlockedSendKeepsHistory(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.send(t, room.ID, "alice", 3)

	require.NoError(t, env.blocks.Block(ctx, "bob", "alice"))

	_, err := env.messages.Append(ctx, room.ID, "alice", "still there?")
	assert.ErrorIs(t, err, domain.ErrBlocked)
	_, err = env.messages.Append(ctx, room.ID, "bob", "bye")
	assert.ErrorIs(t, err, domain.ErrBlocked)

	assert.Equal(t, []int64{3, 2, 1}, pageIDs(t, env, room.ID, "alice", nil, 10))
}

func TestMessageService_ConcurrentAppend(t *testing.T) {
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	const n = 64
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := lo.Ternary(i%2 == 0, "alice", "bob")
			msg, err := env.messages.Append(context.Background(), room.ID, sender, "hi")
			assert.NoError(t, err)
			ids[i] = msg.ID
		}(i)
	}
	wg.Wait()

	assert.Len(t, lo.Uniq(ids), n)
	assert.Equal(t, int64(1), lo.Min(ids))
	assert.Equal(t, int64(n), lo.Max(ids))
}

func TestMessageService_GetPage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.send(t, room.ID, "alice", 10)

	assert.Equal(t, []int64{7, 6, 5, 4, 3}, pageIDs(t, env, room.ID, "bob", lo.ToPtr(int64(8)), 5))
	assert.Equal(t, []int64{10, 9}, pageIDs(t, env, room.ID, "bob", nil, 2))
	assert.Equal(t, []int64{}, pageIDs(t, env, room.ID, "bob", lo.ToPtr(int64(1)), 5))
	assert.Len(t, pageIDs(t, env, room.ID, "bob", nil, 1000), 10)

	_, err := env.messages.GetPage(ctx, room.ID, "bob", lo.ToPtr(int64(0)), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)
	_, err = env.messages.GetPage(ctx, room.ID, "bob", nil, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidPageSize)
	_, err = env.messages.GetPage(ctx, room.ID, "carol", nil, 5)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.messages.GetPage(ctx, "missing", "bob", nil, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessageService_GetPage_ExitedParticipant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.send(t, room.ID, "bob", 2)
	require.NoError(t, env.rooms.Exit(ctx, room.ID, "alice"))

	assert.Equal(t, []int64{2, 1}, pageIDs(t, env, room.ID, "alice", nil, 10))
}

func TestReadService_MarkRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")

	// empty room: nothing to mark
	got, err := env.reads.MarkRead(ctx, room.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.NoneRead, got)

	env.send(t, room.ID, "bob", 5)
	env.publisher.Reset()

	_, err = env.reads.MarkRead(ctx, room.ID, "alice", lo.ToPtr(int64(0)))
	assert.ErrorIs(t, err, domain.ErrInvalidReadTarget)
	_, err = env.reads.MarkRead(ctx, room.ID, "alice", lo.ToPtr(int64(6)))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.reads.MarkRead(ctx, room.ID, "carol", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err = env.reads.MarkRead(ctx, room.ID, "alice", lo.ToPtr(int64(3)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = env.reads.MarkRead(ctx, room.ID, "alice", lo.ToPtr(int64(2)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = env.reads.MarkRead(ctx, room.ID, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	last, err := env.reads.GetLastRead(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)

	last, err = env.reads.GetLastRead(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.NoneRead, last)

	events := env.publisher.OfType(domain.EventReadAdvanced)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].LastReadMessageID)
	assert.Equal(t, int64(5), events[1].LastReadMessageID)
	assert.Equal(t, "bob", events[1].TargetID)
}

func TestReadService_GetCounterpartLastRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.send(t, room.ID, "alice", 4)

	got, err := env.reads.GetCounterpartLastRead(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.NoneRead, got)

	_, err = env.reads.MarkRead(ctx, room.ID, "bob", lo.ToPtr(int64(3)))
	require.NoError(t, err)

	got, err = env.reads.GetCounterpartLastRead(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	// the reader's own view of the other side is untouched
	got, err = env.reads.GetCounterpartLastRead(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.NoneRead, got)

	_, err = env.reads.GetCounterpartLastRead(ctx, room.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.reads.GetCounterpartLastRead(ctx, "missing-room", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadService_ConcurrentMarkRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	room := env.room(t, "alice", "bob")
	env.send(t, room.ID, "bob", 40)

	var wg sync.WaitGroup
	for i := int64(40); i >= 1; i-- {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := env.reads.MarkRead(ctx, room.ID, "alice", &id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	last, err := env.reads.GetLastRead(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), last)
}
