package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"chatroom_not_found", ErrChatroomNotFound, KindNotFound},
		{"not_participant", ErrNotParticipant, KindForbidden},
		{"blocked", ErrPairBlocked, KindBlocked},
		{"self_block", ErrSelfBlock, KindInvalidArgument},
		{"expired", ErrTokenExpired, KindUnauthorized},
		{"wrapped_twice", fmt.Errorf("append: %w", ErrContentTooLong), KindInvalidArgument},
		{"unavailable", Unavailable("append", errors.New("connection refused")), KindUnavailable},
		{"conflict", Conflict("append", errors.New("txn conflict")), KindConflict},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestUnavailable_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Unavailable("get chatroom", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get chatroom")
}

func TestNormalizePair(t *testing.T) {
	a, b := NormalizePair("bob", "alice")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	a2, b2 := NormalizePair("alice", "bob")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)
}

func TestValidatePair(t *testing.T) {
	assert.NoError(t, ValidatePair("alice", "bob"))
	assert.ErrorIs(t, ValidatePair("alice", "alice"), ErrSelfChat)
	assert.ErrorIs(t, ValidatePair("", "bob"), ErrEmptyUserID)
	assert.ErrorIs(t, ValidatePair("alice", "  "), ErrInvalidArgument)
}

func TestChatroom_Membership(t *testing.T) {
	room := &Chatroom{ID: "r1", ParticipantA: "alice", ParticipantB: "bob", ExitedBy: []string{"alice"}}

	assert.True(t, room.IsParticipant("alice"))
	assert.False(t, room.IsParticipant("carol"))
	assert.False(t, room.IsParticipant(""))
	assert.Equal(t, "bob", room.Counterpart("alice"))
	assert.Equal(t, "alice", room.Counterpart("bob"))
	assert.Equal(t, "", room.Counterpart("carol"))
	assert.False(t, room.VisibleTo("alice"))
	assert.True(t, room.VisibleTo("bob"))
}

func TestSortForListing(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Minute)

	rooms := []*Chatroom{
		{ID: "a", LastMessageAt: nil},
		{ID: "b", LastMessageAt: &base},
		{ID: "c", LastMessageAt: &later},
		{ID: "d", LastMessageAt: &base},
		{ID: "e", LastMessageAt: nil},
	}
	SortForListing(rooms)

	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "d", "b", "e", "a"}, ids)
}

func TestPrincipal_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, Principal{UserID: "u", ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Principal{UserID: "u", ExpiresAt: now}.Expired(now))
	assert.False(t, Principal{UserID: "u"}.Expired(now))
}
