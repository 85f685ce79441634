package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"anonchat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// NewUserID returns a fresh user id
func NewUserID() string {
	return nextID("user")
}

// ChatroomOptions allows customizing chatroom fixture creation
type ChatroomOptions struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	ExitedBy      []string
	LastMessageID int64
	LastMessageAt *time.Time
	CreatedAt     time.Time
}

// NewTestChatroom creates a chatroom with sensible defaults.
// Participants are normalized after options run.
func NewTestChatroom(opts ...func(*ChatroomOptions)) *domain.Chatroom {
	o := &ChatroomOptions{
		ID:           nextID("room"),
		ParticipantA: nextID("user"),
		ParticipantB: nextID("user"),
		CreatedAt:    time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(o)
	}

	a, b := domain.NormalizePair(o.ParticipantA, o.ParticipantB)
	return &domain.Chatroom{
		ID:            o.ID,
		ParticipantA:  a,
		ParticipantB:  b,
		CreatedAt:     o.CreatedAt,
		ExitedBy:      o.ExitedBy,
		LastMessageID: o.LastMessageID,
		LastMessageAt: o.LastMessageAt,
	}
}

// Chatroom option functions

func WithRoomID(id string) func(*ChatroomOptions) {
	return func(o *ChatroomOptions) { o.ID = id }
}

func WithParticipants(a, b string) func(*ChatroomOptions) {
	return func(o *ChatroomOptions) {
		o.ParticipantA = a
		o.ParticipantB = b
	}
}

func WithExitedBy(userIDs ...string) func(*ChatroomOptions) {
	return func(o *ChatroomOptions) { o.ExitedBy = userIDs }
}

func WithLastMessage(id int64, at time.Time) func(*ChatroomOptions) {
	return func(o *ChatroomOptions) {
		o.LastMessageID = id
		o.LastMessageAt = &at
	}
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID        int64
	RoomID    string
	SenderID  string
	Content   string
	CreatedAt time.Time
}

// NewTestMessage creates a test message with sensible defaults
func NewTestMessage(opts ...func(*MessageOptions)) *domain.Message {
	o := &MessageOptions{
		ID:        1,
		RoomID:    nextID("room"),
		SenderID:  nextID("user"),
		Content:   "hello",
		CreatedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Message{
		ID:        o.ID,
		RoomID:    o.RoomID,
		SenderID:  o.SenderID,
		Content:   o.Content,
		CreatedAt: o.CreatedAt,
	}
}

// Message option functions

func WithMessageID(id int64) func(*MessageOptions) {
	return func(o *MessageOptions) { o.ID = id }
}

func WithMessageRoom(roomID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.RoomID = roomID }
}

func WithSender(senderID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.SenderID = senderID }
}

func WithContent(content string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.Content = content }
}

// NewTestEvent builds a MessageAppended event for msg from sender to recipient.
func NewTestEvent(msg *domain.Message, recipientID string) domain.Event {
	return domain.Event{
		Type:       domain.EventMessageAppended,
		RoomID:     msg.RoomID,
		ActorID:    msg.SenderID,
		TargetID:   recipientID,
		Message:    msg,
		OccurredAt: msg.CreatedAt,
	}
}
