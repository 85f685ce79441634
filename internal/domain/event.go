package domain

import (
	"context"
	"time"
)

// EventType identifies a realtime event.
type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventReadAdvanced    EventType = "read_advanced"
)

// Event is emitted after a durable state change and fanned out to live
// connections. ActorID is the user who caused it, TargetID the counterpart.
type Event struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"room_id"`
	ActorID  string    `json:"actor_id"`
	TargetID string    `json:"target_id"`
	// OriginConnID is the connection that issued the request, if any; it is
	// skipped during fan-out because it already got a direct reply.
	OriginConnID      string    `json:"origin_conn_id,omitempty"`
	Message           *Message  `json:"message,omitempty"`
	LastReadMessageID int64     `json:"last_read_message_id,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// EventPublisher hands events to the delivery layer. Implementations must
// not block on slow consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type originConnKey struct{}

// WithOriginConn tags ctx with the id of the connection issuing a request.
func WithOriginConn(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, originConnKey{}, connID)
}

// OriginConn returns the connection id set by WithOriginConn.
func OriginConn(ctx context.Context) string {
	id, _ := ctx.Value(originConnKey{}).(string)
	return id
}
