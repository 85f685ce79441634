package websocket

import (
	"encoding/json"
	"fmt"

	"anonchat/internal/domain"

	"github.com/go-playground/validator/v10"
)

// Inbound frame types
const (
	FrameChat  = "CHAT"
	FrameRead  = "READ"
	FrameEnter = "ENTER"
	FrameLeave = "LEAVE"
)

// Outbound frame types
const (
	FrameMessage = "MESSAGE"
	FrameAck     = "ACK"
	FrameError   = "ERROR"
)

// KindRateLimited is reported in ERROR frames when a frame type exceeds its budget.
const KindRateLimited = "rate_limited"

// ClientFrame is a frame sent by the client.
type ClientFrame struct {
	Type      string `json:"type" validate:"required,oneof=CHAT READ ENTER LEAVE"`
	RoomID    string `json:"roomId" validate:"required"`
	Content   string `json:"content,omitempty"`
	MessageID *int64 `json:"messageId,omitempty"`
	RequestID string `json:"requestId,omitempty" validate:"max=64"`
}

// ServerFrame is a frame sent to the client.
type ServerFrame struct {
	Type              string          `json:"type"`
	RoomID            string          `json:"roomId,omitempty"`
	RequestID         string          `json:"requestId,omitempty"`
	Message           *domain.Message `json:"message,omitempty"`
	UserID            string          `json:"userId,omitempty"`
	LastReadMessageID int64           `json:"lastReadMessageId,omitempty"`
	Kind              string          `json:"kind,omitempty"`
	Error             string          `json:"error,omitempty"`
}

var frameValidator = validator.New(validator.WithRequiredStructEnabled())

// ParseClientFrame decodes and validates a client frame. Only CHAT carries
// content; READ, ENTER and LEAVE must leave it empty.
func ParseClientFrame(data []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", domain.ErrInvalidArgument)
	}
	if err := frameValidator.Struct(&frame); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidArgument)
	}
	if frame.Type != FrameChat && frame.Content != "" {
		return nil, fmt.Errorf("%s frames carry no content: %w", frame.Type, domain.ErrInvalidArgument)
	}
	if frame.Type != FrameRead && frame.MessageID != nil {
		return nil, fmt.Errorf("%s frames carry no messageId: %w", frame.Type, domain.ErrInvalidArgument)
	}
	return &frame, nil
}

// eventFrame renders a domain event as the frame pushed to subscribers.
func eventFrame(event domain.Event) (*ServerFrame, error) {
	switch event.Type {
	case domain.EventMessageAppended:
		if event.Message == nil {
			return nil, fmt.Errorf("message event without message")
		}
		return &ServerFrame{Type: FrameMessage, RoomID: event.RoomID, Message: event.Message}, nil
	case domain.EventReadAdvanced:
		return &ServerFrame{
			Type:              FrameRead,
			RoomID:            event.RoomID,
			UserID:            event.ActorID,
			LastReadMessageID: event.LastReadMessageID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}

func errorFrame(requestID string, err error) *ServerFrame {
	return &ServerFrame{
		Type:      FrameError,
		RequestID: requestID,
		Kind:      domain.KindOf(err),
		Error:     err.Error(),
	}
}
