package service

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

type MessageService struct {
	chatroomRepo     domain.ChatroomRepository
	messageRepo      domain.MessageRepository
	blocks           domain.BlockChecker
	publisher        domain.EventPublisher
	maxContentLength int
}

// NewMessageService wires the message path. A nil publisher disables
// realtime events; maxContentLength <= 0 selects the default.
func NewMessageService(
	chatroomRepo domain.ChatroomRepository,
	messageRepo domain.MessageRepository,
	blocks domain.BlockChecker,
	publisher domain.EventPublisher,
	maxContentLength int,
) *MessageService {
	if maxContentLength <= 0 {
		maxContentLength = domain.DefaultMaxContentLength
	}
	return &MessageService{
		chatroomRepo:     chatroomRepo,
		messageRepo:      messageRepo,
		blocks:           blocks,
		publisher:        publisher,
		maxContentLength: maxContentLength,
	}
}

func (s *MessageService) MaxContentLength() int { return s.maxContentLength }

// ValidateContent applies the content rules shared by HTTP and socket input.
func (s *MessageService) ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxContentLength {
		return domain.ErrContentTooLong
	}
	return nil
}

func (s *MessageService) Append(ctx context.Context, roomID, senderID, content string) (*domain.Message, error) {
	if err := s.ValidateContent(content); err != nil {
		return nil, err
	}

	room, err := participantRoom(ctx, s.chatroomRepo, roomID, senderID)
	if err != nil {
		return nil, err
	}
	recipientID := room.Counterpart(senderID)

	blocked, err := s.blocks.IsBlockedEitherDirection(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.ErrPairBlocked
	}

	msg, err := s.messageRepo.Append(ctx, domain.AppendParams{
		RoomID:      roomID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	})
	if err != nil {
		return nil, err
	}
	observability.MessagesAppendedTotal.Inc()

	publish(ctx, s.publisher, domain.Event{
		Type:         domain.EventMessageAppended,
		RoomID:       roomID,
		ActorID:      senderID,
		TargetID:     recipientID,
		OriginConnID: domain.OriginConn(ctx),
		Message:      msg,
		OccurredAt:   msg.CreatedAt,
	})
	return msg, nil
}

// GetPage checks access up front and returns a lazy page. before == nil
// starts from the newest message.
func (s *MessageService) GetPage(ctx context.Context, roomID, userID string, before *int64, pageSize int) (iter.Seq2[*domain.Message, error], error) {
	if pageSize <= 0 {
		return nil, domain.ErrInvalidPageSize
	}
	if pageSize > domain.MaxPageSize {
		pageSize = domain.MaxPageSize
	}

	var cursor int64
	if before != nil {
		if *before <= 0 {
			return nil, domain.ErrInvalidCursor
		}
		cursor = *before
	}

	if _, err := participantRoom(ctx, s.chatroomRepo, roomID, userID); err != nil {
		return nil, err
	}
	return s.messageRepo.Page(ctx, roomID, cursor, pageSize), nil
}

// publish hands the event over after the state change is durable. The
// request may already be gone, so cancellation is detached.
func publish(ctx context.Context, publisher domain.EventPublisher, event domain.Event) {
	if publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		observability.FromContext(ctx).Warn("failed to publish event",
			slog.String("type", string(event.Type)),
			slog.String("room_id", event.RoomID),
			slog.String("error", err.Error()),
		)
	}
}
