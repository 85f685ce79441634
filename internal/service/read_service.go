package service

import (
	"context"

	"anonchat/internal/domain"
)

type ReadService struct {
	chatroomRepo domain.ChatroomRepository
	cursorRepo   domain.ReadCursorRepository
	publisher    domain.EventPublisher
}

func NewReadService(chatroomRepo domain.ChatroomRepository, cursorRepo domain.ReadCursorRepository, publisher domain.EventPublisher) *ReadService {
	return &ReadService{
		chatroomRepo: chatroomRepo,
		cursorRepo:   cursorRepo,
		publisher:    publisher,
	}
}

// MarkRead advances the caller's cursor to upto, or to the room's newest
// message when upto is nil, and returns the cursor afterwards. The cursor
// never moves backwards.
func (s *ReadService) MarkRead(ctx context.Context, roomID, userID string, upto *int64) (int64, error) {
	room, err := participantRoom(ctx, s.chatroomRepo, roomID, userID)
	if err != nil {
		return 0, err
	}

	target := room.LastMessageID
	if upto != nil {
		target = *upto
		if target <= 0 || target > room.LastMessageID {
			return 0, domain.ErrInvalidReadTarget
		}
	}
	if target == 0 {
		// empty room, nothing to acknowledge
		return s.cursorRepo.Get(ctx, roomID, userID)
	}

	previous, err := s.cursorRepo.Get(ctx, roomID, userID)
	if err != nil {
		return 0, err
	}
	stored, err := s.cursorRepo.AdvanceTo(ctx, roomID, userID, target)
	if err != nil {
		return 0, err
	}

	if stored == target && previous < target {
		publish(ctx, s.publisher, domain.Event{
			Type:              domain.EventReadAdvanced,
			RoomID:            roomID,
			ActorID:           userID,
			TargetID:          room.Counterpart(userID),
			OriginConnID:      domain.OriginConn(ctx),
			LastReadMessageID: stored,
		})
	}
	return stored, nil
}

func (s *ReadService) GetLastRead(ctx context.Context, roomID, userID string) (int64, error) {
	if _, err := participantRoom(ctx, s.chatroomRepo, roomID, userID); err != nil {
		return 0, err
	}
	return s.cursorRepo.Get(ctx, roomID, userID)
}

// GetCounterpartLastRead returns how far the other participant has read.
// Read receipts are not redelivered, so reconnecting clients use this to
// restore the seen marker.
func (s *ReadService) GetCounterpartLastRead(ctx context.Context, roomID, userID string) (int64, error) {
	room, err := participantRoom(ctx, s.chatroomRepo, roomID, userID)
	if err != nil {
		return 0, err
	}
	return s.cursorRepo.Get(ctx, roomID, room.Counterpart(userID))
}
