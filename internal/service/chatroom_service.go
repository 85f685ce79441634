package service

import (
	"context"
	"log/slog"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

type ChatroomService struct {
	chatroomRepo domain.ChatroomRepository
	blocks       domain.BlockChecker
}

func NewChatroomService(chatroomRepo domain.ChatroomRepository, blocks domain.BlockChecker) *ChatroomService {
	return &ChatroomService{
		chatroomRepo: chatroomRepo,
		blocks:       blocks,
	}
}

// CreateOrFind returns the pair's room, creating it on first contact.
// An existing room is returned as is; its exit set is not touched.
func (s *ChatroomService) CreateOrFind(ctx context.Context, userA, userB string) (*domain.Chatroom, bool, error) {
	if err := domain.ValidatePair(userA, userB); err != nil {
		return nil, false, err
	}

	blocked, err := s.blocks.IsBlockedEitherDirection(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	if blocked {
		return nil, false, domain.ErrPairBlocked
	}

	room, created, err := s.chatroomRepo.FindOrCreate(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}

	if created {
		observability.FromContext(ctx).Info("chatroom created", slog.String("room_id", room.ID))
	}
	return room, created, nil
}

func (s *ChatroomService) Exit(ctx context.Context, roomID, userID string) error {
	if _, err := participantRoom(ctx, s.chatroomRepo, roomID, userID); err != nil {
		return err
	}
	return s.chatroomRepo.AddExit(ctx, roomID, userID)
}

func (s *ChatroomService) ListRooms(ctx context.Context, userID string) ([]*domain.Chatroom, error) {
	if userID == "" {
		return nil, domain.ErrEmptyUserID
	}
	return s.chatroomRepo.ListVisible(ctx, userID)
}

func (s *ChatroomService) Get(ctx context.Context, roomID, userID string) (*domain.Chatroom, error) {
	return participantRoom(ctx, s.chatroomRepo, roomID, userID)
}

// participantRoom loads the room and checks that userID belongs to it.
// Exited participants still pass: exit only hides the room from listings.
func participantRoom(ctx context.Context, repo domain.ChatroomRepository, roomID, userID string) (*domain.Chatroom, error) {
	room, err := repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}
	return room, nil
}
