package service

import (
	"context"
	"log/slog"
	"strings"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

// BlockService is the single source of truth for block relations. Every
// path that creates rooms, appends messages or delivers events asks it.
type BlockService struct {
	blockRepo domain.BlockRepository
}

var _ domain.BlockChecker = (*BlockService)(nil)

func NewBlockService(blockRepo domain.BlockRepository) *BlockService {
	return &BlockService{blockRepo: blockRepo}
}

func (s *BlockService) Block(ctx context.Context, blockerID, blockedID string) error {
	if strings.TrimSpace(blockerID) == "" || strings.TrimSpace(blockedID) == "" {
		return domain.ErrEmptyUserID
	}
	if blockerID == blockedID {
		return domain.ErrSelfBlock
	}

	relation := &domain.BlockRelation{BlockerID: blockerID, BlockedID: blockedID}
	if err := s.blockRepo.Insert(ctx, relation); err != nil {
		return err
	}

	observability.FromContext(ctx).Info("user blocked",
		slog.String("blocker_id", blockerID),
		slog.String("blocked_id", blockedID),
	)
	return nil
}

func (s *BlockService) IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	return s.blockRepo.ExistsEitherDirection(ctx, userA, userB)
}

func (s *BlockService) ListBlocked(ctx context.Context, blockerID string) ([]*domain.BlockRelation, error) {
	if strings.TrimSpace(blockerID) == "" {
		return nil, domain.ErrEmptyUserID
	}
	return s.blockRepo.ListByBlocker(ctx, blockerID)
}
