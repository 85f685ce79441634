package domain

import (
	"context"
	"time"
)

// BlockRelation records that BlockerID blocked BlockedID.
type BlockRelation struct {
	BlockerID string    `json:"blocker_id"`
	BlockedID string    `json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockRepository defines the interface for block relation data access
type BlockRepository interface {
	// Insert is idempotent: an existing relation is left untouched.
	Insert(ctx context.Context, relation *BlockRelation) error
	// ExistsEitherDirection tests both (a, b) and (b, a).
	ExistsEitherDirection(ctx context.Context, userA, userB string) (bool, error)
	// ListByBlocker returns outgoing relations, newest first.
	ListByBlocker(ctx context.Context, blockerID string) ([]*BlockRelation, error)
}

// BlockChecker is the read side of the block registry, the one capability
// every enforcement point depends on.
type BlockChecker interface {
	IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error)
}
