package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
)

// BlockRepository implements domain.BlockRepository for PostgreSQL
type BlockRepository struct {
	db *sql.DB
}

// NewBlockRepository creates a new PostgreSQL block repository
func NewBlockRepository(db *sql.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// Insert records the relation; an existing one is left as is.
func (r *BlockRepository) Insert(ctx context.Context, relation *domain.BlockRelation) error {
	defer observability.ObserveStoreOperation(storeName, "insert_block", time.Now())

	if relation.CreatedAt.IsZero() {
		relation.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	query := `
		INSERT INTO block_relations (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, relation.BlockerID, relation.BlockedID, relation.CreatedAt); err != nil {
		return mapError("insert block", err)
	}
	return nil
}

// ExistsEitherDirection checks (a, b) and (b, a) in one query.
func (r *BlockRepository) ExistsEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	defer observability.ObserveStoreOperation(storeName, "exists_block", time.Now())

	query := `
		SELECT EXISTS(
			SELECT 1 FROM block_relations
			WHERE (blocker_id = $1 AND blocked_id = $2)
				OR (blocker_id = $2 AND blocked_id = $1)
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userA, userB).Scan(&exists); err != nil {
		return false, mapError("check block", err)
	}
	return exists, nil
}

// ListByBlocker returns the blocker's relations, newest first.
func (r *BlockRepository) ListByBlocker(ctx context.Context, blockerID string) ([]*domain.BlockRelation, error) {
	defer observability.ObserveStoreOperation(storeName, "list_blocks", time.Now())

	query := `
		SELECT blocker_id, blocked_id, created_at
		FROM block_relations
		WHERE blocker_id = $1
		ORDER BY created_at DESC, blocked_id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, blockerID)
	if err != nil {
		return nil, mapError("list blocks", err)
	}
	defer rows.Close()

	relations := make([]*domain.BlockRelation, 0)
	for rows.Next() {
		rel := &domain.BlockRelation{}
		if err := rows.Scan(&rel.BlockerID, &rel.BlockedID, &rel.CreatedAt); err != nil {
			return nil, mapError("scan block", err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError("list blocks", err)
	}
	return relations, nil
}
