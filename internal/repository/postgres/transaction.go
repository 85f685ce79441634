package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"anonchat/internal/domain"
)

// TxManager runs store operations that must commit as one unit, such as an
// append together with its id bump and exit cleanup.
type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx runs fn inside a transaction and commits when fn succeeds.
// Errors that already carry a domain kind come back as they are, so a
// missing room is still not_found after the rollback. Driver failures from
// begin, fn or commit are mapped to Conflict or Unavailable under op.
func (tm *TxManager) WithTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(op+": begin", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return txError(op, err)
	}

	if err := tx.Commit(); err != nil {
		// serialization failures surface here
		return txError(op+": commit", err)
	}
	return nil
}

func txError(op string, err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	return mapError(op, err)
}
