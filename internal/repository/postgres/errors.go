package postgres

import (
	"context"
	"errors"

	"anonchat/internal/domain"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation           = "23505"
	pqSerializationFailure      = "40001"
	pqDeadlockDetected          = "40P01"
	pqInvalidTextRepresentation = "22P02"
)

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation
// If constraint is empty, it returns true for any unique violation
// If constraint is specified, it only returns true for that specific constraint
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	if string(pqErr.Code) != pqUniqueViolation {
		return false
	}

	if constraint == "" {
		return true
	}

	return pqErr.Constraint == constraint
}

// IsRetryable reports serialization failures and deadlocks, the errors a
// caller may safely retry as a whole.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}

// isInvalidText catches ids that are not valid UUIDs.
func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqInvalidTextRepresentation
}

// mapError translates a driver error into a domain error kind.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case IsRetryable(err), IsUniqueViolation(err, ""):
		return domain.Conflict(op, err)
	}
	return domain.Unavailable(op, err)
}
