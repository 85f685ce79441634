package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a service wraps exactly one of these,
// so the transport layer can map it without inspecting messages.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrBlocked         = errors.New("blocked")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
)

var (
	ErrChatroomNotFound  = fmt.Errorf("chatroom %w", ErrNotFound)
	ErrNotParticipant    = fmt.Errorf("user is not a participant of this chatroom: %w", ErrForbidden)
	ErrPairBlocked       = fmt.Errorf("users have blocked each other: %w", ErrBlocked)
	ErrSelfChat          = fmt.Errorf("cannot open a chatroom with yourself: %w", ErrInvalidArgument)
	ErrSelfBlock         = fmt.Errorf("cannot block yourself: %w", ErrInvalidArgument)
	ErrEmptyUserID       = fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	ErrEmptyContent      = fmt.Errorf("message content is required: %w", ErrInvalidArgument)
	ErrContentTooLong    = fmt.Errorf("message content is too long: %w", ErrInvalidArgument)
	ErrInvalidCursor     = fmt.Errorf("invalid pagination cursor: %w", ErrInvalidArgument)
	ErrInvalidPageSize   = fmt.Errorf("invalid page size: %w", ErrInvalidArgument)
	ErrInvalidReadTarget = fmt.Errorf("invalid read target: %w", ErrInvalidArgument)
	ErrInvalidToken      = fmt.Errorf("invalid credential: %w", ErrUnauthorized)
	ErrTokenExpired      = fmt.Errorf("credential expired: %w", ErrUnauthorized)
)

// Kind names used on the wire.
const (
	KindNotFound        = "not_found"
	KindForbidden       = "forbidden"
	KindBlocked         = "blocked"
	KindInvalidArgument = "invalid_argument"
	KindUnauthorized    = "unauthorized"
	KindConflict        = "conflict"
	KindUnavailable     = "unavailable"
	KindInternal        = "internal"
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, KindNotFound},
	{ErrForbidden, KindForbidden},
	{ErrBlocked, KindBlocked},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrUnauthorized, KindUnauthorized},
	{ErrConflict, KindConflict},
	{ErrUnavailable, KindUnavailable},
}

// KindOf returns the wire name of the error kind wrapped by err.
// Errors that wrap no known kind are reported as internal.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return KindInternal
}

// Unavailable wraps a storage failure so callers see ErrUnavailable while
// the original cause stays in the chain for logging.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Conflict wraps a storage coordination failure.
func Conflict(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
}
