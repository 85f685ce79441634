package domain

import (
	"context"
	"time"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is past its expiry at now.
func (p Principal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// AuthValidator resolves a bearer credential to a principal. It is an
// external capability: this service never issues or refreshes credentials.
type AuthValidator interface {
	Validate(ctx context.Context, token string) (Principal, error)
}
