// Package auth resolves bearer credentials to principals. Tokens are issued
// by an external identity provider; this package only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonchat/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies HS256 tokens carrying sub and exp claims.
type JWTValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

var _ domain.AuthValidator = (*JWTValidator)(nil)

// NewJWTValidator creates a validator. An empty issuer disables the iss check.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 5 * time.Second,
	}
}

// Validate parses tokenStr and returns the principal it names.
func (v *JWTValidator) Validate(_ context.Context, tokenStr string) (domain.Principal, error) {
	if tokenStr == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return domain.Principal{}, domain.ErrTokenExpired
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	return domain.Principal{
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Issue signs a token for userID. The service never calls it; it exists for
// tests and local tooling.
func Issue(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
