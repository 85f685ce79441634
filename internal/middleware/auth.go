package middleware

import (
	"context"
	"net/http"
	"strings"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	"github.com/go-chi/render"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Auth requires an "Authorization: Bearer <token>" header and resolves it
// with the validator. The caller's id is stored in the request context.
func Auth(validator domain.AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, r, "missing bearer token")
				return
			}

			principal, err := validator.Validate(r.Context(), token)
			if err != nil {
				unauthorized(w, r, err.Error())
				return
			}

			ctx := WithUserID(r.Context(), principal.UserID)
			ctx = observability.WithUserID(ctx, principal.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{
		"error": message,
		"kind":  domain.KindUnauthorized,
	})
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
