package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"anonchat/internal/domain"
	"anonchat/internal/middleware"
	"anonchat/internal/observability"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var kindStatus = map[string]int{
	domain.KindNotFound:        http.StatusNotFound,
	domain.KindForbidden:       http.StatusForbidden,
	domain.KindBlocked:         http.StatusForbidden,
	domain.KindInvalidArgument: http.StatusBadRequest,
	domain.KindUnauthorized:    http.StatusUnauthorized,
	domain.KindConflict:        http.StatusConflict,
	domain.KindUnavailable:     http.StatusServiceUnavailable,
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind string) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.String("error", message),
		)
		// storage details stay in the log
		message = http.StatusText(status)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message, Kind: kind})
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// bind decodes a JSON body into dst and validates it.
func bind(r *http.Request, dst any) error {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidArgument)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %s failed %s: %w", verrs[0].Field(), verrs[0].Tag(), domain.ErrInvalidArgument)
		}
		return fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidArgument)
	}
	return nil
}

// requireUser returns the authenticated caller or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		respondError(w, r, domain.ErrUnauthorized)
		return "", false
	}
	return userID, true
}
