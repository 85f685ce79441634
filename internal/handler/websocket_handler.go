package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"
	ws "anonchat/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	bearerProtocol = "bearer"
	authTimeout    = 5 * time.Second
)

// WebSocketHandler upgrades /ws and hands the connection to the hub once
// the caller is authenticated.
type WebSocketHandler struct {
	hub       *ws.Hub
	validator domain.AuthValidator
	services  ws.Services
	upgrader  websocket.Upgrader
}

func NewWebSocketHandler(hub *ws.Hub, validator domain.AuthValidator, services ws.Services, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		validator: validator,
		services:  services,
		upgrader:  createUpgrader(allowedOrigins),
	}
}

// createUpgrader accepts same-origin requests, requests from the listed
// origins, or everything when "*" is listed.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{bearerProtocol},
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return lo.Contains(allowedOrigins, "*") || lo.Contains(allowedOrigins, origin)
		},
	}
}

// HandleConnection upgrades first and authenticates second, so a bad
// credential is reported as close code 4401 rather than an HTTP status.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.FromContext(r.Context()).Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := ws.NewClient(h.hub, conn, h.services)

	authCtx, cancel := context.WithTimeout(r.Context(), authTimeout)
	defer cancel()

	if err := client.Authenticate(authCtx, h.validator, token); err != nil {
		observability.FromContext(r.Context()).Info("websocket authentication failed",
			slog.String("error", err.Error()))
		client.Close(ws.CloseUnauthorized, "unauthorized")
		return
	}

	ctx := observability.WithUserID(authCtx, client.UserID())
	if err := client.Start(ctx); err != nil {
		observability.FromContext(ctx).Error("websocket registration failed", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, ws.ErrHubStopped) {
			client.Close(websocket.CloseTryAgainLater, "try again later")
			return
		}
		client.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}

	observability.FromContext(ctx).Debug("websocket connected", slog.String("conn_id", client.ID()))
}

// extractToken reads the bearer credential from the Authorization header,
// the "bearer, <token>" subprotocol pair or the access_token query parameter.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, bearerProtocol) && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}

	return r.URL.Query().Get("access_token")
}
