package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"anonchat/internal/domain"
	"anonchat/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// ChatroomHandler handles chatroom, message and read cursor endpoints
type ChatroomHandler struct {
	rooms    *service.ChatroomService
	messages *service.MessageService
	reads    *service.ReadService
}

func NewChatroomHandler(rooms *service.ChatroomService, messages *service.MessageService, reads *service.ReadService) *ChatroomHandler {
	return &ChatroomHandler{
		rooms:    rooms,
		messages: messages,
		reads:    reads,
	}
}

type CreateChatroomRequest struct {
	CounterpartID string `json:"counterpartId" validate:"required,max=128"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type MarkReadRequest struct {
	MessageID *int64 `json:"messageId,omitempty" validate:"omitempty,gt=0"`
}

type ChatroomListResponse struct {
	Chatrooms []*domain.Chatroom `json:"chatrooms"`
}

// MessagePageResponse carries one page, newest first. NextBefore is set
// when older messages may exist.
type MessagePageResponse struct {
	Messages   []*domain.Message `json:"messages"`
	NextBefore *int64            `json:"nextBefore,omitempty"`
}

type ReadCursorResponse struct {
	RoomID            string `json:"roomId"`
	LastReadMessageID int64  `json:"lastReadMessageId"`
}

// Create opens the caller's room with the counterpart, or returns the
// existing one with 200.
func (h *ChatroomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateChatroomRequest
	if err := bind(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	room, created, err := h.rooms.CreateOrFind(r.Context(), userID, req.CounterpartID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, lo.Ternary(created, http.StatusCreated, http.StatusOK), room)
}

func (h *ChatroomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListRooms(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ChatroomListResponse{Chatrooms: rooms})
}

func (h *ChatroomHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	room, err := h.rooms.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, room)
}

// Exit hides the room from the caller's listing until a new message arrives.
func (h *ChatroomHandler) Exit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.rooms.Exit(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMessages returns a page of history. ?before= is an exclusive message
// id cursor, ?size= the page size.
func (h *ChatroomHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	before, size, err := parsePageQuery(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	seq, err := h.messages.GetPage(r.Context(), chi.URLParam(r, "id"), userID, before, size)
	if err != nil {
		respondError(w, r, err)
		return
	}
	messages, err := domain.CollectPage(seq)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := MessagePageResponse{Messages: messages}
	if n := len(messages); n > 0 && n == min(size, domain.MaxPageSize) && messages[n-1].ID > 1 {
		resp.NextBefore = lo.ToPtr(messages[n-1].ID)
	}
	respondJSON(w, r, http.StatusOK, resp)
}

func (h *ChatroomHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := bind(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	msg, err := h.messages.Append(r.Context(), chi.URLParam(r, "id"), userID, req.Content)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, msg)
}

// MarkRead advances the caller's read cursor. Without messageId it
// acknowledges everything in the room.
func (h *ChatroomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req MarkReadRequest
	if r.ContentLength != 0 {
		if err := bind(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}

	roomID := chi.URLParam(r, "id")
	last, err := h.reads.MarkRead(r.Context(), roomID, userID, req.MessageID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ReadCursorResponse{RoomID: roomID, LastReadMessageID: last})
}

func (h *ChatroomHandler) GetLastRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "id")
	last, err := h.reads.GetLastRead(r.Context(), roomID, userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ReadCursorResponse{RoomID: roomID, LastReadMessageID: last})
}

// GetCounterpartLastRead reports how far the other participant has read.
func (h *ChatroomHandler) GetCounterpartLastRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "id")
	last, err := h.reads.GetCounterpartLastRead(r.Context(), roomID, userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, ReadCursorResponse{RoomID: roomID, LastReadMessageID: last})
}

func parsePageQuery(r *http.Request) (*int64, int, error) {
	query := r.URL.Query()

	size := domain.DefaultPageSize
	if raw := query.Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("size %q: %w", raw, domain.ErrInvalidPageSize)
		}
		size = parsed
	}

	var before *int64
	if raw := query.Get("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("before %q: %w", raw, domain.ErrInvalidCursor)
		}
		before = &parsed
	}

	return before, size, nil
}
