package handler

import (
	"net/http"

	"anonchat/internal/domain"
	"anonchat/internal/service"
)

// BlockHandler handles block registry endpoints
type BlockHandler struct {
	blocks *service.BlockService
}

func NewBlockHandler(blocks *service.BlockService) *BlockHandler {
	return &BlockHandler{blocks: blocks}
}

type BlockRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

type BlockListResponse struct {
	Blocks []*domain.BlockRelation `json:"blocks"`
}

// Block records that the caller blocked userId. Blocking twice is fine.
func (h *BlockHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req BlockRequest
	if err := bind(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.blocks.Block(r.Context(), userID, req.UserID); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	blocks, err := h.blocks.ListBlocked(r.Context(), userID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, BlockListResponse{Blocks: blocks})
}
