package handler

import (
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type MerkleHandler struct {
	merkle service.MerkleServiceInterface
}

func NewMerkleHandler(merkle service.MerkleServiceInterface) *MerkleHandler {
	return &MerkleHandler{merkle: merkle}
}

func (h *MerkleHandler) Proof(w http.ResponseWriter, r *http.Request) {
	view, err := h.merkle.Proof(r.URL.Query().Get("address"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}
