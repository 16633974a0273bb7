package handler

import (
	"net/http"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

type ContractHandler struct {
	reader service.ContractReaderInterface
}

func NewContractHandler(reader service.ContractReaderInterface) *ContractHandler {
	return &ContractHandler{reader: reader}
}

type contractReadRequest struct {
	Contract string `json:"contract"`
	Function string `json:"function"`
	Args     []any  `json:"args"`
}

func (h *ContractHandler) Directory(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.reader.Directory())
}

func (h *ContractHandler) Read(w http.ResponseWriter, r *http.Request) {
	var req contractReadRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	view, err := h.reader.ReadContract(r.Context(), req.Contract, req.Function, req.Args)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, view)
}
