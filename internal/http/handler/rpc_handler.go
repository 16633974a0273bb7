package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/d4l-network/d4l-gateway/internal/http/response"
)

// RPCForwarder is implemented by *rpcproxy.Proxy.
type RPCForwarder interface {
	Forward(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

type RPCHandler struct {
	proxy RPCForwarder
}

func NewRPCHandler(proxy RPCForwarder) *RPCHandler {
	return &RPCHandler{proxy: proxy}
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (h *RPCHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, r, err)
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "method is required", nil)
		return
	}
	raw, err := h.proxy.Forward(r.Context(), method, req.Params)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, raw)
}
