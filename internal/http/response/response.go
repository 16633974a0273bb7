package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeRateLimited           = "RATE_LIMITED"
	CodeContractError         = "CONTRACT_ERROR"
	CodeBlockchainUnavailable = "BLOCKCHAIN_UNAVAILABLE"
	CodeInternal              = "INTERNAL_ERROR"
)

// envelope is the single response shape of the gateway: exactly one of Data
// or Error is set, and Success tells which.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, envelope{Success: true, Data: data, Meta: metaFor(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	write(w, status, envelope{Error: &apiError{Code: code, Message: message, Details: details}, Meta: metaFor(r)})
}

func write(w http.ResponseWriter, status int, body envelope) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func metaFor(r *http.Request) meta {
	m := meta{RequestID: chimiddleware.GetReqID(r.Context()), Timestamp: time.Now().UTC()}
	if m.RequestID == "" {
		m.RequestID = r.Header.Get(chimiddleware.RequestIDHeader)
	}
	if m.RequestID == "" {
		m.RequestID = "req-unknown"
	}
	return m
}
