package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/serroba/collab-notes/internal/collab"
	"github.com/serroba/collab-notes/internal/pkg/log"
	"github.com/serroba/collab-notes/internal/ws"
)

// APIError is the error body returned by every endpoint.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorResponse is the root object of an error body.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// toHTTP maps engine errors to a status code and a stable error code.
// Unknown errors become 500 without leaking details.
func toHTTP(err error) (int, string, string) {
	switch {
	case errors.Is(err, collab.ErrDocumentNotFound):
		return http.StatusNotFound, ws.ErrorCodeNotFound, "document not found"
	case errors.Is(err, collab.ErrCommentNotFound):
		return http.StatusNotFound, ws.ErrorCodeNotFound, "comment not found"
	case errors.Is(err, collab.ErrSessionNotFound):
		return http.StatusNotFound, ws.ErrorCodeNotFound, "session not found"
	case errors.Is(err, collab.ErrInvalidOperation):
		return http.StatusBadRequest, ws.ErrorCodeInvalidOperation, err.Error()
	default:
		return http.StatusInternalServerError, ws.ErrorCodeInternalError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := toHTTP(err)

	if status == http.StatusInternalServerError {
		log.From(r.Context()).Error("request failed", slog.String("err", err.Error()))
	}

	writeErrorMessage(w, r, status, code, msg)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: APIError{
		Code:      code,
		Message:   msg,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict rejects unknown fields.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	return dec.Decode(value)
}
