package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/serroba/collab-notes/internal/collab"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/ws"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ListDocumentsResponse is the response body for listing documents.
type ListDocumentsResponse struct {
	Documents []document.Snapshot `json:"documents"`
}

// ChangesResponse is the response body for the change log.
type ChangesResponse struct {
	Changes []ot.Change `json:"changes"`
}

// CommentRequest is the request body for a new comment or reply.
type CommentRequest struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// CursorsResponse is the response body for active cursors.
type CursorsResponse struct {
	Cursors []document.CursorPosition `json:"cursors"`
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := decodeStrict(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "invalid request body")

		return
	}

	doc, err := s.engine.CreateDocument(r.Context(), req.Title, req.Content, UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// handleListDocuments handles GET /documents. Only documents the caller
// collaborates on are listed.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.engine.ListDocuments(r.Context(), UserIDFromContext(r.Context()))

	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleListChanges handles GET /documents/{id}/changes?since=N.
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	since := 0

	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "since must be a non-negative integer")

			return
		}

		since = n
	}

	changes, err := s.engine.ChangeHistory(r.Context(), chi.URLParam(r, "id"), since)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, ChangesResponse{Changes: changes})
}

// handleSubmitChange handles POST /documents/{id}/changes.
func (s *Server) handleSubmitChange(w http.ResponseWriter, r *http.Request) {
	var p ws.EditPayload
	if err := decodeStrict(r, &p); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "invalid request body")

		return
	}

	applied, err := s.engine.SubmitEdit(r.Context(), editRequest(chi.URLParam(r, "id"), UserIDFromContext(r.Context()), p))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, applied)
}

// handleJoin handles POST /documents/{id}/join.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.JoinDocument(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// handleLeave handles POST /documents/{id}/leave.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.LeaveDocument(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context())); err != nil {
		writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAddComment handles POST /documents/{id}/comments.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decodeStrict(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "invalid request body")

		return
	}

	c, err := s.engine.AddComment(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), req.Position, req.Content)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// handleReply handles POST /documents/{id}/comments/{commentId}/replies.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decodeStrict(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "invalid request body")

		return
	}

	reply, err := s.engine.ReplyToComment(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), UserIDFromContext(r.Context()), req.Content)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, reply)
}

// handleResolve handles POST /documents/{id}/comments/{commentId}/resolve.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	err := s.engine.ResolveComment(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "commentId"), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateCursor handles PUT /documents/{id}/cursor.
func (s *Server) handleUpdateCursor(w http.ResponseWriter, r *http.Request) {
	var p ws.CursorPayload
	if err := decodeStrict(r, &p); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "invalid request body")

		return
	}

	cur, err := s.engine.UpdateCursor(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), p.X, p.Y)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, cur)
}

// handleListCursors handles GET /documents/{id}/cursors.
func (s *Server) handleListCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.engine.ActiveCursors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, CursorsResponse{Cursors: cursors})
}

func editRequest(docID, userID string, p ws.EditPayload) collab.EditRequest {
	return collab.EditRequest{
		DocumentID:  docID,
		UserID:      userID,
		Operation:   p.Operation,
		Position:    p.Position,
		Content:     p.Content,
		Length:      p.Length,
		BaseVersion: p.BaseVersion,
		Timestamp:   p.Timestamp,
	}
}
