// Package api exposes the collaboration engine over REST and WebSocket.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/serroba/collab-notes/internal/collab"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/session"
	"github.com/serroba/collab-notes/internal/ws"
)

// Engine is the part of collab.Engine the API drives.
type Engine interface {
	CreateDocument(ctx context.Context, title, initialContent, creatorID string) (document.Snapshot, error)
	GetDocument(ctx context.Context, docID string) (document.Snapshot, error)
	ListDocuments(ctx context.Context, userID string) []document.Snapshot
	ChangeHistory(ctx context.Context, docID string, sinceVersion int) ([]ot.Change, error)
	SubmitEdit(ctx context.Context, req collab.EditRequest) (ot.Change, error)
	JoinDocument(ctx context.Context, docID, userID string) (session.Session, error)
	LeaveDocument(ctx context.Context, docID, userID string) error
	AddComment(ctx context.Context, docID, userID string, position int, content string) (document.Comment, error)
	ReplyToComment(ctx context.Context, docID, commentID, userID, content string) (document.Comment, error)
	ResolveComment(ctx context.Context, docID, commentID, userID string) error
	UpdateCursor(ctx context.Context, docID, userID string, x, y float64) (document.CursorPosition, error)
	ActiveCursors(ctx context.Context, docID string) ([]document.CursorPosition, error)
}

// Server handles HTTP requests for the collaboration API.
type Server struct {
	engine    Engine
	hub       *ws.Hub
	logger    *slog.Logger
	metrics   http.Handler
	ready     func(context.Context) error
	queueSize int
	upgrader  websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Engine Engine
	Hub    *ws.Hub
	Logger *slog.Logger

	// Metrics is served on /metrics when set.
	Metrics http.Handler

	// Ready backs /healthz. Nil means always ready.
	Ready func(context.Context) error

	// ClientQueueSize is the outbound buffer of each WebSocket client.
	ClientQueueSize int
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = ws.NewHub()
	}

	return &Server{
		engine:    cfg.Engine,
		hub:       hub,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ready:     cfg.Ready,
		queueSize: cfg.ClientQueueSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		requestLogger(s.logger),
		middleware.Recoverer,
	)

	r.Get("/livez", s.handleLivez)
	r.Get("/healthz", s.handleHealthz)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/documents", s.handleCreateDocument)
		r.Get("/documents", s.handleListDocuments)

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Get("/changes", s.handleListChanges)
			r.Post("/changes", s.handleSubmitChange)
			r.Post("/join", s.handleJoin)
			r.Post("/leave", s.handleLeave)
			r.Post("/comments", s.handleAddComment)
			r.Post("/comments/{commentId}/replies", s.handleReply)
			r.Post("/comments/{commentId}/resolve", s.handleResolve)
			r.Put("/cursor", s.handleUpdateCursor)
			r.Get("/cursors", s.handleListCursors)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

func (s *Server) handleLivez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})

			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
