package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/serroba/collab-notes/internal/pkg/log"
	"github.com/serroba/collab-notes/internal/ws"
)

// handleWebSocket handles GET /ws?docId={id}. The connection joins the
// document on connect and leaves it on disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, ws.ErrorCodeInvalidMessage, "docId query parameter is required")

		return
	}

	ctx := r.Context()
	userID := UserIDFromContext(ctx)

	if _, err := s.engine.GetDocument(ctx, docID); err != nil {
		writeError(w, r, err)

		return
	}

	client, cleanup, err := s.setupWebSocketClient(w, r, docID, userID)
	if err != nil {
		return
	}

	defer cleanup()

	if _, err := s.engine.JoinDocument(ctx, docID, userID); err != nil {
		s.sendError(client, err)

		return
	}

	s.sendState(ctx, client)
	s.handleMessages(ctx, client)
}

// setupWebSocketClient upgrades the connection, starts the writer and
// registers the client with the hub.
func (s *Server) setupWebSocketClient(
	w http.ResponseWriter, r *http.Request, docID, userID string,
) (*ws.Client, func(), error) {
	lg := log.From(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Warn("websocket upgrade failed", slog.String("err", err.Error()))

		return nil, nil, err
	}

	client := ws.NewClient(uuid.NewString(), userID, docID, conn, s.queueSize)

	go client.WritePump()

	s.hub.Register(client)

	cleanup := func() {
		s.hub.Unregister(client)

		if err := s.engine.LeaveDocument(context.WithoutCancel(r.Context()), docID, userID); err != nil {
			lg.Warn("leave on disconnect failed", slog.String("err", err.Error()))
		}

		_ = client.Close()
	}

	return client, cleanup, nil
}

// handleMessages processes incoming messages until the connection drops.
func (s *Server) handleMessages(ctx context.Context, client *ws.Client) {
	for {
		msg, err := client.Receive()
		if err != nil {
			if errors.Is(err, ws.ErrInvalidMessage) {
				_ = client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

				continue
			}

			return
		}

		s.dispatch(ctx, client, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, client *ws.Client, msg ws.Message) {
	docID, userID := client.DocID(), client.UserID

	var (
		result any
		err    error
	)

	switch p := msg.Payload.(type) {
	case ws.EditPayload:
		result, err = s.engine.SubmitEdit(ctx, editRequest(docID, userID, p))
	case ws.CommentPayload:
		result, err = s.engine.AddComment(ctx, docID, userID, p.Position, p.Content)
	case ws.ReplyPayload:
		result, err = s.engine.ReplyToComment(ctx, docID, p.CommentID, userID, p.Content)
	case ws.ResolvePayload:
		err = s.engine.ResolveComment(ctx, docID, p.CommentID, userID)
	case ws.CursorPayload:
		result, err = s.engine.UpdateCursor(ctx, docID, userID, p.X, p.Y)
	default:
		if msg.Type == ws.MessageTypeSync {
			s.sendState(ctx, client)

			return
		}

		// Server-to-client messages - reject if received from client
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")

		return
	}

	if err != nil {
		s.sendError(client, err)

		return
	}

	_ = client.Send(ws.Message{
		Type:    ws.MessageTypeAck,
		Payload: ws.AckPayload{Request: msg.Type, Result: result},
	})
}

// sendState sends the full document state and active cursors.
func (s *Server) sendState(ctx context.Context, client *ws.Client) {
	doc, err := s.engine.GetDocument(ctx, client.DocID())
	if err != nil {
		s.sendError(client, err)

		return
	}

	cursors, err := s.engine.ActiveCursors(ctx, client.DocID())
	if err != nil {
		s.sendError(client, err)

		return
	}

	_ = client.Send(ws.Message{
		Type:    ws.MessageTypeState,
		Payload: ws.StatePayload{Document: doc, Cursors: cursors},
	})
}

func (s *Server) sendError(client *ws.Client, err error) {
	_, code, msg := toHTTP(err)
	_ = client.SendError(code, msg)
}
