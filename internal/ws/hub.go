// Package ws fans document events out to WebSocket clients.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/pkg/log"
)

// Hub tracks connected clients per document. It implements bus.Observer:
// every event is forwarded to the clients attached to the event's document.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to set of client IDs
	documents map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		documents: make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub under its document.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	docID := client.DocID()
	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]struct{})
	}

	h.documents[docID][client.ID] = struct{}{}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	docID := client.DocID()
	if clients, ok := h.documents[docID]; ok {
		delete(clients, client.ID)

		if len(clients) == 0 {
			delete(h.documents, docID)
		}
	}

	delete(h.clients, client.ID)
}

// Notify forwards an event to the document's clients.
func (h *Hub) Notify(ctx context.Context, ev bus.Event) error {
	h.Broadcast(ctx, ev.EventMeta().DocumentID, Message{
		Type:    MessageTypeEvent,
		Payload: EventPayload{Kind: ev.Kind(), Event: ev},
	})

	return nil
}

// Broadcast queues a message for every client attached to a document.
// A client whose queue is full is disconnected rather than allowed to stall
// the others.
func (h *Hub) Broadcast(ctx context.Context, docID string, msg Message) {
	h.mu.RLock()

	var slow []*Client

	for clientID := range h.documents[docID] {
		client, ok := h.clients[clientID]
		if !ok {
			continue
		}

		if err := client.Send(msg); errors.Is(err, ErrQueueFull) {
			slow = append(slow, client)
		}
	}

	h.mu.RUnlock()

	for _, client := range slow {
		log.From(ctx).Warn("dropping slow websocket client",
			slog.String("client_id", client.ID),
			slog.String("user_id", client.UserID),
			slog.String("document_id", docID),
		)

		h.Unregister(client)
		_ = client.Close()
	}
}

// ClientCount returns the number of clients attached to a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.documents[docID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
