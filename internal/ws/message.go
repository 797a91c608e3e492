package ws

import (
	"time"

	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypeEdit    MessageType = "edit"    // Client submits an edit
	MessageTypeComment MessageType = "comment" // Client opens a comment thread
	MessageTypeReply   MessageType = "reply"   // Client replies to a comment
	MessageTypeResolve MessageType = "resolve" // Client resolves a comment
	MessageTypeCursor  MessageType = "cursor"  // Client moves its cursor
	MessageTypeSync    MessageType = "sync"    // Client requests current state

	// Server to Client messages.
	MessageTypeAck   MessageType = "ack"   // Server confirms a request
	MessageTypeEvent MessageType = "event" // Server pushes a document event
	MessageTypeState MessageType = "state" // Server sends full document state
	MessageTypeError MessageType = "error" // Server reports an error
)

// Message is the envelope for all WebSocket communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// EditPayload is sent when a client submits an edit.
type EditPayload struct {
	Operation   ot.OpType `json:"operation"`
	Position    int       `json:"position"`
	Content     string    `json:"content,omitempty"`
	Length      int       `json:"length,omitempty"`
	BaseVersion *int      `json:"baseVersion,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// CommentPayload opens a comment thread.
type CommentPayload struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
}

// ReplyPayload answers a comment.
type ReplyPayload struct {
	CommentID string `json:"commentId"`
	Content   string `json:"content"`
}

// ResolvePayload resolves a comment.
type ResolvePayload struct {
	CommentID string `json:"commentId"`
}

// CursorPayload reports a cursor position.
type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AckPayload confirms a request. Result holds the applied change, the new
// comment or the cursor, depending on the request.
type AckPayload struct {
	Request MessageType `json:"request"`
	Result  any         `json:"result,omitempty"`
}

// EventPayload forwards a bus event.
type EventPayload struct {
	Kind  bus.Kind  `json:"kind"`
	Event bus.Event `json:"event"`
}

// StatePayload sends the full document state.
type StatePayload struct {
	Document document.Snapshot         `json:"document"`
	Cursors  []document.CursorPosition `json:"cursors"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeNotFound         = "not_found"
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeInvalidOperation = "invalid_operation"
	ErrorCodeInternalError    = "internal_error"
)
