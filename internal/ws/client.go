package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// DefaultQueueSize is the outbound buffer of a client.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned when a client does not drain its messages
	// fast enough.
	ErrQueueFull = errors.New("client send queue is full")

	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Client represents a connected user bound to one document. Outbound
// messages go through a buffered queue drained by a single writer, so they
// reach the connection in the order they were sent.
type Client struct {
	ID     string
	UserID string
	docID  string
	conn   Conn

	mu     sync.Mutex
	queue  chan Message
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewClient creates a new client wrapper. A non-positive queue size uses
// DefaultQueueSize.
func NewClient(id, userID, docID string, conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Client{
		ID:     id,
		UserID: userID,
		docID:  docID,
		conn:   conn,
		queue:  make(chan Message, queueSize),
		done:   make(chan struct{}),
	}
}

// DocID returns the document the client is attached to.
func (c *Client) DocID() string {
	return c.docID
}

// Send queues a message without blocking.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendError queues an error message.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// WritePump writes queued messages to the connection until the client is
// closed or a write fails. It must run in exactly one goroutine.
func (c *Client) WritePump() {
	for {
		select {
		case msg := <-c.queue:
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()

				return
			}
		case <-c.done:
			return
		}
	}
}

// Receive reads a message from the client and decodes its payload.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		return Message{}, err
	}

	msg := Message{Type: raw.Type}

	var err error

	switch raw.Type {
	case MessageTypeEdit:
		msg.Payload, err = decode[EditPayload](raw.Payload)
	case MessageTypeComment:
		msg.Payload, err = decode[CommentPayload](raw.Payload)
	case MessageTypeReply:
		msg.Payload, err = decode[ReplyPayload](raw.Payload)
	case MessageTypeResolve:
		msg.Payload, err = decode[ResolvePayload](raw.Payload)
	case MessageTypeCursor:
		msg.Payload, err = decode[CursorPayload](raw.Payload)
	case MessageTypeSync:
		// Sync carries no payload.
	case MessageTypeAck, MessageTypeEvent, MessageTypeState, MessageTypeError:
		// Server-to-client messages - keep raw payload
		msg.Payload = raw.Payload
	default:
		err = fmt.Errorf("unknown message type %q", raw.Type)
	}

	if err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	return msg, nil
}

// ErrInvalidMessage wraps payloads that could not be decoded. The
// connection is still usable after it.
var ErrInvalidMessage = errors.New("invalid message")

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}

	err := json.Unmarshal(data, &v)

	return v, err
}

// Close stops the writer and closes the connection. It is safe to call more
// than once.
func (c *Client) Close() error {
	var err error

	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})

	return err
}
