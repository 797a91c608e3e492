package ws_test

import (
	"errors"
	"testing"
	"time"

	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/ws"
	"github.com/stretchr/testify/require"
)

func TestClient_Send(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := startClient(t, "c1", testDocID, conn, 0)

	err := client.Send(ws.Message{
		Type:    ws.MessageTypeAck,
		Payload: ws.AckPayload{Request: ws.MessageTypeEdit},
	})
	require.NoError(t, err)

	messages := waitForMessages(t, conn, 1)

	if messages[0].Type != ws.MessageTypeAck {
		t.Errorf("expected ack type, got %s", messages[0].Type)
	}
}

func TestClient_SendError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := startClient(t, "c1", testDocID, conn, 0)

	require.NoError(t, client.SendError(ws.ErrorCodeNotFound, "document not found"))

	messages := waitForMessages(t, conn, 1)

	if messages[0].Type != ws.MessageTypeError {
		t.Errorf("expected error type, got %s", messages[0].Type)
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", testDocID, conn, 0)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	if !conn.IsClosed() {
		t.Error("expected connection to be closed")
	}

	err := client.Send(ws.Message{Type: ws.MessageTypeState})
	if !errors.Is(err, ws.ErrClientClosed) {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestClient_QueueFull(t *testing.T) {
	t.Parallel()

	client := ws.NewClient("c1", "user1", testDocID, newMockConn(), 1)

	require.NoError(t, client.Send(ws.Message{Type: ws.MessageTypeState}))

	err := client.Send(ws.Message{Type: ws.MessageTypeState})
	if !errors.Is(err, ws.ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestClient_WriteFailureClosesClient(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	conn.failOn = 1

	client := startClient(t, "c1", testDocID, conn, 0)
	require.NoError(t, client.Send(ws.Message{Type: ws.MessageTypeState}))

	require.Eventually(t, conn.IsClosed, time.Second, 5*time.Millisecond)
}

func TestClient_Receive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, msg ws.Message)
	}{
		{
			name: "edit",
			raw:  `{"type":"edit","payload":{"operation":"replace","position":2,"length":3,"content":"ab","baseVersion":4}}`,
			check: func(t *testing.T, msg ws.Message) {
				t.Helper()

				p, ok := msg.Payload.(ws.EditPayload)
				require.True(t, ok)

				if p.Operation != ot.Replace || p.Position != 2 || p.Length != 3 || p.Content != "ab" {
					t.Errorf("unexpected edit payload: %+v", p)
				}

				require.NotNil(t, p.BaseVersion)
				require.Equal(t, 4, *p.BaseVersion)
			},
		},
		{
			name: "edit without base version",
			raw:  `{"type":"edit","payload":{"operation":"insert","position":0,"content":"x"}}`,
			check: func(t *testing.T, msg ws.Message) {
				t.Helper()

				p, ok := msg.Payload.(ws.EditPayload)
				require.True(t, ok)
				require.Nil(t, p.BaseVersion)
			},
		},
		{
			name: "reply",
			raw:  `{"type":"reply","payload":{"commentId":"c-1","content":"agreed"}}`,
			check: func(t *testing.T, msg ws.Message) {
				t.Helper()

				p, ok := msg.Payload.(ws.ReplyPayload)
				require.True(t, ok)
				require.Equal(t, ws.ReplyPayload{CommentID: "c-1", Content: "agreed"}, p)
			},
		},
		{
			name: "cursor",
			raw:  `{"type":"cursor","payload":{"x":1.5,"y":2}}`,
			check: func(t *testing.T, msg ws.Message) {
				t.Helper()

				p, ok := msg.Payload.(ws.CursorPayload)
				require.True(t, ok)
				require.Equal(t, ws.CursorPayload{X: 1.5, Y: 2}, p)
			},
		},
		{
			name: "sync",
			raw:  `{"type":"sync"}`,
			check: func(t *testing.T, msg ws.Message) {
				t.Helper()

				require.Equal(t, ws.MessageTypeSync, msg.Type)
				require.Nil(t, msg.Payload)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conn := newMockConn()
			conn.incoming <- tt.raw

			msg, err := ws.NewClient("c1", "user1", testDocID, conn, 0).Receive()
			require.NoError(t, err)

			tt.check(t, msg)
		})
	}
}

func TestClient_ReceiveInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"type":"teleport"}`,
		`{"type":"edit","payload":{"position":"three"}}`,
	} {
		conn := newMockConn()
		conn.incoming <- raw

		_, err := ws.NewClient("c1", "user1", testDocID, conn, 0).Receive()
		if !errors.Is(err, ws.ErrInvalidMessage) {
			t.Errorf("%s: expected ErrInvalidMessage, got %v", raw, err)
		}
	}
}
