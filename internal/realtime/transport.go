package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Transport is a single live socket to the server. Exactly one transport is
// ever live per Conn; the state guard in Connect enforces that.
type Transport interface {
	// WriteMessage sends one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// ReadMessage blocks until the next text frame arrives. When the peer
	// closes the connection with a WebSocket close frame, it returns a
	// *CloseError carrying the close code.
	ReadMessage() ([]byte, error)

	// Close sends a normal-closure close frame and closes the socket.
	Close() error
}

// CloseError reports that the peer closed the connection. Code 1000 (normal
// closure) is treated as deliberate and does not trigger auto-reconnect.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("realtime: connection closed code=%d reason=%q", e.Code, e.Reason)
}

// Dialer opens a transport to the given WebSocket URL. Tests substitute a
// fake; production uses DialWebSocket.
type Dialer func(ctx context.Context, url string) (Transport, error)

// DialWebSocket opens a gobwas/ws client connection and wraps it as a
// Transport.
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport is the production transport over a gobwas/ws client socket.
// The write mutex serializes outbound frames so that heartbeat pings and
// application messages never interleave.
type wsTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	data, err := wsutil.ReadServerText(t.conn)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, &CloseError{Code: int(closed.Code), Reason: closed.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	// Best effort: tell the server this closure is deliberate.
	_ = ws.WriteFrame(t.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	t.writeMu.Unlock()
	return t.conn.Close()
}
