package listener

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is one established delivery connection. Read returns a single frame
// payload and must honor context cancellation so Stop stays prompt while
// blocked on the network.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes a Conn. Injected so tests can substitute a scripted
// connection for the real WebSocket.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebsocket is the production dialer.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	// Frame type is irrelevant: the provider sends single-byte binary
	// control frames, but some proxies rewrite them as text.
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
