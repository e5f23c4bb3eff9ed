package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxFrameSize     = 64 << 10
	defaultWriteWait = 10 * time.Second
	closeControlWait = time.Second
)

// WSConn adapts a gorilla connection to Conn.  Writes are serialised; a
// single goroutine may read.
type WSConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	ws.SetReadLimit(maxFrameSize)
	return &WSConn{ws: ws}
}

// Send writes one text frame, honouring the ctx deadline.
func (w *WSConn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.ws.SetWriteDeadline(deadline)
	return w.ws.WriteMessage(websocket.TextMessage, data)
}

// Read returns the next text or binary frame.  Control frames are handled
// by gorilla.
func (w *WSConn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, data, err := w.ws.ReadMessage()
	return data, err
}

// Close sends a normal-closure frame and closes the socket.  Safe to call
// more than once.
func (w *WSConn) Close() error {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeControlWait))
		w.writeMu.Unlock()
		w.closeErr = w.ws.Close()
	})
	return w.closeErr
}
