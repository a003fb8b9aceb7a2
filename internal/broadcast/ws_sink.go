package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single WS write; notes live-subscriber
// sends have no per-call timeout at the broadcaster level, but the
// transport itself still needs one to detect a half-closed socket.
const writeTimeout = 5 * time.Second

// WSSink adapts a gorilla/websocket connection to the Sink interface.
type WSSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSSink wraps an already-upgraded WebSocket connection.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

// Send writes one text message, reporting false on any write error or if
// the sink was already closed.
func (w *WSSink) Send(data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}

// Close closes the underlying connection exactly once.
func (w *WSSink) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.Close()
}
