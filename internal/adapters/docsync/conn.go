package docsync

import (
	"errors"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// WsSyncConn queues outgoing frames for the write pump. A full queue is
// reported instead of blocking the caller.
type WsSyncConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.FrameConnection = (*WsSyncConn)(nil)

func newConn(ws *websocket.Conn, buffer int) *WsSyncConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &WsSyncConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSyncConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSyncConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}
