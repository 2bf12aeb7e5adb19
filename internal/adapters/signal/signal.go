package signal

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

const (
	writeWait    = 5 * time.Second
	sendCapacity = 64
)

// wsConn is one websocket connection; a Client replaces it on reconnect.
type wsConn struct {
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}

	pingPeriod time.Duration
	pongWait   time.Duration

	// explicit is set when the client, not the network, ends the connection.
	// The write pump then drains pending frames before the close frame.
	explicit atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn, pingPeriod, pongWait time.Duration) *wsConn {
	return &wsConn{
		conn:       conn,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		send:       make(chan []byte, sendCapacity),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *wsConn) Close() {
	c.stop()
	if c.explicit.Load() {
		select {
		case <-c.writerDone:
		case <-time.After(writeWait):
		}
	}
	_ = c.conn.Close()
}
