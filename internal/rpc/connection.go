package rpc

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// newConnID returns a random 16-byte hex string used as the
// connection-registry key. crypto/rand is already what internal/auth
// reaches for when it needs random bytes (the Argon2id salt), so the same
// source serves here instead of a UUID library.
func newConnID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing means the system RNG is broken
	}
	return hex.EncodeToString(b)
}

// Connection is one registered WebSocket client. Every inbound request is
// dispatched onto its own goroutine; all of them share this connection's
// single writer, guarded by writeMu.
type Connection struct {
	ID string

	ws      *websocket.Conn
	writeMu sync.Mutex

	// subscribedLogs gates whether this connection receives broadcast
	// log events in addition to its own directed responses.
	mu             sync.Mutex
	subscribedLogs bool

	// closed is closed once the connection's read loop exits (socket
	// closed by the client or a write failure). In-flight handlers
	// observe writes failing after this point as a hint to stop emitting
	// progress, not a hard cancellation: they keep running to completion
	// so the store reflects everything they actually created.
	closed chan struct{}
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     newConnID(),
		ws:     ws,
		closed: make(chan struct{}),
	}
}

// writeJSON serializes v and writes it as a single text frame. Safe for
// concurrent use; callers must tolerate an error return after the
// connection has closed.
func (c *Connection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *Connection) setSubscribedLogs(v bool) {
	c.mu.Lock()
	c.subscribedLogs = v
	c.mu.Unlock()
}

func (c *Connection) wantsLogs() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedLogs
}

// markClosed signals in-flight handlers that writes will no longer
// reach the client. Idempotent.
func (c *Connection) markClosed() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)
