package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// staleAfter and heartbeatEvery implement the fan-out heartbeat: every
// 30s the hub pings every channel; any channel whose last_seen is older
// than 60s is closed instead.
const (
	heartbeatEvery = 30 * time.Second
	staleAfter     = 60 * time.Second
)

// channel is one open (vault, device) fan-out session.
type channel struct {
	vault    string
	deviceID string
	conn     *websocket.Conn

	writeMu sync.Mutex // serializes concurrent writes to conn, gorilla's one hard requirement

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

func newChannel(vault, deviceID string, conn *websocket.Conn) *channel {
	return &channel{vault: vault, deviceID: deviceID, conn: conn, lastSeen: time.Now()}
}

func (c *channel) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *channel) staleSince(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen) > staleAfter
}

func (c *channel) send(msg Message) error {
	data, err := msg.encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *channel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}
