package gateway

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/planforge/backend/pkg/logger"
)

const (
	defaultWriteWait = 10 * time.Second

	// defaultKeepalive paces the application-level ping frames that keep
	// intermediaries from closing an idle connection.
	defaultKeepalive = 30 * time.Second

	defaultSendBuffer = 64
)

// keepalivePayload is a text frame, not a websocket ping, so browser
// clients can observe it.
var keepalivePayload = []byte(`{"ping": "ping"}`)

// ClientOptions tunes a connection. Zero values take the defaults.
type ClientOptions struct {
	SendBuffer int
	Keepalive  time.Duration
	WriteWait  time.Duration
}

// Client is one websocket connection belonging to one user.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	userID    uint
	send      chan []byte
	done      chan struct{}
	keepalive time.Duration
	writeWait time.Duration
}

// NewClient wraps an upgraded connection and registers it with the hub.
func NewClient(hub *Hub, conn *websocket.Conn, userID uint, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = defaultKeepalive
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	c := &Client{
		hub:       hub,
		conn:      conn,
		userID:    userID,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		keepalive: opts.Keepalive,
		writeWait: opts.WriteWait,
	}
	hub.Register(c)
	return c
}

// Run starts the write and read pumps and blocks until the connection
// drops. Teardown order matters: the keepalive ticker stops first, then
// the hub forgets the client, then the socket closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound frames until the peer goes away. Inbound
// payloads are ignored; the channel is push-only.
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[Gateway] Read error for user %d: %v", c.userID, err)
			}
			return
		}
	}
}

// writePump drains the send channel and emits a keepalive frame after every
// keepalive interval of idleness.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.keepalive)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, keepalivePayload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
