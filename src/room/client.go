package room

import (
	"sync"
	"time"

	"github.com/amzoon/sync/src/types"
)

// MessageHandler routes one decoded client message.
type MessageHandler func(c *Client, msg types.ClientMessage)

// Client wraps one WebSocket connection of one user and manages message
// flow. The socket is not bound to a device: device identity arrives per
// message and is validated by the gateway.
type Client struct {
	ID     string
	UserID string

	conn        types.Conn
	Send        chan types.ServerMessage
	connectedAt time.Time
	mu          sync.Mutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new connection wrapper. sendBuf sizes the outbound
// queue; a full queue drops messages rather than stalling the broadcaster.
func NewClient(id, userID string, conn types.Conn, sendBuf int) *Client {
	return &Client{
		ID:          id,
		UserID:      userID,
		conn:        conn,
		Send:        make(chan types.ServerMessage, sendBuf),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ConnectedAt returns when the connection was established.
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// ReadPump reads messages from the socket and hands them to handler. It
// returns when the socket errors or closes; onClose runs before return so
// room cleanup is synchronous with disconnect.
func (c *Client) ReadPump(handler MessageHandler, onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	for {
		var msg types.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		handler(c, msg)
	}
}

// WritePump writes messages from the send channel to the socket.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue attempts a non-blocking handoff to the write pump. Returns false
// if the client is closed or its buffer is full.
func (c *Client) enqueue(msg types.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// Close signals the client to stop its pumps. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}
