package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roadside/internal/domain"
	"roadside/internal/throttle"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 10
	sendQueueSize  = 64

	locationInterval = 2 * time.Second
	chatBurst        = 5
	chatWindow       = 5 * time.Second
)

// Client is one authenticated websocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal domain.Principal
	logger    *zap.Logger

	send chan []byte
	done chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	// Throttles are driven by the read goroutine.
	location *rate.Limiter
	chat     *throttle.Window
}

func newClient(hub *Hub, conn *websocket.Conn, p domain.Principal) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:       hub,
		conn:      conn,
		principal: p,
		logger:    hub.logger.With(zap.String("principal_id", p.ID), zap.String("role", string(p.Role))),
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]struct{}),
		location:  rate.NewLimiter(rate.Every(locationInterval), 1),
		chat:      throttle.PerWindow(chatBurst, chatWindow),
	}
}

// Principal returns the identity pinned at the handshake.
func (c *Client) Principal() domain.Principal {
	return c.principal
}

// allowMessage applies the per-chat message budget of this connection.
func (c *Client) allowMessage(chatID string) bool {
	return c.chat.Allow(chatID)
}

// enqueue queues frame without blocking. It reports false when the queue
// is full.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the pumps and drops room membership. Queued frames are lost.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		c.cancel()
		close(c.done)
	})
}

// writePump owns every write to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// readPump reads frames and handles them one at a time, so a client's
// events are processed in the order it sent them.
func (c *Client) readPump(handle func(*Client, []byte)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection dropped", zap.Error(err))
			}
			return
		}
		handle(c, data)
	}
}
