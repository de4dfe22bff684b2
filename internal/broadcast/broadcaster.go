// Package broadcast fans outbound envelopes out to connected browser
// clients over gorilla/websocket. Each client gets its own writer
// goroutine and bounded outbound queue so one slow client never stalls
// the others or the ingest path.
package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sady37/startline-relay/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DefaultClientQueueSize is the suggested per-client bounded queue depth.
const DefaultClientQueueSize = 64

const writeTimeout = 10 * time.Second

// Client is one connected browser's outbound link. The broadcaster owns
// the client set; the client itself owns its own queue and connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	queue  *outboundQueue
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// ID returns the client's connection id, used in logs and diagnostics.
func (c *Client) ID() string { return c.id }

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case <-c.queue.wake:
		}

		for {
			env, ok := c.queue.pop()
			if !ok {
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("client write failed, disconnecting", zap.String("client", c.id), zap.Error(err))
				c.close()
				return
			}
		}
	}
}

// readPump drains (and discards) client-initiated frames so gorilla's
// control-frame handling (ping/pong/close) keeps running, and detects
// disconnection.
func (c *Client) readPump(onClose func()) {
	defer onClose()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Broadcaster maintains the connected-client set and fans envelopes out
// to each client's queue.
type Broadcaster struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	queueSize int
	logger    *zap.Logger
}

// New returns an empty Broadcaster.
func New(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		queueSize: DefaultClientQueueSize,
		logger:    logger,
	}
}

// Register accepts ownership of conn, starts its reader/writer
// goroutines, and adds it to the broadcast set.
func (b *Broadcaster) Register(conn *websocket.Conn) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		queue:  newOutboundQueue(b.queueSize),
		logger: b.logger,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("client connected", zap.String("client", c.id), zap.Int("total_clients", count))

	go c.writePump()
	go c.readPump(func() { b.Unregister(c) })

	return c
}

// Unregister removes a client from the set and closes its connection.
// Idempotent.
func (b *Broadcaster) Unregister(c *Client) {
	b.mu.Lock()
	_, present := b.clients[c.id]
	delete(b.clients, c.id)
	count := len(b.clients)
	b.mu.Unlock()

	if !present {
		return
	}
	c.close()
	b.logger.Info("client disconnected", zap.String("client", c.id), zap.Int("total_clients", count))
}

// Broadcast enqueues env to every connected client, applying each
// client's own backpressure policy. Clients that exceed their overflow
// grace period are disconnected.
func (b *Broadcaster) Broadcast(env wire.Envelope) {
	now := time.Now()

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if c.queue.push(env, now) {
			b.logger.Warn("client exceeded overflow grace period, disconnecting",
				zap.String("client", c.id), zap.String("message_type", string(env.Type)))
			b.Unregister(c)
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and
// registers the resulting client. CORS, auth, and TLS termination are
// out of scope here, so CheckOrigin always accepts; a front proxy is
// expected to gate access.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	b.Register(conn)
}

// ClientCount returns the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// CloseAll disconnects every connected client, as part of the relay's
// shutdown sequence.
func (b *Broadcaster) CloseAll() {
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		b.Unregister(c)
	}
}
