// Package ws streams fleet events to browsers over WebSocket.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrHubFull is returned by Register when the client limit is reached.
var ErrHubFull = errors.New("too many websocket clients")

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upkeep_ws_clients",
		Help: "Connected WebSocket clients.",
	})
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upkeep_ws_dropped_messages_total",
		Help: "Messages dropped because a client's send buffer was full.",
	})
)

// Client is one connected WebSocket peer.
type Client struct {
	conn   *websocket.Conn
	id     string
	send   chan Message
	logger *zap.Logger
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	maxClients int
	logger     *zap.Logger
}

// NewHub creates a hub. maxClients <= 0 means unlimited.
func NewHub(maxClients int, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		maxClients: maxClients,
		logger:     logger,
	}
}

// Register adds a client unless the hub is full.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		return ErrHubFull
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	connectedClients.Inc()
	h.logger.Debug("websocket client connected", zap.String("client_id", c.id))
	return nil
}

// Unregister removes a client and closes its send channel. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		connectedClients.Dec()
		h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
	}
}

// Broadcast queues msg for every client. Slow clients lose the message
// rather than block the publisher.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			droppedMessages.Inc()
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("client_id", c.id),
				zap.String("type", string(msg.Type)),
			)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump copies queued messages to the connection until the channel is
// closed or a write fails.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		}
	}
}

// readPump drains the connection to notice when the peer goes away.
// Clients never send anything meaningful.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
