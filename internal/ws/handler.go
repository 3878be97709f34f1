package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/server"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

// Path is where the fleet event stream is served.
const Path = "/api/v1/ws/fleet"

var _ server.RouteRegistrar = (*Handler)(nil)

// Handler serves the fleet event stream.
type Handler struct {
	hub     *Hub
	origins []string
	logger  *zap.Logger
	unsub   func()
}

// Options configures a Handler.
type Options struct {
	MaxClients int
	// Origins lists host patterns allowed to connect cross-origin, in
	// websocket.AcceptOptions.OriginPatterns form. Same-origin is always
	// allowed.
	Origins []string
}

// NewHandler creates a handler and subscribes it to every fleet event on bus.
func NewHandler(bus plugin.EventBus, opts Options, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:     NewHub(opts.MaxClients, logger),
		origins: opts.Origins,
		logger:  logger,
	}
	if bus != nil {
		h.unsub = bus.SubscribeAll(h.forward)
	}
	return h
}

// RegisterRoutes implements server.RouteRegistrar.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Path, h.handleFleetStream)
}

// Hub exposes the client hub.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// Close stops forwarding bus events.
func (h *Handler) Close() {
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
}

func (h *Handler) forward(_ context.Context, e plugin.Event) {
	if msg, ok := FromEvent(e); ok {
		h.hub.Broadcast(msg)
	}
}

func (h *Handler) handleFleetStream(w http.ResponseWriter, r *http.Request) {
	client := &Client{
		id:     uuid.NewString(),
		send:   make(chan Message, sendBuffer),
		logger: h.logger,
	}
	if err := h.hub.Register(client); err != nil {
		w.Header().Set("Retry-After", "30")
		server.WriteProblem(w, server.Problem{
			Type:   server.ProblemBase + "too-many-clients",
			Title:  http.StatusText(http.StatusServiceUnavailable),
			Status: http.StatusServiceUnavailable,
			Detail: err.Error(),
		})
		return
	}
	defer h.hub.Unregister(client)

	// The stream outlives the server's read and write timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	client.conn = conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.writePump(ctx)
		cancel()
	}()

	client.readPump(ctx)
	cancel()
	<-done
	conn.Close(websocket.StatusNormalClosure, "")
}
