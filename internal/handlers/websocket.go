package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/signal-relay/config"
	"github.com/mossy-p/signal-relay/internal/signaling"
)

var (
	errClientClosed   = errors.New("client connection closed")
	errSendBufferFull = errors.New("client send buffer full")
)

// Client represents a WebSocket client connection. It implements rooms.Conn.
type Client struct {
	id   string
	conn *websocket.Conn

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues data for the write pump without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// SignalingHandler upgrades requests to websockets and pumps frames between
// each connection and the coordinator.
type SignalingHandler struct {
	coordinator *signaling.Coordinator
	log         *slog.Logger
	upgrader    websocket.Upgrader

	clients sync.Map // id -> *Client
	pumps   sync.WaitGroup

	sendBuffer      int
	maxMessageBytes int64
	pongWait        time.Duration
	pingPeriod      time.Duration
	writeWait       time.Duration
}

func NewSignalingHandler(coordinator *signaling.Coordinator, cfg *config.Config, log *slog.Logger) *SignalingHandler {
	return &SignalingHandler{
		coordinator: coordinator,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
		sendBuffer:      cfg.SendBuffer,
		maxMessageBytes: cfg.MaxMessageBytes,
		pongWait:        cfg.PongWait,
		pingPeriod:      cfg.PingPeriod,
		writeWait:       cfg.WriteWait,
	}
}

// Handle handles WebSocket connections for WebRTC signaling
func (h *SignalingHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(conn, h.sendBuffer)
	h.clients.Store(client.id, client)
	h.coordinator.Connect(client)

	h.pumps.Add(1)
	go h.writePump(client)
	go h.readPump(client)
}

// Shutdown closes every live connection with a going-away frame and waits
// until each one has been through Disconnect, or until ctx expires.
// Call it after the HTTP server stopped accepting upgrades.
func (h *SignalingHandler) Shutdown(ctx context.Context) error {
	closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	deadline := time.Now().Add(h.writeWait)
	h.clients.Range(func(_, v any) bool {
		client := v.(*Client)
		_ = client.conn.WriteControl(websocket.CloseMessage, closing, deadline)
		_ = client.conn.Close()
		return true
	})

	drained := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SignalingHandler) readPump(client *Client) {
	defer func() {
		h.coordinator.Disconnect(client)
		client.close()
		client.conn.Close()
		h.clients.Delete(client.id)
		h.pumps.Done()
	}()

	client.conn.SetReadLimit(h.maxMessageBytes)
	client.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", "conn", client.id, "error", err)
			}
			return
		}

		if err := h.coordinator.HandleMessage(client, message); err != nil {
			h.log.Debug("rejected message", "conn", client.id, "error", err)
		}
	}
}

func (h *SignalingHandler) writePump(client *Client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debug("failed to write message", "conn", client.id, "error", err)
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
