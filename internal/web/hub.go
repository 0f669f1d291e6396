package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ShopScout/server/internal/engine"
	"ShopScout/server/internal/interfaces"
)

const (
	pingInterval  = 30 * time.Second
	pongWait      = 60 * time.Second
	writeWait     = 10 * time.Second
	maxMessageLen = 64 * 1024
)

// Client is one WebSocket chat connection. Messages to the peer go through
// Send; writePump is the only goroutine writing to the connection. ctx is
// cancelled when the connection closes, which aborts any in-flight turn.
type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *ChatHub
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func newClient(hub *ChatHub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:     newClientID(),
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Hub:    hub,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ChatHub tracks connected chat clients and routes their turns through the
// coordinator.
type ChatHub struct {
	coordinator *engine.Coordinator
	log         *zap.Logger

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewChatHub(coordinator *engine.Coordinator, log *zap.Logger) *ChatHub {
	return &ChatHub{
		coordinator: coordinator,
		log:         log,
		clients:     make(map[string]*Client),
		register:    make(chan *Client, 100),
		unregister:  make(chan *Client, 100),
	}
}

// Run starts the hub's event loop.
func (h *ChatHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *ChatHub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.log.Info("chat client connected",
		zap.String("client_id", client.ID), zap.Int("total", len(h.clients)))

	go client.writePump()
}

func (h *ChatHub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		h.log.Info("chat client disconnected",
			zap.String("client_id", client.ID), zap.Int("total", len(h.clients)))
	}
}

// ClientCount returns the number of connected clients.
func (h *ChatHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// runTurn streams one turn's events back to the client. Chunk and node
// events may be dropped when the client's send buffer is full; final, error
// and done events always go through so the peer sees the turn close.
func (h *ChatHub) runTurn(ctx context.Context, client *Client, req ChatRequest) {
	stream := h.coordinator.HandleTurn(ctx, engine.TurnRequest{
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Query:       req.Query,
		Attachments: req.Attachments,
		Shopping:    req.Shopping,
		Model:       req.Model,
	})

	for ev := range stream.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("event marshal failed", zap.Error(err))
			continue
		}
		if !client.deliver(data, mustDeliver(ev)) {
			// Client is gone. Drain so the coordinator can finish the turn.
			for range stream.Events() {
			}
			return
		}
	}
}

// mustDeliver reports whether the event closes the turn from the client's
// point of view and so must not be dropped.
func mustDeliver(ev interfaces.AgentEvent) bool {
	switch ev.Type {
	case interfaces.EventFinal, interfaces.EventError, interfaces.EventDone:
		return true
	}
	return false
}

// deliver queues data for the peer. When must is set the call blocks until
// the buffer has room or the client disconnects; otherwise a full buffer
// drops the message. Returns false once the client is gone.
func (c *Client) deliver(data []byte, must bool) bool {
	if must {
		select {
		case c.Send <- data:
			return true
		case <-c.ctx.Done():
			return false
		}
	}

	select {
	case c.Send <- data:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.Hub.log.Warn("client send buffer full, dropping event",
			zap.String("client_id", c.ID))
		return true
	}
}

// writePump pumps messages from Send to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump reads chat requests from the connection and runs them. Turns run
// in their own goroutine so a disconnect mid-turn is seen here and cancels
// the client context; the session lock serializes turns on the same session.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageLen)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("unexpected close",
					zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}

		var req ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("invalid request body")
			continue
		}
		if req.SessionID == "" || req.UserID == "" {
			c.sendError("session_id and user_id are required")
			continue
		}

		go c.Hub.runTurn(c.ctx, c, req)
	}
}

func (c *Client) sendError(message string) {
	data, err := json.Marshal(interfaces.ErrorEvent(message))
	if err != nil {
		return
	}
	c.deliver(data, true)
}

// Close cancels the client context and closes the underlying connection once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.Conn.Close()
}
