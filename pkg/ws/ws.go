// Package ws implements the development live-reload channel on top of
// gorilla/websocket.
//
// Browsers open a socket on /__livereload; when a watched source changes
// the hub pushes {"type":"reload","path":"..."} to every client and the
// page script reloads.
//
//	hub := ws.NewHub()
//	go hub.Run(ctx)
//	r.Get("/__livereload", "livereload", hub.Handler())
//	hub.Reload("public/less/app.less")
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shashiranjanraj/appshell/pkg/logger"
	"github.com/shashiranjanraj/appshell/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message is the payload pushed to browsers.
type Message struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Client represents a single connected WebSocket client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump keeps the read deadline moving on pongs and unregisters the
// client once the connection drops. Clients never send anything useful.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("ws: unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub maintains all live-reload connections.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	count      atomic.Int64
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	started    chan struct{}
	done       chan struct{}
}

// NewHub creates a Hub. Call Run in a goroutine before serving Handler.
// The upgrader keeps gorilla's default same-origin check.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	close(h.started)
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			metrics.LiveReloadClients.Inc()
			logger.Debug("ws: client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				logger.Debug("ws: client disconnected", "total", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	metrics.LiveReloadClients.Dec()
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Reload tells every client to reload because path changed. It never
// blocks; when the queue is full the message is dropped, the clients are
// about to reload anyway.
func (h *Hub) Reload(path string) {
	data, _ := json.Marshal(Message{Type: "reload", Path: path})
	select {
	case h.broadcast <- data:
	default:
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int { return int(h.count.Load()) }

// Handler upgrades the request to a WebSocket and registers the client.
// Requests arriving before Run wait for it while the client stays
// connected.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-h.started:
		case <-r.Context().Done():
			return
		}
		select {
		case <-h.done:
			http.Error(w, "live reload stopped", http.StatusServiceUnavailable)
			return
		default:
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithCtx(r.Context()).Warn("ws: upgrade failed", "error", err)
			return
		}
		client := &Client{hub: h, conn: conn, send: make(chan []byte, 16)}

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	}
}
