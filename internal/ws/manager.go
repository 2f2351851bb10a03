// Package ws pushes committed auction events to WebSocket watchers. Events
// arrive over the Redis pub/sub channel the fan-out publishes on, so every
// replica's watchers see every event regardless of which replica accepted
// the bid.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub tracks which clients watch which auction and fans payloads out to
// them. One goroutine owns the subscriber maps via the channel loop.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage

	log zerolog.Logger
}

type broadcastMessage struct {
	auctionID string
	payload   []byte
}

// Client is one WebSocket watcher of one auction.
type Client struct {
	id        string
	auctionID string
	conn      *websocket.Conn
	send      chan []byte
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan broadcastMessage, 256),
		log:         log,
	}
}

// Run processes registrations and broadcasts until the channel loop is
// abandoned. Run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToAuction(msg.auctionID, msg.payload)
		}
	}
}

// Broadcast queues a payload for every client watching the auction.
func (h *Hub) Broadcast(auctionID string, payload []byte) {
	h.broadcast <- broadcastMessage{auctionID: auctionID, payload: payload}
}

// SubscriberCount returns how many clients watch an auction.
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[auctionID])
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	set, ok := h.subscribers[c.auctionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.subscribers[c.auctionID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("client_id", c.id).Str("auction_id", c.auctionID).Msg("watcher subscribed")
	go c.writePump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if set, ok := h.subscribers[c.auctionID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.subscribers, c.auctionID)
		}
	}
	h.mu.Unlock()

	c.conn.Close()
	h.log.Debug().Str("client_id", c.id).Str("auction_id", c.auctionID).Msg("watcher unsubscribed")
}

func (h *Hub) broadcastToAuction(auctionID string, payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.subscribers[auctionID]))
	for c := range h.subscribers[auctionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			// A full send buffer means a stalled client; drop it rather than
			// letting it block everyone else watching the auction.
			go func(c *Client) { h.unregister <- c }(c)
		}
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// writePump pumps queued payloads to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// readPump drains client frames so pongs are processed and disconnects are
// noticed.
func (c *Client) readPump(unregister chan<- *Client) {
	defer func() {
		unregister <- c
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
