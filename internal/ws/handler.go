package ws

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/LC208/rare-book/internal/cache"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades watchers onto the hub. The high-bid cache gives new
// watchers and the stats endpoint the current standings without a database
// round trip; the feed path only ever talks to Redis.
type Handler struct {
	hub      *Hub
	highBids *cache.Client
}

// NewHandler creates a WebSocket handler over the hub. highBids may be nil,
// in which case welcome messages and stats omit the current bid.
func NewHandler(hub *Hub, highBids *cache.Client) *Handler {
	return &Handler{hub: hub, highBids: highBids}
}

// Register attaches the live-feed routes to the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/ws/auctions/{id}", h.HandleWebSocket)
	router.HandleFunc("/ws/auctions/{id}/stats", h.GetStats).Methods("GET")
}

type welcomeMessage struct {
	Type          string           `json:"type"`
	AuctionID     string           `json:"auction_id"`
	ClientID      string           `json:"client_id"`
	CurrentBid    *decimal.Decimal `json:"current_bid,omitempty"`
	HighestBidder string           `json:"highest_bidder,omitempty"`
}

// HandleWebSocket upgrades the connection and subscribes it to one
// auction's events.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if auctionID == "" {
		http.Error(w, "Auction ID is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:        uuid.NewString(),
		auctionID: auctionID,
		conn:      conn,
		send:      make(chan []byte, 256),
	}

	// Queue the welcome before handing the client to the hub or starting the
	// read pump: once either runs, a disconnect can close the send channel.
	welcome := welcomeMessage{
		Type:      "connected",
		AuctionID: auctionID,
		ClientID:  client.id,
	}
	if h.highBids != nil {
		if amount, bidder, err := h.highBids.GetHighBid(r.Context(), auctionID); err == nil && bidder != "" {
			welcome.CurrentBid = &amount
			welcome.HighestBidder = bidder
		}
	}
	if payload, err := json.Marshal(welcome); err == nil {
		client.send <- payload
	}

	h.hub.register <- client
	go client.readPump(h.hub.unregister)
}

type statsResponse struct {
	AuctionID     string           `json:"auction_id"`
	Watchers      int              `json:"watchers"`
	CurrentBid    *decimal.Decimal `json:"current_bid,omitempty"`
	HighestBidder string           `json:"highest_bidder,omitempty"`
}

// GetStats reports how many watchers an auction has and, when the cache is
// configured, the current standings.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	stats := statsResponse{
		AuctionID: auctionID,
		Watchers:  h.hub.SubscriberCount(auctionID),
	}
	if h.highBids != nil {
		if amount, bidder, err := h.highBids.GetHighBid(r.Context(), auctionID); err == nil && bidder != "" {
			stats.CurrentBid = &amount
			stats.HighestBidder = bidder
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
