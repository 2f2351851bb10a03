package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types carried on the auction event channels. One subject per
// auction; consumers switch on Type.
const (
	EventBidAccepted    = "bid_accepted"
	EventAuctionClosed  = "auction_closed"
	EventAuctionExpired = "auction_expired" // closed without bids
)

// BidEvent is published after a bid commits.
type BidEvent struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AuctionID   string          `json:"auction_id"`
	BidID       string          `json:"bid_id"`
	BidderID    string          `json:"bidder_id"`
	Amount      decimal.Decimal `json:"amount"`
	PreviousBid decimal.Decimal `json:"previous_bid"`
	AcceptedAt  time.Time       `json:"accepted_at"`
}

// SettlementEvent is published after an auction's closure commits. For a
// failed settlement it is the operator-visible alert the audit trail keeps.
type SettlementEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id"`
	ItemID    string          `json:"item_id"`
	Outcome   SettlementState `json:"outcome"`
	WinnerID  string          `json:"winner_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"order_id,omitempty"`
	ClosedAt  time.Time       `json:"closed_at"`
}
