package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleState tracks where an auction is in its lifetime. Transitions are
// monotonic: scheduled -> active -> closed, with cancelled reachable from
// scheduled or active. Closed and cancelled are terminal.
type LifecycleState string

const (
	StateScheduled LifecycleState = "scheduled"
	StateActive    LifecycleState = "active"
	StateClosed    LifecycleState = "closed"
	StateCancelled LifecycleState = "cancelled"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s LifecycleState) Terminal() bool {
	return s == StateClosed || s == StateCancelled
}

// SettlementState records the outcome of converting a closed auction into a
// sale. It stays pending until the auction leaves the active state.
type SettlementState string

const (
	// SettlementPending: auction not yet closed, or closure not yet committed.
	SettlementPending SettlementState = "pending"
	// SettlementNoWinner: the auction expired without a single accepted bid.
	SettlementNoWinner SettlementState = "no_winner"
	// SettlementSettled: an order exists for the winning bidder.
	SettlementSettled SettlementState = "settled"
	// SettlementFailed: the item was sold through another channel before the
	// auction expired. Needs operator attention; never retried automatically.
	SettlementFailed SettlementState = "failed"
)

// Auction is one catalog item offered for timed competitive sale.
// CurrentBid and HighestBidderID are a denormalized cache of the bid ledger,
// maintained transactionally on every accepted append.
type Auction struct {
	ID              string          `json:"id"`
	ItemID          string          `json:"item_id"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	State           LifecycleState  `json:"state"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	Settlement      SettlementState `json:"settlement"`
	OrderID         string          `json:"order_id,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasBids reports whether at least one bid has been accepted.
func (a *Auction) HasBids() bool {
	return a.HighestBidderID != ""
}

// MinimumBid is the smallest acceptable next bid: the starting price while
// the ledger is empty, current high plus the increment afterwards.
func (a *Auction) MinimumBid() decimal.Decimal {
	if !a.HasBids() {
		return a.StartingPrice
	}
	return a.CurrentBid.Add(a.BidIncrement)
}

// InWindow reports whether now falls inside the bidding window.
func (a *Auction) InWindow(now time.Time) bool {
	return !now.Before(a.StartTime) && !now.After(a.EndTime)
}

// Clone returns a deep copy. Decimals and times are value types, so a
// shallow copy is sufficient.
func (a *Auction) Clone() *Auction {
	cp := *a
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}
