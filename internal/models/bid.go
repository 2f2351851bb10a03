package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is one accepted offer against an auction. All fields are immutable
// once the bid is stored; AcceptedAt doubles as the tie-break key.
type Bid struct {
	ID         string          `json:"id"`
	AuctionID  string          `json:"auction_id"`
	BidderID   string          `json:"bidder_id"`
	Amount     decimal.Decimal `json:"amount"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// BidRequest is the incoming submit-bid payload. The bidder identity comes
// from the authenticated principal, not the body.
type BidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BidResponse is returned to the bidder after a placement attempt.
type BidResponse struct {
	Accepted    bool             `json:"accepted"`
	Reason      string           `json:"reason,omitempty"`
	Bid         *Bid             `json:"bid,omitempty"`
	CurrentBid  decimal.Decimal  `json:"current_bid"`
	MinRequired *decimal.Decimal `json:"min_required,omitempty"`
}
