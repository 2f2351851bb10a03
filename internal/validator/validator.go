// Package validator holds the pure bid admission rule. It has no side
// effects and no storage dependency so the rule can be tested on its own and
// replayed against a stored ledger.
package validator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LC208/rare-book/internal/models"
)

// Reason identifies why a bid was not accepted.
type Reason string

const (
	// ReasonNotActive: the auction is not in the active state.
	ReasonNotActive Reason = "auction_not_active"
	// ReasonOutOfWindow: the auction is active but now is outside its window.
	ReasonOutOfWindow Reason = "out_of_window"
	// ReasonTooLow: the amount does not meet the minimum required bid.
	ReasonTooLow Reason = "bid_too_low"
	// ReasonConflict: the amount exactly ties the current high bid, meaning
	// it lost a race for the same improving slot and may be retried against
	// the fresh high bid.
	ReasonConflict Reason = "conflict"
)

// Rejection is a structured, bidder-visible refusal. It implements error so
// it can travel through the transaction boundary unchanged.
type Rejection struct {
	Reason      Reason
	MinRequired decimal.Decimal // set for bid_too_low
	CurrentBid  decimal.Decimal // set for conflict
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonTooLow:
		return fmt.Sprintf("bid too low, minimum required %s", r.MinRequired)
	case ReasonConflict:
		return fmt.Sprintf("bid conflicts with current high bid %s", r.CurrentBid)
	default:
		return string(r.Reason)
	}
}

// Validate decides whether a proposed amount is an acceptable next bid for
// the auction snapshot at time now. A nil return means accept.
//
// The minimum is the starting price while the ledger is empty and the
// current high plus the increment afterwards, so a replayed ledger is
// strictly improving relative to the rule in force at each append.
func Validate(a *models.Auction, amount decimal.Decimal, now time.Time) *Rejection {
	if a.State != models.StateActive {
		return &Rejection{Reason: ReasonNotActive}
	}
	if !a.InWindow(now) {
		return &Rejection{Reason: ReasonOutOfWindow}
	}

	min := a.MinimumBid()
	if amount.GreaterThanOrEqual(min) {
		return nil
	}

	// Below the minimum. An amount exactly matching the current high is the
	// signature of a lost race: two bidders computed the same minimum off
	// the same snapshot and one landed first. Signal that separately, with
	// the fresh high bid, so the caller knows a retry can succeed.
	if a.HasBids() && amount.Equal(a.CurrentBid) {
		return &Rejection{Reason: ReasonConflict, CurrentBid: a.CurrentBid, MinRequired: min}
	}
	return &Rejection{Reason: ReasonTooLow, MinRequired: min}
}
