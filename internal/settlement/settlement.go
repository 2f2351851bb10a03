// Package settlement converts a closing auction's winning bid into a sale.
package settlement

import (
	"errors"

	"github.com/LC208/rare-book/internal/catalog"
	"github.com/LC208/rare-book/internal/models"
)

// Result is the outcome of settling one auction.
type Result struct {
	Outcome models.SettlementState
	OrderID string
}

// Settle runs the settlement steps for an auction that is being closed:
// reserve one unit of the item, create the order for the winning bidder at
// the winning amount, decrement the sellable quantity. The gateway is the
// same transaction that will commit the state flip, so either everything
// lands or nothing does.
//
// A missing or sold-out item is a business outcome (SettlementFailed), not
// an error: the auction still closes and the condition is surfaced for
// operators. Any other gateway failure is returned as an error, which rolls
// the whole transition back for the next sweep to retry.
func Settle(a *models.Auction, gw catalog.Gateway) (Result, error) {
	if !a.HasBids() {
		return Result{Outcome: models.SettlementNoWinner}, nil
	}

	if err := gw.ReserveItem(a.ItemID); err != nil {
		if errors.Is(err, catalog.ErrOutOfStock) || errors.Is(err, catalog.ErrItemNotFound) {
			return Result{Outcome: models.SettlementFailed}, nil
		}
		return Result{}, err
	}

	orderID, err := gw.CreateOrder(a.HighestBidderID, a.ItemID, a.CurrentBid)
	if err != nil {
		return Result{}, err
	}

	if err := gw.DecrementItem(a.ItemID, 1); err != nil {
		return Result{}, err
	}

	return Result{Outcome: models.SettlementSettled, OrderID: orderID}, nil
}
