// Package store owns auction and bid persistence and the per-auction
// serialization boundary every read-then-write operation runs inside.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/LC208/rare-book/internal/catalog"
	"github.com/LC208/rare-book/internal/models"
)

var (
	// ErrAuctionNotFound is returned for unknown auction ids.
	ErrAuctionNotFound = errors.New("store: auction not found")
)

// Tx is the unit of work handed to the callback of WithAuction. It exposes a
// snapshot of the locked auction plus the mutations the engine is allowed to
// make. Everything either commits together when the callback returns nil or
// is discarded when it returns an error.
//
// Tx embeds catalog.Gateway so settlement's inventory and order writes land
// in the same atomic unit as the auction state change.
type Tx interface {
	catalog.Gateway

	// Auction returns the working snapshot. Mutation methods keep it in sync,
	// so re-reading mid-callback observes staged changes.
	Auction() *models.Auction

	// AppendBid stores an accepted bid and updates the auction's cached high
	// bid and bidder in the same write.
	AppendBid(bid *models.Bid) error

	// SetState advances the lifecycle state. Closed and cancelled also record
	// the closure time.
	SetState(s models.LifecycleState, at time.Time) error

	// SetSettlement records the settlement outcome and, when settled, the
	// resulting order id.
	SetSettlement(s models.SettlementState, orderID string) error
}

// Store is the persistence contract for the settlement core.
type Store interface {
	CreateAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
	ListAuctions(ctx context.Context) ([]*models.Auction, error)

	// Bids returns the full ledger for an auction ordered by amount
	// descending, then accepted_at ascending (earliest wins on ties).
	Bids(ctx context.Context, auctionID string) ([]*models.Bid, error)

	// DueAuctions returns ids of auctions with a pending time-based
	// transition: scheduled with start_time <= now, or active with
	// end_time <= now. The scan takes no locks; callers re-check state
	// inside WithAuction.
	DueAuctions(ctx context.Context, now time.Time) ([]string, error)

	// WithAuction runs fn inside the per-auction serialization boundary.
	// No two invocations for the same auction ever interleave; invocations
	// for different auctions proceed in parallel. The boundary commits only
	// when fn returns nil.
	WithAuction(ctx context.Context, id string, fn func(Tx) error) error

	// PutItem and GetItem manage the catalog rows the gateway operates on.
	PutItem(ctx context.Context, item *catalog.Item) error
	GetItem(ctx context.Context, id string) (*catalog.Item, error)

	// Orders lists sale records, newest first.
	Orders(ctx context.Context) ([]*catalog.Order, error)

	Close() error
}
