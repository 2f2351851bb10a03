// Package auction owns the auction lifecycle: it serializes every mutation
// through the store's per-auction boundary and drives the state machine
// scheduled -> active -> closed (settling synchronously on closure), with
// cancellation as the operator escape hatch.
package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/LC208/rare-book/internal/models"
	"github.com/LC208/rare-book/internal/settlement"
	"github.com/LC208/rare-book/internal/store"
	"github.com/LC208/rare-book/internal/validator"
)

var (
	// ErrTerminal: the auction is closed or cancelled and cannot change.
	ErrTerminal = errors.New("auction: lifecycle state is terminal")
)

// Publisher receives notifications after a mutation has committed. A nil
// publisher disables fan-out; the engine never depends on it for
// correctness.
type Publisher interface {
	BidAccepted(ctx context.Context, ev *models.BidEvent)
	AuctionClosed(ctx context.Context, ev *models.SettlementEvent)
}

// Engine is the auction state machine.
type Engine struct {
	store store.Store
	pub   Publisher
	log   zerolog.Logger
}

// New creates an engine. pub may be nil.
func New(st store.Store, pub Publisher, log zerolog.Logger) *Engine {
	return &Engine{store: st, pub: pub, log: log}
}

// CreateParams describes a new auction.
type CreateParams struct {
	ItemID        string          `json:"item_id"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	BidIncrement  decimal.Decimal `json:"bid_increment"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
}

func (p *CreateParams) validate() error {
	if p.ItemID == "" {
		return errors.New("item_id is required")
	}
	if p.StartingPrice.IsNegative() {
		return errors.New("starting_price must not be negative")
	}
	if !p.BidIncrement.IsPositive() {
		return errors.New("bid_increment must be positive")
	}
	if !p.EndTime.After(p.StartTime) {
		return errors.New("end_time must be after start_time")
	}
	return nil
}

// CreateAuction registers a new scheduled auction.
func (e *Engine) CreateAuction(ctx context.Context, p CreateParams) (*models.Auction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &models.Auction{
		ID:            uuid.NewString(),
		ItemID:        p.ItemID,
		StartingPrice: p.StartingPrice,
		BidIncrement:  p.BidIncrement,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		State:         models.StateScheduled,
		CurrentBid:    decimal.Zero,
		Settlement:    models.SettlementPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	e.log.Info().Str("auction_id", a.ID).Str("item_id", a.ItemID).
		Time("start", a.StartTime).Time("end", a.EndTime).Msg("auction scheduled")
	return a, nil
}

// PlaceBid validates and appends a bid inside the per-auction boundary, so
// validation always runs against the freshest committed high bid and no two
// improving bids can both be accepted off the same stale snapshot.
//
// On rejection the returned error is a *validator.Rejection.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, now time.Time) (*models.Bid, error) {
	var bid *models.Bid
	var previous decimal.Decimal

	err := e.store.WithAuction(ctx, auctionID, func(tx store.Tx) error {
		a := tx.Auction()
		if rej := validator.Validate(a, amount, now); rej != nil {
			return rej
		}
		previous = a.CurrentBid
		bid = &models.Bid{
			ID:         uuid.NewString(),
			AuctionID:  a.ID,
			BidderID:   bidderID,
			Amount:     amount,
			AcceptedAt: now,
		}
		return tx.AppendBid(bid)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("auction_id", auctionID).Str("bidder_id", bidderID).
		Str("amount", amount.String()).Msg("bid accepted")

	if e.pub != nil {
		e.pub.BidAccepted(ctx, &models.BidEvent{
			EventID:     uuid.NewString(),
			Type:        models.EventBidAccepted,
			AuctionID:   auctionID,
			BidID:       bid.ID,
			BidderID:    bidderID,
			Amount:      amount,
			PreviousBid: previous,
			AcceptedAt:  now,
		})
	}
	return bid, nil
}

// Cancel moves a scheduled or active auction to cancelled, skipping
// settlement. Operator-triggered; idempotent on repeat calls.
func (e *Engine) Cancel(ctx context.Context, auctionID string, now time.Time) error {
	return e.store.WithAuction(ctx, auctionID, func(tx store.Tx) error {
		a := tx.Auction()
		switch a.State {
		case models.StateCancelled:
			return nil
		case models.StateClosed:
			return ErrTerminal
		}
		if err := tx.SetState(models.StateCancelled, now); err != nil {
			return err
		}
		e.log.Info().Str("auction_id", auctionID).Msg("auction cancelled")
		return nil
	})
}

// Sweep drives every due time-based transition once: scheduled auctions past
// their start go active, active auctions past their end close and settle.
// Safe to run from any number of concurrent sweepers; each transition
// re-checks state under the auction's boundary and fires at most once.
// Returns the number of auctions transitioned.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.DueAuctions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to scan due auctions: %w", err)
	}

	transitioned := 0
	var firstErr error
	for _, id := range due {
		if err := e.advance(ctx, id, now); err != nil {
			// Keep sweeping; this auction stays due and the next tick retries.
			e.log.Error().Err(err).Str("auction_id", id).Msg("lifecycle transition failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		transitioned++
	}
	return transitioned, firstErr
}

// advance applies the single applicable transition for one auction.
func (e *Engine) advance(ctx context.Context, auctionID string, now time.Time) error {
	var settled *models.SettlementEvent

	err := e.store.WithAuction(ctx, auctionID, func(tx store.Tx) error {
		a := tx.Auction()
		switch a.State {
		case models.StateScheduled:
			if now.Before(a.StartTime) {
				return nil
			}
			// An auction whose whole window already elapsed still goes
			// through active; the next sweep closes it.
			if err := tx.SetState(models.StateActive, now); err != nil {
				return err
			}
			e.log.Info().Str("auction_id", a.ID).Msg("auction activated")
			return nil

		case models.StateActive:
			if now.Before(a.EndTime) {
				return nil
			}
			res, err := settlement.Settle(a, tx)
			if err != nil {
				return fmt.Errorf("settlement: %w", err)
			}
			if err := tx.SetState(models.StateClosed, now); err != nil {
				return err
			}
			if err := tx.SetSettlement(res.Outcome, res.OrderID); err != nil {
				return err
			}
			settled = e.settlementEvent(a, res, now)
			return nil

		default:
			// Terminal: another sweeper already got here.
			return nil
		}
	})
	if err != nil {
		return err
	}

	if settled != nil {
		switch settled.Outcome {
		case models.SettlementFailed:
			e.log.Error().Str("auction_id", settled.AuctionID).Str("item_id", settled.ItemID).
				Str("winner_id", settled.WinnerID).Msg("settlement failed: item out of stock, needs operator resolution")
		case models.SettlementSettled:
			e.log.Info().Str("auction_id", settled.AuctionID).Str("order_id", settled.OrderID).
				Str("amount", settled.Amount.String()).Msg("auction settled")
		default:
			e.log.Info().Str("auction_id", settled.AuctionID).Msg("auction closed without bids")
		}
		if e.pub != nil {
			e.pub.AuctionClosed(ctx, settled)
		}
	}
	return nil
}

func (e *Engine) settlementEvent(a *models.Auction, res settlement.Result, now time.Time) *models.SettlementEvent {
	evType := models.EventAuctionClosed
	if res.Outcome == models.SettlementNoWinner {
		evType = models.EventAuctionExpired
	}
	return &models.SettlementEvent{
		EventID:   uuid.NewString(),
		Type:      evType,
		AuctionID: a.ID,
		ItemID:    a.ItemID,
		Outcome:   res.Outcome,
		WinnerID:  a.HighestBidderID,
		Amount:    a.CurrentBid,
		OrderID:   res.OrderID,
		ClosedAt:  now,
	}
}

// GetAuction returns the auction snapshot.
func (e *Engine) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	return e.store.GetAuction(ctx, id)
}

// ListAuctions returns all auctions, newest start time first.
func (e *Engine) ListAuctions(ctx context.Context) ([]*models.Auction, error) {
	return e.store.ListAuctions(ctx)
}

// History returns the bid ledger ordered by amount descending, earliest
// first among equal amounts.
func (e *Engine) History(ctx context.Context, auctionID string) ([]*models.Bid, error) {
	if _, err := e.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return e.store.Bids(ctx, auctionID)
}
