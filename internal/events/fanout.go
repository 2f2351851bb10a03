// Package events fans committed auction events out to the live feed (Redis
// pub/sub) and the durable audit stream (NATS JetStream). Both targets are
// best-effort from the caller's point of view: the state change already
// committed, so a publish failure is logged and never propagated back into
// the request or sweep path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/cache"
	"github.com/LC208/rare-book/internal/models"
)

const (
	// StreamName holds every auction event for the audit trail.
	StreamName = "AUCTION_EVENTS"
	// SubjectPrefix + auction id is the per-auction subject.
	SubjectPrefix = "auction.events."
	// SubjectWildcard subscribes to every auction.
	SubjectWildcard = SubjectPrefix + "*"
)

// Subject returns the JetStream subject for one auction.
func Subject(auctionID string) string {
	return SubjectPrefix + auctionID
}

// Fanout implements the engine's Publisher. Either target may be nil, in
// which case it is skipped.
type Fanout struct {
	js    jetstream.JetStream
	cache *cache.Client
	log   zerolog.Logger
}

// NewFanout builds a fan-out over the given connections and ensures the
// audit stream exists. nc and cacheClient may each be nil.
func NewFanout(nc *nats.Conn, cacheClient *cache.Client, log zerolog.Logger) (*Fanout, error) {
	f := &Fanout{cache: cacheClient, log: log}
	if nc == nil {
		return f, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Durable audit trail of auction bid and settlement events",
		Subjects:    []string{SubjectWildcard},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	f.js = js
	return f, nil
}

// BidAccepted refreshes the high-bid cache, notifies live watchers and
// appends the event to the audit stream.
func (f *Fanout) BidAccepted(ctx context.Context, ev *models.BidEvent) {
	if f.cache != nil {
		if err := f.cache.SetHighBid(ctx, ev.AuctionID, ev.Amount, ev.BidderID); err != nil {
			f.log.Warn().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to refresh high-bid cache")
		}
		if err := f.cache.PublishEvent(ctx, ev.AuctionID, ev); err != nil {
			f.log.Warn().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to publish bid event to pub/sub")
		}
	}
	f.publishAudit(ev.AuctionID, ev.EventID, ev)
}

// AuctionClosed notifies live watchers of the settlement outcome and
// appends it to the audit stream.
func (f *Fanout) AuctionClosed(ctx context.Context, ev *models.SettlementEvent) {
	if f.cache != nil {
		if err := f.cache.PublishEvent(ctx, ev.AuctionID, ev); err != nil {
			f.log.Warn().Err(err).Str("auction_id", ev.AuctionID).Msg("failed to publish settlement event to pub/sub")
		}
	}
	f.publishAudit(ev.AuctionID, ev.EventID, ev)
}

// publishAudit appends an event to the JetStream audit stream, waiting for
// the server acknowledgement so the record is persisted.
func (f *Fanout) publishAudit(auctionID, eventID string, event any) {
	if f.js == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		f.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to marshal audit event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := f.js.Publish(ctx, Subject(auctionID), data)
	if err != nil {
		f.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to publish audit event")
		return
	}
	f.log.Debug().Str("event_id", eventID).Uint64("seq", ack.Sequence).Msg("audit event persisted")
}
