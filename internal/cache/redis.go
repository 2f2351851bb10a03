// Package cache keeps a Redis copy of each auction's high bid for cheap
// reads and carries the pub/sub channel the live feed listens on. The cache
// is advisory: the store is always authoritative and every write here
// happens after the owning transaction committed.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Channel returns the pub/sub channel name for one auction's events.
func Channel(auctionID string) string {
	return fmt.Sprintf("auction_events:%s", auctionID)
}

// ChannelPattern matches every auction's event channel.
const ChannelPattern = "auction_events:*"

// AuctionFromChannel extracts the auction id from a channel name.
func AuctionFromChannel(channel string) string {
	prefix := "auction_events:"
	if len(channel) > len(prefix) {
		return channel[len(prefix):]
	}
	return ""
}

// Client wraps Redis with auction-specific operations.
type Client struct {
	client *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: rdb}, nil
}

// SetHighBid records the committed high bid for an auction.
func (c *Client) SetHighBid(ctx context.Context, auctionID string, amount decimal.Decimal, bidderID string) error {
	return c.client.MSet(ctx,
		fmt.Sprintf("auction:%s:current_bid", auctionID), amount.String(),
		fmt.Sprintf("auction:%s:highest_bidder", auctionID), bidderID,
	).Err()
}

// GetHighBid returns the cached high bid and bidder. A missing key yields a
// zero amount and empty bidder, not an error.
func (c *Client) GetHighBid(ctx context.Context, auctionID string) (decimal.Decimal, string, error) {
	pipe := c.client.Pipeline()
	bidCmd := pipe.Get(ctx, fmt.Sprintf("auction:%s:current_bid", auctionID))
	bidderCmd := pipe.Get(ctx, fmt.Sprintf("auction:%s:highest_bidder", auctionID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return decimal.Zero, "", fmt.Errorf("failed to get high bid: %w", err)
	}

	amount := decimal.Zero
	if bidCmd.Err() == nil {
		if parsed, err := decimal.NewFromString(bidCmd.Val()); err == nil {
			amount = parsed
		}
	}
	var bidder string
	if bidderCmd.Err() == nil {
		bidder = bidderCmd.Val()
	}
	return amount, bidder, nil
}

// PublishEvent fans an event out on the auction's pub/sub channel.
func (c *Client) PublishEvent(ctx context.Context, auctionID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, Channel(auctionID), payload).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
