package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/cache"
)

// Subscriber relays auction events from Redis pub/sub into the hub.
type Subscriber struct {
	client *redis.Client
	hub    *Hub
	log    zerolog.Logger
}

// NewSubscriber connects to Redis for the pub/sub relay.
func NewSubscriber(addr, password string, db int, hub *Hub, log zerolog.Logger) (*Subscriber, error) {
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

	return &Subscriber{client: rdb, hub: hub, log: log}, nil
}

// Run subscribes to every auction's event channel and forwards payloads to
// the hub until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.PSubscribe(ctx, cache.ChannelPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	s.log.Info().Str("pattern", cache.ChannelPattern).Msg("live feed subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			auctionID := cache.AuctionFromChannel(msg.Channel)
			if auctionID == "" {
				continue
			}
			s.hub.Broadcast(auctionID, []byte(msg.Payload))
		}
	}
}

// Close closes the Redis connection.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
