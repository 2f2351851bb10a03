package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/LC208/rare-book/internal/events"
)

// Consumer drains the JetStream audit stream into the writer.
type Consumer struct {
	conn   *nats.Conn
	writer *Writer
	log    zerolog.Logger
}

// NewConsumer connects to NATS.
func NewConsumer(natsURL string, writer *Writer, log zerolog.Logger) (*Consumer, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Consumer{conn: conn, writer: writer, log: log}, nil
}

// Run consumes audit events until the context is cancelled. The durable
// consumer picks up where it left off across restarts.
func (c *Consumer) Run(ctx context.Context) error {
	js, err := jetstream.New(c.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// The publisher normally creates the stream; creating it here too makes
	// startup order irrelevant.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      events.StreamName,
		Subjects:  []string{events.SubjectWildcard},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, events.StreamName, jetstream.ConsumerConfig{
		Durable:       "audit-writer",
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: events.SubjectWildcard,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info().Str("stream", events.StreamName).Msg("audit consumer running")
	<-ctx.Done()
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var envelope struct {
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		AuctionID string `json:"auction_id"`
	}
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		c.log.Error().Err(err).Msg("dropping malformed audit event")
		msg.Term()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rec := &Record{
		EventID:   envelope.EventID,
		AuctionID: envelope.AuctionID,
		Type:      envelope.Type,
		Payload:   msg.Data(),
	}
	if err := c.writer.Append(dbCtx, rec); err != nil {
		c.log.Error().Err(err).Str("event_id", envelope.EventID).Msg("failed to persist audit event")
		msg.Nak()
		return
	}

	c.log.Debug().Str("event_id", envelope.EventID).Str("type", envelope.Type).Msg("audit event recorded")
	msg.Ack()
}

// Close closes the NATS connection.
func (c *Consumer) Close() error {
	c.conn.Close()
	return nil
}
