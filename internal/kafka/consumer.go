package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/paperfolio/portfolio-service/internal/models"
)

// TradeJournal defines the journal operations the consumer needs
type TradeJournal interface {
	CreateTradeRecord(t *models.TradeRecord) error
	TradeExistsByEventID(eventID string) (bool, error)
}

// Consumer reads trade events and journals them for audit. Events are
// idempotent on event_id, so replays and redeliveries are safe.
type Consumer struct {
	reader  *kafka.Reader
	journal TradeJournal
	log     zerolog.Logger
}

// NewConsumer creates a new Kafka consumer for trade events
func NewConsumer(brokers []string, topic, groupID string, journal TradeJournal) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:  reader,
		journal: journal,
		log:     log.With().Str("component", "trade-journal").Logger(),
	}
}

// Start consumes messages until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info().Str("topic", c.reader.Config().Topic).Msg("starting trade journal consumer")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("trade journal consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				c.log.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(msg); err != nil {
				c.log.Error().Err(err).Msg("error processing message")
				// keep consuming; a bad event must not wedge the journal
			}
		}
	}
}

// processMessage journals a single trade event
func (c *Consumer) processMessage(msg kafka.Message) error {
	var event models.TradeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal trade event: %w", err)
	}

	if event.EventType != models.EventTypeTradeExecuted {
		c.log.Debug().Str("event_type", event.EventType).Msg("ignoring event")
		return nil
	}
	if event.EventID == "" {
		return fmt.Errorf("trade event without event_id")
	}

	exists, err := c.journal.TradeExistsByEventID(event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate trade: %w", err)
	}
	if exists {
		c.log.Debug().Str("event_id", event.EventID).Msg("trade already journaled, skipping")
		return nil
	}

	record := &models.TradeRecord{
		EventID:    event.EventID,
		UserID:     event.UserID,
		Symbol:     event.Symbol,
		Side:       event.Side,
		Quantity:   event.Quantity,
		Price:      event.Price,
		ExecutedAt: event.ExecutedAt,
	}
	if err := c.journal.CreateTradeRecord(record); err != nil {
		return fmt.Errorf("failed to journal trade: %w", err)
	}

	c.log.Info().
		Str("side", record.Side).
		Int64("quantity", record.Quantity).
		Str("symbol", record.Symbol).
		Str("price", record.Price.String()).
		Str("event_id", record.EventID).
		Msg("journaled trade")

	return nil
}
