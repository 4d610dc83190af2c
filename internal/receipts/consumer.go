package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pos/internal/domain"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const DefaultGroupID = "pos-receipt-archiver"

const (
	retryBackoff    = 200 * time.Millisecond
	maxRetryBackoff = 10 * time.Second
)

// errMalformed marks an event that can never be archived. It is logged and
// committed so it does not stall the partition.
var errMalformed = errors.New("malformed event")

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Store interface {
	Upsert(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, saleID string) error
}

// Consumer archives receipts of completed sales and drops those of deleted
// sales.
type Consumer struct {
	reader  MessageReader
	store   Store
	log     zerolog.Logger
	backoff time.Duration
}

func NewConsumer(store Store, topic, groupID string, log zerolog.Logger, brokers ...string) *Consumer {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, store, log)
}

func newConsumer(reader MessageReader, store Store, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		store:   store,
		log:     log.With().Str("component", "receipts").Logger(),
		backoff: retryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.consumeOne(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error().Err(err).Msg("error closing reader")
	}
}

// consumeOne fetches a message and commits its offset only once the receipt
// store has applied it. Store failures are retried on the same message until
// they succeed or ctx ends; an uncommitted message is redelivered after a
// restart or rebalance.
func (c *Consumer) consumeOne(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error().Err(err).Msg("error fetching message")
		}
		return
	}

	if err := c.handleWithRetry(ctx, m); err != nil {
		return
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to commit offset")
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, m kafka.Message) error {
	wait := c.backoff
	for {
		err := c.handle(ctx, m)
		if err == nil {
			return nil
		}
		if errors.Is(err, errMalformed) {
			c.log.Error().Err(err).Str("key", string(m.Key)).Int64("offset", m.Offset).Msg("skipping malformed event")
			return nil
		}
		c.log.Warn().Err(err).Str("key", string(m.Key)).Int64("offset", m.Offset).Dur("retry_in", wait).Msg("failed to archive receipt")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxRetryBackoff {
			wait = maxRetryBackoff
		}
	}
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	switch eventType(m) {
	case domain.EventSaleCompleted:
		var ev domain.SaleCompletedEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return fmt.Errorf("%w: error parsing sale.completed: %v", errMalformed, err)
		}
		if ev.SaleID == "" {
			return fmt.Errorf("%w: sale.completed without sale_id", errMalformed)
		}
		return c.store.Upsert(ctx, FromSaleCompleted(&ev))

	case domain.EventSaleDeleted:
		var ev domain.SaleDeletedEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return fmt.Errorf("%w: error parsing sale.deleted: %v", errMalformed, err)
		}
		err := c.store.Delete(ctx, ev.SaleID)
		if err != nil && !errors.Is(err, ErrReceiptNotFound) {
			return err
		}
		return nil

	default:
		c.log.Debug().Str("event_type", eventType(m)).Msg("skipping event")
		return nil
	}
}
