// Package publisher relays committed outbox events to Kafka.
package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_pos/internal/repository"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

const DefaultTopic = "pos-events"

type EventSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Recorder interface {
	EventPublished(eventType string)
	PublishFailed()
}

type Config struct {
	Brokers         []string
	Topic           string
	BatchSize       int
	EventTick       time.Duration
	CleanupTick     time.Duration
	Retention       time.Duration
	BreakerTimeout  time.Duration
	MaxFailuresTrip uint32
}

func (c *Config) withDefaults() {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.EventTick <= 0 {
		c.EventTick = time.Second
	}
	if c.CleanupTick <= 0 {
		c.CleanupTick = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.MaxFailuresTrip == 0 {
		c.MaxFailuresTrip = 5
	}
}

type OutboxPoller struct {
	cfg     Config
	repo    EventSource
	writer  MessageWriter
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics Recorder
	log     zerolog.Logger
}

func NewOutboxPoller(repo EventSource, cfg Config, metrics Recorder, log zerolog.Logger) *OutboxPoller {
	cfg.withDefaults()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newOutboxPoller(repo, w, cfg, metrics, log)
}

func newOutboxPoller(repo EventSource, writer MessageWriter, cfg Config, metrics Recorder, log zerolog.Logger) *OutboxPoller {
	cfg.withDefaults()
	log = log.With().Str("component", "outbox").Str("topic", cfg.Topic).Logger()

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "kafka-" + cfg.Topic,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailuresTrip
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &OutboxPoller{
		cfg:     cfg,
		repo:    repo,
		writer:  writer,
		breaker: breaker,
		metrics: metrics,
		log:     log,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	cleanupTicker := time.NewTicker(p.cfg.CleanupTick)
	defer eventTicker.Stop()
	defer cleanupTicker.Stop()

	p.log.Info().Strs("brokers", p.cfg.Brokers).Msg("outbox poller started")
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-cleanupTicker.C:
			p.purgeProcessedEvents(ctx)
		case <-ctx.Done():
			p.log.Info().Msg("outbox poller stopped")
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents publishes pending events in id order and returns
// how many were delivered. The batch stops at the first failure so events
// of one aggregate are never delivered out of order.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch outbox events")
		return 0
	}

	published := 0
	for _, event := range events {
		_, err := p.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, p.publishToKafka(ctx, event)
		})
		if err != nil {
			p.metrics.PublishFailed()
			p.log.Warn().Err(err).Int64("event_id", event.ID).Str("event_type", event.EventType).Msg("failed to publish event")
			return published
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			// Delivered but not marked; it is sent again next tick
			p.log.Error().Err(err).Int64("event_id", event.ID).Msg("failed to mark event as processed")
			return published
		}
		p.metrics.EventPublished(event.EventType)
		published++
	}
	return published
}

func (p *OutboxPoller) purgeProcessedEvents(ctx context.Context) {
	n, err := p.repo.PurgeProcessedEvents(ctx, time.Now().Add(-p.cfg.Retention))
	if err != nil {
		p.log.Error().Err(err).Msg("failed to purge processed outbox events")
		return
	}
	if n > 0 {
		p.log.Info().Int64("purged", n).Msg("purged processed outbox events")
	}
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateId), // sale or session id for ordering
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}
