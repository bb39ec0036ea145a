package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"StableGuard/internal/observability"
	"StableGuard/internal/oracle"
)

// PriceSubscriber consumes oracle price updates from NATS JetStream and
// feeds the oracle feed cache. The price network is push-style: publishers
// stream observations per feed, the settlement core only ever reads the
// newest one. Gaps and redeliveries are harmless: the cache keeps whatever
// quote has the latest publish time.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.FeedCache
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

// SubjectConfig names the stream and subject carrying price updates.
type SubjectConfig struct {
	Subject      string
	StreamName   string
	ConsumerName string
}

// DefaultSubject returns the standard price-update subject.
func DefaultSubject() SubjectConfig {
	return SubjectConfig{
		Subject:      "guard.prices.>",
		StreamName:   "GUARD_PRICES",
		ConsumerName: "guard-prices",
	}
}

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.FeedCache, metrics *observability.Metrics, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
		log:     log,
	}
}

// Subscribe creates the JetStream consumer and starts feeding the cache.
// Only the newest observation matters, so the consumer delivers from last
// and ACKs unconditionally; a malformed update is logged and dropped, not
// redelivered.
func (ps *PriceSubscriber) Subscribe(ctx context.Context, cfg SubjectConfig) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    1,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		quote, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			ps.log.Warn().
				Str("subject", msg.Subject()).
				Err(err).
				Msg("malformed price update dropped")
			return
		}

		ps.cache.Update(quote)
		if ps.metrics != nil {
			ps.metrics.OracleUpdates.WithLabelValues(quote.FeedID).Inc()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Subject, err)
	}

	ps.consumer = consumeCtx
	ps.log.Info().
		Str("subject", cfg.Subject).
		Str("stream", cfg.StreamName).
		Msg("price subscription started")
	return nil
}

// Stop drains the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}
