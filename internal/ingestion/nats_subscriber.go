package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PriceStream   = "PERP_PRICES"
	PriceConsumer = "perprisk-prices"
)

// PriceSubscriber feeds the JetStream price stream into a PriceIngestor.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
type PriceSubscriber struct {
	js       jetstream.JetStream
	ingestor *PriceIngestor
	consumer string
	logger   zerolog.Logger

	cc jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, ingestor *PriceIngestor, consumer string, logger zerolog.Logger) *PriceSubscriber {
	if consumer == "" {
		consumer = PriceConsumer
	}
	return &PriceSubscriber{
		js:       js,
		ingestor: ingestor,
		consumer: consumer,
		logger:   logger.With().Str("component", "price_subscriber").Logger(),
	}
}

// Subscribe creates the durable consumer and starts delivery. Messages are
// handled one at a time in delivery order.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       s.consumer,
		FilterSubject: PriceSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", s.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var settleErr error
		switch s.ingestor.Handle(ctx, msg.Subject(), msg.Data()) {
		case Ack:
			settleErr = msg.Ack()
		case Nak:
			settleErr = msg.NakWithDelay(time.Second)
		case Term:
			settleErr = msg.Term()
		}
		if settleErr != nil {
			s.logger.Warn().Err(settleErr).Str("subject", msg.Subject()).Msg("settle message failed")
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.consumer, err)
	}
	s.cc = cc
	s.logger.Info().Str("consumer", s.consumer).Str("stream", PriceStream).Msg("subscribed to price feed")
	return nil
}

// Stop drains the consumer.
func (s *PriceSubscriber) Stop() {
	if s.cc != nil {
		s.cc.Stop()
		s.logger.Info().Msg("price subscriber stopped")
	}
}

// EnsureStreams creates the price and outbound event streams.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStream,
			Subjects:  []string{PriceSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Replicas:   1,
			Duplicates: 2 * time.Minute,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perprisk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
