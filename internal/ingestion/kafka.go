package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"PerpRisk/internal/observability"
)

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	RequiredAcks   int    // 0=none, 1=leader, -1=all
	Compression    string // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:        brokers,
		Topic:          "perp.risk.events",
		RequiredAcks:   -1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// SaramaConfig builds the async producer configuration.
func (c KafkaConfig) SaramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	switch c.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case 1:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	switch c.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}
	sc.Producer.Flush.Frequency = c.FlushFrequency
	sc.Producer.Flush.Messages = c.FlushMessages
	sc.Producer.Retry.Max = c.MaxRetries
	// Per-symbol ordering relies on the key hash partitioner.
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// KafkaSink publishes envelopes to one topic keyed by symbol, so each
// market's events stay ordered within a partition.
type KafkaSink struct {
	queue
	producer sarama.AsyncProducer
	topic    string
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewKafkaSink(cfg KafkaConfig, size int, metrics *observability.Metrics, logger zerolog.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic, size, metrics, logger), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(producer sarama.AsyncProducer, topic string, size int, metrics *observability.Metrics, logger zerolog.Logger) *KafkaSink {
	s := &KafkaSink{
		queue:    newQueue("kafka", size, metrics),
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka_sink").Logger(),
	}
	s.wg.Add(1)
	go s.handleErrors()
	return s
}

func (s *KafkaSink) handleErrors() {
	defer s.wg.Done()
	for perr := range s.producer.Errors() {
		s.metrics.PublishDrops.WithLabelValues(s.name).Inc()
		s.logger.Warn().Err(perr.Err).Str("topic", perr.Msg.Topic).Msg("kafka send failed")
	}
}

// Run forwards queued envelopes to the producer until ctx is cancelled,
// then closes the producer.
func (s *KafkaSink) Run(ctx context.Context) error {
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-s.ch:
			for _, env := range out.Envelopes {
				data, err := json.Marshal(env)
				if err != nil {
					s.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("marshal envelope failed")
					continue
				}
				key := env.Symbol
				if key == "" {
					key = "protocol"
				}
				msg := &sarama.ProducerMessage{
					Topic: s.topic,
					Key:   sarama.StringEncoder(key),
					Value: sarama.ByteEncoder(data),
					Headers: []sarama.RecordHeader{
						{Key: []byte("event_type"), Value: []byte(env.Type.String())},
						{Key: []byte("sequence"), Value: []byte(strconv.FormatInt(env.Sequence, 10))},
					},
				}
				select {
				case s.producer.Input() <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (s *KafkaSink) close() {
	if err := s.producer.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close kafka producer")
	}
	s.wg.Wait()
}
