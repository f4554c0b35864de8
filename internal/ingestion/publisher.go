package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/observability"
)

const (
	EventStream        = "PERP_RISK_EVENTS"
	EventSubjectPrefix = "perp.risk.events."
)

// EventSubject follows perp.risk.events.{event_type}.{symbol}; protocol-wide
// events use the "protocol" token.
func EventSubject(env *event.Envelope) string {
	symbol := env.Symbol
	if symbol == "" {
		symbol = "protocol"
	}
	return fmt.Sprintf("%s%s.%s", EventSubjectPrefix, env.Type, symbol)
}

// queue is the non-blocking buffer in front of every outbound sink. The
// engine never waits on a publisher; a full queue drops and counts.
type queue struct {
	name    string
	ch      chan core.Output
	metrics *observability.Metrics
}

func newQueue(name string, size int, metrics *observability.Metrics) queue {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return queue{name: name, ch: make(chan core.Output, size), metrics: metrics}
}

// Publish implements core.Sink.
func (q queue) Publish(out core.Output) {
	select {
	case q.ch <- out:
	default:
		q.metrics.PublishDrops.WithLabelValues(q.name).Inc()
	}
}

// jsPublisher is the part of jetstream.JetStream the publisher uses.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed envelopes to JetStream for
// downstream consumers. The sequence is the message id, so a retried
// publish is deduplicated by the stream.
type OutboundPublisher struct {
	queue
	js     jsPublisher
	logger zerolog.Logger
}

func NewOutboundPublisher(js jsPublisher, size int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		queue:  newQueue("nats", size, metrics),
		js:     js,
		logger: logger.With().Str("component", "nats_publisher").Logger(),
	}
}

// Run publishes until ctx is cancelled.
func (p *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-p.ch:
			for _, env := range out.Envelopes {
				if err := p.publish(ctx, env); err != nil {
					// Non-fatal: downstream consumers can read the event log.
					p.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
				}
			}
		}
	}
}

func (p *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = p.js.Publish(ctx, EventSubject(env), data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}
