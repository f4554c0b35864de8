package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// PriceUpdater is the engine surface the price feed drives.
type PriceUpdater interface {
	UpdateOraclePrice(ctx context.Context, u core.PriceUpdate) (*state.OraclePrice, error)
}

// Disposition tells the transport what to do with a delivered message.
type Disposition int

const (
	// Ack: handled (applied, duplicate, stale or tripped the breaker).
	Ack Disposition = iota
	// Nak: transient failure, redeliver.
	Nak
	// Term: the message can never be applied.
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// PriceIngestor validates feed messages and applies them to the engine.
type PriceIngestor struct {
	engine  PriceUpdater
	dedup   *Deduplicator
	guard   *SequenceGuard
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPriceIngestor(engine PriceUpdater, dedup *Deduplicator, guard *SequenceGuard, metrics *observability.Metrics, logger zerolog.Logger) *PriceIngestor {
	if dedup == nil {
		dedup = NewDeduplicator(100_000, nil)
	}
	if guard == nil {
		guard = NewSequenceGuard()
	}
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &PriceIngestor{
		engine:  engine,
		dedup:   dedup,
		guard:   guard,
		metrics: metrics,
		logger:  logger.With().Str("component", "price_ingestor").Logger(),
	}
}

func (pi *PriceIngestor) Guard() *SequenceGuard { return pi.guard }

// Handle runs one delivered message through parse, dedup, ordering and the
// engine, and reports how the message should be settled.
func (pi *PriceIngestor) Handle(ctx context.Context, subject string, data []byte) Disposition {
	symbol, err := SymbolFromSubject(subject)
	if err != nil {
		pi.logger.Warn().Err(err).Msg("dropping message on unexpected subject")
		return Term
	}
	msg, err := ParsePriceMessage(data, symbol)
	if err != nil {
		pi.logger.Warn().Err(err).Str("symbol", symbol).Msg("dropping malformed price message")
		return Term
	}
	pi.metrics.PricesReceived.WithLabelValues(msg.Symbol).Inc()

	key := msg.DedupKey()
	if pi.dedup.IsDuplicate(ctx, key) {
		pi.metrics.PriceDuplicates.WithLabelValues(msg.Symbol).Inc()
		return Ack
	}
	gap, err := pi.guard.Check(msg)
	if err != nil {
		pi.metrics.PriceOutOfOrder.WithLabelValues(msg.Symbol).Inc()
		pi.logger.Debug().Err(err).Str("feed", msg.Feed).Msg("ignoring stale price")
		return Ack
	}
	if gap > 0 {
		pi.logger.Info().Str("feed", msg.Feed).Int64("gap", gap).Int64("sequence", msg.Sequence).Msg("price sequence gap")
	}

	_, err = pi.engine.UpdateOraclePrice(ctx, msg.Update())
	disp := pi.settle(msg, err)
	if disp == Nak {
		return Nak
	}
	pi.guard.Accept(msg)
	if err := pi.dedup.MarkProcessed(ctx, key); err != nil {
		pi.logger.Warn().Err(err).Str("key", key).Msg("dedup store write failed")
	}
	return disp
}

func (pi *PriceIngestor) settle(msg *PriceMessage, err error) Disposition {
	if err == nil {
		return Ack
	}
	code, ok := riskerr.CodeOf(err)
	switch {
	case !ok:
		if errors.Is(err, context.Canceled) {
			pi.logger.Debug().Err(err).Str("feed", msg.Feed).Msg("price update cancelled")
		} else {
			pi.logger.Error().Err(err).Str("feed", msg.Feed).Msg("price update failed, redelivering")
		}
		return Nak
	case code == riskerr.CircuitBreakerTriggered:
		// The pause was committed; redelivery would only re-trip.
		pi.logger.Warn().Err(err).Str("feed", msg.Feed).Str("symbol", msg.Symbol).Msg("price tripped the circuit breaker")
		return Ack
	default:
		pi.logger.Debug().Err(err).Str("feed", msg.Feed).Str("code", code.Name()).Msg("price update rejected")
		return Term
	}
}
