package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/observability"
)

// EventSource pages through the persisted event log.
type EventSource interface {
	EventsFrom(ctx context.Context, from int64, limit int) ([]*event.Envelope, error)
}

// Worker maintains the read-side history projections from committed
// outputs. It is an engine sink: Publish drops when the queue is full and
// the projections can be rebuilt from the event log.
type Worker struct {
	input   chan core.Output
	lastSeq atomic.Int64
	metrics *observability.Metrics
	logger  zerolog.Logger

	Funding      *FundingHistoryProjection
	Liquidations *LiquidationHistoryProjection
}

func NewWorker(size, perUser int, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	if size <= 0 {
		size = 4096
	}
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &Worker{
		input:        make(chan core.Output, size),
		metrics:      metrics,
		logger:       logger.With().Str("component", "projection").Logger(),
		Funding:      NewFundingHistoryProjection(perUser),
		Liquidations: NewLiquidationHistoryProjection(perUser),
	}
}

// Publish implements core.Sink.
func (w *Worker) Publish(out core.Output) {
	select {
	case w.input <- out:
	default:
		w.metrics.PublishDrops.WithLabelValues("projection").Inc()
	}
}

// LastSequence is the newest sequence applied to the projections.
func (w *Worker) LastSequence() int64 { return w.lastSeq.Load() }

// Run applies queued outputs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-w.input:
			for _, env := range out.Envelopes {
				if err := w.apply(env); err != nil {
					// Projections are eventually consistent and rebuildable.
					w.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("projection update failed")
				}
			}
		}
	}
}

func (w *Worker) apply(env *event.Envelope) error {
	if env.Sequence <= w.lastSeq.Load() {
		return nil
	}
	defer w.lastSeq.Store(env.Sequence)

	switch env.Type {
	case event.EventTypeFundingPaid:
		var e event.FundingPaid
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		w.Funding.AddEntry(FundingHistoryEntry{
			User:      e.User,
			Market:    e.Market,
			Sequence:  env.Sequence,
			RateFP:    e.FundingRateFP,
			AmountFP:  e.FundingAmountFP,
			Timestamp: env.Timestamp,
		})

	case event.EventTypeLiquidationExecuted:
		var e event.LiquidationExecuted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		w.Liquidations.AddEntry(LiquidationEntry{
			User:                  e.LiquidatedUser,
			Liquidator:            e.Liquidator,
			Market:                e.Market,
			Sequence:              env.Sequence,
			Percentage:            e.Percentage,
			LiquidatedSize:        e.LiquidationSize,
			PriceFP:               e.LiquidationPriceFP,
			LiquidatorReward:      e.LiquidatorReward,
			TraderSettlement:      e.TraderSettlement,
			InsuranceContribution: e.InsuranceFundContribution,
			Timestamp:             env.Timestamp,
		})

	case event.EventTypePartialLiquidation:
		// Follows its LiquidationExecuted within the same operation.
		var e event.PartialLiquidation
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		w.Liquidations.setRemaining(e.User, e.Market, env.Sequence-1, e.RemainingSize)
	}
	return nil
}

// Rebuild discards the projections and replays the whole event log.
func (w *Worker) Rebuild(ctx context.Context, src EventSource, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	w.Funding.reset()
	w.Liquidations.reset()
	w.lastSeq.Store(0)

	applied := 0
	from := int64(1)
	for {
		envs, err := src.EventsFrom(ctx, from, pageSize)
		if err != nil {
			return applied, fmt.Errorf("rebuild from %d: %w", from, err)
		}
		for _, env := range envs {
			if err := w.apply(env); err != nil {
				return applied, err
			}
			applied++
			from = env.Sequence + 1
		}
		if len(envs) < pageSize {
			break
		}
	}
	w.logger.Info().Int("events", applied).Int64("last_sequence", w.LastSequence()).Msg("projection rebuild complete")
	return applied, nil
}
