package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/observability"
)

// BatchWriter is the sink the worker flushes into.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error
}

// Worker drains the engine's persist channel and batch-writes to the event
// log. The engine sends with a blocking send, so a worker that falls behind
// stalls the engine and no event is lost.
type Worker struct {
	writer       BatchWriter
	input        <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// onFlush runs after every successful flush with the last written sequence.
	onFlush func(ctx context.Context, lastSequence int64)
}

// WorkerConfig tunes batching.
type WorkerConfig struct {
	BatchSize    int
	FlushTimeout time.Duration
	MaxBackoff   time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{BatchSize: 50, FlushTimeout: 10 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

func NewWorker(writer BatchWriter, input <-chan core.Output, cfg WorkerConfig, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &Worker{
		writer:       writer,
		input:        input,
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
		maxBackoff:   cfg.MaxBackoff,
		metrics:      metrics,
		logger:       logger.With().Str("component", "persistence_worker").Logger(),
	}
}

// OnFlush registers a callback invoked after each successful flush.
func (w *Worker) OnFlush(fn func(ctx context.Context, lastSequence int64)) {
	w.onFlush = fn
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the input
// closes, after a final flush.
func (w *Worker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, w.batchSize)
	journals := make([]JournalRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(events) == 0 && len(journals) == 0 {
			return
		}
		if err := w.flushWithRetry(ctx, events, journals); err != nil {
			w.logger.Error().Err(err).Int("events", len(events)).Msg("batch flush failed")
		}
		events = events[:0]
		journals = journals[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				flush(context.Background())
				return nil
			}
			ev, jr := RowsFrom(out)
			events = append(events, ev...)
			journals = append(journals, jr...)
			if len(events) >= w.batchSize {
				flush(ctx)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.metrics.PersistRetry.Inc()
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(events)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), events, journals)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		err := w.flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.metrics.PersistErrors.WithLabelValues("write").Inc()
		w.logger.Debug().Err(err).Msg("flush attempt failed")
	}
}

func (w *Worker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()
	if err := w.writer.WriteBatch(ctx, events, journals); err != nil {
		return err
	}
	w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	w.metrics.PersistEventsWritten.Add(float64(len(events)))
	w.metrics.PersistJournalsWritten.Add(float64(len(journals)))

	last := int64(0)
	if len(events) > 0 {
		last = events[len(events)-1].Sequence
	} else if len(journals) > 0 {
		last = journals[len(journals)-1].Sequence
	}
	if last > 0 {
		w.metrics.PersistLastSequence.Set(float64(last))
		if w.onFlush != nil {
			w.onFlush(ctx, last)
		}
	}
	return nil
}
