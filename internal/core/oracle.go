package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/oracle"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// price returns the validated price of a market, computed once per
// operation and reused by every check in it.
func (e *Engine) price(oc *opCtx, m *state.Market) (int64, error) {
	if p, ok := oc.prices[m.Symbol]; ok {
		return p, nil
	}

	primary, err := oc.tx.GetOraclePrice(m.PrimaryFeed)
	if errors.Is(err, store.ErrNotFound) {
		return 0, riskerr.Wrap(riskerr.OracleFeedNotFound, "feed %q", m.PrimaryFeed)
	}
	if err != nil {
		return 0, err
	}

	var src oracle.Source = oracle.PrimaryOnly{Primary: primary}
	if m.SecondaryFeed != "" {
		both := oracle.PrimaryWithSecondary{Primary: primary}
		secondary, err := oc.tx.GetOraclePrice(m.SecondaryFeed)
		switch {
		case err == nil:
			both.Secondary = secondary
		case !errors.Is(err, store.ErrNotFound):
			return 0, err
		}
		src = both
	}

	res, err := oracle.Aggregate(src, oracle.ConfigFrom(oc.cfg), oc.now)
	if err != nil {
		e.oracleReject(m.PrimaryFeed, err)
		return 0, err
	}
	if res.SecondaryErr != nil {
		e.metrics.OracleSecondaryDrop.WithLabelValues(m.Symbol).Inc()
		e.logger.Debug().Err(res.SecondaryErr).Str("symbol", m.Symbol).Msg("secondary feed rejected, using primary")
	}
	if res.SecondaryFP != 0 {
		e.metrics.OracleDeviationBps.WithLabelValues(m.Symbol).Observe(float64(res.DeviationBps))
	}

	report, err := oracle.HealthCheck(primary, res.PriceFP, oc.now)
	if err != nil {
		e.oracleReject(m.PrimaryFeed, err)
		return 0, err
	}
	if report.Warn {
		e.logger.Warn().Str("symbol", m.Symbol).Int64("deviation_bps", report.DeviationBps).Msg("oracle price moved sharply")
	}

	oc.prices[m.Symbol] = res.PriceFP
	return res.PriceFP, nil
}

func (e *Engine) oracleReject(feed string, err error) {
	code := "internal"
	if c, ok := riskerr.CodeOf(err); ok {
		code = c.Name()
	}
	e.metrics.OracleRejects.WithLabelValues(feed, code).Inc()
}

// PriceUpdate is one publisher observation of a feed.
type PriceUpdate struct {
	Publisher     uuid.UUID `json:"publisher"`
	Feed          string    `json:"feed"`
	PriceFP       int64     `json:"price_fp"`
	ConfidenceFP  int64     `json:"confidence_fp"`
	NumPublishers int64     `json:"num_publishers"`

	// External is a raw aggregator record. When set, the price, confidence
	// and publisher count are read from it instead of the fields above.
	External []byte `json:"external,omitempty"`
}

// UpdateOraclePrice commits a feed price behind the circuit breaker. A trip
// pauses every market priced from the feed; the pause is committed and the
// trip is returned as CircuitBreakerTriggered.
func (e *Engine) UpdateOraclePrice(ctx context.Context, u PriceUpdate) (*state.OraclePrice, error) {
	var (
		out  *state.OraclePrice
		trip error
	)
	err := e.run(ctx, "update_oracle_price", func(oc *opCtx) error {
		trip = nil
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if u.Publisher != ledger.ProtocolAuthority && !oc.isAdmin(u.Publisher) {
			return riskerr.Wrap(riskerr.Unauthorized, "publisher %s", u.Publisher)
		}
		if u.Feed == "" {
			return riskerr.Wrap(riskerr.OracleFeedNotFound, "empty feed")
		}

		rec, err := oc.tx.GetOraclePrice(u.Feed)
		if errors.Is(err, store.ErrNotFound) {
			rec = state.NewOraclePrice(u.Feed)
		} else if err != nil {
			return err
		}

		next := u
		if len(u.External) > 0 {
			accepted, err := e.readExternal(oc, rec, &next)
			if err != nil {
				return err
			}
			if !accepted {
				out = rec.Clone()
				return nil
			}
		}

		old := rec.PriceFP
		dev, cbErr := oracle.UpdateWithCircuitBreaker(rec, next.PriceFP, oc.cfg.CircuitBreakerThresholdBps, oc.now)
		if cbErr != nil {
			if code, _ := riskerr.CodeOf(cbErr); code != riskerr.CircuitBreakerTriggered {
				return cbErr
			}
			trip = cbErr
			return e.tripCircuitBreaker(oc, next, old, dev)
		}
		rec.ConfidenceFP = next.ConfidenceFP
		rec.NumPublishers = next.NumPublishers
		if len(next.External) > 0 {
			rec.External = append([]byte(nil), next.External...)
		}
		if err := oc.tx.PutOraclePrice(rec); err != nil {
			return err
		}
		oc.emit(&event.OracleUpdated{
			Feed:         u.Feed,
			OldPriceFP:   old,
			NewPriceFP:   next.PriceFP,
			ConfidenceFP: next.ConfidenceFP,
			ChangeBps:    dev,
		})
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.OracleUpdates.WithLabelValues(u.Feed).Inc()
		})
		out = rec.Clone()
		return nil
	})
	if err != nil {
		e.oracleReject(u.Feed, err)
		return nil, err
	}
	if trip != nil {
		e.oracleReject(u.Feed, trip)
		return nil, trip
	}
	return out, nil
}

// readExternal fills next from the raw record in next.External. A record
// that decodes but fails validation is kept on the feed and marks it invalid
// until the next accepted price; the canonical price and its timestamp are
// left as they were and false is returned.
func (e *Engine) readExternal(oc *opCtx, rec *state.OraclePrice, next *PriceUpdate) (bool, error) {
	feed, err := oracle.DecodeExternalFeed(next.External)
	if err != nil {
		return false, err
	}
	priceFP, err := oracle.ReadExternal(feed, oracle.ConfigFrom(oc.cfg), oc.now)
	if err != nil {
		rec.External = append([]byte(nil), next.External...)
		rec.IsValid = false
		if err := oc.tx.PutOraclePrice(rec); err != nil {
			return false, err
		}
		rejected, feedName := err, next.Feed
		oc.onCommit = append(oc.onCommit, func() {
			e.oracleReject(feedName, rejected)
			e.logger.Warn().Err(rejected).Str("feed", feedName).Msg("external record rejected, feed marked invalid")
		})
		return false, nil
	}
	confFP, err := feed.ConfidenceFP()
	if err != nil {
		return false, err
	}
	next.PriceFP = priceFP
	next.ConfidenceFP = confFP
	next.NumPublishers = int64(feed.NumPublishers)
	return true, nil
}

// tripCircuitBreaker leaves the price untouched and pauses the markets
// priced from the feed.
func (e *Engine) tripCircuitBreaker(oc *opCtx, u PriceUpdate, old, dev int64) error {
	markets, err := oc.tx.ListMarkets()
	if err != nil {
		return err
	}
	var paused []string
	for _, m := range markets {
		if m.PrimaryFeed != u.Feed || m.IsPaused {
			continue
		}
		m.IsPaused = true
		if err := oc.tx.PutMarket(m); err != nil {
			return err
		}
		paused = append(paused, m.Symbol)
		oc.emit(
			&event.CircuitBreakerTriggered{Market: m.Symbol, PriceChangeBps: dev, OldPriceFP: old, NewPriceFP: u.PriceFP},
			&event.EmergencyPause{Market: m.Symbol, Reason: "oracle circuit breaker", Timestamp: oc.now, TriggeredBy: u.Publisher},
		)
	}
	oc.onCommit = append(oc.onCommit, func() {
		e.metrics.CircuitBreakerTrips.WithLabelValues(u.Feed).Inc()
		e.metrics.EmergencyPauses.WithLabelValues("market").Add(float64(len(paused)))
		e.logger.Warn().
			Str("feed", u.Feed).
			Int64("old_price_fp", old).
			Int64("new_price_fp", u.PriceFP).
			Int64("change_bps", dev).
			Strs("paused", paused).
			Msg("circuit breaker tripped")
	})
	return nil
}

// MarketPrice returns the validated price an operation on the market would use now.
func (e *Engine) MarketPrice(ctx context.Context, symbol string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var price int64
	err := e.store.View(ctx, func(tx store.Tx) error {
		oc := &opCtx{tx: tx, now: e.clock.Now(), prices: make(map[string]int64)}
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.market(symbol)
		if err != nil {
			return err
		}
		price, err = e.price(oc, m)
		return err
	})
	return price, err
}

// FallbackPrice averages the feed's recent accepted prices. It is advisory
// and never used to authorize an operation.
func (e *Engine) FallbackPrice(ctx context.Context, feed string) (int64, error) {
	var price int64
	err := e.store.View(ctx, func(tx store.Tx) error {
		rec, err := tx.GetOraclePrice(feed)
		if errors.Is(err, store.ErrNotFound) {
			return riskerr.Wrap(riskerr.OracleFeedNotFound, "feed %q", feed)
		}
		if err != nil {
			return err
		}
		price, err = oracle.EmergencyFallback(rec.History)
		return err
	})
	return price, err
}
