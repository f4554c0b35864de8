// Package keeper runs the permissionless maintenance loop: stop-loss
// execution, liquidation and funding settlement.
package keeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// Engine is the engine surface the keeper drives.
type Engine interface {
	Markets(ctx context.Context) ([]*state.Market, error)
	Candidates(ctx context.Context, symbol string) (*core.Candidates, error)
	ExecuteStopLoss(ctx context.Context, executor, owner uuid.UUID, symbol string) (*core.CloseResult, error)
	Liquidate(ctx context.Context, liquidator, owner uuid.UUID, symbol string) (*core.LiquidationResult, error)
	EnhancedLiquidate(ctx context.Context, liquidator, owner uuid.UUID, symbol string, maxPct int64) (*core.LiquidationResult, error)
	SettleFunding(ctx context.Context, symbol string) (*core.FundingResult, error)
}

// Config tunes one keeper.
type Config struct {
	// Identity credited with liquidation rewards.
	Liquidator uuid.UUID
	Interval   time.Duration
	// MaxLiquidationPct caps each liquidation; 100 closes the whole position.
	MaxLiquidationPct int64
	SettleFunding     bool
}

// Report counts what one sweep did.
type Report struct {
	StopLosses   int
	Liquidations int
	Fundings     int
	Failures     int
}

type Keeper struct {
	engine Engine
	cfg    Config
	logger zerolog.Logger
}

func New(engine Engine, cfg Config, logger zerolog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxLiquidationPct <= 0 || cfg.MaxLiquidationPct > 100 {
		cfg.MaxLiquidationPct = 100
	}
	return &Keeper{engine: engine, cfg: cfg, logger: logger.With().Str("component", "keeper").Logger()}
}

// Run sweeps every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := k.Sweep(ctx); err != nil && ctx.Err() == nil {
				k.logger.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep visits every unpaused market once. Stop-losses run before
// liquidations so a triggered order closes on the trader's terms first.
func (k *Keeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	markets, err := k.engine.Markets(ctx)
	if err != nil {
		return rep, err
	}
	for _, m := range markets {
		if m.IsPaused {
			continue
		}
		k.sweepMarket(ctx, m.Symbol, &rep)
	}
	return rep, nil
}

func (k *Keeper) sweepMarket(ctx context.Context, symbol string, rep *Report) {
	if k.cfg.SettleFunding {
		_, err := k.engine.SettleFunding(ctx, symbol)
		switch code, _ := riskerr.CodeOf(err); {
		case err == nil:
			rep.Fundings++
		case code == riskerr.FundingRateError:
			// Interval not elapsed.
		default:
			rep.Failures++
			k.logger.Debug().Err(err).Str("symbol", symbol).Msg("funding settlement skipped")
		}
	}

	c, err := k.engine.Candidates(ctx, symbol)
	if err != nil {
		// Stale or missing prices make the market unactionable for now.
		if !riskerr.IsRecoverable(err) {
			rep.Failures++
		}
		k.logger.Debug().Err(err).Str("symbol", symbol).Msg("no candidates")
		return
	}

	for _, owner := range c.StopLosses {
		if _, err := k.engine.ExecuteStopLoss(ctx, k.cfg.Liquidator, owner, symbol); err != nil {
			rep.Failures++
			k.logger.Debug().Err(err).Str("symbol", symbol).Str("owner", owner.String()).Msg("stop loss not executed")
			continue
		}
		rep.StopLosses++
	}

	for _, owner := range c.Liquidatable {
		var err error
		if k.cfg.MaxLiquidationPct == 100 {
			_, err = k.engine.Liquidate(ctx, k.cfg.Liquidator, owner, symbol)
		} else {
			_, err = k.engine.EnhancedLiquidate(ctx, k.cfg.Liquidator, owner, symbol, k.cfg.MaxLiquidationPct)
		}
		if err != nil {
			// A stop-loss in this sweep may already have closed it.
			if code, _ := riskerr.CodeOf(err); code != riskerr.PositionNotFound {
				rep.Failures++
			}
			k.logger.Debug().Err(err).Str("symbol", symbol).Str("owner", owner.String()).Msg("liquidation not executed")
			continue
		}
		rep.Liquidations++
		k.logger.Info().Str("symbol", symbol).Str("owner", owner.String()).Msg("liquidated position")
	}
}
