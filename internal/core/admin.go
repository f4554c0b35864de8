package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

type InitializeConfigRequest struct {
	Admin            uuid.UUID `json:"admin" yaml:"admin"`
	QuoteAsset       string    `json:"quote_asset" yaml:"quote_asset"`
	FeeBps           int64     `json:"fee_bps" yaml:"fee_bps"`
	LiqFeeBps        int64     `json:"liq_fee_bps" yaml:"liq_fee_bps"`
	CreatorRewardBps int64     `json:"creator_reward_bps" yaml:"creator_reward_bps"`
	FeeDestination   uuid.UUID `json:"fee_destination" yaml:"fee_destination"`
	InsuranceVault   uuid.UUID `json:"insurance_vault" yaml:"insurance_vault"`
}

// InitializeConfig creates the protocol config and the insurance fund. It
// may run once.
func (e *Engine) InitializeConfig(ctx context.Context, req InitializeConfigRequest) (*state.Config, error) {
	var out *state.Config
	err := e.run(ctx, "initialize_config", func(oc *opCtx) error {
		if _, err := oc.tx.GetConfig(); err == nil {
			return riskerr.Wrap(riskerr.AlreadyInitialized, "protocol config")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, ok := ledger.GetAssetID(req.QuoteAsset); !ok {
			return riskerr.Wrap(riskerr.InvalidTokenMint, "quote asset %q", req.QuoteAsset)
		}
		vault := req.InsuranceVault
		if vault == uuid.Nil {
			vault = uuid.New()
		}
		cfg, err := state.NewConfig(req.Admin, req.QuoteAsset, req.FeeBps, req.LiqFeeBps,
			req.CreatorRewardBps, req.FeeDestination, vault)
		if err != nil {
			return err
		}
		if err := oc.tx.PutConfig(cfg); err != nil {
			return err
		}
		if err := oc.tx.PutInsuranceFund(&state.InsuranceFund{Vault: vault}); err != nil {
			return err
		}
		oc.emit(configUpdated(cfg, req.Admin, "initialize"))
		out = cfg.Clone()
		return nil
	})
	return out, err
}

func configUpdated(cfg *state.Config, admin uuid.UUID, change string) *event.ConfigUpdated {
	return &event.ConfigUpdated{
		Admin:                      admin,
		Change:                     change,
		Paused:                     cfg.Paused,
		FeeDestination:             cfg.FeeDestination,
		MaxPositionsPerUser:        cfg.MaxPositionsPerUser,
		MaxTotalPositions:          cfg.MaxTotalPositions,
		EmergencyPauseThreshold:    cfg.EmergencyPauseThreshold,
		CircuitBreakerThresholdBps: cfg.CircuitBreakerThresholdBps,
	}
}

// adminConfig runs an admin-only config mutation.
func (e *Engine) adminConfig(ctx context.Context, op string, admin uuid.UUID, change string, fn func(cfg *state.Config) error) (*state.Config, error) {
	var out *state.Config
	err := e.run(ctx, op, func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.Unauthorized, "%s is not admin", admin)
		}
		if err := fn(oc.cfg); err != nil {
			return err
		}
		if err := oc.tx.PutConfig(oc.cfg); err != nil {
			return err
		}
		oc.emit(configUpdated(oc.cfg, admin, change))
		out = oc.cfg.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) SetFeeDestination(ctx context.Context, admin, destination uuid.UUID) (*state.Config, error) {
	return e.adminConfig(ctx, "set_fee_destination", admin, "fee_destination", func(cfg *state.Config) error {
		if destination == uuid.Nil {
			return riskerr.Wrap(riskerr.InvalidParameters, "fee destination must be set")
		}
		cfg.FeeDestination = destination
		return nil
	})
}

// Pause sets or clears the protocol-wide pause.
func (e *Engine) Pause(ctx context.Context, admin uuid.UUID, paused bool) (*state.Config, error) {
	cfg, err := e.adminConfig(ctx, "pause", admin, "pause", func(cfg *state.Config) error {
		cfg.Paused = paused
		return nil
	})
	if err == nil {
		e.logger.Warn().Str("admin", admin.String()).Bool("paused", paused).Msg("protocol pause changed")
	}
	return cfg, err
}

func (e *Engine) UpdateRiskParameters(ctx context.Context, admin uuid.UUID, u state.RiskUpdate) (*state.Config, error) {
	return e.adminConfig(ctx, "update_risk_parameters", admin, "risk_parameters", func(cfg *state.Config) error {
		return cfg.ApplyRiskUpdate(u)
	})
}

// adminMarket runs an admin-only mutation of an existing market.
func (e *Engine) adminMarket(ctx context.Context, op string, admin uuid.UUID, symbol string, fn func(m *state.Market) error) (*state.Market, error) {
	var out *state.Market
	err := e.run(ctx, op, func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.Unauthorized, "%s is not admin", admin)
		}
		m, err := oc.market(symbol)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		if err := oc.tx.PutMarket(m); err != nil {
			return err
		}
		oc.emit(&event.MarketUpdated{Market: m.Symbol, MaxPositionBase: m.MaxPositionBase, IsPaused: m.IsPaused})
		out = m.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) CreateMarket(ctx context.Context, admin uuid.UUID, p state.MarketParams) (*state.Market, error) {
	var out *state.Market
	err := e.run(ctx, "create_market", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.Unauthorized, "%s is not admin", admin)
		}
		m, err := state.NewMarket(p, oc.now)
		if err != nil {
			return err
		}
		if _, err := oc.tx.GetMarket(p.Symbol); err == nil {
			return riskerr.Wrap(riskerr.AlreadyInitialized, "market %q", p.Symbol)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := oc.tx.PutMarket(m); err != nil {
			return err
		}
		oc.emit(&event.MarketCreated{
			Market:               m.Symbol,
			PrimaryFeed:          m.PrimaryFeed,
			SecondaryFeed:        m.SecondaryFeed,
			MaxLeverage:          m.MaxLeverage(),
			MaintenanceMarginBps: m.MaintenanceMarginBps,
			MaxPositionBase:      m.MaxPositionBase,
		})
		out = m.Clone()
		return nil
	})
	return out, err
}

func (e *Engine) EditMaxPosition(ctx context.Context, admin uuid.UUID, symbol string, maxPositionBase int64) (*state.Market, error) {
	return e.adminMarket(ctx, "edit_max_position", admin, symbol, func(m *state.Market) error {
		if maxPositionBase <= 0 {
			return riskerr.Wrap(riskerr.InvalidMarketParameters, "max_position_base must be positive")
		}
		m.MaxPositionBase = maxPositionBase
		return nil
	})
}

// SetMarketPaused pauses or resumes one market, e.g. after a circuit breaker trip.
func (e *Engine) SetMarketPaused(ctx context.Context, admin uuid.UUID, symbol string, paused bool) (*state.Market, error) {
	return e.adminMarket(ctx, "set_market_paused", admin, symbol, func(m *state.Market) error {
		m.IsPaused = paused
		return nil
	})
}

// DepositWallet credits a trader wallet from outside the venue.
func (e *Engine) DepositWallet(ctx context.Context, admin, owner uuid.UUID, amount int64) error {
	return e.run(ctx, "deposit_wallet", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.Unauthorized, "%s is not admin", admin)
		}
		if amount <= 0 {
			return riskerr.Wrap(riskerr.TokenTransferFailed, "deposit amount %d must be positive", amount)
		}
		oc.transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, oc.asset), oc.wallet(owner),
			ledger.ProtocolAuthority, amount, ledger.JournalTypeWalletDeposit)
		oc.emit(&event.WalletDeposited{Owner: owner, Amount: amount})
		return nil
	})
}

// SeedVault adds liquidity to the custody vault, which pays trader profits.
func (e *Engine) SeedVault(ctx context.Context, admin uuid.UUID, amount int64) error {
	return e.run(ctx, "seed_vault", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.Unauthorized, "%s is not admin", admin)
		}
		if amount <= 0 {
			return riskerr.Wrap(riskerr.TokenTransferFailed, "seed amount %d must be positive", amount)
		}
		oc.transfer(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, oc.asset), oc.custody(),
			ledger.ProtocolAuthority, amount, ledger.JournalTypeVaultSeed)
		oc.emit(&event.VaultSeeded{Admin: admin, Amount: amount})
		return nil
	})
}

// Config returns the protocol config.
func (e *Engine) Config(ctx context.Context) (*state.Config, error) {
	var out *state.Config
	err := e.store.View(ctx, func(tx store.Tx) error {
		cfg, err := tx.GetConfig()
		if errors.Is(err, store.ErrNotFound) {
			return riskerr.Wrap(riskerr.InvalidProtocolConfig, "protocol not initialized")
		}
		out = cfg
		return err
	})
	return out, err
}
