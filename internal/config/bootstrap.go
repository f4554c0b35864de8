package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"PerpRisk/internal/core"
	"PerpRisk/internal/ledger"
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// Bootstrap describes the protocol state created at start-up. Applying it
// is idempotent: existing config, markets and prices are left untouched.
type Bootstrap struct {
	Config    core.InitializeConfigRequest `yaml:"config"`
	SeedVault int64                        `yaml:"seed_vault"` // raw quote units
	Markets   []state.MarketParams         `yaml:"markets"`
	Prices    []PriceSeed                  `yaml:"prices"`
}

// PriceSeed is an initial feed price in decimal notation ("65000.25").
type PriceSeed struct {
	Feed          string `yaml:"feed"`
	Price         string `yaml:"price"`
	Confidence    string `yaml:"confidence"` // defaults to 1bp of price
	NumPublishers int64  `yaml:"num_publishers"`
}

// LoadBootstrap reads a bootstrap file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}
	return ParseBootstrap(raw)
}

func ParseBootstrap(raw []byte) (*Bootstrap, error) {
	var b Bootstrap
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("parse bootstrap: %w", err)
	}
	if b.Config.QuoteAsset == "" {
		return nil, errors.New("bootstrap: config.quote_asset is required")
	}
	for i, p := range b.Prices {
		if p.Feed == "" || p.Price == "" {
			return nil, fmt.Errorf("bootstrap: prices[%d] needs feed and price", i)
		}
	}
	return &b, nil
}

// Engine is the engine surface Apply drives.
type Engine interface {
	InitializeConfig(ctx context.Context, req core.InitializeConfigRequest) (*state.Config, error)
	SeedVault(ctx context.Context, admin uuid.UUID, amount int64) error
	CreateMarket(ctx context.Context, admin uuid.UUID, p state.MarketParams) (*state.Market, error)
	OraclePrice(ctx context.Context, feed string) (*state.OraclePrice, error)
	UpdateOraclePrice(ctx context.Context, u core.PriceUpdate) (*state.OraclePrice, error)
}

// ApplyReport counts what Apply created.
type ApplyReport struct {
	Initialized    bool
	MarketsCreated int
	PricesSet      int
}

// Apply creates whatever part of the bootstrap state does not exist yet.
func (b *Bootstrap) Apply(ctx context.Context, eng Engine, logger zerolog.Logger) (ApplyReport, error) {
	var rep ApplyReport
	admin := b.Config.Admin

	switch _, err := eng.InitializeConfig(ctx, b.Config); {
	case err == nil:
		rep.Initialized = true
		if b.SeedVault > 0 {
			if err := eng.SeedVault(ctx, admin, b.SeedVault); err != nil {
				return rep, fmt.Errorf("seed vault: %w", err)
			}
		}
	case isCode(err, riskerr.AlreadyInitialized):
	default:
		return rep, fmt.Errorf("initialize config: %w", err)
	}

	for _, p := range b.Markets {
		_, err := eng.CreateMarket(ctx, admin, p)
		switch {
		case err == nil:
			rep.MarketsCreated++
		case isCode(err, riskerr.AlreadyInitialized):
		default:
			return rep, fmt.Errorf("create market %s: %w", p.Symbol, err)
		}
	}

	for _, p := range b.Prices {
		if _, err := eng.OraclePrice(ctx, p.Feed); err == nil {
			continue
		} else if !isCode(err, riskerr.OracleFeedNotFound) {
			return rep, fmt.Errorf("read feed %s: %w", p.Feed, err)
		}
		u, err := p.update()
		if err != nil {
			return rep, err
		}
		if _, err := eng.UpdateOraclePrice(ctx, u); err != nil {
			return rep, fmt.Errorf("seed price %s: %w", p.Feed, err)
		}
		rep.PricesSet++
	}

	logger.Info().
		Bool("initialized", rep.Initialized).
		Int("markets_created", rep.MarketsCreated).
		Int("prices_set", rep.PricesSet).
		Msg("bootstrap applied")
	return rep, nil
}

func (p PriceSeed) update() (core.PriceUpdate, error) {
	price, err := fpmath.ParseFP(p.Price)
	if err != nil {
		return core.PriceUpdate{}, fmt.Errorf("feed %s price: %w", p.Feed, err)
	}
	conf := price / 10_000
	if p.Confidence != "" {
		if conf, err = fpmath.ParseFP(p.Confidence); err != nil {
			return core.PriceUpdate{}, fmt.Errorf("feed %s confidence: %w", p.Feed, err)
		}
	}
	n := p.NumPublishers
	if n == 0 {
		n = 5
	}
	return core.PriceUpdate{
		Publisher:     ledger.ProtocolAuthority,
		Feed:          p.Feed,
		PriceFP:       price,
		ConfidenceFP:  conf,
		NumPublishers: n,
	}, nil
}

func isCode(err error, want riskerr.Code) bool {
	c, ok := riskerr.CodeOf(err)
	return ok && c == want
}
