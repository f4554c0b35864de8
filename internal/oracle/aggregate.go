package oracle

import (
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// Source is the set of feeds backing one market price.
type Source interface {
	primary() *state.OraclePrice
}

// PrimaryOnly prices a market from its canonical record alone.
type PrimaryOnly struct {
	Primary *state.OraclePrice
}

// PrimaryWithSecondary cross-checks the canonical record against a second
// feed. The secondary is read from its raw external record when it has one,
// otherwise from its own canonical price. A nil Secondary is a missing feed.
type PrimaryWithSecondary struct {
	Primary   *state.OraclePrice
	Secondary *state.OraclePrice
}

func (s PrimaryOnly) primary() *state.OraclePrice          { return s.Primary }
func (s PrimaryWithSecondary) primary() *state.OraclePrice { return s.Primary }

// Result describes how an aggregated price was obtained.
type Result struct {
	PriceFP      int64
	PrimaryFP    int64
	SecondaryFP  int64 // 0 when unused
	DeviationBps int64

	// SecondaryErr is set when the secondary was rejected and the primary
	// alone was used.
	SecondaryErr error
}

const (
	primaryWeight   = 70
	secondaryWeight = 30
)

// Aggregate produces the validated price for a source.
func Aggregate(src Source, cfg Config, now int64) (Result, error) {
	if src == nil {
		return Result{}, riskerr.OracleFeedNotFound
	}
	primary, err := Validate(src.primary(), cfg, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{PriceFP: primary, PrimaryFP: primary}

	both, ok := src.(PrimaryWithSecondary)
	if !ok {
		return res, nil
	}

	secondary, err := readSecondary(both.Secondary, cfg, now)
	if err != nil {
		res.SecondaryErr = err
		return res, nil
	}

	dev, err := fpmath.DeviationBps(primary, secondary)
	if err != nil {
		return Result{}, err
	}
	res.SecondaryFP = secondary
	res.DeviationBps = dev
	if dev > cfg.MaxPriceDeviationBps {
		return Result{}, riskerr.Wrap(riskerr.OraclePriceDeviation, "primary %d vs secondary %d: %d bps", primary, secondary, dev)
	}

	weighted, err := weightedAverage(primary, secondary)
	if err != nil {
		return Result{}, err
	}
	res.PriceFP = weighted
	return res, nil
}

func readSecondary(o *state.OraclePrice, cfg Config, now int64) (int64, error) {
	if o == nil {
		return 0, riskerr.Wrap(riskerr.OracleFeedNotFound, "secondary feed has no record")
	}
	if len(o.External) == 0 {
		return Validate(o, cfg, now)
	}
	feed, err := DecodeExternalFeed(o.External)
	if err != nil {
		return 0, err
	}
	return ReadExternal(feed, cfg, now)
}

func weightedAverage(primary, secondary int64) (int64, error) {
	a, err := fpmath.Mul(primary, primaryWeight)
	if err != nil {
		return 0, err
	}
	b, err := fpmath.Mul(secondary, secondaryWeight)
	if err != nil {
		return 0, err
	}
	sum, err := fpmath.Add(a, b)
	if err != nil {
		return 0, err
	}
	return sum / (primaryWeight + secondaryWeight), nil
}
