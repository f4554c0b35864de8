// internal/math/funding.go
package math

import (
	"bytes"
	"sort"
)

// ComputeFundingRate derives the per-interval funding rate from open-interest skew.
// rate_fp = skew_k_bps * (long - short) / (long + short), FP-scaled and clamped
// to +/- maxRateFP. Positive rate: longs pay shorts.
func ComputeFundingRate(totalLong, totalShort, skewKBps, maxRateFP int64) (int64, error) {
	oi, err := Add(totalLong, totalShort)
	if err != nil {
		return 0, err
	}
	if oi == 0 {
		return 0, nil
	}

	// imbalance in [-FP, FP]
	imbalance, err := MulDiv(totalLong-totalShort, FP, oi)
	if err != nil {
		return 0, err
	}
	rate, err := MulDiv(imbalance, skewKBps, BpsDenominator)
	if err != nil {
		return 0, err
	}
	if maxRateFP > 0 {
		rate = Clamp(rate, -maxRateFP, maxRateFP)
	}
	return rate, nil
}

// AccrueFunding scales a per-interval rate by the elapsed fraction of the interval.
func AccrueFunding(rateFP, elapsedSeconds, intervalSeconds int64) (int64, error) {
	return MulDiv(rateFP, elapsedSeconds, intervalSeconds)
}

// ComputeFundingPayment calculates the funding owed by a position for a change in
// its side's cumulative funding index.
// Returns: payment in FP quote (positive = position pays, negative = receives)
func ComputeFundingPayment(
	absSize int64, // FP base units
	markPrice int64, // FP price
	deltaCumulativeFP int64, // FP rate
) (int64, error) {
	notional, err := MulDiv(absSize, markPrice, FP)
	if err != nil {
		return 0, err
	}
	return MulDiv(notional, deltaCumulativeFP, FP)
}

// FundingSettlement represents computed funding for all positions of a market
type FundingSettlement struct {
	Symbol        string
	FundingRate   int64
	MarkPrice     int64
	Payments      []UserPayment
	TotalPaid     int64
	TotalReceived int64
}

// Imbalance is what longs and shorts do not net out over the settlement:
// positive means the vault collected more than it owes.
func (fs *FundingSettlement) Imbalance() int64 {
	return fs.TotalPaid - fs.TotalReceived
}

type UserPayment struct {
	Owner         [16]byte // UUID binary
	Payment       int64    // Signed FP: positive = pays, negative = receives
	NewCheckpoint int64
}

type PositionForFunding struct {
	Owner      [16]byte
	Size       int64 // signed FP base units
	Checkpoint int64 // side cumulative index at last settlement
}

// ComputeFundingSettlement calculates funding for every open position in a market
// against the current long/short cumulative indices.
func ComputeFundingSettlement(
	symbol string,
	fundingRate int64,
	markPrice int64,
	cumulativeLong int64,
	cumulativeShort int64,
	positions []PositionForFunding,
) (*FundingSettlement, error) {
	// Sort positions by owner for deterministic ordering
	sort.Slice(positions, func(i, j int) bool {
		return bytes.Compare(positions[i].Owner[:], positions[j].Owner[:]) < 0
	})

	payments := make([]UserPayment, 0, len(positions))
	var totalPaid, totalReceived int64

	for _, pos := range positions {
		if pos.Size == 0 {
			continue // flat
		}

		index := cumulativeLong
		if pos.Size < 0 {
			index = cumulativeShort
		}
		delta, err := Sub(index, pos.Checkpoint)
		if err != nil {
			return nil, err
		}
		absSize, err := Abs(pos.Size)
		if err != nil {
			return nil, err
		}

		payment, err := ComputeFundingPayment(absSize, markPrice, delta)
		if err != nil {
			return nil, err
		}

		payments = append(payments, UserPayment{
			Owner:         pos.Owner,
			Payment:       payment,
			NewCheckpoint: index,
		})

		if payment > 0 {
			totalPaid += payment
		} else {
			totalReceived += -payment
		}
	}

	return &FundingSettlement{
		Symbol:        symbol,
		FundingRate:   fundingRate,
		MarkPrice:     markPrice,
		Payments:      payments,
		TotalPaid:     totalPaid,
		TotalReceived: totalReceived,
	}, nil
}
