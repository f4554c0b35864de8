package math

import (
	"testing"
)

func TestComputeFundingRate(t *testing.T) {
	tests := []struct {
		name         string
		long, short  int64
		skewK, maxFP int64
		want         int64
	}{
		{"no open interest", 0, 0, 100, 5_000, 0},
		{"balanced", 10, 10, 100, 5_000, 0},
		{"all long", 10_000_000, 0, 100, 50_000, 10_000},
		{"all short", 0, 10_000_000, 100, 50_000, -10_000},
		{"clamped", 10_000_000, 0, 100, 5_000, 5_000},
		{"three to one", 30_000_000, 10_000_000, 200, 50_000, 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeFundingRate(tt.long, tt.short, tt.skewK, tt.maxFP)
			if err != nil {
				t.Fatalf("err: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeFundingSettlementDeterministic(t *testing.T) {
	ownerA := [16]byte{0x01}
	ownerB := [16]byte{0x02}
	ownerC := [16]byte{0x03}

	positions := []PositionForFunding{
		{Owner: ownerC, Size: -10_000_000, Checkpoint: 0},
		{Owner: ownerA, Size: 10_000_000, Checkpoint: 0},
		{Owner: ownerB, Size: 0},
	}

	// longs index +1000 (0.1%), shorts -1000
	fs, err := ComputeFundingSettlement("BTC", 1000, 100_000_000, 1000, -1000, positions)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if len(fs.Payments) != 2 {
		t.Fatalf("flat positions are skipped: got %d payments", len(fs.Payments))
	}
	if fs.Payments[0].Owner != ownerA {
		t.Error("payments must be ordered by owner")
	}

	// notional 1000e6 FP * 0.001 = 1e6 FP = $1
	if fs.Payments[0].Payment != 1_000_000 {
		t.Errorf("long pays: got %d", fs.Payments[0].Payment)
	}
	if fs.Payments[1].Payment != -1_000_000 {
		t.Errorf("short receives: got %d", fs.Payments[1].Payment)
	}
	if fs.Imbalance() != 0 {
		t.Errorf("balanced book must net to zero, got %d", fs.Imbalance())
	}
	if fs.Payments[1].NewCheckpoint != -1000 {
		t.Errorf("short checkpoint = %d", fs.Payments[1].NewCheckpoint)
	}
}

func TestAccrueFunding(t *testing.T) {
	got, err := AccrueFunding(10_000, 1800, 3600)
	if err != nil || got != 5_000 {
		t.Errorf("half an interval: got %d, %v", got, err)
	}
}
