package riskerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeWrapping(t *testing.T) {
	err := fmt.Errorf("open BTC: %w", LeverageTooHigh)

	if !errors.Is(err, LeverageTooHigh) {
		t.Fatal("wrapped code must match with errors.Is")
	}
	if errors.Is(err, InsufficientMargin) {
		t.Fatal("unexpected match")
	}

	code, ok := CodeOf(err)
	if !ok || code != LeverageTooHigh {
		t.Fatalf("CodeOf: got %d, %v", code, ok)
	}
	if uint32(code) != 6020 {
		t.Errorf("LeverageTooHigh code: got %d, want 6020", code)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(errors.New("boom")); ok {
		t.Error("plain error must not carry a code")
	}
	if IsRecoverable(errors.New("boom")) || RequiresEmergencyPause(nil) {
		t.Error("uncoded errors are neither recoverable nor pausing")
	}
}

func TestClassification(t *testing.T) {
	recoverable := []Code{BadOracle, InsufficientLiquidity, MarketImpactTooHigh, OracleConfidenceLow}
	for _, c := range recoverable {
		if !c.IsRecoverable() {
			t.Errorf("%s should be recoverable", c.Name())
		}
		if c.RequiresEmergencyPause() {
			t.Errorf("%s should not require pause", c.Name())
		}
	}

	pausing := []Code{OracleConsensusFailure, CircuitBreakerTriggered, ExceedsRiskLimits}
	for _, c := range pausing {
		if !c.RequiresEmergencyPause() {
			t.Errorf("%s should require emergency pause", c.Name())
		}
		if c.IsRecoverable() {
			t.Errorf("%s should not be recoverable", c.Name())
		}
	}

	if WouldBeLiquidated.IsRecoverable() || WouldBeLiquidated.RequiresEmergencyPause() {
		t.Error("WouldBeLiquidated is terminal for the operation")
	}

	if !RequiresEmergencyPause(Wrap(CircuitBreakerTriggered, "BTC moved %d bps", 1500)) {
		t.Error("classification must see through wrapping")
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		code Code
		want Category
	}{
		{MathOverflow, CategoryMath},
		{InvalidClosePercentage, CategoryPosition},
		{InvalidPrice, CategoryOracle},
		{MarketImpactTooHigh, CategoryMarket},
		{InvalidDerivation, CategoryAccess},
		{ConcentrationLimitExceeded, CategoryRisk},
		{InvalidTokenMint, CategoryToken},
		{FundingPaymentFailed, CategoryFunding},
		{AlreadyInitialized, CategoryProtocol},
		{OrderAlreadyExecuted, CategoryOrder},
		{Code(42), CategoryUnknown},
	}
	for _, tt := range tests {
		if got := tt.code.Category(); got != tt.want {
			t.Errorf("%d: got %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestEveryCodeHasMessageAndName(t *testing.T) {
	for code, name := range names {
		if _, ok := messages[code]; !ok {
			t.Errorf("%s has no message", name)
		}
		if code.Name() != name {
			t.Errorf("Name(%d) = %s, want %s", code, code.Name(), name)
		}
	}
	if Code(1).Error() != "error code 1" {
		t.Errorf("unknown code message: %q", Code(1).Error())
	}
}
