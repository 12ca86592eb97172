package ledger

import (
	"errors"
	"math"
	"testing"

	"arbengine/internal/market"
)

func fill(instrument string, size, price float64) market.Fill {
	return market.Fill{OrderID: "t", Instrument: instrument, Size: size, Price: price}
}

func TestApplyFillAverageCost(t *testing.T) {
	l := New(1_000_000, 0.8, true, nil)

	l.ApplyFill(fill(market.SAD, 100, 10), "manual")
	l.ApplyFill(fill(market.SAD, 100, 12), "manual")

	pos := l.Position(market.SAD)
	if pos.Qty != 200 {
		t.Fatalf("qty = %v, want 200", pos.Qty)
	}
	if pos.AvgCost != 11 {
		t.Fatalf("avg cost = %v, want 11", pos.AvgCost)
	}

	// Reduce half at 13: realize 100 * (13 - 11) = 200, cost basis unchanged.
	l.ApplyFill(fill(market.SAD, -100, 13), "manual")
	pos = l.Position(market.SAD)
	if pos.Qty != 100 || pos.AvgCost != 11 {
		t.Fatalf("after reduce: qty %v avg %v, want 100 / 11", pos.Qty, pos.AvgCost)
	}
	if pos.Realized != 200 {
		t.Fatalf("realized = %v, want 200", pos.Realized)
	}
}

func TestApplyFillCrossThroughZero(t *testing.T) {
	l := New(1_000_000, 0.8, true, nil)

	l.ApplyFill(fill(market.CRY, 100, 10), "manual")
	l.ApplyFill(fill(market.CRY, -250, 12), "manual")

	pos := l.Position(market.CRY)
	if pos.Qty != -150 {
		t.Fatalf("qty = %v, want -150", pos.Qty)
	}
	// Old long leg realized at 12, the new short leg opens at 12.
	if pos.Realized != 200 {
		t.Fatalf("realized = %v, want 200", pos.Realized)
	}
	if pos.AvgCost != 12 {
		t.Fatalf("avg cost = %v, want 12", pos.AvgCost)
	}
}

func TestValidateStrictCap(t *testing.T) {
	// Cap: 0.8 * 100000 = 80000 notional.
	cases := []struct {
		name  string
		held  float64
		size  float64
		price float64
		ok    bool
	}{
		{"within cap", 0, 1000, 10, true},
		{"at cap exactly", 0, 8000, 10, true},
		{"over cap", 0, 8001, 10, false},
		{"over cap from held", 7000, 2000, 10, false},
		{"reducing always passes", 9000, -2000, 10, true},
		{"short over cap", 0, -8001, 10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := New(100_000, 0.8, true, nil)
			if tc.held != 0 {
				l.ApplyFill(fill(market.FEAR, tc.held, 0.0001), "manual")
			}
			err := l.Validate(market.FEAR, tc.size, tc.price)
			if tc.ok && err != nil {
				t.Fatalf("unexpected reject: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected rejection")
				}
				if !errors.Is(err, ErrCapacityExceeded) {
					t.Fatalf("error = %v, want ErrCapacityExceeded", err)
				}
			}
		})
	}
}

func TestValidateLenientFlagsOnly(t *testing.T) {
	l := New(100_000, 0.8, false, nil)
	if err := l.Validate(market.SAD, 100000, 10); err != nil {
		t.Fatalf("lenient limits must not reject: %v", err)
	}
}

func TestAvailableCapacityNeverExceedsCap(t *testing.T) {
	l := New(100_000, 0.8, true, nil)
	l.ApplyFill(fill(market.JOYC, 3000, 10), "etf")

	capacity := l.AvailableCapacity(market.JOYC, 10)
	post := math.Abs(3000+capacity) * 10
	if post > 0.8*100_000+1e-9 {
		t.Fatalf("capacity %v pushes notional %v past the cap", capacity, post)
	}
	if capacity != 5000 {
		t.Fatalf("capacity = %v, want 5000", capacity)
	}
}

func TestUnrealizedPnLRate(t *testing.T) {
	l := New(1_000_000, 0.8, true, nil)
	l.ApplyFill(fill(market.JOYU, -1000, 20), "etf")

	// Short from 20, marked at 19: pnl 1000, basis 20000, rate 0.05.
	rate := l.UnrealizedPnLRate(market.JOYU, 19)
	if math.Abs(rate-0.05) > 1e-12 {
		t.Fatalf("rate = %v, want 0.05", rate)
	}
	if r := l.UnrealizedPnLRate(market.SAD, 10); r != 0 {
		t.Fatalf("flat position rate = %v, want 0", r)
	}
}

func TestStrategyExposureTracksAndClears(t *testing.T) {
	l := New(1_000_000, 0.8, true, nil)
	l.ApplyFill(fill(market.JOYC, -500, 40), "conversion")
	l.ApplyFill(fill(market.SAD, 500, 10), "conversion")

	exp := l.StrategyExposure("conversion")
	if exp[market.JOYC] != -500 || exp[market.SAD] != 500 {
		t.Fatalf("exposure = %v", exp)
	}

	l.ApplyFill(fill(market.JOYC, 500, 39), "conversion")
	l.ApplyFill(fill(market.SAD, -500, 11), "conversion")
	if exp := l.StrategyExposure("conversion"); len(exp) != 0 {
		t.Fatalf("exposure should clear when flat, got %v", exp)
	}
}
