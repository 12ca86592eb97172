package news

import (
	"math"
	"testing"
)

func newTestBook() *Book {
	// GDP confirms past ±0.02, BCI past ±0.05.
	return NewBook(0.02, 0.02, 0.05, 0.05, nil)
}

func TestFirstGDPReleaseCarriesNoShock(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(1, 104, 10); err != nil {
		t.Fatal(err)
	}
	gdp, _ := b.Shocks()
	if gdp != 0 {
		t.Fatalf("first release shock = %v, want 0", gdp)
	}
	if _, confirmed := b.ConfirmedShockTick(); confirmed {
		t.Fatalf("first release must not confirm a shock")
	}
}

func TestGDPShockIsPointDifference(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(2, 100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordGDP(2, 103, 40); err != nil {
		t.Fatal(err)
	}

	gdp, _ := b.Shocks()
	if math.Abs(gdp-0.03) > 1e-12 {
		t.Fatalf("shock = %v, want 0.03", gdp)
	}
	tick, confirmed := b.ConfirmedShockTick()
	if !confirmed || tick != 40 {
		t.Fatalf("confirmed = %v tick = %d, want true / 40", confirmed, tick)
	}
}

func TestBCIShockIsGrowthRate(t *testing.T) {
	b := newTestBook()
	if err := b.RecordBCI(100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordBCI(108, 25); err != nil {
		t.Fatal(err)
	}

	_, bci := b.Shocks()
	if math.Abs(bci-0.08) > 1e-12 {
		t.Fatalf("shock = %v, want 0.08", bci)
	}
	tick, confirmed := b.ConfirmedShockTick()
	if !confirmed || tick != 25 {
		t.Fatalf("confirmed = %v tick = %d, want true / 25", confirmed, tick)
	}
}

func TestSmallShockIsNotConfirmed(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(1, 100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordGDP(1, 101, 20); err != nil {
		t.Fatal(err)
	}
	if _, confirmed := b.ConfirmedShockTick(); confirmed {
		t.Fatalf("0.01 shock must stay below the 0.02 cap")
	}
}

func TestCorrectionSupersedesAndKeepsTick(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(3, 100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordGDP(3, 101, 30); err != nil {
		t.Fatal(err)
	}
	// Correction: the release was actually 104.
	if err := b.Correct(GDP, 3, 104, 60); err != nil {
		t.Fatal(err)
	}

	// The shock is measured against the 100 baseline, not the superseded 101.
	gdp, _ := b.Shocks()
	if math.Abs(gdp-0.04) > 1e-12 {
		t.Fatalf("corrected shock = %v, want 0.04", gdp)
	}
	tick, confirmed := b.ConfirmedShockTick()
	if !confirmed || tick != 30 {
		t.Fatalf("correction must keep the original tick, got %d", tick)
	}

	events := b.Events()
	superseded := 0
	for _, ev := range events {
		if ev.Superseded {
			superseded++
		}
	}
	if superseded != 1 {
		t.Fatalf("superseded events = %d, want 1", superseded)
	}
}

func TestCorrectWithoutPriorEventFails(t *testing.T) {
	b := newTestBook()
	if err := b.Correct(BCI, 0, 99, 10); err == nil {
		t.Fatalf("expected an error correcting an empty book")
	}
}

func TestInvalidQuarterRejected(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(5, 100, 0); err == nil {
		t.Fatalf("quarter 5 must be rejected")
	}
}

func TestCorrectionCancellingSpikeLeavesNoShock(t *testing.T) {
	b := newTestBook()
	if err := b.RecordGDP(1, 100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordGDP(1, 110, 20); err != nil {
		t.Fatal(err)
	}
	// The 110 print was fat-fingered; the real figure matches the baseline.
	if err := b.Correct(GDP, 1, 100, 25); err != nil {
		t.Fatal(err)
	}

	gdp, _ := b.Shocks()
	if gdp != 0 {
		t.Fatalf("corrected shock = %v, want 0", gdp)
	}
	if _, confirmed := b.ConfirmedShockTick(); confirmed {
		t.Fatalf("cancelled spike must not stay confirmed")
	}
}

func TestBCICorrectionUsesPriorBaseline(t *testing.T) {
	b := newTestBook()
	if err := b.RecordBCI(100, 5); err != nil {
		t.Fatal(err)
	}
	if err := b.RecordBCI(112, 20); err != nil {
		t.Fatal(err)
	}
	if err := b.Correct(BCI, 0, 104, 30); err != nil {
		t.Fatal(err)
	}

	_, bci := b.Shocks()
	if math.Abs(bci-0.04) > 1e-12 {
		t.Fatalf("corrected shock = %v, want 0.04", bci)
	}
	if _, confirmed := b.ConfirmedShockTick(); confirmed {
		t.Fatalf("0.04 must stay below the 0.05 cap after correction")
	}
}
