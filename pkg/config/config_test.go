package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParamsMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p != DefaultParams() {
		t.Fatalf("missing file must yield defaults")
	}
}

func TestLoadParamsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	data := `
max_position_usage: 0.5
strict_limits: false
etf_duration: 25
deviation_threshold_high: 0.9
strategy3_etf: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadParams(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxPositionUsage != 0.5 || p.StrictLimits || p.ETFDuration != 25 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.DeviationThresholdHigh != 0.9 {
		t.Fatalf("deviation_threshold_high = %v", p.DeviationThresholdHigh)
	}
	if p.Strategy3ETF {
		t.Fatalf("strategy3_etf toggle not applied")
	}
	// Untouched keys keep their defaults.
	if p.TicksPerPeriod != DefaultParams().TicksPerPeriod {
		t.Fatalf("unrelated default changed: %v", p.TicksPerPeriod)
	}
}

func TestLoadParamsRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"usage over one", "max_position_usage: 1.5"},
		{"negative sleep", "sleep_time: -1"},
		{"cutoff past session", "ticks_per_period: 100\nend_trade_before: 100"},
		{"inverted quantiles", "volatility_quantile_threshold: 0.1\nvolatility_quantile_threshold_low: 0.9"},
		{"zero order size", "arbitrage_order_size: 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "params.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadParams(path); err == nil {
				t.Fatalf("expected validation error for %q", tc.yaml)
			}
		})
	}
}

func TestLoadParamsRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadParams(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
