// Package config loads the immutable engine configuration: environment
// settings for the process plus the strategy parameter set from YAML. Both
// are read once at startup; runtime control state lives elsewhere.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the engine process.
type Config struct {
	Port       string
	DBPath     string
	ParamsPath string
	LogFile    string // optional rotating log file

	// Auth for the HTTP control surface
	JWTSecret        string
	OperatorPassword string

	// Session
	Capital float64

	// Simulator
	SimSeed         int64
	SimTenderChance float64
	SimFailureRate  float64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/session.db"),
		ParamsPath:       getEnv("PARAMS_PATH", "./params.yaml"),
		LogFile:          getEnv("LOG_FILE", ""),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorPassword: getEnv("OPERATOR_PASSWORD", "operator"),
		Capital:          getEnvFloat("CAPITAL", 1_000_000),
		SimSeed:          int64(getEnvInt("SIM_SEED", 0)),
		SimTenderChance:  getEnvFloat("SIM_TENDER_CHANCE", 0.02),
		SimFailureRate:   getEnvFloat("SIM_FAILURE_RATE", 0),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Params is the full strategy parameter set, loaded once from YAML and passed
// by value into every component at construction.
type Params struct {
	Strategy1Tender     bool `yaml:"strategy1_tender"`
	Strategy2Conversion bool `yaml:"strategy2_conversion"`
	Strategy3ETF        bool `yaml:"strategy3_etf"`
	Strategy4ProfitLoss bool `yaml:"strategy4_profit_loss"`

	MaxPositionUsage float64 `yaml:"max_position_usage"`
	StrictLimits     bool    `yaml:"strict_limits"`
	EndTradeBefore   int     `yaml:"end_trade_before"`
	TicksPerPeriod   int     `yaml:"ticks_per_period"`
	SleepTime        float64 `yaml:"sleep_time"` // seconds between ticks

	DeviationThresholdLow  float64 `yaml:"deviation_threshold_low"`
	DeviationThresholdMid  float64 `yaml:"deviation_threshold_mid"`
	DeviationThresholdHigh float64 `yaml:"deviation_threshold_high"`
	SlippageToleranceLow   float64 `yaml:"slippage_tolerance_low"`
	SlippageToleranceMid   float64 `yaml:"slippage_tolerance_mid"`
	SlippageToleranceHigh  float64 `yaml:"slippage_tolerance_high"`

	CapGDP   float64 `yaml:"cap_gdp"`
	FloorGDP float64 `yaml:"floor_gdp"`
	CapBCI   float64 `yaml:"cap_bci"`
	FloorBCI float64 `yaml:"floor_bci"`

	ConversionDeviationThreshold float64 `yaml:"conversion_deviation_threshold"`
	ETFDeviationThreshold        float64 `yaml:"etf_deviation_threshold"`
	TakeProfitLine               float64 `yaml:"take_profit_line"`
	StopLossLine                 float64 `yaml:"stop_loss_line"`
	TakeProfitLineETF            float64 `yaml:"take_profit_line_etf"`
	StopLossLineETF              float64 `yaml:"stop_loss_line_etf"`

	ArbitrageOrderSize    float64 `yaml:"arbitrage_order_size"`
	ETFArbitrageOrderSize float64 `yaml:"etf_arbitrage_order_size"`
	ShockDuration         int     `yaml:"shock_duration"`
	ETFDuration           int     `yaml:"etf_duration"`

	VolatilityWindows              int     `yaml:"volatility_windows"`
	VolatilityQuantileThreshold    float64 `yaml:"volatility_quantile_threshold"`
	VolatilityQuantileThresholdLow float64 `yaml:"volatility_quantile_threshold_low"`
	VolatilitySignalStartTick      int     `yaml:"volatility_signal_start_tick"`
}

// DefaultParams returns a working parameter set for local sessions.
func DefaultParams() Params {
	return Params{
		Strategy1Tender:     true,
		Strategy2Conversion: true,
		Strategy3ETF:        true,
		Strategy4ProfitLoss: true,

		MaxPositionUsage: 0.8,
		StrictLimits:     true,
		EndTradeBefore:   10,
		TicksPerPeriod:   1200,
		SleepTime:        0.1,

		DeviationThresholdLow:  0.05,
		DeviationThresholdMid:  0.10,
		DeviationThresholdHigh: 0.20,
		SlippageToleranceLow:   0.01,
		SlippageToleranceMid:   0.02,
		SlippageToleranceHigh:  0.05,

		CapGDP:   0.02,
		FloorGDP: 0.02,
		CapBCI:   0.05,
		FloorBCI: 0.05,

		ConversionDeviationThreshold: 0.30,
		ETFDeviationThreshold:        0.15,
		TakeProfitLine:               0.02,
		StopLossLine:                 0.01,
		TakeProfitLineETF:            0.03,
		StopLossLineETF:              0.015,

		ArbitrageOrderSize:    1000,
		ETFArbitrageOrderSize: 1000,
		ShockDuration:         10,
		ETFDuration:           50,

		VolatilityWindows:              30,
		VolatilityQuantileThreshold:    0.8,
		VolatilityQuantileThresholdLow: 0.2,
		VolatilitySignalStartTick:      100,
	}
}

// Validate rejects parameter sets the engine cannot run with.
func (p Params) Validate() error {
	if p.MaxPositionUsage <= 0 || p.MaxPositionUsage > 1 {
		return fmt.Errorf("config: max_position_usage %.2f out of (0,1]", p.MaxPositionUsage)
	}
	if p.TicksPerPeriod <= 0 {
		return fmt.Errorf("config: ticks_per_period must be positive")
	}
	if p.EndTradeBefore < 0 || p.EndTradeBefore >= p.TicksPerPeriod {
		return fmt.Errorf("config: end_trade_before %d out of [0,%d)", p.EndTradeBefore, p.TicksPerPeriod)
	}
	if p.VolatilityWindows < 2 {
		return fmt.Errorf("config: volatility_windows must be at least 2")
	}
	if p.VolatilityQuantileThreshold <= p.VolatilityQuantileThresholdLow {
		return fmt.Errorf("config: volatility quantile thresholds inverted")
	}
	if p.SleepTime < 0 {
		return fmt.Errorf("config: sleep_time must not be negative")
	}
	if p.ArbitrageOrderSize <= 0 || p.ETFArbitrageOrderSize <= 0 {
		return fmt.Errorf("config: order sizes must be positive")
	}
	return nil
}

// LoadParams reads the parameter YAML and fills gaps with defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil // run on defaults when no file is provided
		}
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
