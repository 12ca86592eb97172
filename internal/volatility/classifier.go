// Package volatility maintains rolling price windows per instrument and
// classifies each instrument's current volatility regime, which selects the
// threshold set the strategies trade with.
package volatility

import (
	"math"
	"sync"

	"arbengine/internal/events"
	"arbengine/internal/market"
)

// Regime buckets an instrument's current volatility.
type Regime string

const (
	Unset Regime = "UNSET"
	Low   Regime = "LOW"
	Mid   Regime = "MID"
	High  Regime = "HIGH"
)

// historyCap bounds the fleet-wide pool of sigma observations the quantile
// rank is computed against.
const historyCap = 512

// Classifier keeps a bounded window of prices per instrument and ranks the
// realized volatility of each window against the fleet-wide history.
type Classifier struct {
	mu           sync.Mutex
	window       int
	startTick    int
	highQuantile float64
	lowQuantile  float64
	prices       map[string][]float64
	regimes      map[string]Regime
	sigmaHistory []float64
	bus          *events.Bus
	warnedHigh   map[string]bool
}

// NewClassifier builds a classifier. window is the rolling capacity,
// startTick the first tick a non-UNSET classification may be produced, and
// the quantiles select the HIGH and LOW cut lines within the fleet history.
func NewClassifier(window, startTick int, highQuantile, lowQuantile float64, bus *events.Bus) *Classifier {
	if window < 2 {
		window = 2
	}
	return &Classifier{
		window:       window,
		startTick:    startTick,
		highQuantile: highQuantile,
		lowQuantile:  lowQuantile,
		prices:       make(map[string][]float64),
		regimes:      make(map[string]Regime),
		bus:          bus,
		warnedHigh:   make(map[string]bool),
	}
}

// Observe appends a price to the instrument's window, evicting the oldest
// observation once the window is full.
func (c *Classifier) Observe(instrument string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	arr := append(c.prices[instrument], price)
	if len(arr) > c.window {
		arr = arr[len(arr)-c.window:]
	}
	c.prices[instrument] = arr

	if len(arr) == c.window {
		c.sigmaHistory = append(c.sigmaHistory, sigma(arr))
		if len(c.sigmaHistory) > historyCap {
			c.sigmaHistory = c.sigmaHistory[len(c.sigmaHistory)-historyCap:]
		}
	}
}

// Classify returns the instrument's regime at the given tick. UNSET before
// the signal start tick or while the window is not yet full. The returned
// regime is latched, so it only changes when Classify runs again on a later
// tick; there is no mid-tick switching.
func (c *Classifier) Classify(instrument string, tick int) Regime {
	c.mu.Lock()
	defer c.mu.Unlock()

	arr := c.prices[instrument]
	if tick < c.startTick || len(arr) < c.window || len(c.sigmaHistory) == 0 {
		c.regimes[instrument] = Unset
		return Unset
	}

	rank := quantileRank(c.sigmaHistory, sigma(arr))
	regime := Mid
	switch {
	case rank >= c.highQuantile:
		regime = High
	case rank <= c.lowQuantile:
		regime = Low
	}

	c.regimes[instrument] = regime
	c.maybeWarnLocked(instrument, regime)
	return regime
}

// Regime returns the last latched classification without recomputing.
func (c *Classifier) Regime(instrument string) Regime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.regimes[instrument]; ok {
		return r
	}
	return Unset
}

// maybeWarnLocked emits a one-shot warning when an ETF-class instrument
// crosses into the high regime.
func (c *Classifier) maybeWarnLocked(instrument string, regime Regime) {
	etf := instrument == market.JOYC || instrument == market.JOYU
	if !etf {
		return
	}
	if regime == High && !c.warnedHigh[instrument] {
		c.warnedHigh[instrument] = true
		if c.bus != nil {
			c.bus.Publish(events.EventVolatilityWarning, map[string]any{
				"instrument": instrument,
				"regime":     string(regime),
			})
		}
	}
	if regime != High {
		c.warnedHigh[instrument] = false
	}
}

// sigma is the realized standard deviation of one-step returns over a window.
func sigma(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, prices[i]/prices[i-1]-1)
		}
	}
	n := float64(len(returns))
	if n == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= n
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance / n)
}

// quantileRank is the fraction of the pool strictly below v.
func quantileRank(pool []float64, v float64) float64 {
	below := 0
	for _, s := range pool {
		if s < v {
			below++
		}
	}
	return float64(below) / float64(len(pool))
}
