// Package ledger is the single source of truth for positions and risk usage.
// Positions mutate only through ApplyFill; every other component reads.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"arbengine/internal/events"
	"arbengine/internal/market"
)

// ErrCapacityExceeded rejects an order whose post-trade exposure would break
// the position-usage cap under strict limits.
var ErrCapacityExceeded = errors.New("ledger: position capacity exceeded")

// Position tracks one instrument's net holding.
type Position struct {
	Instrument string
	Qty        float64
	AvgCost    float64
	Realized   float64
}

// Notional returns |qty| * price.
func (p Position) Notional(price float64) float64 {
	return math.Abs(p.Qty) * price
}

// Ledger tracks net position, average cost and realized P&L per instrument,
// plus per-strategy exposure, and enforces the global position-usage cap.
type Ledger struct {
	mu           sync.RWMutex
	capital      float64
	maxUsage     float64
	strictLimits bool
	positions    map[string]*Position
	exposure     map[string]map[string]float64 // strategy -> instrument -> qty
	bus          *events.Bus
}

// New creates a ledger for the given capital and usage cap.
func New(capital, maxUsage float64, strictLimits bool, bus *events.Bus) *Ledger {
	return &Ledger{
		capital:      capital,
		maxUsage:     maxUsage,
		strictLimits: strictLimits,
		positions:    make(map[string]*Position),
		exposure:     make(map[string]map[string]float64),
		bus:          bus,
	}
}

// ApplyFill records a confirmed fill: weighted average cost on additions,
// realized P&L on reductions, and strategy-tagged exposure.
func (l *Ledger) ApplyFill(fill market.Fill, strategy string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[fill.Instrument]
	if !ok {
		pos = &Position{Instrument: fill.Instrument}
		l.positions[fill.Instrument] = pos
	}

	oldQty := pos.Qty
	newQty := oldQty + fill.Size

	switch {
	case oldQty == 0 || sameSign(oldQty, fill.Size):
		// Opening or adding: weighted average entry.
		total := math.Abs(oldQty)*pos.AvgCost + math.Abs(fill.Size)*fill.Price
		pos.AvgCost = total / math.Abs(newQty)
	case math.Abs(fill.Size) <= math.Abs(oldQty):
		// Reducing (or exactly flat): realize against the average cost.
		closed := math.Abs(fill.Size)
		if oldQty > 0 {
			pos.Realized += closed * (fill.Price - pos.AvgCost)
		} else {
			pos.Realized += closed * (pos.AvgCost - fill.Price)
		}
		if newQty == 0 {
			pos.AvgCost = 0
		}
	default:
		// Crossing through zero: realize the old leg, open the rest fresh.
		closed := math.Abs(oldQty)
		if oldQty > 0 {
			pos.Realized += closed * (fill.Price - pos.AvgCost)
		} else {
			pos.Realized += closed * (pos.AvgCost - fill.Price)
		}
		pos.AvgCost = fill.Price
	}
	pos.Qty = newQty

	if strategy != "" {
		byInstr, ok := l.exposure[strategy]
		if !ok {
			byInstr = make(map[string]float64)
			l.exposure[strategy] = byInstr
		}
		byInstr[fill.Instrument] += fill.Size
		if byInstr[fill.Instrument] == 0 {
			delete(byInstr, fill.Instrument)
		}
	}

	if l.bus != nil {
		l.bus.Publish(events.EventPositionChange, map[string]any{
			"instrument": fill.Instrument,
			"qty":        pos.Qty,
			"avg_cost":   pos.AvgCost,
			"strategy":   strategy,
		})
	}
}

// AvailableCapacity returns the remaining tradable size for an instrument at
// the given price under max_position_usage of capital.
func (l *Ledger) AvailableCapacity(instrument string, price float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.capacityLocked(instrument, price)
}

func (l *Ledger) capacityLocked(instrument string, price float64) float64 {
	if price <= 0 {
		return 0
	}
	limit := l.maxUsage * l.capital / price
	held := 0.0
	if pos, ok := l.positions[instrument]; ok {
		held = math.Abs(pos.Qty)
	}
	if limit <= held {
		return 0
	}
	return limit - held
}

// Validate checks an order's post-trade exposure against the cap. Under
// strict limits an over-limit order errors and must be rejected whole, never
// truncated. Otherwise it passes flagged for monitoring. Risk-reducing
// orders always pass.
func (l *Ledger) Validate(instrument string, size, price float64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	held := 0.0
	if pos, ok := l.positions[instrument]; ok {
		held = pos.Qty
	}
	post := math.Abs(held + size)
	if post <= math.Abs(held) {
		return nil // reducing exposure
	}
	if price <= 0 {
		return nil
	}
	if post*price <= l.maxUsage*l.capital {
		return nil
	}

	if l.strictLimits {
		return fmt.Errorf("%w: %s post-trade %.0f @ %.2f over %.0f cap",
			ErrCapacityExceeded, instrument, post, price, l.maxUsage*l.capital)
	}
	log.Printf("ledger: %s over limit (post-trade %.0f @ %.2f), accepted for monitoring", instrument, post, price)
	if l.bus != nil {
		l.bus.Publish(events.EventRiskAlert, map[string]any{
			"type":       "OVER_LIMIT",
			"instrument": instrument,
			"post_qty":   post,
		})
	}
	return nil
}

// UnrealizedPnLRate returns the return-on-position for an instrument at the
// given price: unrealized P&L over the capital tied up at entry. Zero for a
// flat position.
func (l *Ledger) UnrealizedPnLRate(instrument string, price float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[instrument]
	if !ok || pos.Qty == 0 || pos.AvgCost == 0 {
		return 0
	}
	basis := math.Abs(pos.Qty) * pos.AvgCost
	var pnl float64
	if pos.Qty > 0 {
		pnl = pos.Qty * (price - pos.AvgCost)
	} else {
		pnl = -pos.Qty * (pos.AvgCost - price)
	}
	return pnl / basis
}

// Position returns a copy of one instrument's position.
func (l *Ledger) Position(instrument string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[instrument]; ok {
		return *pos
	}
	return Position{Instrument: instrument}
}

// Positions returns a copy of every non-flat position.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Qty != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// StrategyExposure returns the signed quantity a strategy holds per instrument.
func (l *Ledger) StrategyExposure(strategy string) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]float64)
	for instr, qty := range l.exposure[strategy] {
		out[instr] = qty
	}
	return out
}

// RealizedPnL sums realized P&L across all instruments.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, pos := range l.positions {
		total += pos.Realized
	}
	return total
}

// Capital returns the configured session capital.
func (l *Ledger) Capital() float64 {
	return l.capital
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
