package strategy

import (
	"fmt"
	"log"
	"math"

	"arbengine/internal/market"
)

// ConversionArbitrage trades the deviation between JOY_C and its four-stock
// basket: when the ETF is rich it sells the ETF against the basket, when
// cheap the reverse. The book is held until the operator ends the arbitrage
// (exact opposite trades) or the profit/loss manager closes a leg.
type ConversionArbitrage struct {
	base
	openTick int
}

// NewConversionArbitrage builds strategy 2.
func NewConversionArbitrage(enabled bool) *ConversionArbitrage {
	s := &ConversionArbitrage{base: base{id: 2, name: TagConversion, state: Disabled}, openTick: -1}
	if enabled {
		s.Enable()
	}
	return s
}

// Disable clears working state along with the lifecycle change.
func (s *ConversionArbitrage) Disable() {
	s.setState(Disabled)
	s.Reset()
}

// Reset clears the open marker; holdings themselves live in the ledger.
func (s *ConversionArbitrage) Reset() {
	s.openTick = -1
}

// basketMid is the synthetic ETF value: the sum of the four stock mids.
func basketMid(ctx Context) float64 {
	total := 0.0
	for _, id := range market.Stocks {
		q, ok := ctx.Snapshot.Quote(id)
		if !ok || q.Mid() <= 0 {
			return 0
		}
		total += q.Mid()
	}
	return total
}

// Evaluate opens an offsetting five-instrument book when the per-share
// deviation clears conversion_deviation_threshold, unless a confirmed news
// shock is still inside its shock_duration cool-down.
func (s *ConversionArbitrage) Evaluate(ctx Context, tick int) []OrderIntent {
	if s.State() != Active {
		return nil
	}

	exposure := ctx.Ledger.StrategyExposure(TagConversion)
	if len(exposure) > 0 {
		if s.openTick < 0 {
			s.openTick = tick
		}
		return nil // one conversion book at a time
	}
	if s.openTick >= 0 {
		s.Reset() // book went flat (manual end or pnl manager)
	}

	if !ctx.CanOpen {
		return nil
	}
	if shockTick, confirmed := ctx.News.ConfirmedShockTick(); confirmed {
		if tick-shockTick < ctx.Params.ShockDuration {
			return nil // cool down after a confirmed macro shock
		}
	}

	etf, ok := ctx.Snapshot.Quote(market.JOYC)
	if !ok || etf.Mid() <= 0 {
		return nil
	}
	basket := basketMid(ctx)
	if basket <= 0 {
		return nil
	}

	deviation := etf.Mid() - basket
	if math.Abs(deviation) <= ctx.Params.ConversionDeviationThreshold {
		return nil
	}

	size := ctx.Params.ArbitrageOrderSize
	etfSize, stockSize := -size, size // ETF rich: sell ETF, buy basket
	if deviation < 0 {
		etfSize, stockSize = size, -size
	}

	log.Printf("conversion: open (deviation %.3f, etf %.2f vs basket %.2f)", deviation, etf.Mid(), basket)
	group := fmt.Sprintf("conversion-%d", tick)
	intents := []OrderIntent{{
		Instrument: market.JOYC,
		Size:       etfSize,
		Type:       market.Market,
		Strategy:   TagConversion,
		Group:      group,
	}}
	for _, id := range market.Stocks {
		intents = append(intents, OrderIntent{
			Instrument: id,
			Size:       stockSize,
			Type:       market.Market,
			Strategy:   TagConversion,
			Group:      group,
		})
	}
	s.openTick = tick
	return intents
}

// Flatten issues the exact opposite of the current conversion holdings.
func (s *ConversionArbitrage) Flatten(ctx Context) []OrderIntent {
	intents := flattenExposure(ctx.Ledger, TagConversion)
	if len(intents) > 0 {
		log.Printf("conversion: end arbitrage, flattening %d legs", len(intents))
	}
	s.Reset()
	return intents
}
