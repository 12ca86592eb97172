package strategy

import (
	"fmt"
	"log"
	"math"

	"arbengine/internal/market"
)

// ETFArbitrage trades the deviation between JOY_C and its USD twin JOY_U
// (compared in CAD through the FX quote). A pair stays open until the first
// of: per-share profit at take_profit_line_etf, loss at stop_loss_line_etf,
// etf_duration ticks held, or a manual end command.
type ETFArbitrage struct {
	base
	entryTick  int
	entryValue float64 // CAD value of the open legs at entry
	entrySize  float64
}

// NewETFArbitrage builds strategy 3.
func NewETFArbitrage(enabled bool) *ETFArbitrage {
	s := &ETFArbitrage{base: base{id: 3, name: TagETF, state: Disabled}, entryTick: -1}
	if enabled {
		s.Enable()
	}
	return s
}

// Disable clears working state along with the lifecycle change.
func (s *ETFArbitrage) Disable() {
	s.setState(Disabled)
	s.Reset()
}

// Reset clears the holding marker; holdings themselves live in the ledger.
func (s *ETFArbitrage) Reset() {
	s.entryTick = -1
	s.entryValue = 0
	s.entrySize = 0
}

// legValue marks the open legs to market in CAD.
func legValue(ctx Context) float64 {
	total := 0.0
	for instrument, qty := range ctx.Ledger.StrategyExposure(TagETF) {
		total += qty * ctx.Snapshot.MidCAD(instrument)
	}
	return total
}

// Evaluate opens on deviation or manages the open pair to its first exit.
func (s *ETFArbitrage) Evaluate(ctx Context, tick int) []OrderIntent {
	if s.State() != Active {
		return nil
	}

	exposure := ctx.Ledger.StrategyExposure(TagETF)
	if len(exposure) > 0 {
		return s.manage(ctx, tick)
	}
	if s.entryTick >= 0 {
		s.Reset() // pair went flat outside our control
	}

	if !ctx.CanOpen {
		return nil
	}

	joycMid := ctx.Snapshot.MidCAD(market.JOYC)
	joyuMid := ctx.Snapshot.MidCAD(market.JOYU)
	if joycMid <= 0 || joyuMid <= 0 {
		return nil
	}

	deviation := joycMid - joyuMid
	if math.Abs(deviation) <= ctx.Params.ETFDeviationThreshold {
		return nil
	}

	size := ctx.Params.ETFArbitrageOrderSize
	joycSize, joyuSize := -size, size // JOY_C rich: sell it, buy the twin
	if deviation < 0 {
		joycSize, joyuSize = size, -size
	}

	entryValue := joycSize*joycMid + joyuSize*joyuMid
	log.Printf("etf: open pair (deviation %.3f), %s JOY_C / %s JOY_U %.0f",
		deviation, side(joycSize), side(joyuSize), size)

	s.entryTick = tick
	s.entryValue = entryValue
	s.entrySize = size
	group := fmt.Sprintf("etf-%d", tick)
	return []OrderIntent{
		{Instrument: market.JOYC, Size: joycSize, Type: market.Market, Strategy: TagETF, Group: group},
		{Instrument: market.JOYU, Size: joyuSize, Type: market.Market, Strategy: TagETF, Group: group},
	}
}

// manage closes the open pair on take-profit, stop-loss or the duration
// boundary: held for exactly etf_duration ticks closes, one tick less holds.
func (s *ETFArbitrage) manage(ctx Context, tick int) []OrderIntent {
	if s.entryTick < 0 {
		s.entryTick = tick // adopted an externally opened pair
		s.entrySize = pairSize(ctx)
		s.entryValue = legValue(ctx)
		return nil
	}

	held := tick - s.entryTick
	perShare := 0.0
	if s.entrySize > 0 {
		perShare = (legValue(ctx) - s.entryValue) / s.entrySize
	}

	var reason string
	switch {
	case perShare >= ctx.Params.TakeProfitLineETF:
		reason = "take profit"
	case perShare <= -ctx.Params.StopLossLineETF:
		reason = "stop loss"
	case held >= ctx.Params.ETFDuration:
		reason = "duration"
	default:
		return nil
	}

	log.Printf("etf: close pair after %d ticks (%s, %.4f/share)", held, reason, perShare)
	intents := flattenExposure(ctx.Ledger, TagETF)
	s.Reset()
	return intents
}

// Flatten closes the pair immediately on the manual end command.
func (s *ETFArbitrage) Flatten(ctx Context) []OrderIntent {
	intents := flattenExposure(ctx.Ledger, TagETF)
	if len(intents) > 0 {
		log.Printf("etf: end arbitrage, flattening pair")
	}
	s.Reset()
	return intents
}

func pairSize(ctx Context) float64 {
	max := 0.0
	for _, qty := range ctx.Ledger.StrategyExposure(TagETF) {
		if a := math.Abs(qty); a > max {
			max = a
		}
	}
	return max
}

func side(size float64) string {
	if size >= 0 {
		return "buy"
	}
	return "sell"
}
