package strategy

import (
	"log"

	"arbengine/internal/market"
)

// PnLManager scans every open position each tick and closes any whose return
// rate clears the take-profit line or breaches the stop-loss line. It runs
// after the other modules and may close positions they opened.
type PnLManager struct {
	base
}

// NewPnLManager builds strategy 4.
func NewPnLManager(enabled bool) *PnLManager {
	s := &PnLManager{base: base{id: 4, name: TagPnL, state: Disabled}}
	if enabled {
		s.Enable()
	}
	return s
}

// Disable only changes lifecycle; the manager keeps no working state.
func (s *PnLManager) Disable() { s.setState(Disabled) }

// Reset is a no-op for the same reason.
func (s *PnLManager) Reset() {}

// Evaluate emits a flattening market order for every position at or past its
// take-profit or stop-loss line. Closes are risk-reducing, so the opening
// cutoff does not apply.
func (s *PnLManager) Evaluate(ctx Context, tick int) []OrderIntent {
	if s.State() != Active {
		return nil
	}

	var intents []OrderIntent
	for _, pos := range ctx.Ledger.Positions() {
		quote, ok := ctx.Snapshot.Quote(pos.Instrument)
		if !ok || quote.Mid() <= 0 {
			continue
		}
		rate := ctx.Ledger.UnrealizedPnLRate(pos.Instrument, quote.Mid())

		var reason string
		switch {
		case rate >= ctx.Params.TakeProfitLine:
			reason = "take profit"
		case rate <= -ctx.Params.StopLossLine:
			reason = "stop loss"
		default:
			continue
		}

		log.Printf("pnl: %s %s (return %.4f)", reason, pos.Instrument, rate)
		intents = append(intents, OrderIntent{
			Instrument: pos.Instrument,
			Size:       -pos.Qty,
			Type:       market.Market,
			Strategy:   TagPnL,
			Reduce:     true,
		})
	}
	return intents
}
