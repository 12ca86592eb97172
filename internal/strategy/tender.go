package strategy

import (
	"log"

	"arbengine/internal/market"
)

// TenderArbitrage accepts block tenders priced far enough from fair value and
// immediately hedges the acquired position in the open market.
type TenderArbitrage struct {
	base
	seen map[string]bool // tenders already accepted
}

// NewTenderArbitrage builds strategy 1.
func NewTenderArbitrage(enabled bool) *TenderArbitrage {
	s := &TenderArbitrage{
		base: base{id: 1, name: TagTender, state: Disabled},
		seen: make(map[string]bool),
	}
	if enabled {
		s.Enable()
	}
	return s
}

// Disable clears working state along with the lifecycle change.
func (s *TenderArbitrage) Disable() {
	s.setState(Disabled)
	s.Reset()
}

// Reset forgets which tenders were already evaluated.
func (s *TenderArbitrage) Reset() {
	s.seen = make(map[string]bool)
}

// Evaluate scans open tenders. A tender executes only when its per-share
// deviation from fair value clears the regime-selected deviation threshold;
// the hedge is a limit order when the expected slippage exceeds the regime's
// slippage tolerance, a market order otherwise. Size is the tender quantity.
func (s *TenderArbitrage) Evaluate(ctx Context, tick int) []OrderIntent {
	if s.State() != Active || !ctx.CanOpen {
		return nil
	}

	var intents []OrderIntent
	for _, tn := range ctx.Snapshot.Tenders {
		if s.seen[tn.ID] {
			continue
		}
		quote, ok := ctx.Snapshot.Quote(tn.Instrument)
		if !ok || quote.Mid() <= 0 {
			continue
		}

		fair := quote.Mid()
		regime := ctx.Regimes.Regime(tn.Instrument)
		deviationThreshold, slippageTolerance := thresholds(ctx.Params, regime)

		// Counterparty BUY means we deliver at tn.Price, so we profit when
		// the tender is above fair; counterparty SELL is the mirror.
		var deviation float64
		ourSize := tn.Qty
		if tn.Side == "BUY" {
			deviation = tn.Price - fair
			ourSize = -tn.Qty
		} else {
			deviation = fair - tn.Price
		}
		if deviation <= deviationThreshold {
			continue // the offer stays open, re-evaluate next tick
		}

		if err := ctx.Ledger.Validate(tn.Instrument, ourSize, tn.Price); err != nil {
			log.Printf("tender: skip %s: %v", tn.ID, err)
			continue
		}

		hedge := OrderIntent{
			Instrument: tn.Instrument,
			Size:       -ourSize,
			Type:       market.Market,
			Strategy:   TagTender,
			Reduce:     true,
			Group:      "tender-" + tn.ID,
		}
		if quote.Spread()/2 > slippageTolerance {
			hedge.Type = market.Limit
			hedge.LimitPrice = fair
		}

		s.seen[tn.ID] = true
		log.Printf("tender: accept %s %s %.0f @ %.2f (deviation %.3f, regime %s)",
			tn.Side, tn.Instrument, tn.Qty, tn.Price, deviation, regime)
		intents = append(intents,
			OrderIntent{
				Instrument: tn.Instrument,
				Size:       ourSize,
				Type:       market.Limit,
				LimitPrice: tn.Price,
				Strategy:   TagTender,
				TenderID:   tn.ID,
				Group:      "tender-" + tn.ID,
			},
			hedge,
		)
	}
	return intents
}
