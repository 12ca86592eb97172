package strategy

import (
	"sync"

	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/news"
	"arbengine/internal/volatility"
	"arbengine/pkg/config"
)

// Strategy tags, doubling as routing priority order within a tick.
const (
	TagTender     = "tender"
	TagConversion = "conversion"
	TagETF        = "etf"
	TagPnL        = "pnl"
	TagManual     = "manual"
)

// State is the lifecycle of one strategy module. The three-way enum replaces
// separate enabled/paused booleans so illegal combinations cannot exist.
type State string

const (
	Disabled State = "DISABLED"
	Active   State = "ENABLED_ACTIVE"
	Paused   State = "ENABLED_PAUSED"
)

// OrderIntent is a trade a strategy wants executed. It is consumed by the
// router within the same tick it is produced.
type OrderIntent struct {
	Instrument string
	Size       float64 // signed: >0 buy, <0 sell
	Type       market.PriceType
	LimitPrice float64
	Strategy   string
	Reduce     bool   // risk-reducing: allowed past the opening cutoff
	TenderID   string // set when the intent accepts a block tender

	// Group marks multi-leg parcels. When one leg of a group fails, the
	// router drops its unfilled siblings and unwinds the filled ones so no
	// naked directional leg survives.
	Group string
}

// Context bundles the shared, read-only state a strategy evaluates against.
// Strategies never mutate shared state directly; they only emit intents.
type Context struct {
	Snapshot market.Snapshot
	Regimes  *volatility.Classifier
	Ledger   *ledger.Ledger
	News     *news.Book
	Params   config.Params
	CanOpen  bool // false once end_trade_before ticks remain
}

// Strategy is the capability set every module implements.
type Strategy interface {
	// ID is the console index, 1..4.
	ID() int
	// Name returns the strategy tag.
	Name() string
	// State returns the current lifecycle state.
	State() State
	// Enable moves to ENABLED_ACTIVE from any state.
	Enable()
	// Disable moves to DISABLED and clears working state.
	Disable()
	// Pause suspends evaluation without losing working state.
	Pause()
	// Resume reactivates a paused strategy; a disabled one stays disabled.
	Resume()
	// Evaluate inspects the tick context and returns the orders it wants.
	Evaluate(ctx Context, tick int) []OrderIntent
	// Reset clears strategy working state (called when its book goes flat).
	Reset()
}

// Flattener is implemented by strategies whose open book can be closed early
// with the exact opposite trades ("end arbitrage" command).
type Flattener interface {
	Flatten(ctx Context) []OrderIntent
}

// base carries identity and lifecycle shared by all modules. The state is
// written by the engine goroutine and read by the control surface, so it
// lives behind a mutex.
type base struct {
	id   int
	name string

	mu    sync.Mutex
	state State
}

func (b *base) ID() int      { return b.id }
func (b *base) Name() string { return b.name }

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *base) Enable() { b.setState(Active) }

func (b *base) Pause() {
	b.mu.Lock()
	if b.state == Active {
		b.state = Paused
	}
	b.mu.Unlock()
}

func (b *base) Resume() {
	b.mu.Lock()
	if b.state == Paused {
		b.state = Active
	}
	b.mu.Unlock()
}

// thresholds picks the regime's deviation/slippage pair for an instrument,
// falling back to the MID set while the regime is UNSET.
func thresholds(p config.Params, regime volatility.Regime) (deviation, slippage float64) {
	switch regime {
	case volatility.Low:
		return p.DeviationThresholdLow, p.SlippageToleranceLow
	case volatility.High:
		return p.DeviationThresholdHigh, p.SlippageToleranceHigh
	default:
		return p.DeviationThresholdMid, p.SlippageToleranceMid
	}
}

// flattenExposure emits the exact opposite of a strategy's ledger exposure.
func flattenExposure(l *ledger.Ledger, tag string) []OrderIntent {
	var out []OrderIntent
	for instrument, qty := range l.StrategyExposure(tag) {
		if qty == 0 {
			continue
		}
		out = append(out, OrderIntent{
			Instrument: instrument,
			Size:       -qty,
			Type:       market.Market,
			Strategy:   tag,
			Reduce:     true,
		})
	}
	return out
}
