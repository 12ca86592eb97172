// Package engine drives the session: one goroutine owns the tick loop, and
// all control commands are applied at the start of a tick so strategies never
// observe a half-applied command.
package engine

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"arbengine/internal/console"
	"arbengine/internal/events"
	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/news"
	"arbengine/internal/router"
	"arbengine/internal/strategy"
	"arbengine/internal/volatility"
	"arbengine/pkg/config"
	"arbengine/pkg/db"
)

// fastOrderSize is the fixed block used by the fo/fb/fs console commands.
const fastOrderSize = 10000

// degradeAfter pauses automated strategies once this many consecutive
// snapshot refreshes fail. Manual commands keep working on stale quotes.
const degradeAfter = 3

// Engine is the tick loop plus the shared control state the console mutates.
type Engine struct {
	params     config.Params
	access     market.Access
	store      *market.Store
	classifier *volatility.Classifier
	ledger     *ledger.Ledger
	news       *news.Book
	strategies *strategy.Set
	router     *router.Router
	bus        *events.Bus
	journal    *db.Database
	commands   <-chan console.Command

	mu           sync.RWMutex
	tick         int
	paused       bool
	degraded     bool
	refreshFails int
	stopping     bool
	usdHedge     float64
}

type Deps struct {
	Params     config.Params
	Access     market.Access
	Store      *market.Store
	Classifier *volatility.Classifier
	Ledger     *ledger.Ledger
	News       *news.Book
	Strategies *strategy.Set
	Router     *router.Router
	Bus        *events.Bus
	Journal    *db.Database
	Commands   <-chan console.Command
}

func New(d Deps) *Engine {
	return &Engine{
		params:     d.Params,
		access:     d.Access,
		store:      d.Store,
		classifier: d.Classifier,
		ledger:     d.Ledger,
		news:       d.News,
		strategies: d.Strategies,
		router:     d.Router,
		bus:        d.Bus,
		journal:    d.Journal,
		commands:   d.Commands,
	}
}

// Run executes the session until TicksPerPeriod ticks elapse or the context
// is cancelled, then flattens every open position.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("engine: session start, %d ticks", e.params.TicksPerPeriod)
	e.publishState("RUNNING")

	sleep := time.Duration(e.params.SleepTime * float64(time.Second))
	for tick := 0; tick < e.params.TicksPerPeriod; tick++ {
		select {
		case <-ctx.Done():
			log.Printf("engine: cancelled at tick %d", tick)
			e.shutdown(tick)
			return
		default:
		}

		e.setTick(tick)
		e.drainCommands(ctx, tick)
		if e.stopRequested() {
			log.Printf("engine: quit requested at tick %d", tick)
			e.shutdown(tick)
			return
		}
		e.step(ctx, tick)

		if sleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(sleep):
			}
		}
	}

	log.Printf("engine: session complete")
	e.shutdown(e.params.TicksPerPeriod)
}

// step runs one tick: refresh market state, classify regimes, evaluate
// strategies in priority order, route the intents.
func (e *Engine) step(ctx context.Context, tick int) {
	snap, fresh := e.refresh(ctx, tick)
	if fresh {
		for _, instrument := range market.Tradable {
			if q, ok := snap.Quote(instrument); ok {
				e.classifier.Observe(instrument, q.Mid())
			}
		}
		for _, instrument := range market.Tradable {
			e.classifier.Classify(instrument, tick)
		}
	}

	if e.isPaused() {
		e.trackUSDHedge(snap)
		return
	}

	sctx := e.strategyContext(snap, tick)
	var intents []strategy.OrderIntent
	for _, m := range e.strategies.All() {
		if m.State() != strategy.Active {
			continue
		}
		out := m.Evaluate(sctx, tick)
		if len(out) > 0 {
			e.bus.Publish(events.EventStrategySignal, map[string]any{
				"strategy": m.Name(),
				"tick":     tick,
				"intents":  len(out),
			})
		}
		intents = append(intents, out...)
	}
	e.router.Route(ctx, tick, intents, snap, sctx.CanOpen)
	e.trackUSDHedge(snap)
}

// trackUSDHedge recomputes the notional FX hedge offsetting the USD cash
// flow of the USD-listed book. Quotes for USD instruments are already in
// USD, so the exposure is quantity times mid with no FX conversion. The
// venue quotes no tradable FX product, so the hedge stays on the books as a
// number, not an order.
func (e *Engine) trackUSDHedge(snap market.Snapshot) {
	q, ok := snap.Quote(market.JOYU)
	if !ok {
		return
	}
	exposure := e.ledger.Position(market.JOYU).Qty * q.Mid()

	e.mu.Lock()
	prev := e.usdHedge
	e.usdHedge = -exposure
	e.mu.Unlock()

	if math.Abs(exposure+prev) > 1e-9 {
		log.Printf("engine: usd hedge notional %.2f", -exposure)
	}
}

// refresh pulls fresh quotes, tracking consecutive failures. After too many
// failures the automated strategies pause; the stale snapshot is still
// returned so manual risk reduction keeps working.
func (e *Engine) refresh(ctx context.Context, tick int) (market.Snapshot, bool) {
	err := e.store.Refresh(ctx, e.access, tick)
	if err == nil {
		e.mu.Lock()
		e.refreshFails = 0
		recovered := e.degraded
		e.degraded = false
		operatorPaused := e.paused
		e.mu.Unlock()
		if recovered {
			log.Printf("engine: market access recovered")
			e.router.ResetFailures()
			// An operator pause outlives the degrade; only the degrade lifts.
			if !operatorPaused {
				e.strategies.ResumeAll()
			}
			e.publishState("RUNNING")
		}
		return e.store.Snapshot(), true
	}

	e.mu.Lock()
	e.refreshFails++
	fails := e.refreshFails
	degrade := fails >= degradeAfter && !e.degraded
	if degrade {
		e.degraded = true
	}
	e.mu.Unlock()

	log.Printf("engine: snapshot refresh failed (%d consecutive): %v", fails, err)
	if degrade {
		log.Printf("engine: degrading, pausing automated strategies")
		e.strategies.PauseAll()
		e.publishState("DEGRADED")
	}
	return e.store.Snapshot(), false
}

func (e *Engine) strategyContext(snap market.Snapshot, tick int) strategy.Context {
	return strategy.Context{
		Snapshot: snap,
		Regimes:  e.classifier,
		Ledger:   e.ledger,
		News:     e.news,
		Params:   e.params,
		CanOpen:  tick < e.params.TicksPerPeriod-e.params.EndTradeBefore,
	}
}

// drainCommands applies every queued console command before evaluation.
func (e *Engine) drainCommands(ctx context.Context, tick int) {
	for {
		select {
		case cmd := <-e.commands:
			e.apply(ctx, tick, cmd)
		default:
			return
		}
	}
}

func (e *Engine) apply(ctx context.Context, tick int, cmd console.Command) {
	switch cmd.Kind {
	case console.KindPauseAll:
		e.setPaused(true)
		e.strategies.PauseAll()
		log.Printf("engine: paused")
	case console.KindResumeAll:
		e.setPaused(false)
		e.strategies.ResumeAll()
		log.Printf("engine: resumed")
	case console.KindStopStrategy:
		if err := e.strategies.Stop(cmd.StrategyID); err != nil {
			log.Printf("%v", err)
		}
	case console.KindStartStrategy:
		if err := e.strategies.Start(cmd.StrategyID); err != nil {
			log.Printf("%v", err)
		}
	case console.KindManualOrder:
		e.routeManual(ctx, tick, strategy.OrderIntent{
			Instrument: cmd.Instrument,
			Size:       cmd.Size,
			Type:       cmd.Type,
			LimitPrice: cmd.LimitPrice,
			Strategy:   strategy.TagManual,
			Reduce:     e.reduces(cmd.Instrument, cmd.Size),
		})
	case console.KindClose:
		e.routeManual(ctx, tick, e.closeIntents(cmd.Instrument)...)
	case console.KindFastClose:
		e.routeManual(ctx, tick, e.fastCloseIntents(cmd.Preset)...)
	case console.KindFastOpen:
		e.routeManual(ctx, tick, fastOpenIntents(cmd.Preset)...)
	case console.KindFastBuy:
		e.routeManual(ctx, tick, fastBlock(market.JOYC, fastOrderSize))
	case console.KindFastSell:
		e.routeManual(ctx, tick, fastBlock(market.JOYC, -fastOrderSize))
	case console.KindNews:
		e.recordNews(cmd.News, tick, false)
	case console.KindNewsCorrection:
		e.recordNews(cmd.News, tick, true)
	case console.KindEndArbitrage:
		e.endArbitrage(ctx, tick, cmd.StrategyID)
	case console.KindFairValue:
		e.logFairValue()
	case console.KindQuit:
		e.mu.Lock()
		e.stopping = true
		e.mu.Unlock()
	}
}

// routeManual sends operator intents straight through the router. Manual
// orders bypass strategy evaluation but never risk validation, and they work
// even while paused or degraded.
func (e *Engine) routeManual(ctx context.Context, tick int, intents ...strategy.OrderIntent) {
	if len(intents) == 0 {
		return
	}
	snap := e.store.Snapshot()
	canOpen := tick < e.params.TicksPerPeriod-e.params.EndTradeBefore
	e.router.Route(ctx, tick, intents, snap, canOpen)
}

// closeIntents flattens one instrument, or every open position when
// instrument is empty.
func (e *Engine) closeIntents(instrument string) []strategy.OrderIntent {
	if instrument != "" {
		pos := e.ledger.Position(instrument)
		if pos.Qty == 0 {
			log.Printf("engine: %s already flat", instrument)
			return nil
		}
		return []strategy.OrderIntent{flattenOf(pos)}
	}
	var out []strategy.OrderIntent
	for _, pos := range e.ledger.Positions() {
		out = append(out, flattenOf(pos))
	}
	if len(out) == 0 {
		log.Printf("engine: nothing to close")
	}
	return out
}

// fastCloseIntents flattens a predefined group: 1 is the ETF pair, 2 is the
// stock basket.
func (e *Engine) fastCloseIntents(preset int) []strategy.OrderIntent {
	group := []string{market.JOYC, market.JOYU}
	if preset == 2 {
		group = market.Stocks
	}
	var out []strategy.OrderIntent
	for _, instrument := range group {
		pos := e.ledger.Position(instrument)
		if pos.Qty != 0 {
			out = append(out, flattenOf(pos))
		}
	}
	return out
}

// fastOpenIntents opens the predefined ETF pair: 1 buys the CAD listing and
// sells the USD one, 2 the reverse.
func fastOpenIntents(preset int) []strategy.OrderIntent {
	size := float64(fastOrderSize)
	if preset == 2 {
		size = -size
	}
	return []strategy.OrderIntent{
		fastBlock(market.JOYC, size),
		fastBlock(market.JOYU, -size),
	}
}

func fastBlock(instrument string, size float64) strategy.OrderIntent {
	return strategy.OrderIntent{
		Instrument: instrument,
		Size:       size,
		Type:       market.Market,
		Strategy:   strategy.TagManual,
	}
}

func flattenOf(pos ledger.Position) strategy.OrderIntent {
	return strategy.OrderIntent{
		Instrument: pos.Instrument,
		Size:       -pos.Qty,
		Type:       market.Market,
		Strategy:   strategy.TagManual,
		Reduce:     true,
	}
}

func (e *Engine) reduces(instrument string, size float64) bool {
	held := e.ledger.Position(instrument).Qty
	if held == 0 || (held > 0) == (size > 0) {
		return false
	}
	return math.Abs(size) <= math.Abs(held)
}

func (e *Engine) recordNews(in console.NewsInput, tick int, correction bool) {
	var err error
	switch {
	case correction:
		err = e.news.Correct(in.Type, in.Quarter, in.Value, tick)
	case in.Type == news.GDP:
		err = e.news.RecordGDP(in.Quarter, in.Value, tick)
	default:
		err = e.news.RecordBCI(in.Value, tick)
	}
	if err != nil {
		log.Printf("%v", err)
		return
	}
	gdp, bci := e.news.Shocks()
	shock := gdp
	if in.Type == news.BCI {
		shock = bci
	}
	log.Printf("engine: news %s value %.2f shock %.4f (correction=%t)", in.Type, in.Value, shock, correction)
	if e.journal != nil {
		if err := e.journal.RecordNews(db.NewsRecord{
			Tick:       tick,
			Kind:       string(in.Type),
			Quarter:    in.Quarter,
			Value:      in.Value,
			Shock:      shock,
			Superseded: correction,
		}); err != nil {
			log.Printf("engine: journal news failed: %v", err)
		}
	}
}

// endArbitrage closes a strategy's open book with the exact opposite trades.
func (e *Engine) endArbitrage(ctx context.Context, tick, id int) {
	m, err := e.strategies.ByID(id)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	f, ok := m.(strategy.Flattener)
	if !ok {
		log.Printf("engine: strategy %d has no early-close support", id)
		return
	}
	snap := e.store.Snapshot()
	intents := f.Flatten(e.strategyContext(snap, tick))
	if len(intents) == 0 {
		log.Printf("engine: strategy %d book already flat", id)
		return
	}
	e.router.Route(ctx, tick, intents, snap, true)
	m.Reset()
}

// logFairValue answers the fair-value query: the USD listing's fair price is
// the CAD listing's mid converted through the FX rate.
func (e *Engine) logFairValue() {
	snap := e.store.Snapshot()
	q, ok := snap.Quote(market.JOYC)
	if !ok {
		log.Printf("engine: no quote for %s yet", market.JOYC)
		return
	}
	fair := q.Mid() / snap.FXRate()
	log.Printf("engine: fair %s = %.4f USD (CAD mid %.4f, fx %.4f)", market.JOYU, fair, q.Mid(), snap.FXRate())
}

// shutdown flattens every position at session end and reports realized P&L.
func (e *Engine) shutdown(tick int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	intents := e.closeIntents("")
	if len(intents) > 0 {
		log.Printf("engine: flattening %d positions at session end", len(intents))
		e.router.Route(ctx, tick, intents, e.store.Snapshot(), true)
	}
	log.Printf("engine: realized P&L %.2f", e.ledger.RealizedPnL())
	e.publishState("STOPPED")
}

func (e *Engine) setTick(tick int) {
	e.mu.Lock()
	e.tick = tick
	e.mu.Unlock()
	e.bus.Publish(events.EventPriceTick, map[string]any{"tick": tick})
}

func (e *Engine) setPaused(v bool) {
	e.mu.Lock()
	e.paused = v
	e.mu.Unlock()
}

func (e *Engine) stopRequested() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopping
}

func (e *Engine) isPaused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused || e.degraded
}

// Status is a read-only view for the control surface.
type Status struct {
	Tick     int               `json:"tick"`
	Paused   bool              `json:"paused"`
	Degraded bool              `json:"degraded"`
	Realized float64           `json:"realized_pnl"`
	USDHedge float64           `json:"usd_hedge_notional"`
	States   map[string]string `json:"strategies"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	tick, paused, degraded, hedge := e.tick, e.paused, e.degraded, e.usdHedge
	e.mu.RUnlock()

	states := make(map[string]string, 4)
	for _, m := range e.strategies.All() {
		states[m.Name()] = string(m.State())
	}
	return Status{
		Tick:     tick,
		Paused:   paused,
		Degraded: degraded,
		Realized: e.ledger.RealizedPnL(),
		USDHedge: hedge,
		States:   states,
	}
}

func (e *Engine) publishState(state string) {
	e.bus.Publish(events.EventEngineState, map[string]any{"state": state})
}
