// Package news tracks macro indicator releases (GDP, BCI), the shock each
// release implies against its predecessor, and operator corrections.
package news

import (
	"fmt"
	"sync"

	"arbengine/internal/events"
)

// Type is the indicator a news event reports.
type Type string

const (
	GDP Type = "GDP"
	BCI Type = "BCI"
)

// Event is one indicator release. Superseded is set when a correction
// replaces the event.
type Event struct {
	Type       Type
	Quarter    int // GDP only, 1..4
	Value      float64
	Tick       int
	Superseded bool
}

// Book holds the release history and the currently active shock per
// indicator. A shock is "confirmed" only when it exceeds the configured
// cap/floor, and only confirmed shocks drive strategy cool-downs.
type Book struct {
	mu     sync.RWMutex
	events []Event

	capGDP, floorGDP float64
	capBCI, floorBCI float64

	shockGDP     float64
	shockGDPTick int
	shockBCI     float64
	shockBCITick int
	lastGDP      map[int]float64 // by quarter
	lastBCI      float64
	haveGDP      map[int]bool
	haveBCI      bool

	// Baseline a shock is measured against: the release before the latest
	// one. A correction replaces the latest value but never the baseline.
	baseGDP     map[int]float64
	haveBaseGDP map[int]bool
	baseBCI     float64
	haveBaseBCI bool

	bus *events.Bus
}

// NewBook creates a news book with the confirmation caps and floors.
func NewBook(capGDP, floorGDP, capBCI, floorBCI float64, bus *events.Bus) *Book {
	return &Book{
		capGDP:      capGDP,
		floorGDP:    floorGDP,
		capBCI:      capBCI,
		floorBCI:    floorBCI,
		lastGDP:     make(map[int]float64),
		haveGDP:     make(map[int]bool),
		baseGDP:     make(map[int]float64),
		haveBaseGDP: make(map[int]bool),
		bus:         bus,
	}
}

// RecordGDP records a GDP release for a quarter and recomputes the shock as
// the point difference against the prior release, in fractional terms.
func (b *Book) RecordGDP(quarter int, value float64, tick int) error {
	if quarter < 1 || quarter > 4 {
		return fmt.Errorf("news: invalid quarter %d", quarter)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveGDP[quarter] {
		b.baseGDP[quarter] = b.lastGDP[quarter]
		b.haveBaseGDP[quarter] = true
		b.shockGDP = (value - b.baseGDP[quarter]) / 100
	} else {
		b.shockGDP = 0 // first release of a quarter carries no shock
	}
	b.shockGDPTick = tick
	b.lastGDP[quarter] = value
	b.haveGDP[quarter] = true
	b.append(Event{Type: GDP, Quarter: quarter, Value: value, Tick: tick})
	return nil
}

// RecordBCI records a BCI release and recomputes the shock as the growth
// rate against the prior value.
func (b *Book) RecordBCI(value float64, tick int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveBCI && b.lastBCI != 0 {
		b.baseBCI = b.lastBCI
		b.haveBaseBCI = true
		b.shockBCI = value/b.baseBCI - 1
	} else {
		b.shockBCI = 0
	}
	b.shockBCITick = tick
	b.lastBCI = value
	b.haveBCI = true
	b.append(Event{Type: BCI, Value: value, Tick: tick})
	return nil
}

// Correct supersedes the latest event of the given type and applies the
// corrected value. The shock is recomputed against the baseline the corrected
// release was measured against, not against the erroneous value, so a
// correction that cancels a spike leaves no shock behind. The shock start
// tick is kept from the corrected release so cool-downs do not restart.
func (b *Book) Correct(t Type, quarter int, value float64, tick int) error {
	if t == GDP && (quarter < 1 || quarter > 4) {
		return fmt.Errorf("news: invalid quarter %d", quarter)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var prior *Event
	for i := len(b.events) - 1; i >= 0; i-- {
		ev := &b.events[i]
		if ev.Superseded || ev.Type != t {
			continue
		}
		if t == GDP && ev.Quarter != quarter {
			continue
		}
		prior = ev
		break
	}
	if prior == nil {
		return fmt.Errorf("news: no %s event to correct", t)
	}
	prior.Superseded = true

	switch t {
	case GDP:
		if b.haveBaseGDP[quarter] {
			b.shockGDP = (value - b.baseGDP[quarter]) / 100
		} else {
			b.shockGDP = 0 // corrected a quarter's first release
		}
		b.lastGDP[quarter] = value
		b.append(Event{Type: GDP, Quarter: quarter, Value: value, Tick: prior.Tick})
	case BCI:
		if b.haveBaseBCI && b.baseBCI != 0 {
			b.shockBCI = value/b.baseBCI - 1
		} else {
			b.shockBCI = 0
		}
		b.lastBCI = value
		b.append(Event{Type: BCI, Value: value, Tick: prior.Tick})
	}
	return nil
}

func (b *Book) append(ev Event) {
	b.events = append(b.events, ev)
	if b.bus != nil {
		b.bus.Publish(events.EventNewsUpdate, ev)
	}
}

// ConfirmedShockTick returns the start tick of the most recent confirmed
// shock, and whether any shock is currently confirmed. A shock is confirmed
// when it breaches its cap (positive) or floor (negative).
func (b *Book) ConfirmedShockTick() (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tick, ok := -1, false
	if b.shockGDP > b.capGDP || b.shockGDP < -b.floorGDP {
		tick, ok = b.shockGDPTick, true
	}
	if b.shockBCI > b.capBCI || b.shockBCI < -b.floorBCI {
		if b.shockBCITick > tick {
			tick = b.shockBCITick
		}
		ok = true
	}
	return tick, ok
}

// Shocks returns the current GDP and BCI shock values.
func (b *Book) Shocks() (gdp, bci float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shockGDP, b.shockBCI
}

// Events returns a copy of the full release history.
func (b *Book) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
