package strategy

import (
	"fmt"
	"log"
	"sort"

	"arbengine/internal/events"
	"arbengine/pkg/config"
)

// Set holds the strategy modules in fixed priority order (1→2→3→4) and
// mediates lifecycle transitions for the console and the degrade path.
type Set struct {
	modules []Strategy
	bus     *events.Bus
}

// NewSet builds the four modules from configuration defaults.
func NewSet(p config.Params, bus *events.Bus) *Set {
	modules := []Strategy{
		NewTenderArbitrage(p.Strategy1Tender),
		NewConversionArbitrage(p.Strategy2Conversion),
		NewETFArbitrage(p.Strategy3ETF),
		NewPnLManager(p.Strategy4ProfitLoss),
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID() < modules[j].ID() })
	return &Set{modules: modules, bus: bus}
}

// All returns the modules in priority order.
func (s *Set) All() []Strategy {
	return s.modules
}

// ByID returns the module with the given console index.
func (s *Set) ByID(id int) (Strategy, error) {
	for _, m := range s.modules {
		if m.ID() == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("strategy: unknown id %d", id)
}

// Stop disables one strategy; it emits no intents from the next tick on.
func (s *Set) Stop(id int) error {
	m, err := s.ByID(id)
	if err != nil {
		return err
	}
	m.Disable()
	s.transition(m)
	return nil
}

// Start enables one strategy.
func (s *Set) Start(id int) error {
	m, err := s.ByID(id)
	if err != nil {
		return err
	}
	m.Enable()
	s.transition(m)
	return nil
}

// PauseAll suspends every enabled strategy, keeping working state. Used when
// repeated market-access failures degrade the session.
func (s *Set) PauseAll() {
	for _, m := range s.modules {
		m.Pause()
		s.transition(m)
	}
}

// ResumeAll reactivates paused strategies; disabled ones stay disabled.
func (s *Set) ResumeAll() {
	for _, m := range s.modules {
		m.Resume()
		s.transition(m)
	}
}

func (s *Set) transition(m Strategy) {
	log.Printf("strategy %d (%s) -> %s", m.ID(), m.Name(), m.State())
	if s.bus != nil {
		s.bus.Publish(events.EventStrategyTransition, map[string]any{
			"id":    m.ID(),
			"name":  m.Name(),
			"state": string(m.State()),
		})
	}
}
