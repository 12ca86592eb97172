package market

import (
	"context"
	"fmt"
	"sync"
)

// Store holds the latest quotes and open tenders. The engine refreshes it at
// the start of each tick; strategies read the per-tick Snapshot copy and never
// observe a half-applied refresh.
type Store struct {
	mu      sync.RWMutex
	quotes  map[string]Quote
	tenders []Tender
	tick    int
}

// NewStore creates a snapshot store covering the session instruments.
func NewStore() *Store {
	return &Store{quotes: make(map[string]Quote, len(All))}
}

// Refresh pulls fresh quotes and tenders through the market-access collaborator.
func (s *Store) Refresh(ctx context.Context, access Access, tick int) error {
	quotes := make(map[string]Quote, len(All))
	for _, id := range All {
		q, err := access.GetQuote(ctx, id)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", id, err)
		}
		quotes[id] = q
	}

	tenders, err := access.Tenders(ctx)
	if err != nil {
		return fmt.Errorf("refresh tenders: %w", err)
	}

	s.mu.Lock()
	s.quotes = quotes
	s.tenders = tenders
	s.tick = tick
	s.mu.Unlock()
	return nil
}

// Snapshot is a consistent read-only copy of the store for one tick.
type Snapshot struct {
	Tick    int
	Quotes  map[string]Quote
	Tenders []Tender
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make(map[string]Quote, len(s.quotes))
	for id, q := range s.quotes {
		quotes[id] = q
	}
	tenders := make([]Tender, len(s.tenders))
	copy(tenders, s.tenders)

	return Snapshot{Tick: s.tick, Quotes: quotes, Tenders: tenders}
}

// Quote returns the latest quote for one instrument.
func (s *Store) Quote(instrument string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[instrument]
	return q, ok
}

// Quote looks up an instrument in the snapshot.
func (sn Snapshot) Quote(instrument string) (Quote, bool) {
	q, ok := sn.Quotes[instrument]
	return q, ok
}

// FXRate returns the CAD-per-USD mid, or 1 when the FX quote is missing.
func (sn Snapshot) FXRate() float64 {
	if q, ok := sn.Quotes[USD]; ok && q.Mid() > 0 {
		return q.Mid()
	}
	return 1
}

// MidCAD returns an instrument's mid converted to CAD through the FX quote.
func (sn Snapshot) MidCAD(instrument string) float64 {
	q, ok := sn.Quotes[instrument]
	if !ok {
		return 0
	}
	if Currency(instrument) == "USD" {
		return q.Mid() * sn.FXRate()
	}
	return q.Mid()
}
