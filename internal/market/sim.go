package market

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"arbengine/internal/events"
)

// SimConfig tunes the local exchange simulator.
type SimConfig struct {
	Step         float64 // random walk step per interval
	Interval     time.Duration
	SpreadBps    float64 // quoted half-spread in basis points
	SlippageBps  float64 // extra execution slippage on market orders
	TenderChance float64 // per-step probability of a new block tender
	OrdersPerSec float64 // submission rate cap
	FailureRate  float64 // probability a call fails with ErrAccessUnavailable
	Seed         int64
}

// Simulator is a self-contained exchange standing in for the real venue. It
// implements Access: a random-walk book per instrument, immediate fills, and
// occasional block tenders.
type Simulator struct {
	cfg     SimConfig
	bus     *events.Bus
	limiter *rate.Limiter

	mu      sync.RWMutex
	last    map[string]float64
	tenders map[string]Tender
	rng     *rand.Rand
	step    int
}

// NewSimulator builds a simulator with starting prices for the session set.
func NewSimulator(cfg SimConfig, bus *events.Bus) *Simulator {
	if cfg.Step == 0 {
		cfg.Step = 0.05
	}
	if cfg.Interval == 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.SpreadBps == 0 {
		cfg.SpreadBps = 10
	}
	if cfg.OrdersPerSec == 0 {
		cfg.OrdersPerSec = 50
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	last := map[string]float64{
		SAD:   10 + rng.Float64(),
		CRY:   10 + rng.Float64(),
		ANGER: 10 + rng.Float64(),
		FEAR:  10 + rng.Float64(),
		USD:   1.35,
	}
	last[JOYC] = last[SAD] + last[CRY] + last[ANGER] + last[FEAR]
	last[JOYU] = last[JOYC] / last[USD]

	return &Simulator{
		cfg:     cfg,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), int(cfg.OrdersPerSec)),
		last:    last,
		tenders: make(map[string]Tender),
		rng:     rng,
	}
}

// Start runs the price walk until the context is cancelled.
func (s *Simulator) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.advance()
			}
		}
	}()
}

// advance moves every book one step and maybe issues a tender.
func (s *Simulator) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++

	for _, id := range Stocks {
		s.last[id] = walk(s.last[id], s.cfg.Step, s.rng)
	}
	s.last[USD] = walk(s.last[USD], s.cfg.Step/50, s.rng)

	// The ETFs wander but get pulled back toward parity, so deviations open
	// and close instead of drifting away forever.
	basket := s.last[SAD] + s.last[CRY] + s.last[ANGER] + s.last[FEAR]
	s.last[JOYC] = reverting(walk(s.last[JOYC], s.cfg.Step*2, s.rng), basket, 0.05)
	s.last[JOYU] = reverting(walk(s.last[JOYU], s.cfg.Step*2, s.rng), s.last[JOYC]/s.last[USD], 0.05)

	if s.cfg.TenderChance > 0 && s.rng.Float64() < s.cfg.TenderChance {
		s.issueTenderLocked()
	}
	for id, tn := range s.tenders {
		if s.step > tn.ExpiryTick {
			delete(s.tenders, id)
		}
	}
}

func walk(p, step float64, rng *rand.Rand) float64 {
	p += (rng.Float64()*2 - 1) * step
	if p < 0.01 {
		p = 0.01
	}
	return p
}

func reverting(p, anchor, pull float64) float64 {
	return p + (anchor-p)*pull
}

func (s *Simulator) issueTenderLocked() {
	instrument := Tradable[s.rng.Intn(len(Tradable))]
	side := "BUY"
	offset := 1 + (0.01 + s.rng.Float64()*0.05) // counterparty pays up
	if s.rng.Intn(2) == 0 {
		side = "SELL"
		offset = 1 - (0.01 + s.rng.Float64()*0.05)
	}
	tn := Tender{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Side:       side,
		Price:      s.last[instrument] * offset,
		Qty:        float64(1000 * (1 + s.rng.Intn(10))),
		ExpiryTick: s.step + 40,
	}
	s.tenders[tn.ID] = tn
	log.Printf("sim: tender %s %s %.0f @ %.2f", tn.Side, tn.Instrument, tn.Qty, tn.Price)
}

func (s *Simulator) failing() bool {
	return s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate
}

// GetQuote returns the current synthetic top of book.
func (s *Simulator) GetQuote(ctx context.Context, instrument string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing() {
		return Quote{}, ErrAccessUnavailable
	}
	last, ok := s.last[instrument]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	half := last * s.cfg.SpreadBps / 10000 / 2
	return Quote{
		Instrument: instrument,
		Bid:        last - half,
		Ask:        last + half,
		Last:       last,
	}, nil
}

// Tenders returns the open block offers.
func (s *Simulator) Tenders(ctx context.Context) ([]Tender, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failing() {
		return nil, ErrAccessUnavailable
	}
	out := make([]Tender, 0, len(s.tenders))
	for _, tn := range s.tenders {
		out = append(out, tn)
	}
	return out, nil
}

// SubmitOrder fills immediately against the synthetic book. Market orders pay
// the spread plus configured slippage; limit orders fill only when marketable.
func (s *Simulator) SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if !s.limiter.Allow() {
		return Fill{}, fmt.Errorf("%w: rate limited", ErrOrderRejected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return Fill{}, ErrAccessUnavailable
	}
	last, ok := s.last[req.Instrument]
	if !ok || req.Instrument == USD {
		return Fill{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, req.Instrument)
	}
	if req.Size == 0 {
		return Fill{}, fmt.Errorf("%w: zero size", ErrOrderRejected)
	}

	half := last * s.cfg.SpreadBps / 10000 / 2
	slip := last * s.cfg.SlippageBps / 10000
	var px float64
	if req.Size > 0 {
		px = last + half + slip
		if req.Type == Limit && req.LimitPrice < px {
			return Fill{}, fmt.Errorf("%w: limit %.4f below market", ErrOrderRejected, req.LimitPrice)
		}
	} else {
		px = last - half - slip
		if req.Type == Limit && req.LimitPrice > px {
			return Fill{}, fmt.Errorf("%w: limit %.4f above market", ErrOrderRejected, req.LimitPrice)
		}
	}
	if req.Type == Limit {
		px = req.LimitPrice
	}

	fill := Fill{
		OrderID:    uuid.NewString(),
		Instrument: req.Instrument,
		Size:       req.Size,
		Price:      px,
	}
	if s.bus != nil {
		s.bus.Publish(events.EventOrderFilled, fill)
	}
	return fill, nil
}

// AcceptTender executes an open tender as a single block fill and removes it.
func (s *Simulator) AcceptTender(ctx context.Context, tenderID string) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing() {
		return Fill{}, ErrAccessUnavailable
	}
	tn, ok := s.tenders[tenderID]
	if !ok {
		return Fill{}, fmt.Errorf("%w: tender %s expired", ErrOrderRejected, tenderID)
	}
	delete(s.tenders, tenderID)

	// Counterparty BUY means we deliver stock, so our fill is negative.
	size := tn.Qty
	if tn.Side == "BUY" {
		size = -tn.Qty
	}
	fill := Fill{
		OrderID:    uuid.NewString(),
		Instrument: tn.Instrument,
		Size:       size,
		Price:      tn.Price,
	}
	if s.bus != nil {
		s.bus.Publish(events.EventOrderFilled, fill)
	}
	return fill, nil
}

// CancelOrder is a no-op because simulator fills are immediate.
func (s *Simulator) CancelOrder(ctx context.Context, orderID string) error {
	return ctx.Err()
}
