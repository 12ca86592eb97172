// Package router is the only path from an order intent to the market. It
// enforces risk validation and the end-of-session cutoff, dispatches tickets
// one at a time, applies confirmed fills to the ledger and journals every
// outcome.
package router

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"arbengine/internal/events"
	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/strategy"
	"arbengine/pkg/db"
)

// Router serializes order flow to the market-access collaborator.
type Router struct {
	mu       sync.Mutex
	access   market.Access
	ledger   *ledger.Ledger
	bus      *events.Bus
	journal  *db.Database
	failures int
}

func New(access market.Access, l *ledger.Ledger, bus *events.Bus, journal *db.Database) *Router {
	return &Router{
		access:  access,
		ledger:  l,
		bus:     bus,
		journal: journal,
	}
}

// Route executes a batch of intents in the order given. Ungrouped intents
// are independent tickets: one rejection never blocks the rest. Intents
// sharing a Group are one parcel, and a failed leg drops its unfilled
// siblings and unwinds the filled ones. canOpen gates risk-increasing orders
// near session end; reducing orders always route.
func (r *Router) Route(ctx context.Context, tick int, intents []strategy.OrderIntent, snap market.Snapshot, canOpen bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groupFills := make(map[string][]market.Fill)
	failed := make(map[string]bool)
	for _, in := range intents {
		if in.Group != "" && failed[in.Group] {
			log.Printf("router: drop %s %s %.0f, sibling leg failed", in.Strategy, in.Instrument, in.Size)
			r.record(tick, in, "", 0, "DROPPED_GROUP")
			continue
		}
		fill, ok := r.routeOne(ctx, tick, in, snap, canOpen)
		if in.Group == "" {
			continue
		}
		if !ok {
			failed[in.Group] = true
			r.unwind(ctx, tick, in.Strategy, groupFills[in.Group])
			delete(groupFills, in.Group)
			continue
		}
		if fill.Size != 0 {
			groupFills[in.Group] = append(groupFills[in.Group], fill)
		}
	}
}

func (r *Router) routeOne(ctx context.Context, tick int, in strategy.OrderIntent, snap market.Snapshot, canOpen bool) (market.Fill, bool) {
	if in.Size == 0 && in.TenderID == "" {
		return market.Fill{}, true
	}
	if !canOpen && !in.Reduce {
		log.Printf("router: drop %s %s %.0f, opening window closed", in.Strategy, in.Instrument, in.Size)
		r.record(tick, in, "", 0, "DROPPED_CUTOFF")
		return market.Fill{}, false
	}

	price := r.referencePrice(in, snap)
	if err := r.ledger.Validate(in.Instrument, in.Size, price); err != nil {
		log.Printf("router: reject %s %s %.0f: %v", in.Strategy, in.Instrument, in.Size, err)
		r.record(tick, in, "", price, "REJECTED_RISK")
		r.publish(events.EventOrderRejected, tick, in, err.Error())
		return market.Fill{}, false
	}

	r.publish(events.EventOrderSubmitted, tick, in, "")

	var (
		fill market.Fill
		err  error
	)
	if in.TenderID != "" {
		fill, err = r.access.AcceptTender(ctx, in.TenderID)
	} else {
		fill, err = r.access.SubmitOrder(ctx, market.OrderRequest{
			Instrument: in.Instrument,
			Size:       in.Size,
			Type:       in.Type,
			LimitPrice: in.LimitPrice,
			ClientID:   uuid.NewString(),
		})
	}
	if err != nil {
		r.handleError(tick, in, price, err)
		return market.Fill{}, false
	}

	r.failures = 0
	r.ledger.ApplyFill(fill, in.Strategy)
	r.record(tick, in, fill.OrderID, fill.Price, "FILLED")
	r.publish(events.EventOrderFilled, tick, in, "")
	return fill, true
}

// unwind reverses the fills of a partially executed parcel so no naked
// directional leg survives a sibling's failure.
func (r *Router) unwind(ctx context.Context, tick int, tag string, fills []market.Fill) {
	for _, f := range fills {
		rev := strategy.OrderIntent{
			Instrument: f.Instrument,
			Size:       -f.Size,
			Type:       market.Market,
			Strategy:   tag,
			Reduce:     true,
		}
		fill, err := r.access.SubmitOrder(ctx, market.OrderRequest{
			Instrument: rev.Instrument,
			Size:       rev.Size,
			Type:       market.Market,
			ClientID:   uuid.NewString(),
		})
		if err != nil {
			// The leg stays open; the profit/loss manager or the session-end
			// flatten will close it.
			log.Printf("router: unwind %s %.0f failed: %v", rev.Instrument, rev.Size, err)
			r.record(tick, rev, "", 0, "UNWIND_FAILED")
			continue
		}
		r.ledger.ApplyFill(fill, tag)
		log.Printf("router: unwound %s %.0f after a sibling leg failed", rev.Instrument, rev.Size)
		r.record(tick, rev, fill.OrderID, fill.Price, "UNWOUND")
		r.publish(events.EventOrderFilled, tick, rev, "unwind")
	}
}

func (r *Router) handleError(tick int, in strategy.OrderIntent, price float64, err error) {
	switch {
	case errors.Is(err, market.ErrAccessUnavailable):
		r.failures++
		log.Printf("router: market access error (%d consecutive): %v", r.failures, err)
		r.record(tick, in, "", price, "ACCESS_ERROR")
		if r.bus != nil {
			r.bus.Publish(events.EventMarketAccessError, map[string]any{
				"tick":     tick,
				"failures": r.failures,
				"error":    err.Error(),
			})
		}
	default:
		log.Printf("router: order rejected %s %s %.0f: %v", in.Strategy, in.Instrument, in.Size, err)
		r.record(tick, in, "", price, "REJECTED_VENUE")
		r.publish(events.EventOrderRejected, tick, in, err.Error())
	}
}

// Failures returns the consecutive market-access failure count.
func (r *Router) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// ResetFailures clears the failure counter after connectivity recovers.
func (r *Router) ResetFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

// referencePrice estimates the execution price for risk validation: the limit
// price when set, otherwise the marketable side of the book.
func (r *Router) referencePrice(in strategy.OrderIntent, snap market.Snapshot) float64 {
	if in.Type == market.Limit && in.LimitPrice > 0 {
		return in.LimitPrice
	}
	q, ok := snap.Quote(in.Instrument)
	if !ok {
		return 0
	}
	if in.Size > 0 {
		return q.Ask
	}
	return q.Bid
}

func (r *Router) record(tick int, in strategy.OrderIntent, orderID string, price float64, status string) {
	if r.journal == nil {
		return
	}
	err := r.journal.RecordOrder(db.OrderRecord{
		OrderID:    orderID,
		Tick:       tick,
		Instrument: in.Instrument,
		Size:       in.Size,
		Price:      price,
		OrderType:  string(in.Type),
		Strategy:   in.Strategy,
		Status:     status,
	})
	if err != nil {
		log.Printf("router: journal write failed: %v", err)
	}
}

func (r *Router) publish(topic events.Event, tick int, in strategy.OrderIntent, detail string) {
	if r.bus == nil {
		return
	}
	payload := map[string]any{
		"tick":       tick,
		"instrument": in.Instrument,
		"size":       in.Size,
		"strategy":   in.Strategy,
	}
	if detail != "" {
		payload["detail"] = detail
	}
	r.bus.Publish(topic, payload)
}
