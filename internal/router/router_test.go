package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"arbengine/internal/events"
	"arbengine/internal/ledger"
	"arbengine/internal/market"
	"arbengine/internal/strategy"
)

type stubAccess struct {
	orders     []market.OrderRequest
	accepted   []string
	failNext   int
	rejectAll  bool
	rejectInst string // venue-reject orders for this instrument
	tender     *market.Tender
}

func (s *stubAccess) GetQuote(ctx context.Context, instrument string) (market.Quote, error) {
	return market.Quote{Instrument: instrument, Bid: 9.99, Ask: 10.01, Last: 10}, nil
}

func (s *stubAccess) SubmitOrder(ctx context.Context, req market.OrderRequest) (market.Fill, error) {
	if s.failNext > 0 {
		s.failNext--
		return market.Fill{}, market.ErrAccessUnavailable
	}
	if s.rejectAll || (s.rejectInst != "" && req.Instrument == s.rejectInst) {
		return market.Fill{}, market.ErrOrderRejected
	}
	s.orders = append(s.orders, req)
	px := 10.01
	if req.Size < 0 {
		px = 9.99
	}
	return market.Fill{OrderID: "o1", Instrument: req.Instrument, Size: req.Size, Price: px}, nil
}

func (s *stubAccess) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (s *stubAccess) Tenders(ctx context.Context) ([]market.Tender, error) { return nil, nil }

func (s *stubAccess) AcceptTender(ctx context.Context, tenderID string) (market.Fill, error) {
	if s.tender == nil || s.tender.ID != tenderID {
		return market.Fill{}, market.ErrOrderRejected
	}
	s.accepted = append(s.accepted, tenderID)
	size := s.tender.Qty
	if s.tender.Side == "BUY" {
		size = -s.tender.Qty
	}
	return market.Fill{OrderID: "t1", Instrument: s.tender.Instrument, Size: size, Price: s.tender.Price}, nil
}

func testSnapshot() market.Snapshot {
	return market.Snapshot{
		Tick: 1,
		Quotes: map[string]market.Quote{
			market.SAD: {Instrument: market.SAD, Bid: 9.99, Ask: 10.01, Last: 10},
		},
	}
}

func intent(size float64) strategy.OrderIntent {
	return strategy.OrderIntent{
		Instrument: market.SAD,
		Size:       size,
		Type:       market.Market,
		Strategy:   strategy.TagManual,
	}
}

func TestRouteAppliesFillToLedger(t *testing.T) {
	access := &stubAccess{}
	book := ledger.New(1_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	r.Route(context.Background(), 1, []strategy.OrderIntent{intent(100)}, testSnapshot(), true)

	require.Len(t, access.orders, 1)
	pos := book.Position(market.SAD)
	require.Equal(t, 100.0, pos.Qty)
	require.Equal(t, 10.01, pos.AvgCost)
}

func TestRouteRejectsOverCapBeforeSubmission(t *testing.T) {
	access := &stubAccess{}
	book := ledger.New(10_000, 0.8, true, nil) // cap 8000 notional
	r := New(access, book, events.NewBus(), nil)

	r.Route(context.Background(), 1, []strategy.OrderIntent{intent(10_000)}, testSnapshot(), true)

	require.Empty(t, access.orders, "over-cap order must never reach the venue")
	require.Equal(t, 0.0, book.Position(market.SAD).Qty)
}

func TestRouteDropsOpeningOrdersPastCutoff(t *testing.T) {
	access := &stubAccess{}
	book := ledger.New(1_000_000, 0.8, true, nil)
	book.ApplyFill(market.Fill{Instrument: market.SAD, Size: 200, Price: 10}, strategy.TagManual)
	r := New(access, book, events.NewBus(), nil)

	closing := intent(-200)
	closing.Reduce = true
	r.Route(context.Background(), 90, []strategy.OrderIntent{intent(100), closing}, testSnapshot(), false)

	require.Len(t, access.orders, 1, "only the reducing order routes past the cutoff")
	require.Equal(t, -200.0, access.orders[0].Size)
}

func TestRouteOneRejectionDoesNotBlockTheBatch(t *testing.T) {
	access := &stubAccess{failNext: 1}
	book := ledger.New(1_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	r.Route(context.Background(), 1, []strategy.OrderIntent{intent(100), intent(50)}, testSnapshot(), true)

	require.Len(t, access.orders, 1)
	require.Equal(t, 50.0, access.orders[0].Size)
	require.Equal(t, 0, r.Failures(), "a later success clears the failure counter")
}

func TestRouteCountsConsecutiveAccessFailures(t *testing.T) {
	access := &stubAccess{failNext: 3}
	book := ledger.New(1_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	for i := 0; i < 3; i++ {
		r.Route(context.Background(), i, []strategy.OrderIntent{intent(10)}, testSnapshot(), true)
	}
	require.Equal(t, 3, r.Failures())

	r.ResetFailures()
	require.Equal(t, 0, r.Failures())
}

func TestRouteDispatchesTenderAcceptance(t *testing.T) {
	tn := market.Tender{ID: "tn-9", Instrument: market.SAD, Side: "SELL", Price: 9.5, Qty: 1000}
	access := &stubAccess{tender: &tn}
	book := ledger.New(10_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	accept := strategy.OrderIntent{
		Instrument: market.SAD,
		Size:       1000,
		Type:       market.Limit,
		LimitPrice: 9.5,
		Strategy:   strategy.TagTender,
		TenderID:   "tn-9",
	}
	r.Route(context.Background(), 1, []strategy.OrderIntent{accept}, testSnapshot(), true)

	require.Equal(t, []string{"tn-9"}, access.accepted)
	require.Empty(t, access.orders, "tender acceptance must not become a regular order")
	require.Equal(t, 1000.0, book.Position(market.SAD).Qty)
}

func TestGroupUnwindsFilledLegOnSiblingRejection(t *testing.T) {
	access := &stubAccess{rejectInst: market.CRY}
	book := ledger.New(1_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	open := intent(100)
	open.Group = "pair-1"
	sibling := strategy.OrderIntent{
		Instrument: market.CRY,
		Size:       -100,
		Type:       market.Market,
		Strategy:   strategy.TagManual,
		Group:      "pair-1",
	}
	r.Route(context.Background(), 1, []strategy.OrderIntent{open, sibling}, testSnapshot(), true)

	require.Equal(t, 0.0, book.Position(market.SAD).Qty, "filled leg must be unwound")
	require.Equal(t, 0.0, book.Position(market.CRY).Qty)
	require.Len(t, access.orders, 2, "want the open and its reversal")
	require.Equal(t, -access.orders[0].Size, access.orders[1].Size)
	require.Equal(t, access.orders[0].Instrument, access.orders[1].Instrument)
}

func TestGroupDropsHedgeAfterTenderFailure(t *testing.T) {
	access := &stubAccess{} // no open tender: acceptance is rejected
	book := ledger.New(10_000_000, 0.8, true, nil)
	r := New(access, book, events.NewBus(), nil)

	accept := strategy.OrderIntent{
		Instrument: market.SAD,
		Size:       1000,
		Type:       market.Limit,
		LimitPrice: 9.5,
		Strategy:   strategy.TagTender,
		TenderID:   "tn-gone",
		Group:      "tender-tn-gone",
	}
	hedge := strategy.OrderIntent{
		Instrument: market.SAD,
		Size:       -1000,
		Type:       market.Market,
		Strategy:   strategy.TagTender,
		Reduce:     true,
		Group:      "tender-tn-gone",
	}
	r.Route(context.Background(), 1, []strategy.OrderIntent{accept, hedge}, testSnapshot(), true)

	require.Empty(t, access.orders, "the hedge must not route after the acceptance failed")
	require.Equal(t, 0.0, book.Position(market.SAD).Qty, "no naked short may remain")
}
