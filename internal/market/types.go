package market

import (
	"context"
	"errors"
)

// Instrument identifiers for the session. The four stocks and JOY_C trade in
// CAD, JOY_U trades in USD, and USD is the FX rate quoted as CAD per USD.
const (
	SAD   = "SAD"
	CRY   = "CRY"
	ANGER = "ANGER"
	FEAR  = "FEAR"
	JOYC  = "JOY_C"
	JOYU  = "JOY_U"
	USD   = "USD"
)

// Stocks is the ETF basket in fixed order.
var Stocks = []string{SAD, CRY, ANGER, FEAR}

// Tradable lists every instrument orders may be placed on.
var Tradable = []string{SAD, CRY, ANGER, FEAR, JOYC, JOYU}

// All lists every instrument the snapshot tracks, FX included.
var All = []string{SAD, CRY, ANGER, FEAR, JOYC, JOYU, USD}

// Currency returns the quote currency of an instrument.
func Currency(instrument string) string {
	if instrument == JOYU {
		return "USD"
	}
	return "CAD"
}

// Known reports whether the identifier names a tradable instrument.
func Known(instrument string) bool {
	for _, id := range Tradable {
		if id == instrument {
			return true
		}
	}
	return false
}

// Quote is the latest top-of-book view of one instrument.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Last       float64
}

// Mid returns the bid/ask midpoint, falling back to Last on a one-sided book.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Spread returns the bid/ask spread, zero when the book is one-sided.
func (q Quote) Spread() float64 {
	if q.Bid > 0 && q.Ask > 0 && q.Ask > q.Bid {
		return q.Ask - q.Bid
	}
	return 0
}

// Tender is a one-off block offer: the counterparty wants to trade Qty shares
// at Price, accepted or rejected as a whole. Side is the counterparty action,
// so a "BUY" tender means we deliver (sell) stock at Price.
type Tender struct {
	ID         string
	Instrument string
	Side       string // counterparty side: BUY or SELL
	Price      float64
	Qty        float64
	ExpiryTick int
}

// PriceType selects how an order is priced.
type PriceType string

const (
	Market PriceType = "MARKET"
	Limit  PriceType = "LIMIT"
)

// OrderRequest is what the engine hands to the market-access collaborator.
type OrderRequest struct {
	Instrument string
	Size       float64 // signed: >0 buy, <0 sell
	Type       PriceType
	LimitPrice float64
	ClientID   string
}

// Fill reports an executed order.
type Fill struct {
	OrderID    string
	Instrument string
	Size       float64 // signed, matches the request convention
	Price      float64 // volume-weighted execution price
}

// Access is the market-access collaborator the core trades through.
type Access interface {
	// GetQuote returns the latest top of book for one instrument.
	GetQuote(ctx context.Context, instrument string) (Quote, error)
	// SubmitOrder places an order and reports the fill, or ErrOrderRejected.
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, orderID string) error
	// Tenders returns the block offers currently open.
	Tenders(ctx context.Context) ([]Tender, error)
	// AcceptTender takes an open block offer whole and reports the fill.
	AcceptTender(ctx context.Context, tenderID string) (Fill, error)
}

var (
	// ErrUnknownInstrument is returned for identifiers outside the session set.
	ErrUnknownInstrument = errors.New("market: unknown instrument")
	// ErrOrderRejected is returned when the venue declines an order.
	ErrOrderRejected = errors.New("market: order rejected")
	// ErrAccessUnavailable is returned on connectivity loss or timeout.
	ErrAccessUnavailable = errors.New("market: access unavailable")
)
