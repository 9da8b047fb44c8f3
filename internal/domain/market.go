package domain

import "time"

// Quote is a top-of-book snapshot for one instrument.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

// SidePrice returns the price a market order in the given direction
// would deal at: ask for BUY, bid for SELL.
func (q Quote) SidePrice(d Direction) float64 {
	if d == DirectionBuy {
		return q.Ask
	}
	return q.Bid
}

// SymbolSpec carries the venue's trading parameters for one instrument.
type SymbolSpec struct {
	Symbol       string
	Digits       int     // price decimal places
	Point        float64 // minimal price increment
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	ContractSize float64 // units per 1.0 lot
}

// Position is one open venue position. The engine never caches these
// across ticks; the venue list is re-read whenever it matters.
type Position struct {
	ID           int64
	Symbol       string
	Direction    Direction
	Volume       float64
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     float64
	TakeProfit   float64
	Tag          int // engine order tag ("magic number"); 0 = manual
	Comment      string
	OpenedAt     time.Time
	Profit       float64 // live figure as reported by the venue
}

// PendingOrder is a resting order that has not yet become a position.
type PendingOrder struct {
	ID      int64
	Symbol  string
	Tag     int
	Comment string
}

// Deal is one closed trade from the venue's history.
type Deal struct {
	ID         int64
	PositionID int64
	Symbol     string
	Direction  Direction
	Volume     float64
	Price      float64 // close price
	Profit     float64
	Commission float64
	Swap       float64
	Tag        int
	Comment    string
	OpenedAt   time.Time // when the originating position opened
	ClosedAt   time.Time
}

// AccountInfo is the venue's live account snapshot.
type AccountInfo struct {
	Equity   float64
	Balance  float64
	Currency string
}

// OrderRequest is a market order submission.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Tag        int
	Comment    string
}

// OrderResult reports a filled market order.
type OrderResult struct {
	PositionID int64
	Price      float64 // fill price
}
