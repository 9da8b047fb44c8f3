package domain

import (
	"context"
	"time"
)

// Venue is the narrow execution interface to the trading venue. The
// production implementation is the WebSocket bridge to the terminal;
// the paper venue implements the same contract in memory.
//
// The venue is the source of truth for positions, orders, deals and
// account state. Every call is synchronous and carries the caller's
// context for cancellation and deadlines.
type Venue interface {
	// Quote returns the current top of book for the symbol.
	Quote(ctx context.Context, symbol string) (Quote, error)

	// SymbolSpec returns the venue's trading parameters for the symbol.
	SymbolSpec(ctx context.Context, symbol string) (SymbolSpec, error)

	// PlaceMarketOrder submits a market order with attached stop and
	// target. Rejections wrap ErrOrderRejected.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// ModifyPositionStops replaces an open position's stop and target.
	ModifyPositionStops(ctx context.Context, positionID int64, stopLoss, takeProfit float64) error

	// ClosePosition closes an open position at market.
	ClosePosition(ctx context.Context, positionID int64) error

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, orderID int64) error

	// Positions lists open positions, filtered to the symbol when
	// non-empty and to the tag when non-zero.
	Positions(ctx context.Context, symbol string, tag int) ([]Position, error)

	// PendingOrders lists resting orders with the same filters.
	PendingOrders(ctx context.Context, symbol string, tag int) ([]PendingOrder, error)

	// Deals returns closed deals in [from, to].
	Deals(ctx context.Context, from, to time.Time) ([]Deal, error)

	// AccountInfo returns the live account snapshot.
	AccountInfo(ctx context.Context) (AccountInfo, error)

	// PriceAt returns the instrument's price at a past instant, for
	// session-boundary P/L attribution. ErrNoHistory when the venue has
	// no bar covering the instant.
	PriceAt(ctx context.Context, symbol string, at time.Time) (float64, error)

	Close() error
}
