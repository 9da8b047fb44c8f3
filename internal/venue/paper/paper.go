// Package paper provides a deterministic in-memory venue for dry runs
// and tests. Fills happen instantly at the current side price; books
// can be edited directly to stage scenarios.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sigengine/internal/domain"
)

// Compile-time interface check.
var _ domain.Venue = (*Venue)(nil)

// Venue simulates an MT5-style venue in memory. It is mutex-guarded so
// tests may drive it from multiple goroutines even though the engine
// itself is single-threaded.
type Venue struct {
	mu             sync.Mutex
	quote          domain.Quote
	spec           domain.SymbolSpec
	equity         float64
	balance        float64
	positions      map[int64]*domain.Position
	pending        map[int64]*domain.PendingOrder
	deals          []domain.Deal
	boundaryPrices map[string]float64
	nextID         int64
	failOrders     int // fail the next N order placements
	failCloses     int // fail the next N position closes
	failQuote      bool
	failPriceAt    bool
	failAccount    bool
	failDeals      bool
	ops            []string
}

// New returns a paper venue seeded with the reference instrument so a
// dry run starts without further setup.
func New() *Venue {
	return &Venue{
		quote: domain.Quote{Symbol: "XAUUSD", Bid: 2650.00, Ask: 2650.30, At: time.Now()},
		spec: domain.SymbolSpec{
			Symbol:       "XAUUSD",
			Digits:       2,
			Point:        0.01,
			VolumeMin:    0.01,
			VolumeMax:    100,
			VolumeStep:   0.01,
			ContractSize: 100,
		},
		equity:         10_000,
		balance:        10_000,
		positions:      make(map[int64]*domain.Position),
		pending:        make(map[int64]*domain.PendingOrder),
		boundaryPrices: make(map[string]float64),
		nextID:         1,
	}
}

// ---------------------------------------------------------------------------
// Venue interface
// ---------------------------------------------------------------------------

// Quote returns the configured top of book.
func (v *Venue) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "quote")
	if v.failQuote {
		return domain.Quote{}, fmt.Errorf("paper: quote feed down for %s", symbol)
	}
	if symbol != v.quote.Symbol {
		return domain.Quote{}, fmt.Errorf("paper: unknown symbol %q", symbol)
	}
	q := v.quote
	if q.At.IsZero() {
		q.At = time.Now()
	}
	return q, nil
}

// SymbolSpec returns the configured instrument parameters.
func (v *Venue) SymbolSpec(_ context.Context, symbol string) (domain.SymbolSpec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "symbol_spec")
	if symbol != v.spec.Symbol {
		return domain.SymbolSpec{}, fmt.Errorf("paper: unknown symbol %q", symbol)
	}
	return v.spec, nil
}

// PlaceMarketOrder fills immediately at the current side price. Stops on
// the wrong side of the fill price are rejected, mirroring the terminal.
func (v *Venue) PlaceMarketOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "order_place")

	if v.failOrders > 0 {
		v.failOrders--
		return domain.OrderResult{}, fmt.Errorf("paper: scripted failure: %w", domain.ErrOrderRejected)
	}
	if v.failQuote {
		return domain.OrderResult{}, fmt.Errorf("paper: quote feed down for %s", req.Symbol)
	}
	if req.Symbol != v.quote.Symbol {
		return domain.OrderResult{}, fmt.Errorf("paper: unknown symbol %q", req.Symbol)
	}
	if req.Volume <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: volume %v: %w", req.Volume, domain.ErrOrderRejected)
	}

	price := v.quote.SidePrice(req.Direction)
	if err := checkStops(req, price); err != nil {
		return domain.OrderResult{}, err
	}

	id := v.nextID
	v.nextID++
	v.positions[id] = &domain.Position{
		ID:           id,
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		EntryPrice:   price,
		CurrentPrice: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Tag:          req.Tag,
		Comment:      req.Comment,
		OpenedAt:     time.Now(),
	}
	return domain.OrderResult{PositionID: id, Price: price}, nil
}

// checkStops rejects stop/target levels on the wrong side of the fill
// price, the venue-side validation the engine deliberately leaves to
// the venue.
func checkStops(req domain.OrderRequest, price float64) error {
	if req.Direction == domain.DirectionBuy {
		if req.StopLoss != 0 && req.StopLoss >= price {
			return fmt.Errorf("paper: buy stop %.5f above fill %.5f: %w", req.StopLoss, price, domain.ErrOrderRejected)
		}
		if req.TakeProfit != 0 && req.TakeProfit <= price {
			return fmt.Errorf("paper: buy target %.5f below fill %.5f: %w", req.TakeProfit, price, domain.ErrOrderRejected)
		}
		return nil
	}
	if req.StopLoss != 0 && req.StopLoss <= price {
		return fmt.Errorf("paper: sell stop %.5f below fill %.5f: %w", req.StopLoss, price, domain.ErrOrderRejected)
	}
	if req.TakeProfit != 0 && req.TakeProfit >= price {
		return fmt.Errorf("paper: sell target %.5f above fill %.5f: %w", req.TakeProfit, price, domain.ErrOrderRejected)
	}
	return nil
}

// ModifyPositionStops replaces the stop and target of an open position.
func (v *Venue) ModifyPositionStops(_ context.Context, positionID int64, stopLoss, takeProfit float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "position_modify")
	pos, ok := v.positions[positionID]
	if !ok {
		return fmt.Errorf("paper: position %d: %w", positionID, domain.ErrNotFound)
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return nil
}

// ClosePosition closes at the current price and books the deal.
func (v *Venue) ClosePosition(_ context.Context, positionID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "position_close")
	if v.failCloses > 0 {
		v.failCloses--
		return fmt.Errorf("paper: scripted close failure for position %d", positionID)
	}
	pos, ok := v.positions[positionID]
	if !ok {
		return fmt.Errorf("paper: position %d: %w", positionID, domain.ErrNotFound)
	}

	dealID := v.nextID
	v.nextID++
	v.deals = append(v.deals, domain.Deal{
		ID:         dealID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Volume:     pos.Volume,
		Price:      pos.CurrentPrice,
		Profit:     pos.Profit,
		Tag:        pos.Tag,
		Comment:    pos.Comment,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now(),
	})
	delete(v.positions, positionID)
	return nil
}

// CancelOrder removes a resting order.
func (v *Venue) CancelOrder(_ context.Context, orderID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "order_cancel")
	if _, ok := v.pending[orderID]; !ok {
		return fmt.Errorf("paper: order %d: %w", orderID, domain.ErrNotFound)
	}
	delete(v.pending, orderID)
	return nil
}

// Positions lists open positions, filtered by symbol and tag when set.
func (v *Venue) Positions(_ context.Context, symbol string, tag int) ([]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "position_list")
	out := make([]domain.Position, 0, len(v.positions))
	for _, pos := range v.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		if tag != 0 && pos.Tag != tag {
			continue
		}
		out = append(out, *pos)
	}
	return out, nil
}

// PendingOrders lists resting orders with the same filters.
func (v *Venue) PendingOrders(_ context.Context, symbol string, tag int) ([]domain.PendingOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "order_list")
	out := make([]domain.PendingOrder, 0, len(v.pending))
	for _, ord := range v.pending {
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		if tag != 0 && ord.Tag != tag {
			continue
		}
		out = append(out, *ord)
	}
	return out, nil
}

// Deals returns booked deals closed in [from, to].
func (v *Venue) Deals(_ context.Context, from, to time.Time) ([]domain.Deal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "deal_history")
	if v.failDeals {
		return nil, fmt.Errorf("paper: deal history unavailable")
	}
	var out []domain.Deal
	for _, d := range v.deals {
		if d.ClosedAt.Before(from) || d.ClosedAt.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// AccountInfo returns the configured account snapshot.
func (v *Venue) AccountInfo(_ context.Context) (domain.AccountInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "account_info")
	if v.failAccount {
		return domain.AccountInfo{}, fmt.Errorf("paper: account info unavailable")
	}
	return domain.AccountInfo{Equity: v.equity, Balance: v.balance, Currency: "USD"}, nil
}

// PriceAt returns the staged boundary price for the symbol.
func (v *Venue) PriceAt(_ context.Context, symbol string, _ time.Time) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = append(v.ops, "price_at")
	if v.failPriceAt {
		return 0, fmt.Errorf("paper: history request failed: %w", domain.ErrNoHistory)
	}
	price, ok := v.boundaryPrices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no bar for %s: %w", symbol, domain.ErrNoHistory)
	}
	return price, nil
}

// Close implements domain.Venue; nothing to release.
func (v *Venue) Close() error { return nil }

// ---------------------------------------------------------------------------
// Staging helpers for dry runs and tests
// ---------------------------------------------------------------------------

// SetQuote replaces the top of book for the configured instrument.
func (v *Venue) SetQuote(bid, ask float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quote.Bid = bid
	v.quote.Ask = ask
	v.quote.At = time.Now()
}

// SetSpec replaces the instrument parameters (and the known symbol).
func (v *Venue) SetSpec(spec domain.SymbolSpec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spec = spec
	v.quote.Symbol = spec.Symbol
}

// SetEquity sets the account equity and balance.
func (v *Venue) SetEquity(equity float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.equity = equity
	v.balance = equity
}

// SetBoundaryPrice stages the historical price PriceAt returns.
func (v *Venue) SetBoundaryPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.boundaryPrices[symbol] = price
}

// FailNextOrders makes the next n placements fail with ErrOrderRejected.
func (v *Venue) FailNextOrders(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failOrders = n
}

// FailNextCloses makes the next n position closes fail.
func (v *Venue) FailNextCloses(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failCloses = n
}

// FailQuote toggles quote (and fill) availability.
func (v *Venue) FailQuote(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failQuote = fail
}

// FailPriceAt toggles history availability.
func (v *Venue) FailPriceAt(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failPriceAt = fail
}

// FailAccountInfo toggles account snapshot availability.
func (v *Venue) FailAccountInfo(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failAccount = fail
}

// FailDeals toggles deal history availability.
func (v *Venue) FailDeals(fail bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failDeals = fail
}

// AddPosition stages an open position and returns its id.
func (v *Venue) AddPosition(pos domain.Position) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pos.ID == 0 {
		pos.ID = v.nextID
		v.nextID++
	}
	p := pos
	v.positions[p.ID] = &p
	return p.ID
}

// AddPendingOrder stages a resting order and returns its id.
func (v *Venue) AddPendingOrder(ord domain.PendingOrder) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ord.ID == 0 {
		ord.ID = v.nextID
		v.nextID++
	}
	o := ord
	v.pending[o.ID] = &o
	return o.ID
}

// AddDeal stages a closed deal in the history book.
func (v *Venue) AddDeal(deal domain.Deal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if deal.ID == 0 {
		deal.ID = v.nextID
		v.nextID++
	}
	v.deals = append(v.deals, deal)
}

// SetPositionProfit updates a staged position's live profit figure.
func (v *Venue) SetPositionProfit(positionID int64, profit float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pos, ok := v.positions[positionID]; ok {
		pos.Profit = profit
	}
}

// Ops returns the method names invoked since the last reset, in order.
func (v *Venue) Ops() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.ops))
	copy(out, v.ops)
	return out
}

// ResetOps clears the recorded op log.
func (v *Venue) ResetOps() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ops = nil
}
