// Package exec drives order placement against the venue: entry gating,
// the dual-leg bracket open, breakeven management and position teardown.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"sigengine/internal/domain"
)

// Leg comment suffixes. The first leg closes at take-profit 1, the
// second runs to the further target and gets moved to breakeven once
// the first leg is gone.
const (
	suffixTP1 = "_TP1"
	suffixTP2 = "_TP2"
)

// Config carries the execution parameters.
type Config struct {
	Symbol         string
	OrderTag       int
	EntryTolerance float64
}

// Engine owns all venue-side order mechanics. It holds no position
// state of its own; the venue's books are the single source of truth,
// re-read on every operation.
type Engine struct {
	venue  domain.Venue
	cfg    Config
	logger *slog.Logger

	spec domain.SymbolSpec
}

// New creates an Engine. Call Init before first use.
func New(venue domain.Venue, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		venue:  venue,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "exec")),
	}
}

// Init caches the instrument's venue parameters.
func (e *Engine) Init(ctx context.Context) error {
	spec, err := e.venue.SymbolSpec(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("exec: resolve symbol spec for %s: %w", e.cfg.Symbol, err)
	}
	e.spec = spec
	return nil
}

// CheckEntryRange reports whether the current side price sits inside
// the signal's entry band widened by the configured tolerance, and
// returns that price. A BUY fills at the ask, a SELL at the bid.
func (e *Engine) CheckEntryRange(ctx context.Context, sig domain.Signal) (bool, float64, error) {
	quote, err := e.venue.Quote(ctx, e.cfg.Symbol)
	if err != nil {
		return false, 0, fmt.Errorf("exec: quote %s: %w", e.cfg.Symbol, err)
	}
	price := quote.SidePrice(sig.Direction)
	ok := price >= sig.EntryMin-e.cfg.EntryTolerance && price <= sig.EntryMax+e.cfg.EntryTolerance
	return ok, price, nil
}

// OpenDualPosition flattens any existing exposure and opens the two
// bracket legs for the signal: both share the stop, the first targets
// take-profit 1 and the second the further target. On any leg failure
// the already-opened leg is closed again so the book never holds
// exactly one leg of a bracket.
func (e *Engine) OpenDualPosition(ctx context.Context, sig domain.Signal, lot1, lot2 float64) error {
	if err := e.FlattenAll(ctx); err != nil {
		return fmt.Errorf("exec: flatten before entry: %w", err)
	}

	leg1 := domain.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Direction:  sig.Direction,
		Volume:     lot1,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit1,
		Tag:        e.cfg.OrderTag,
		Comment:    fmt.Sprintf("S%d%s", sig.ID, suffixTP1),
	}
	res1, err := e.venue.PlaceMarketOrder(ctx, leg1)
	if err != nil {
		e.rollback(ctx, 0)
		return fmt.Errorf("exec: place first leg for signal %d: %w", sig.ID, err)
	}

	leg2 := leg1
	leg2.Volume = lot2
	leg2.TakeProfit = sig.SecondTarget()
	leg2.Comment = fmt.Sprintf("S%d%s", sig.ID, suffixTP2)
	res2, err := e.venue.PlaceMarketOrder(ctx, leg2)
	if err != nil {
		e.rollback(ctx, res1.PositionID)
		return fmt.Errorf("exec: place second leg for signal %d: %w", sig.ID, err)
	}

	e.logger.InfoContext(ctx, "bracket opened",
		slog.Int64("signal_id", sig.ID),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("leg1_price", res1.Price),
		slog.Float64("leg2_price", res2.Price),
		slog.Float64("stop_loss", sig.StopLoss),
		slog.Float64("tp1", sig.TakeProfit1),
		slog.Float64("tp2", sig.SecondTarget()),
	)
	return nil
}

// rollback closes a half-opened bracket and sweeps whatever else is
// still tagged. Failures are logged, not returned; the caller already
// has the placement error.
func (e *Engine) rollback(ctx context.Context, positionID int64) {
	if positionID != 0 {
		if err := e.venue.ClosePosition(ctx, positionID); err != nil {
			e.logger.ErrorContext(ctx, "failed to close orphaned bracket leg",
				slog.Int64("position_id", positionID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := e.FlattenAll(ctx); err != nil {
		e.logger.WarnContext(ctx, "post-failure flatten incomplete",
			slog.String("error", err.Error()),
		)
	}
}

// ManageBreakeven moves the surviving second leg's stop to its entry
// price once no first leg remains, locking the runner in at worst
// breakeven. Legs already at breakeven (within one point) are left
// alone, so the call is idempotent.
func (e *Engine) ManageBreakeven(ctx context.Context) error {
	positions, err := e.venue.Positions(ctx, e.cfg.Symbol, e.cfg.OrderTag)
	if err != nil {
		return fmt.Errorf("exec: list positions: %w", err)
	}

	tp1Open := false
	for _, pos := range positions {
		if strings.HasSuffix(pos.Comment, suffixTP1) {
			tp1Open = true
			break
		}
	}
	if tp1Open {
		return nil
	}

	for _, pos := range positions {
		if !strings.HasSuffix(pos.Comment, suffixTP2) {
			continue
		}
		if math.Abs(pos.StopLoss-pos.EntryPrice) <= e.spec.Point {
			continue
		}
		if err := e.venue.ModifyPositionStops(ctx, pos.ID, pos.EntryPrice, pos.TakeProfit); err != nil {
			return fmt.Errorf("exec: move stop to breakeven on position %d: %w", pos.ID, err)
		}
		e.logger.InfoContext(ctx, "stop moved to breakeven",
			slog.Int64("position_id", pos.ID),
			slog.Float64("entry_price", pos.EntryPrice),
			slog.Float64("old_stop", pos.StopLoss),
		)
	}
	return nil
}

// FlattenAll closes every tagged position and cancels every tagged
// pending order on the instrument. It keeps going past individual
// failures and reports them all at once.
func (e *Engine) FlattenAll(ctx context.Context) error {
	var failures []string

	positions, err := e.venue.Positions(ctx, e.cfg.Symbol, e.cfg.OrderTag)
	if err != nil {
		return fmt.Errorf("exec: list positions: %w", err)
	}
	for _, pos := range positions {
		if err := e.venue.ClosePosition(ctx, pos.ID); err != nil {
			failures = append(failures, fmt.Sprintf("close position %d: %v", pos.ID, err))
		}
	}

	orders, err := e.venue.PendingOrders(ctx, e.cfg.Symbol, e.cfg.OrderTag)
	if err != nil {
		return fmt.Errorf("exec: list pending orders: %w", err)
	}
	for _, ord := range orders {
		if err := e.venue.CancelOrder(ctx, ord.ID); err != nil {
			failures = append(failures, fmt.Sprintf("cancel order %d: %v", ord.ID, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("exec: flatten: %d operation(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}
