package exec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"sigengine/internal/domain"
	"sigengine/internal/venue/paper"
)

func newTestEngine(t *testing.T) (*Engine, *paper.Venue) {
	t.Helper()
	v := paper.New()
	e := New(v, Config{
		Symbol:         "XAUUSD",
		OrderTag:       777001,
		EntryTolerance: 0.5,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	return e, v
}

func buySignal(id int64) domain.Signal {
	tp2 := 2665.0
	return domain.Signal{
		ID:          id,
		Symbol:      "XAUUSD",
		Direction:   domain.DirectionBuy,
		EntryMin:    2650,
		EntryMax:    2653,
		StopLoss:    2641,
		TakeProfit1: 2658,
		TakeProfit2: &tp2,
	}
}

func TestCheckEntryRange(t *testing.T) {
	tests := []struct {
		name      string
		bid, ask  float64
		direction domain.Direction
		wantOK    bool
		wantPrice float64
	}{
		{"buy inside band", 2650.90, 2651.20, domain.DirectionBuy, true, 2651.20},
		{"buy at upper tolerance edge", 2653.20, 2653.50, domain.DirectionBuy, true, 2653.50},
		{"buy ran away", 2653.90, 2654.20, domain.DirectionBuy, false, 2654.20},
		{"buy below band within tolerance", 2649.20, 2649.50, domain.DirectionBuy, true, 2649.50},
		{"sell gates on bid", 2652.80, 2653.10, domain.DirectionSell, true, 2652.80},
		{"sell bid too low", 2649.20, 2649.50, domain.DirectionSell, false, 2649.20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, v := newTestEngine(t)
			v.SetQuote(tt.bid, tt.ask)

			sig := buySignal(1)
			sig.Direction = tt.direction
			ok, price, err := e.CheckEntryRange(context.Background(), sig)
			if err != nil {
				t.Fatalf("CheckEntryRange returned error: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("eligible = %v, want %v", ok, tt.wantOK)
			}
			if price != tt.wantPrice {
				t.Errorf("price = %v, want %v", price, tt.wantPrice)
			}
		})
	}
}

func TestCheckEntryRangeQuoteError(t *testing.T) {
	e, v := newTestEngine(t)
	v.FailQuote(true)

	if _, _, err := e.CheckEntryRange(context.Background(), buySignal(1)); err == nil {
		t.Fatal("CheckEntryRange error = nil, want quote error")
	}
}

func TestOpenDualPositionOpensBothLegs(t *testing.T) {
	e, v := newTestEngine(t)
	v.SetQuote(2650.90, 2651.20)
	ctx := context.Background()

	if err := e.OpenDualPosition(ctx, buySignal(42), 0.02, 0.01); err != nil {
		t.Fatalf("OpenDualPosition returned error: %v", err)
	}

	positions, err := v.Positions(ctx, "XAUUSD", 777001)
	if err != nil {
		t.Fatalf("Positions returned error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("open positions = %d, want 2", len(positions))
	}

	byComment := map[string]domain.Position{}
	for _, pos := range positions {
		byComment[pos.Comment] = pos
	}
	leg1, ok := byComment["S42_TP1"]
	if !ok {
		t.Fatalf("no S42_TP1 leg in %v", byComment)
	}
	leg2, ok := byComment["S42_TP2"]
	if !ok {
		t.Fatalf("no S42_TP2 leg in %v", byComment)
	}

	if leg1.StopLoss != 2641 || leg2.StopLoss != 2641 {
		t.Errorf("stops = %v/%v, want shared 2641", leg1.StopLoss, leg2.StopLoss)
	}
	if leg1.TakeProfit != 2658 {
		t.Errorf("leg1 target = %v, want 2658", leg1.TakeProfit)
	}
	if leg2.TakeProfit != 2665 {
		t.Errorf("leg2 target = %v, want 2665", leg2.TakeProfit)
	}
	if leg1.Volume != 0.02 || leg2.Volume != 0.01 {
		t.Errorf("volumes = %v/%v, want 0.02/0.01", leg1.Volume, leg2.Volume)
	}
}

func TestOpenDualPositionFallsBackToTP1Target(t *testing.T) {
	e, v := newTestEngine(t)
	v.SetQuote(2650.90, 2651.20)
	ctx := context.Background()

	sig := buySignal(7)
	sig.TakeProfit2 = nil
	if err := e.OpenDualPosition(ctx, sig, 0.01, 0.01); err != nil {
		t.Fatalf("OpenDualPosition returned error: %v", err)
	}

	positions, _ := v.Positions(ctx, "XAUUSD", 777001)
	for _, pos := range positions {
		if pos.TakeProfit != 2658 {
			t.Errorf("%s target = %v, want shared 2658", pos.Comment, pos.TakeProfit)
		}
	}
}

func TestOpenDualPositionFlattensExistingExposure(t *testing.T) {
	e, v := newTestEngine(t)
	v.SetQuote(2650.90, 2651.20)
	ctx := context.Background()

	stale := v.AddPosition(domain.Position{
		Symbol: "XAUUSD", Direction: domain.DirectionSell, Volume: 0.03,
		Tag: 777001, Comment: "S41_TP2",
	})
	v.AddPendingOrder(domain.PendingOrder{Symbol: "XAUUSD", Tag: 777001, Comment: "S41"})

	if err := e.OpenDualPosition(ctx, buySignal(42), 0.01, 0.01); err != nil {
		t.Fatalf("OpenDualPosition returned error: %v", err)
	}

	positions, _ := v.Positions(ctx, "XAUUSD", 777001)
	for _, pos := range positions {
		if pos.ID == stale {
			t.Error("stale position still open after new bracket")
		}
	}
	if len(positions) != 2 {
		t.Errorf("open positions = %d, want only the new bracket", len(positions))
	}
	if pending, _ := v.PendingOrders(ctx, "XAUUSD", 777001); len(pending) != 0 {
		t.Errorf("pending orders = %d, want 0", len(pending))
	}
}

func TestOpenDualPositionRollsBackWhenSecondLegRejected(t *testing.T) {
	e, v := newTestEngine(t)
	v.SetQuote(2650.90, 2651.20)
	ctx := context.Background()

	// TP2 below the ask is rejected by the venue for a BUY; the first
	// leg has already filled by then and must be unwound.
	sig := buySignal(42)
	badTP2 := 2640.0
	sig.TakeProfit2 = &badTP2

	err := e.OpenDualPosition(ctx, sig, 0.01, 0.01)
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("OpenDualPosition error = %v, want ErrOrderRejected", err)
	}

	positions, _ := v.Positions(ctx, "XAUUSD", 777001)
	if len(positions) != 0 {
		t.Errorf("open positions = %d after rollback, want 0", len(positions))
	}
}

func TestOpenDualPositionFirstLegFailureLeavesNothing(t *testing.T) {
	e, v := newTestEngine(t)
	v.SetQuote(2650.90, 2651.20)
	v.FailNextOrders(1)

	err := e.OpenDualPosition(context.Background(), buySignal(42), 0.01, 0.01)
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("OpenDualPosition error = %v, want ErrOrderRejected", err)
	}
	if positions, _ := v.Positions(context.Background(), "XAUUSD", 777001); len(positions) != 0 {
		t.Errorf("open positions = %d, want 0", len(positions))
	}
}

func TestManageBreakeven(t *testing.T) {
	e, v := newTestEngine(t)
	ctx := context.Background()

	leg1 := v.AddPosition(domain.Position{
		Symbol: "XAUUSD", Direction: domain.DirectionBuy, Volume: 0.01,
		EntryPrice: 2651.20, StopLoss: 2641, TakeProfit: 2658,
		Tag: 777001, Comment: "S42_TP1",
	})
	leg2 := v.AddPosition(domain.Position{
		Symbol: "XAUUSD", Direction: domain.DirectionBuy, Volume: 0.01,
		EntryPrice: 2651.20, StopLoss: 2641, TakeProfit: 2665,
		Tag: 777001, Comment: "S42_TP2",
	})

	// Both legs open: nothing to do yet.
	if err := e.ManageBreakeven(ctx); err != nil {
		t.Fatalf("ManageBreakeven returned error: %v", err)
	}
	positions, _ := v.Positions(ctx, "XAUUSD", 777001)
	for _, pos := range positions {
		if pos.StopLoss != 2641 {
			t.Errorf("%s stop = %v before TP1 hit, want 2641", pos.Comment, pos.StopLoss)
		}
	}

	// First target hit: its leg disappears from the book.
	if err := v.ClosePosition(ctx, leg1); err != nil {
		t.Fatalf("ClosePosition returned error: %v", err)
	}
	if err := e.ManageBreakeven(ctx); err != nil {
		t.Fatalf("ManageBreakeven returned error: %v", err)
	}

	positions, _ = v.Positions(ctx, "XAUUSD", 777001)
	if len(positions) != 1 || positions[0].ID != leg2 {
		t.Fatalf("positions = %+v, want only the runner", positions)
	}
	if positions[0].StopLoss != 2651.20 {
		t.Errorf("runner stop = %v, want entry 2651.20", positions[0].StopLoss)
	}
	if positions[0].TakeProfit != 2665 {
		t.Errorf("runner target = %v, want unchanged 2665", positions[0].TakeProfit)
	}

	// Second pass must not touch the stop again.
	v.ResetOps()
	if err := e.ManageBreakeven(ctx); err != nil {
		t.Fatalf("ManageBreakeven returned error: %v", err)
	}
	for _, op := range v.Ops() {
		if op == "position_modify" {
			t.Error("stop modified again on an already-breakeven runner")
		}
	}
}

func TestFlattenAllReportsEveryFailure(t *testing.T) {
	e, v := newTestEngine(t)
	ctx := context.Background()

	v.AddPosition(domain.Position{Symbol: "XAUUSD", Tag: 777001, Comment: "S1_TP1", Direction: domain.DirectionBuy, Volume: 0.01})
	v.AddPosition(domain.Position{Symbol: "XAUUSD", Tag: 777001, Comment: "S1_TP2", Direction: domain.DirectionBuy, Volume: 0.01})
	v.FailNextCloses(2)

	err := e.FlattenAll(ctx)
	if err == nil {
		t.Fatal("FlattenAll error = nil, want aggregated failures")
	}
	if !strings.Contains(err.Error(), "2 operation(s) failed") {
		t.Errorf("error = %v, want both failures reported", err)
	}

	// Both closes were still attempted.
	closes := 0
	for _, op := range v.Ops() {
		if op == "position_close" {
			closes++
		}
	}
	if closes != 2 {
		t.Errorf("close attempts = %d, want 2", closes)
	}
}

func TestFlattenAllIgnoresForeignPositions(t *testing.T) {
	e, v := newTestEngine(t)
	ctx := context.Background()

	manual := v.AddPosition(domain.Position{Symbol: "XAUUSD", Tag: 0, Direction: domain.DirectionBuy, Volume: 0.5})
	tagged := v.AddPosition(domain.Position{Symbol: "XAUUSD", Tag: 777001, Comment: "S1_TP1", Direction: domain.DirectionBuy, Volume: 0.01})

	if err := e.FlattenAll(ctx); err != nil {
		t.Fatalf("FlattenAll returned error: %v", err)
	}

	positions, _ := v.Positions(ctx, "", 0)
	if len(positions) != 1 || positions[0].ID != manual {
		t.Errorf("positions = %+v, want only the manual one left", positions)
	}
	for _, pos := range positions {
		if pos.ID == tagged {
			t.Error("tagged position survived FlattenAll")
		}
	}
}
