package export

import (
	"bytes"
	"testing"
	"time"

	"sigengine/internal/domain"
)

func TestWriteCSVGoldenRows(t *testing.T) {
	tp2 := 2665.0
	signals := []domain.Signal{
		{
			ID:          7,
			Symbol:      "XAUUSD",
			Direction:   domain.DirectionBuy,
			EntryMin:    2650,
			EntryMax:    2653,
			StopLoss:    2641,
			TakeProfit1: 2658,
			TakeProfit2: &tp2,
			Status:      domain.StatusDone,
			CreatedAt:   time.Date(2026, 3, 10, 9, 30, 5, 0, time.UTC),
		},
		{
			ID:          8,
			Symbol:      "XAUUSD",
			Direction:   domain.DirectionSell,
			EntryMin:    2660.5,
			EntryMax:    2662.25,
			StopLoss:    2671,
			TakeProfit1: 2652,
			Status:      domain.StatusProcess,
			CreatedAt:   time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, signals); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := "\xef\xbb\xbf" +
		"id,symbol,direction,entry_min,entry_max,stop_loss,tp1,tp2,tp3,timestamp,status\n" +
		"7,XAUUSD,BUY,2650.00,2653.00,2641.00,2658.00,2665.00,0.00,2026-03-10 09:30:05,DONE\n" +
		"8,XAUUSD,SELL,2660.50,2662.25,2671.00,2652.00,0.00,0.00,2026-03-11 14:00:00,PROCESS\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteCSV output mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	want := "\xef\xbb\xbf" +
		"id,symbol,direction,entry_min,entry_max,stop_loss,tp1,tp2,tp3,timestamp,status\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteCSV output = %q, want header only", got)
	}
}
