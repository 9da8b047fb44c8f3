package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"sigengine/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telegram_signals.sqlite3")
	s, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(msgID int64, symbol string, status domain.SignalStatus) domain.Signal {
	return domain.Signal{
		SourceMessageID: msgID,
		SourceChannelID: -100123456789,
		Symbol:          symbol,
		Direction:       domain.DirectionBuy,
		EntryMin:        2650,
		EntryMax:        2653,
		StopLoss:        2641,
		TakeProfit1:     2658,
		Status:          status,
		RawMessage:      "BUY GOLD 2650-2653 SL 2641 TP 2658",
		ContentHash:     "deadbeef",
	}
}

func TestFetchPendingFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, testSignal(1001, "XAUUSD", domain.StatusProcess))
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	second, err := s.Insert(ctx, testSignal(1002, "GOLD", domain.StatusModify))
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if _, err := s.Insert(ctx, testSignal(1003, "XAUUSD", domain.StatusDone)); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if _, err := s.Insert(ctx, testSignal(1004, "EURUSD", domain.StatusProcess)); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	got, err := s.FetchPending(ctx, []string{"XAUUSD", "GOLD"})
	if err != nil {
		t.Fatalf("FetchPending returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pending signals = %d, want 2", len(got))
	}
	if got[0].ID != first || got[1].ID != second {
		t.Errorf("pending order = %d,%d, want %d,%d", got[0].ID, got[1].ID, first, second)
	}
	if got[1].Status != domain.StatusModify {
		t.Errorf("second signal status = %q, want MODIFY", got[1].Status)
	}
}

func TestFetchPendingEmptyWhitelist(t *testing.T) {
	s := newTestStore(t)
	got, err := s.FetchPending(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchPending returned error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("pending signals = %d, want 0", len(got))
	}
}

func TestSetStatusStampsProcessedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, testSignal(1001, "XAUUSD", domain.StatusProcess))
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if err := s.SetStatus(ctx, id, domain.StatusDone); err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	rows, err := s.Export(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("exported rows = %d, want 1", len(rows))
	}
	if rows[0].Status != domain.StatusDone {
		t.Errorf("status = %q, want DONE", rows[0].Status)
	}
	if rows[0].ProcessedAt == nil {
		t.Error("ProcessedAt = nil after SetStatus, want stamped")
	}

	if pending, _ := s.FetchPending(ctx, []string{"XAUUSD"}); len(pending) != 0 {
		t.Errorf("pending after DONE = %d, want 0", len(pending))
	}
}

func TestSetStatusUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.SetStatus(context.Background(), 4242, domain.StatusDone)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SetStatus error = %v, want ErrNotFound", err)
	}
}

func TestInsertRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tp2 := 2665.0
	created := time.Date(2026, 3, 10, 9, 30, 15, 123456000, time.UTC)
	sig := domain.Signal{
		SourceMessageID: 2001,
		SourceChannelID: -100987654321,
		Symbol:          "XAUUSD",
		Direction:       domain.DirectionSell,
		EntryMin:        2400,
		EntryMax:        2402,
		StopLoss:        2410,
		TakeProfit1:     2395,
		TakeProfit2:     &tp2,
		Status:          domain.StatusProcess,
		RawMessage:      "SELL GOLD NOW 2400-2402 SL 2410",
		ContentHash:     "cafebabe",
		CreatedAt:       created,
	}

	id, err := s.Insert(ctx, sig)
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	rows, err := s.Export(ctx, created.Add(-time.Minute), created.Add(time.Minute))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("exported rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if got.Direction != domain.DirectionSell {
		t.Errorf("Direction = %q, want SELL", got.Direction)
	}
	if got.StopLoss != 2410 || got.EntryMax != 2402 {
		t.Errorf("levels = SL %v / entry_max %v, want 2410 / 2402", got.StopLoss, got.EntryMax)
	}
	if got.TakeProfit2 == nil || *got.TakeProfit2 != 2665 {
		t.Errorf("TakeProfit2 = %v, want 2665", got.TakeProfit2)
	}
	if got.TakeProfit3 != nil {
		t.Errorf("TakeProfit3 = %v, want nil", *got.TakeProfit3)
	}
	if got.RawMessage != sig.RawMessage {
		t.Errorf("RawMessage = %q, want %q", got.RawMessage, sig.RawMessage)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.ProcessedAt != nil {
		t.Errorf("ProcessedAt = %v on a fresh row, want nil", got.ProcessedAt)
	}
}

func TestInsertDuplicateMessageRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, testSignal(1001, "XAUUSD", domain.StatusProcess)); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if _, err := s.Insert(ctx, testSignal(1001, "XAUUSD", domain.StatusProcess)); err == nil {
		t.Error("duplicate (channel, message) insert succeeded, want unique violation")
	}
}

func TestExportWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }
	for i, d := range []int{8, 9, 10} {
		sig := testSignal(int64(3000+i), "XAUUSD", domain.StatusDone)
		sig.CreatedAt = day(d)
		if _, err := s.Insert(ctx, sig); err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
	}

	got, err := s.Export(ctx, day(8), day(9).Add(time.Hour))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("exported rows = %d, want 2", len(got))
	}
}

// TestLegacyQueueFile exercises a queue file created by the producer's
// early schema: no constraints, no processed_at / parse_error columns,
// free-form direction strings.
func TestLegacyQueueFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.sqlite3")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	const legacySchema = `
		CREATE TABLE signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_message_id INTEGER,
			telegram_channel_id INTEGER,
			symbol TEXT,
			direction TEXT,
			entry_min REAL,
			entry_max REAL,
			stop_loss REAL,
			take_profit_1 REAL,
			take_profit_2 REAL,
			take_profit_3 REAL,
			status TEXT,
			raw_message TEXT,
			content_hash TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`
	if _, err := db.Exec(legacySchema); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	const ins = `INSERT INTO signals
		(telegram_message_id, telegram_channel_id, symbol, direction, entry_min, entry_max,
		 stop_loss, take_profit_1, status, raw_message, content_hash, created_at, updated_at)
		VALUES (?, ?, 'XAUUSD', ?, ?, ?, ?, ?, 'PROCESS', 'raw', 'h', '2026-03-10 09:00:00', '2026-03-10 09:00:00')`
	if _, err := db.Exec(ins, 1, -1, "BUY", 2650.0, 2653.0, 2641.0, 2658.0); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	// Synonym direction from an older parser build.
	if _, err := db.Exec(ins, 2, -1, "long", 2650.0, 2653.0, 2641.0, 2658.0); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	// Gibberish direction: must be skipped, not fatal.
	if _, err := db.Exec(ins, 3, -1, "WAIT", 2650.0, 2653.0, 2641.0, 2658.0); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	// Half-written row with no prices: must be skipped.
	if _, err := db.Exec(`INSERT INTO signals (telegram_message_id, telegram_channel_id, symbol, direction, status, raw_message, content_hash)
		VALUES (4, -1, 'XAUUSD', 'BUY', 'PROCESS', 'raw', 'h')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	s, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New on legacy file returned error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	got, err := s.FetchPending(ctx, []string{"XAUUSD"})
	if err != nil {
		t.Fatalf("FetchPending returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pending signals = %d, want 2 well-formed rows", len(got))
	}
	if got[0].Direction != domain.DirectionBuy || got[1].Direction != domain.DirectionBuy {
		t.Errorf("directions = %q,%q, want BUY,BUY", got[0].Direction, got[1].Direction)
	}

	// The column migration makes status writes possible on old files.
	if err := s.SetStatus(ctx, got[1].ID, domain.StatusDone); err != nil {
		t.Fatalf("SetStatus on legacy file returned error: %v", err)
	}
	rows, err := s.Export(ctx, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), time.Now())
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	for _, row := range rows {
		if row.ID == got[1].ID && row.ProcessedAt == nil {
			t.Error("ProcessedAt = nil after SetStatus on migrated file")
		}
	}
}
