// Package sqlite implements the signal store on the SQLite queue file
// shared with the signal producer. The producer owns row creation; this
// side only reads pending work and writes statuses, so the schema and
// timestamp format mirror the producer's exactly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"sigengine/internal/domain"
)

// Compile-time interface check.
var _ domain.SignalStore = (*Store)(nil)

// schema is the producer's table verbatim. CREATE IF NOT EXISTS makes
// it a no-op when the producer created the file first, and older queue
// files with a constraint-free table keep working because reads never
// rely on the constraints.
const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	telegram_message_id INTEGER NOT NULL,
	telegram_channel_id INTEGER NOT NULL,
	symbol VARCHAR(20) NOT NULL DEFAULT 'XAUUSD',
	direction VARCHAR(10) NOT NULL,
	entry_min FLOAT NOT NULL,
	entry_max FLOAT NOT NULL,
	stop_loss FLOAT NOT NULL,
	take_profit_1 FLOAT NOT NULL,
	take_profit_2 FLOAT,
	take_profit_3 FLOAT,
	status VARCHAR(20) NOT NULL DEFAULT 'PROCESS',
	raw_message TEXT NOT NULL,
	content_hash VARCHAR(64) NOT NULL,
	created_at DATETIME,
	updated_at DATETIME,
	processed_at DATETIME,
	parse_error TEXT,
	CONSTRAINT uix_channel_message UNIQUE (telegram_channel_id, telegram_message_id),
	CONSTRAINT check_direction CHECK (direction IN ('BUY','SELL')),
	CONSTRAINT check_status CHECK (status IN ('PROCESS','MODIFY','DONE','INVALID','ERROR','EXPIRED'))
);
CREATE INDEX IF NOT EXISTS ix_signals_content_hash ON signals (content_hash);
`

const selectCols = `id, telegram_message_id, telegram_channel_id, symbol, direction,
	entry_min, entry_max, stop_loss, take_profit_1, take_profit_2, take_profit_3,
	status, raw_message, content_hash, created_at, updated_at, processed_at, parse_error`

// Store reads and updates the shared signal queue.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the queue file at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The producer process writes to the same file; wait out its
	// transactions instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	if err := ensureColumns(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "sqlite_store")),
	}, nil
}

// FetchPending returns PROCESS and MODIFY signals for the whitelisted
// symbols in insertion order. Rows the producer half-wrote (missing
// prices, unknown direction) are skipped, not failed: one bad row must
// never block the queue.
func (s *Store) FetchPending(ctx context.Context, whitelist []string) ([]domain.Signal, error) {
	if len(whitelist) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(whitelist)), ",")
	query := `SELECT ` + selectCols + ` FROM signals
		WHERE symbol IN (` + placeholders + `) AND status IN ('PROCESS','MODIFY')
		ORDER BY id ASC`
	args := make([]any, len(whitelist))
	for i, sym := range whitelist {
		args[i] = sym
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch pending signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, ok, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan signal: %w", err)
		}
		if !ok {
			s.logger.DebugContext(ctx, "skipping malformed signal row",
				slog.Int64("signal_id", sig.ID),
				slog.String("direction", string(sig.Direction)),
			)
			continue
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate pending signals: %w", err)
	}
	return out, nil
}

// SetStatus writes the decision back to the queue row, stamping
// updated_at and processed_at the way the producer's ORM would.
func (s *Store) SetStatus(ctx context.Context, id int64, status domain.SignalStatus) error {
	now := formatTimestamp(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, updated_at = ?, processed_at = ? WHERE id = ?`,
		string(status), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set signal %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set signal %d status: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Insert adds a signal row and returns its id. Used by the manual
// injection mode; the live queue is populated by the producer.
func (s *Store) Insert(ctx context.Context, sig domain.Signal) (int64, error) {
	if sig.Status == "" {
		sig.Status = domain.StatusProcess
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = sig.CreatedAt
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (
			telegram_message_id, telegram_channel_id, symbol, direction,
			entry_min, entry_max, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			status, raw_message, content_hash, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.SourceMessageID, sig.SourceChannelID, sig.Symbol, string(sig.Direction),
		sig.EntryMin, sig.EntryMax, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		string(sig.Status), sig.RawMessage, sig.ContentHash,
		formatTimestamp(sig.CreatedAt), formatTimestamp(sig.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert signal: %w", err)
	}
	return id, nil
}

// Export returns every signal created inside [from, to], regardless of
// status, in insertion order. Malformed rows are included as stored.
func (s *Store) Export(ctx context.Context, from, to time.Time) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM signals
		 WHERE created_at >= ? AND created_at <= ?
		 ORDER BY id ASC`,
		formatTimestamp(from), formatTimestamp(to),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: export signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, _, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate export: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureColumns adds the engine-side columns that queue files created
// by older producer versions or by hand are missing. CREATE TABLE IF
// NOT EXISTS cannot retrofit them onto an existing table.
func ensureColumns(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(signals)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, ddl := range map[string]string{
		"processed_at": `ALTER TABLE signals ADD COLUMN processed_at DATETIME`,
		"parse_error":  `ALTER TABLE signals ADD COLUMN parse_error TEXT`,
	} {
		if have[col] {
			continue
		}
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

// scanSignal reads one row null-tolerantly. The second return reports
// whether the row is well-formed enough to execute: known direction and
// all required price levels present.
func scanSignal(scanner interface{ Scan(dest ...any) error }) (domain.Signal, bool, error) {
	var (
		sig                  domain.Signal
		msgID, chanID        sql.NullInt64
		symbol, direction    sql.NullString
		entryMin, entryMax   sql.NullFloat64
		stopLoss, tp1        sql.NullFloat64
		tp2, tp3             sql.NullFloat64
		status, rawMsg, hash sql.NullString
		createdAt, updatedAt sql.NullString
		processedAt, perr    sql.NullString
	)

	err := scanner.Scan(
		&sig.ID, &msgID, &chanID, &symbol, &direction,
		&entryMin, &entryMax, &stopLoss, &tp1, &tp2, &tp3,
		&status, &rawMsg, &hash, &createdAt, &updatedAt, &processedAt, &perr,
	)
	if err != nil {
		return domain.Signal{}, false, err
	}

	sig.SourceMessageID = msgID.Int64
	sig.SourceChannelID = chanID.Int64
	sig.Symbol = symbol.String
	sig.EntryMin = entryMin.Float64
	sig.EntryMax = entryMax.Float64
	sig.StopLoss = stopLoss.Float64
	sig.TakeProfit1 = tp1.Float64
	if tp2.Valid {
		v := tp2.Float64
		sig.TakeProfit2 = &v
	}
	if tp3.Valid {
		v := tp3.Float64
		sig.TakeProfit3 = &v
	}
	sig.RawMessage = rawMsg.String
	sig.ContentHash = hash.String
	sig.CreatedAt = parseTimestamp(createdAt.String)
	sig.UpdatedAt = parseTimestamp(updatedAt.String)
	if processedAt.Valid && processedAt.String != "" {
		t := parseTimestamp(processedAt.String)
		sig.ProcessedAt = &t
	}
	if perr.Valid {
		v := perr.String
		sig.ParseError = &v
	}

	if st, err := domain.ParseSignalStatus(status.String); err == nil {
		sig.Status = st
	} else {
		sig.Status = domain.SignalStatus(status.String)
	}

	ok := entryMin.Valid && entryMax.Valid && stopLoss.Valid && tp1.Valid
	if dir, err := domain.ParseDirection(direction.String); err == nil {
		sig.Direction = dir
	} else {
		sig.Direction = domain.Direction(direction.String)
		ok = false
	}
	return sig, ok, nil
}

// timestampLayouts covers what the producer's ORM writes plus the
// obvious hand-edited variants seen in old queue files.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// formatTimestamp renders naive UTC with microseconds, the producer's
// on-disk format.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}
