package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sigengine/internal/domain"
)

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)

const signalSelectCols = `id, telegram_message_id, telegram_channel_id, symbol, direction,
	entry_min, entry_max, stop_loss, take_profit_1, take_profit_2, take_profit_3,
	status, raw_message, content_hash, created_at, updated_at, processed_at, parse_error`

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	client *Client
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSignalStore creates a SignalStore backed by the client's pool. The
// store owns the client: Close shuts the pool down.
func NewSignalStore(client *Client, logger *slog.Logger) *SignalStore {
	return &SignalStore{
		client: client,
		pool:   client.Pool(),
		logger: logger.With(slog.String("component", "postgres_store")),
	}
}

// FetchPending returns PROCESS and MODIFY signals for the whitelisted
// symbols in insertion order.
func (s *SignalStore) FetchPending(ctx context.Context, whitelist []string) ([]domain.Signal, error) {
	if len(whitelist) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE symbol = ANY($1) AND status IN ('PROCESS','MODIFY')
		 ORDER BY id ASC`, whitelist)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch pending signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignalFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		if _, derr := domain.ParseDirection(string(sig.Direction)); derr != nil {
			s.logger.DebugContext(ctx, "skipping signal with unknown direction",
				slog.Int64("signal_id", sig.ID),
				slog.String("direction", string(sig.Direction)),
			)
			continue
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate pending signals: %w", err)
	}
	return out, nil
}

// SetStatus writes the decision back, stamping updated_at and
// processed_at server-side.
func (s *SignalStore) SetStatus(ctx context.Context, id int64, status domain.SignalStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET status = $1, updated_at = NOW(), processed_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: set signal %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Insert adds a signal row and returns its id.
func (s *SignalStore) Insert(ctx context.Context, sig domain.Signal) (int64, error) {
	if sig.Status == "" {
		sig.Status = domain.StatusProcess
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = sig.CreatedAt
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO signals (
			telegram_message_id, telegram_channel_id, symbol, direction,
			entry_min, entry_max, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			status, raw_message, content_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		sig.SourceMessageID, sig.SourceChannelID, sig.Symbol, string(sig.Direction),
		sig.EntryMin, sig.EntryMax, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		string(sig.Status), sig.RawMessage, sig.ContentHash, sig.CreatedAt, sig.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert signal: %w", err)
	}
	return id, nil
}

// Export returns every signal created inside [from, to] in insertion
// order.
func (s *SignalStore) Export(ctx context.Context, from, to time.Time) ([]domain.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalSelectCols+` FROM signals
		 WHERE created_at >= $1 AND created_at <= $2
		 ORDER BY id ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: export signals: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		sig, err := scanSignalFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate export: %w", err)
	}
	return out, nil
}

// Close shuts down the owning client's pool.
func (s *SignalStore) Close() error {
	s.client.Close()
	return nil
}

func scanSignalFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Signal, error) {
	var (
		sig       domain.Signal
		direction string
		status    string
	)
	err := scanner.Scan(
		&sig.ID, &sig.SourceMessageID, &sig.SourceChannelID, &sig.Symbol, &direction,
		&sig.EntryMin, &sig.EntryMax, &sig.StopLoss, &sig.TakeProfit1, &sig.TakeProfit2, &sig.TakeProfit3,
		&status, &sig.RawMessage, &sig.ContentHash, &sig.CreatedAt, &sig.UpdatedAt, &sig.ProcessedAt, &sig.ParseError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, err
	}

	if dir, derr := domain.ParseDirection(direction); derr == nil {
		sig.Direction = dir
	} else {
		sig.Direction = domain.Direction(direction)
	}
	if st, serr := domain.ParseSignalStatus(status); serr == nil {
		sig.Status = st
	} else {
		sig.Status = domain.SignalStatus(status)
	}
	return sig, nil
}
