package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"sigengine/internal/domain"
)

// Config holds the tunable parameters of the daily-loss circuit breaker.
type Config struct {
	Symbol              string
	OrderTag            int
	MaxDailyLossPct     float64
	SessionStart        string // "HH:MM" on the session-local clock
	SessionUTCOffset    string // "+09:00"
	IncludeManualTrades bool
}

// Alerter pushes critical risk events to the operator channels.
type Alerter interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// Snapshot is the read-only view of the current risk state.
type Snapshot struct {
	StartingEquity float64
	DailyPL        float64
	DailyPLPct     float64
	Locked         bool
	NextResetAt    time.Time
}

// Manager tracks session boundaries and enforces the daily-loss lock.
// All state is process-lifetime only and rebuilt from venue account
// data; it is touched exclusively from the tick goroutine.
type Manager struct {
	venue   domain.Venue
	alerter Alerter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	offset      time.Duration
	spec        domain.SymbolSpec
	startEquity float64
	nextResetAt time.Time
	locked      bool
	lastPL      float64
	lastPLPct   float64
}

// New creates a Manager. Call Init before first use; alerter may be nil.
func New(venue domain.Venue, alerter Alerter, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		venue:   venue,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "risk")),
		now:     time.Now,
	}
}

// Init resolves the instrument's venue parameters, captures the starting
// equity and computes the first session boundary. Any failure here is
// fatal to the engine: risk arithmetic cannot run without them.
func (m *Manager) Init(ctx context.Context) error {
	offset, err := ParseUTCOffset(m.cfg.SessionUTCOffset)
	if err != nil {
		return err
	}
	m.offset = offset

	spec, err := m.venue.SymbolSpec(ctx, m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("risk: resolve symbol spec for %s: %w", m.cfg.Symbol, err)
	}
	m.spec = spec

	acct, err := m.venue.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("risk: read account info: %w", err)
	}
	m.startEquity = acct.Equity

	next, err := NextBoundary(m.now(), m.cfg.SessionStart, m.offset)
	if err != nil {
		return err
	}
	m.nextResetAt = next

	m.logger.InfoContext(ctx, "risk state initialized",
		slog.Float64("starting_equity", m.startEquity),
		slog.Time("next_reset_at", m.nextResetAt),
	)
	return nil
}

// TradingAllowed reports whether the engine may open positions. It is
// side-effecting: when the current time has reached next_reset_at it
// unlocks, re-snapshots starting equity from live account data and
// advances the boundary in 24 h steps until strictly future. Boundary
// crossing is detected lazily on any call; there is no separate timer.
func (m *Manager) TradingAllowed(ctx context.Context) bool {
	now := m.now()
	if now.Before(m.nextResetAt) {
		return !m.locked
	}

	wasLocked := m.locked
	m.locked = false
	m.lastPL = 0
	m.lastPLPct = 0

	if acct, err := m.venue.AccountInfo(ctx); err != nil {
		// Keep the previous snapshot; attribution degrades but the
		// session still rolls over.
		m.logger.WarnContext(ctx, "equity re-snapshot failed at session boundary",
			slog.String("error", err.Error()),
		)
	} else {
		m.startEquity = acct.Equity
	}

	for !m.nextResetAt.After(now) {
		m.nextResetAt = m.nextResetAt.Add(24 * time.Hour)
	}

	m.logger.InfoContext(ctx, "session boundary crossed",
		slog.Bool("was_locked", wasLocked),
		slog.Float64("starting_equity", m.startEquity),
		slog.Time("next_reset_at", m.nextResetAt),
	)
	return true
}

// CheckDailyLoss computes the session's realized+unrealized P/L as a
// percentage of starting equity and trips the lock when the drawdown
// reaches the configured threshold (inclusive). A no-op while already
// locked. Returns an error only when venue failures prevented any
// computation.
func (m *Manager) CheckDailyLoss(ctx context.Context) error {
	if m.locked {
		return nil
	}
	if m.startEquity <= 0 {
		m.logger.WarnContext(ctx, "starting equity not positive, skipping daily loss check",
			slog.Float64("starting_equity", m.startEquity),
		)
		return nil
	}

	boundary := m.nextResetAt.Add(-24 * time.Hour)
	pl, err := m.dailyPL(ctx, boundary)
	if err != nil {
		return err
	}

	m.lastPL = pl
	m.lastPLPct = pl / m.startEquity * 100

	drawdown := 0.0
	if pl < 0 {
		drawdown = -pl / m.startEquity * 100
	}
	if drawdown < m.cfg.MaxDailyLossPct {
		return nil
	}

	m.locked = true
	m.logger.ErrorContext(ctx, "daily loss limit breached, trading locked",
		slog.Float64("drawdown_pct", drawdown),
		slog.Float64("max_daily_loss_pct", m.cfg.MaxDailyLossPct),
		slog.Float64("daily_pl", pl),
		slog.Float64("starting_equity", m.startEquity),
		slog.Time("next_reset_at", m.nextResetAt),
	)
	if m.alerter != nil {
		msg := fmt.Sprintf("Daily drawdown %.2f%% reached the %.2f%% limit. Positions are being flattened; trading resumes at %s.",
			drawdown, m.cfg.MaxDailyLossPct, m.nextResetAt.UTC().Format(time.RFC3339))
		if err := m.alerter.NotifyAll(ctx, "Trading locked", msg); err != nil {
			m.logger.WarnContext(ctx, "lock alert delivery failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// dailyPL sums realized deals closed since the boundary and unrealized
// P/L on open positions. Trades whose position opened before the
// boundary contribute only the move since the boundary, priced off the
// instrument's boundary price; when that price is unavailable the live
// reported figure is used instead, an explicit approximation.
func (m *Manager) dailyPL(ctx context.Context, boundary time.Time) (float64, error) {
	now := m.now()

	deals, err := m.venue.Deals(ctx, boundary, now)
	if err != nil {
		return 0, fmt.Errorf("risk: deal history: %w", err)
	}

	var pl float64
	for _, deal := range deals {
		if !m.cfg.IncludeManualTrades && deal.Tag != m.cfg.OrderTag {
			continue
		}
		if !deal.OpenedAt.Before(boundary) {
			pl += deal.Profit + deal.Commission + deal.Swap
			continue
		}
		pl += m.sincePL(ctx, boundary, deal.Symbol, deal.Direction, deal.Volume, deal.Price,
			deal.Profit+deal.Commission+deal.Swap)
	}

	tag := m.cfg.OrderTag
	if m.cfg.IncludeManualTrades {
		tag = 0
	}
	positions, err := m.venue.Positions(ctx, "", tag)
	if err != nil {
		return 0, fmt.Errorf("risk: list positions: %w", err)
	}
	for _, pos := range positions {
		if !pos.OpenedAt.Before(boundary) {
			pl += pos.Profit
			continue
		}
		pl += m.sincePL(ctx, boundary, pos.Symbol, pos.Direction, pos.Volume, pos.CurrentPrice, pos.Profit)
	}

	return pl, nil
}

// sincePL attributes the P/L accrued since the boundary for one
// straddling trade: direction * (price - boundary price) * volume *
// contract size. Falls back to the live figure when the boundary price
// or the foreign symbol's contract size is unavailable.
func (m *Manager) sincePL(ctx context.Context, boundary time.Time, symbol string, dir domain.Direction, volume, price, liveFigure float64) float64 {
	if symbol == m.spec.Symbol {
		ref, err := m.venue.PriceAt(ctx, symbol, boundary)
		if err == nil {
			return dir.Sign() * (price - ref) * volume * m.spec.ContractSize
		}
		m.logger.WarnContext(ctx, "boundary price unavailable, using live figure",
			slog.String("symbol", symbol),
			slog.Time("boundary", boundary),
			slog.String("error", err.Error()),
		)
	}
	return liveFigure
}

// NormalizeLot floors a raw lot size to the venue's volume step and
// clamps the result to [volume min, volume max].
func (m *Manager) NormalizeLot(raw float64) float64 {
	lot := raw
	if step := m.spec.VolumeStep; step > 0 {
		lot = math.Floor(raw/step+1e-9) * step
	}
	if lot < m.spec.VolumeMin {
		lot = m.spec.VolumeMin
	}
	if lot > m.spec.VolumeMax {
		lot = m.spec.VolumeMax
	}
	return lot
}

// Snapshot returns the current risk state for reporting.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		StartingEquity: m.startEquity,
		DailyPL:        m.lastPL,
		DailyPLPct:     m.lastPLPct,
		Locked:         m.locked,
		NextResetAt:    m.nextResetAt,
	}
}

// SessionNow returns the current time on the session-local clock.
func (m *Manager) SessionNow() time.Time {
	return m.now().UTC().Add(m.offset)
}
