package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sigengine/internal/domain"
	"sigengine/internal/exec"
	"sigengine/internal/risk"
)

// Notifier pushes operator-facing event notifications. Implemented by
// the notify package; optional.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config carries the coordinator's polling and sizing parameters.
type Config struct {
	Symbol        string
	SymbolAliases []string
	OrderTag      int
	PollInterval  time.Duration
	MaxSLDistance float64
	Leg1Volume    float64
	Leg2Volume    float64
}

// whitelist is the symbol filter handed to the store: the instrument
// plus the producer-side aliases that map onto it.
func (c Config) whitelist() []string {
	out := make([]string, 0, 1+len(c.SymbolAliases))
	out = append(out, c.Symbol)
	out = append(out, c.SymbolAliases...)
	return out
}

// Coordinator runs the execution loop: one tick per poll interval, each
// tick re-deriving everything it needs from the venue and the store.
// Signals are processed in insertion order and each one is isolated; a
// failure decides that signal and never aborts the tick.
type Coordinator struct {
	store  domain.SignalStore
	venue  domain.Venue
	risk   *risk.Manager
	engine *exec.Engine
	cfg    Config
	logger *slog.Logger
	runID  string
	now    func() time.Time

	bus      domain.StatusPublisher
	archiver domain.OutcomeArchiver
	notifier Notifier
}

// NewCoordinator creates a Coordinator. The store, venue, risk manager
// and engine are required; status bus, archiver and notifier are
// attached with the Set methods when enabled.
func NewCoordinator(
	store domain.SignalStore,
	venue domain.Venue,
	riskMgr *risk.Manager,
	engine *exec.Engine,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:  store,
		venue:  venue,
		risk:   riskMgr,
		engine: engine,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor")),
		runID:  uuid.New().String(),
		now:    time.Now,
	}
}

// SetStatusBus attaches an external status publisher.
func (c *Coordinator) SetStatusBus(bus domain.StatusPublisher) {
	c.bus = bus
}

// SetArchiver attaches an outcome archiver.
func (c *Coordinator) SetArchiver(a domain.OutcomeArchiver) {
	c.archiver = a
}

// SetNotifier attaches an operator notifier.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// RunID identifies this engine process in snapshots and archives.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Run executes ticks until the context is cancelled. The first tick
// fires immediately rather than one poll interval in.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("execution loop started",
		slog.String("run_id", c.runID),
		slog.String("symbol", c.cfg.Symbol),
		slog.Duration("poll_interval", c.cfg.PollInterval),
	)
	defer c.logger.Info("execution loop stopped")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one pass of the execution loop.
func (c *Coordinator) Tick(ctx context.Context) {
	// 1. Refresh the daily-loss state. A venue hiccup here must not
	// stall the loop; the previous lock state stays in force.
	if err := c.risk.CheckDailyLoss(ctx); err != nil {
		c.logger.ErrorContext(ctx, "daily loss check failed",
			slog.String("error", err.Error()),
		)
	}

	// 2. While locked the engine only tears down and reports.
	if !c.risk.TradingAllowed(ctx) {
		if err := c.engine.FlattenAll(ctx); err != nil {
			c.logger.ErrorContext(ctx, "flatten under lock failed",
				slog.String("error", err.Error()),
			)
			c.notify(ctx, "flatten_failed", "Flatten failed",
				fmt.Sprintf("Could not flatten while trading is locked: %v", err))
		}
		c.publishStatus(ctx, 0)
		return
	}

	// 3. Breakeven management runs before new entries so a runner from
	// the previous signal is protected first.
	if err := c.engine.ManageBreakeven(ctx); err != nil {
		c.logger.ErrorContext(ctx, "breakeven management failed",
			slog.String("error", err.Error()),
		)
	}

	// 4. Pull and work the pending queue.
	pending := 0
	signals, err := c.store.FetchPending(ctx, c.cfg.whitelist())
	if err != nil {
		c.logger.ErrorContext(ctx, "fetch pending signals failed",
			slog.String("error", err.Error()),
		)
	} else {
		pending = len(signals)
		for _, sig := range signals {
			if c.processSignal(ctx, sig) {
				pending--
			}
		}
	}

	c.publishStatus(ctx, pending)
}

// processSignal takes one pending signal through the decision pipeline.
// It reports whether the signal was decided; undecided signals keep
// their status and come back on the next tick.
func (c *Coordinator) processSignal(ctx context.Context, sig domain.Signal) bool {
	log := c.logger.With(
		slog.Int64("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)

	// 1. Instrument guard. The store already filters, but a legacy
	// table or a mid-flight config change can still surface strays.
	if !c.matchesInstrument(sig.Symbol) {
		log.WarnContext(ctx, "signal for unconfigured symbol, marking invalid")
		c.decide(ctx, log, sig, domain.StatusInvalid, 0)
		return true
	}

	// 2. Stop-distance sanity. Oversized stops are structurally bad
	// signals and are refused without touching the venue. A negative
	// distance (stop on the wrong side) passes here; the venue is the
	// authority and will reject the order itself.
	if dist := sig.StopDistance(); dist > c.cfg.MaxSLDistance {
		log.WarnContext(ctx, "stop distance exceeds limit, marking invalid",
			slog.Float64("stop_distance", dist),
			slog.Float64("max_sl_distance", c.cfg.MaxSLDistance),
		)
		c.decide(ctx, log, sig, domain.StatusInvalid, 0)
		return true
	}

	// 3. Entry gating. A quote failure leaves the signal pending for
	// the next tick rather than burning it.
	ok, price, err := c.engine.CheckEntryRange(ctx, sig)
	if err != nil {
		log.WarnContext(ctx, "quote unavailable, leaving signal pending",
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		log.DebugContext(ctx, "price outside entry band, leaving signal pending",
			slog.Float64("price", price),
			slog.Float64("entry_min", sig.EntryMin),
			slog.Float64("entry_max", sig.EntryMax),
		)
		return false
	}

	// 4. Bracket entry with venue-normalized lots.
	lot1 := c.risk.NormalizeLot(c.cfg.Leg1Volume)
	lot2 := c.risk.NormalizeLot(c.cfg.Leg2Volume)
	if err := c.engine.OpenDualPosition(ctx, sig, lot1, lot2); err != nil {
		log.ErrorContext(ctx, "bracket entry failed",
			slog.Float64("price", price),
			slog.String("error", err.Error()),
		)
		c.notify(ctx, "exec_failed", "Execution failed",
			fmt.Sprintf("Signal %d (%s %s) failed to execute: %v", sig.ID, sig.Direction, sig.Symbol, err))
		c.decide(ctx, log, sig, domain.StatusError, price)
		return true
	}

	log.InfoContext(ctx, "signal executed",
		slog.Float64("price", price),
		slog.Float64("lot1", lot1),
		slog.Float64("lot2", lot2),
	)
	c.decide(ctx, log, sig, domain.StatusDone, price)
	return true
}

// decide persists a terminal-ish status and archives the outcome. A
// failed status write is logged and left alone: the row keeps its old
// status and the signal is simply seen again next tick.
func (c *Coordinator) decide(ctx context.Context, log *slog.Logger, sig domain.Signal, status domain.SignalStatus, price float64) {
	if err := c.store.SetStatus(ctx, sig.ID, status); err != nil {
		log.ErrorContext(ctx, "status write failed, signal may be reprocessed",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}

	if c.archiver == nil {
		return
	}
	outcome := domain.SignalOutcome{
		Signal:    sig,
		Status:    status,
		Price:     price,
		DecidedAt: c.now().UTC(),
		RunID:     c.runID,
	}
	if err := c.archiver.Archive(ctx, outcome); err != nil {
		log.WarnContext(ctx, "outcome archive failed",
			slog.String("error", err.Error()),
		)
	}
}

// publishStatus assembles the tick snapshot and hands it to the log and
// the optional status bus.
func (c *Coordinator) publishStatus(ctx context.Context, pending int) {
	rs := c.risk.Snapshot()
	snap := domain.StatusSnapshot{
		RunID:          c.runID,
		At:             c.now().UTC(),
		StartingEquity: rs.StartingEquity,
		DailyPL:        rs.DailyPL,
		DailyPLPct:     rs.DailyPLPct,
		Locked:         rs.Locked,
		NextResetAt:    rs.NextResetAt,
		PendingSignals: pending,
	}

	if acct, err := c.venue.AccountInfo(ctx); err != nil {
		c.logger.WarnContext(ctx, "account info unavailable for snapshot",
			slog.String("error", err.Error()),
		)
	} else {
		snap.Equity = acct.Equity
	}
	if positions, err := c.venue.Positions(ctx, c.cfg.Symbol, c.cfg.OrderTag); err != nil {
		c.logger.WarnContext(ctx, "position count unavailable for snapshot",
			slog.String("error", err.Error()),
		)
	} else {
		snap.OpenPositions = len(positions)
	}

	c.logger.DebugContext(ctx, "tick status",
		slog.Float64("equity", snap.Equity),
		slog.Float64("daily_pl", snap.DailyPL),
		slog.Float64("daily_pl_pct", snap.DailyPLPct),
		slog.Bool("locked", snap.Locked),
		slog.Int("open_positions", snap.OpenPositions),
		slog.Int("pending_signals", snap.PendingSignals),
	)

	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, snap); err != nil {
		c.logger.WarnContext(ctx, "status publish failed",
			slog.String("error", err.Error()),
		)
	}
}

// notify fires an operator notification when a notifier is attached.
func (c *Coordinator) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, event, title, message); err != nil {
		c.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) matchesInstrument(symbol string) bool {
	if strings.EqualFold(symbol, c.cfg.Symbol) {
		return true
	}
	for _, alias := range c.cfg.SymbolAliases {
		if strings.EqualFold(symbol, alias) {
			return true
		}
	}
	return false
}
