package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigengine/internal/crypto"
	"sigengine/internal/domain"
	"sigengine/internal/exec"
	"sigengine/internal/executor"
	"sigengine/internal/export"
	"sigengine/internal/notify"
	"sigengine/internal/risk"
)

// RunMode starts the execution engine: the risk gate, the order
// mechanics and the polling coordinator, then blocks until the context
// is cancelled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	riskMgr := risk.New(deps.Venue, deps.Notifier, risk.Config{
		Symbol:              a.cfg.Engine.Symbol,
		OrderTag:            a.cfg.Engine.OrderTag,
		MaxDailyLossPct:     a.cfg.Engine.MaxDailyLossPct,
		SessionStart:        a.cfg.Engine.SessionStart,
		SessionUTCOffset:    a.cfg.Engine.SessionUTCOffset,
		IncludeManualTrades: a.cfg.Engine.IncludeManualTrades,
	}, a.logger)
	if err := riskMgr.Init(ctx); err != nil {
		return fmt.Errorf("run mode: init risk manager: %w", err)
	}

	engine := exec.New(deps.Venue, exec.Config{
		Symbol:         a.cfg.Engine.Symbol,
		OrderTag:       a.cfg.Engine.OrderTag,
		EntryTolerance: a.cfg.Engine.EntryTolerance,
	}, a.logger)
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("run mode: init exec engine: %w", err)
	}

	coord := executor.NewCoordinator(deps.Store, deps.Venue, riskMgr, engine, executor.Config{
		Symbol:        a.cfg.Engine.Symbol,
		SymbolAliases: a.cfg.Engine.SymbolAliases,
		OrderTag:      a.cfg.Engine.OrderTag,
		PollInterval:  a.cfg.Engine.PollInterval.Duration,
		MaxSLDistance: a.cfg.Engine.MaxSLDistance,
		Leg1Volume:    a.cfg.Engine.Leg1Volume,
		Leg2Volume:    a.cfg.Engine.Leg2Volume,
	}, a.logger)
	if deps.Bus != nil {
		coord.SetStatusBus(deps.Bus)
	}
	if deps.Archiver != nil {
		coord.SetArchiver(deps.Archiver)
	}
	coord.SetNotifier(deps.Notifier)

	a.notifyEvent(ctx, deps, notify.EventEngineStarted, "Engine started",
		fmt.Sprintf("run %s trading %s on %s venue", coord.RunID(), a.cfg.Engine.Symbol, a.cfg.Venue.Kind))

	err := coord.Run(ctx)

	// The run context is already cancelled here; give the stop alert its
	// own short deadline so shutdown is not silent.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.notifyEvent(stopCtx, deps, notify.EventEngineStopped, "Engine stopped",
		fmt.Sprintf("run %s stopped", coord.RunID()))

	return err
}

// ExportMode dumps the configured date range of the signal queue to
// CSV, optionally uploading the file to object storage.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting export mode")

	from, to, err := exportWindow(a.cfg.Export.From, a.cfg.Export.To, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("export mode: %w", err)
	}

	signals, err := deps.Store.Export(ctx, from, to)
	if err != nil {
		return fmt.Errorf("export mode: %w", err)
	}

	output := a.cfg.Export.Output
	if output == "-" {
		if err := export.WriteCSV(os.Stdout, signals); err != nil {
			return fmt.Errorf("export mode: %w", err)
		}
		if a.cfg.Export.Upload {
			a.logger.WarnContext(ctx, "upload skipped for stdout output")
		}
		return nil
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("export mode: create %s: %w", output, err)
	}
	if err := export.WriteCSV(f, signals); err != nil {
		f.Close()
		return fmt.Errorf("export mode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export mode: close %s: %w", output, err)
	}
	a.logger.InfoContext(ctx, "export written",
		slog.Int("signals", len(signals)),
		slog.String("output", output),
		slog.Time("from", from),
		slog.Time("to", to),
	)

	if a.cfg.Export.Upload && deps.BlobWriter != nil {
		src, err := os.Open(output)
		if err != nil {
			return fmt.Errorf("export mode: reopen %s: %w", output, err)
		}
		defer src.Close()

		key := "exports/" + filepath.Base(output)
		if err := deps.BlobWriter.Put(ctx, key, src, "text/csv"); err != nil {
			return fmt.Errorf("export mode: upload: %w", err)
		}
		a.logger.InfoContext(ctx, "export uploaded",
			slog.String("key", key),
		)
	}
	return nil
}

// InjectMode inserts a hand-built signal into the queue, mirroring
// what the producer would write for a real message. Meant for dry runs
// against the paper venue or a demo account.
func (a *App) InjectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting inject mode")

	in := a.cfg.Inject
	symbol := a.cfg.Engine.Symbol
	if in.Symbol != "" {
		// Reject spellings the poller would never pick up, instead of
		// parking a signal in the queue that nothing will execute.
		resolved, ok := a.cfg.Engine.ResolveSymbol(in.Symbol)
		if !ok {
			return fmt.Errorf("inject mode: unknown symbol %q (accepted: %s)",
				in.Symbol, strings.Join(a.cfg.Engine.Whitelist(), ", "))
		}
		symbol = resolved
	}
	dir, err := domain.ParseDirection(in.Direction)
	if err != nil {
		return fmt.Errorf("inject mode: %w", err)
	}

	now := time.Now().UTC()
	raw := fmt.Sprintf("manual inject: %s %s entry %.2f-%.2f SL %.2f TP1 %.2f",
		dir, symbol, in.EntryMin, in.EntryMax, in.StopLoss, in.TakeProfit1)
	hash := sha256.Sum256([]byte(raw + now.Format(time.RFC3339Nano)))

	sig := domain.Signal{
		// UnixNano keeps repeated injects clear of the (channel,
		// message) uniqueness constraint the producer relies on.
		SourceMessageID: now.UnixNano(),
		SourceChannelID: 0,
		Symbol:          symbol,
		Direction:       dir,
		EntryMin:        in.EntryMin,
		EntryMax:        in.EntryMax,
		StopLoss:        in.StopLoss,
		TakeProfit1:     in.TakeProfit1,
		TakeProfit2:     optPrice(in.TakeProfit2),
		TakeProfit3:     optPrice(in.TakeProfit3),
		Status:          domain.StatusProcess,
		RawMessage:      raw,
		ContentHash:     hex.EncodeToString(hash[:]),
	}

	id, err := deps.Store.Insert(ctx, sig)
	if err != nil {
		return fmt.Errorf("inject mode: %w", err)
	}
	a.logger.InfoContext(ctx, "signal injected",
		slog.Int64("id", id),
		slog.String("symbol", symbol),
		slog.String("direction", string(dir)),
		slog.Float64("entry_min", in.EntryMin),
		slog.Float64("entry_max", in.EntryMax),
		slog.Float64("stop_loss", in.StopLoss),
	)
	return nil
}

// KeyfileMode encrypts the bridge token into the configured keyfile so
// the plaintext never has to live in config files or the environment.
func (a *App) KeyfileMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting keyfile mode")

	v := a.cfg.Venue
	switch {
	case v.Token == "":
		return errors.New("keyfile mode: no token to encrypt (set venue.token or SIGENGINE_BRIDGE_TOKEN)")
	case v.KeyPassword == "":
		return errors.New("keyfile mode: key_password must be set")
	case v.KeyfilePath == "":
		return errors.New("keyfile mode: keyfile_path must be set")
	}

	blob, err := crypto.EncryptToken(v.Token, v.KeyPassword)
	if err != nil {
		return fmt.Errorf("keyfile mode: %w", err)
	}
	if err := os.WriteFile(v.KeyfilePath, blob, 0o600); err != nil {
		return fmt.Errorf("keyfile mode: write %s: %w", v.KeyfilePath, err)
	}
	a.logger.InfoContext(ctx, "keyfile written",
		slog.String("path", v.KeyfilePath),
	)
	return nil
}

// notifyEvent sends a lifecycle alert, logging instead of failing when
// delivery breaks.
func (a *App) notifyEvent(ctx context.Context, deps *Dependencies, event, title, message string) {
	if deps.Notifier == nil {
		return
	}
	if err := deps.Notifier.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "lifecycle alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// exportWindow resolves the export date range. Dates are whole days: an
// empty from means everything since the beginning, an empty to means
// through now, and a set to covers that entire day.
func exportWindow(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	var from time.Time
	if fromStr != "" {
		t, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad from date %q: %w", fromStr, err)
		}
		from = t
	}
	to := now
	if toStr != "" {
		t, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad to date %q: %w", toStr, err)
		}
		to = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return from, to, nil
}

func optPrice(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
