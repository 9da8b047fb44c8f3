package domain

import "time"

// StatusSnapshot is the per-tick risk and position summary surfaced to
// the log line, the Redis status bus and the notifier. It is a wire
// shape; field names are stable.
type StatusSnapshot struct {
	RunID          string    `json:"run_id"`
	At             time.Time `json:"at"`
	Equity         float64   `json:"equity"`
	StartingEquity float64   `json:"starting_equity"`
	DailyPL        float64   `json:"daily_pl"`
	DailyPLPct     float64   `json:"daily_pl_pct"`
	Locked         bool      `json:"locked"`
	NextResetAt    time.Time `json:"next_reset_at"`
	OpenPositions  int       `json:"open_positions"`
	PendingSignals int       `json:"pending_signals"`
}

// SignalOutcome is one archived decision record: a signal together with
// the status the engine assigned and the price context at decision time.
type SignalOutcome struct {
	Signal    Signal
	Status    SignalStatus
	Price     float64 // side price at decision, 0 when no quote was taken
	DecidedAt time.Time
	RunID     string
}
