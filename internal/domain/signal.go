package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the trade side of a signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// ParseDirection resolves stored direction text. The producer emits
// BUY/SELL but LONG/SHORT synonyms appear in older rows; matching is
// case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("unresolvable direction %q", s)
	}
}

// Sign returns +1 for BUY and -1 for SELL, the multiplier used when
// attributing P/L to a price move.
func (d Direction) Sign() float64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// SignalStatus tracks a signal through the shared-queue lifecycle.
// The producer creates PROCESS/MODIFY rows and owns EXPIRED; the engine
// writes only DONE, INVALID and ERROR.
type SignalStatus string

const (
	StatusProcess SignalStatus = "PROCESS"
	StatusModify  SignalStatus = "MODIFY"
	StatusDone    SignalStatus = "DONE"
	StatusInvalid SignalStatus = "INVALID"
	StatusError   SignalStatus = "ERROR"
	StatusExpired SignalStatus = "EXPIRED"
)

// ParseSignalStatus resolves stored status text.
func ParseSignalStatus(s string) (SignalStatus, error) {
	switch st := SignalStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusProcess, StatusModify, StatusDone, StatusInvalid, StatusError, StatusExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown signal status %q", s)
	}
}

// Terminal reports whether the status ends the signal's lifecycle.
// ERROR is not terminal: an operator can flip it back to PROCESS for
// another attempt.
func (s SignalStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusInvalid, StatusExpired:
		return true
	}
	return false
}

// Signal is one row of the shared signal queue: a parsed trading
// instruction written by the upstream producer, executed or rejected
// here. Producer bookkeeping fields (raw message, content hash,
// timestamps) are carried through untouched.
type Signal struct {
	ID              int64
	SourceMessageID int64 // telegram_message_id on disk
	SourceChannelID int64 // telegram_channel_id on disk
	Symbol          string
	Direction       Direction
	EntryMin        float64
	EntryMax        float64
	StopLoss        float64
	TakeProfit1     float64
	TakeProfit2     *float64
	TakeProfit3     *float64
	Status          SignalStatus
	RawMessage      string
	ContentHash     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time // set by the engine alongside any status write
	ParseError      *string    // producer-owned, carried untouched
}

// SecondTarget returns the target price for the runner leg: TP2 when
// the producer supplied one, otherwise TP1 covers both legs.
func (s Signal) SecondTarget() float64 {
	if s.TakeProfit2 != nil {
		return *s.TakeProfit2
	}
	return s.TakeProfit1
}

// StopDistance returns the distance from the entry band edge nearest
// the stop to the stop itself. A negative result means the stop sits on
// the profit side of the band (the venue will reject it).
func (s Signal) StopDistance() float64 {
	if s.Direction == DirectionBuy {
		return s.EntryMin - s.StopLoss
	}
	return s.StopLoss - s.EntryMax
}
