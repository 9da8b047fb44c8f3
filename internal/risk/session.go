// Package risk owns the session-boundary clock, daily P/L attribution
// and the daily-loss circuit breaker.
package risk

import (
	"fmt"
	"time"
)

// ParseUTCOffset parses a fixed session offset of the form "+09:00" or
// "-03:30".
func ParseUTCOffset(s string) (time.Duration, error) {
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return 0, fmt.Errorf("risk: parse utc offset %q: %w", s, err)
	}
	_, secs := t.Zone()
	return time.Duration(secs) * time.Second, nil
}

// NextBoundary returns the next session-boundary instant strictly after
// now. The boundary is startHHMM on the session-local clock running at
// the fixed UTC offset; the UTC instant is obtained by subtracting the
// offset, then pushed one day forward when it is not strictly in the
// future. Start "07:10" at +09:00 therefore lands on 22:10 UTC of the
// previous calendar day relative to that local date.
func NextBoundary(now time.Time, startHHMM string, offset time.Duration) (time.Time, error) {
	st, err := time.Parse("15:04", startHHMM)
	if err != nil {
		return time.Time{}, fmt.Errorf("risk: parse session start %q: %w", startHHMM, err)
	}

	local := now.UTC().Add(offset)
	boundary := time.Date(local.Year(), local.Month(), local.Day(),
		st.Hour(), st.Minute(), 0, 0, time.UTC).Add(-offset)
	if !boundary.After(now) {
		boundary = boundary.Add(24 * time.Hour)
	}
	return boundary, nil
}
