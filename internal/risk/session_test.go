package risk

import (
	"testing"
	"time"
)

func TestParseUTCOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"+09:00", 9 * time.Hour, false},
		{"-05:00", -5 * time.Hour, false},
		{"+00:00", 0, false},
		{"+05:30", 5*time.Hour + 30*time.Minute, false},
		{"09:00", 0, true},
		{"+9", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseUTCOffset(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseUTCOffset(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUTCOffset(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUTCOffset(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNextBoundary(t *testing.T) {
	utc := func(day, hour, minute int) time.Time {
		return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		now    time.Time
		start  string
		offset time.Duration
		want   time.Time
	}{
		{
			// 07:10 on a +09:00 clock is 22:10 UTC the evening before.
			name:   "session morning maps to previous utc evening",
			now:    utc(10, 10, 0),
			start:  "07:10",
			offset: 9 * time.Hour,
			want:   utc(10, 22, 10),
		},
		{
			name:   "boundary still ahead today",
			now:    utc(9, 21, 0),
			start:  "07:10",
			offset: 9 * time.Hour,
			want:   utc(9, 22, 10),
		},
		{
			name:   "exactly at boundary rolls a full day forward",
			now:    utc(9, 22, 10),
			start:  "07:10",
			offset: 9 * time.Hour,
			want:   utc(10, 22, 10),
		},
		{
			// Local calendar is already on the next date even though UTC
			// is not; the boundary date comes from the local clock.
			name:   "local date ahead of utc date",
			now:    utc(10, 20, 0),
			start:  "07:10",
			offset: 9 * time.Hour,
			want:   utc(10, 22, 10),
		},
		{
			name:   "zero offset",
			now:    utc(10, 6, 0),
			start:  "07:10",
			offset: 0,
			want:   utc(10, 7, 10),
		},
		{
			name:   "negative offset",
			now:    utc(10, 23, 0),
			start:  "17:00",
			offset: -5 * time.Hour,
			want:   utc(11, 22, 0),
		},
		{
			name:   "non-utc input is normalized",
			now:    time.Date(2026, 3, 10, 5, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			start:  "07:10",
			offset: 9 * time.Hour,
			want:   utc(10, 22, 10),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextBoundary(tt.now, tt.start, tt.offset)
			if err != nil {
				t.Fatalf("NextBoundary returned error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextBoundary = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("NextBoundary = %v is not strictly after now %v", got, tt.now)
			}
		})
	}
}

func TestNextBoundaryRejectsBadStart(t *testing.T) {
	if _, err := NextBoundary(time.Now(), "25:00", 0); err == nil {
		t.Error("NextBoundary(25:00) error = nil, want error")
	}
	if _, err := NextBoundary(time.Now(), "seven", 0); err == nil {
		t.Error("NextBoundary(seven) error = nil, want error")
	}
}
