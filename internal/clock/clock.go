// Package clock provides a virtual clock used by the evaluation harness to
// deterministically test expire/trigger behaviour without waiting on real
// wall-clock time.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VirtualClock is a monotonic clock that only moves forward on explicit
// Advance calls. It never reads the system clock once started.
type VirtualClock struct {
	now time.Time
}

// New returns a VirtualClock starting at the given instant.
func New(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the clock's current instant.
func (c *VirtualClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by an ISO-8601 duration string
// (e.g. "PT1H", "P1DT2H30M"). Advancing is additive: Advance(a) then
// Advance(b) lands on the same instant as a single Advance(a+b).
func (c *VirtualClock) Advance(iso8601Duration string) error {
	d, err := ParseDuration(iso8601Duration)
	if err != nil {
		return fmt.Errorf("clock: advance: %w", err)
	}
	c.now = c.now.Add(d)
	return nil
}

// ParseDuration parses an ISO-8601 duration of the form
// P[n]Y[n]M[n]DT[n]H[n]M[n]S into a time.Duration. Years are treated as
// 365 days and months as 30 days; this is an approximation acceptable for
// trigger-window arithmetic, never for calendar-accurate scheduling.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: must start with P", orig)
	}
	s = s[1:]

	var datePart, timePart string
	if idx := strings.IndexByte(s, 'T'); idx >= 0 {
		datePart = s[:idx]
		timePart = s[idx+1:]
	} else {
		datePart = s
	}

	var total time.Duration

	years, datePart, err := takeNumber(datePart, 'Y')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	months, datePart, err := takeNumber(datePart, 'M')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	days, datePart, err := takeNumber(datePart, 'D')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	if datePart != "" {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: unparsed date component %q", orig, datePart)
	}

	total += time.Duration(years) * 365 * 24 * time.Hour
	total += time.Duration(months) * 30 * 24 * time.Hour
	total += time.Duration(days) * 24 * time.Hour

	hours, timePart, err := takeNumber(timePart, 'H')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	minutes, timePart, err := takeNumber(timePart, 'M')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	seconds, timePart, err := takeFloat(timePart, 'S')
	if err != nil {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: %w", orig, err)
	}
	if timePart != "" {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: unparsed time component %q", orig, timePart)
	}

	total += time.Duration(hours) * time.Hour
	total += time.Duration(minutes) * time.Minute
	total += time.Duration(seconds * float64(time.Second))

	if total == 0 && orig != "P" && orig != "PT0S" {
		return 0, fmt.Errorf("clock: invalid ISO-8601 duration %q: no components parsed", orig)
	}

	return total, nil
}

// takeNumber extracts the integer preceding the given unit rune, if present,
// returning the remaining unconsumed string.
func takeNumber(s string, unit byte) (int64, string, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return 0, s, nil
	}
	n, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return 0, s, fmt.Errorf("bad %c component: %w", unit, err)
	}
	return n, s[idx+1:], nil
}

// takeFloat is like takeNumber but allows a fractional seconds component.
func takeFloat(s string, unit byte) (float64, string, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return 0, s, nil
	}
	n, err := strconv.ParseFloat(s[:idx], 64)
	if err != nil {
		return 0, s, fmt.Errorf("bad %c component: %w", unit, err)
	}
	return n, s[idx+1:], nil
}
