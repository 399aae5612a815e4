// Package period provides billing period identity and boundary math.
//
// Periods are calendar months in UTC, identified as "2026-09". All
// counter and budget rows are keyed by a period ID; rollover freezes
// rows whose period has ended and creates zeroed successors.
package period

import (
	"fmt"
	"time"
)

// ID returns the period identifier containing t, e.g. "2026-09".
func ID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// Bounds returns the [start, end) boundaries of the period containing t.
func Bounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Parse converts a period ID back to its start time.
func Parse(periodID string) (time.Time, error) {
	t, err := time.Parse("2006-01", periodID)
	if err != nil {
		return time.Time{}, fmt.Errorf("period: parse %q: %w", periodID, err)
	}
	return t.UTC(), nil
}

// Next returns the period ID following periodID.
func Next(periodID string) (string, error) {
	start, err := Parse(periodID)
	if err != nil {
		return "", err
	}
	return ID(start.AddDate(0, 1, 0)), nil
}
