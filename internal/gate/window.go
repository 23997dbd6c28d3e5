// Package gate implements the escalation decision: a daily paging window
// evaluated on the wall clock of a fixed civil time zone, plus an allowlist
// of alarm types that are allowed to page.
package gate

import (
	"fmt"
	"time"

	"alarmgate/internal/models"
)

// Window is a daily local-time interval during which paging is permitted.
// Both boundaries are inclusive: an instant mapping to exactly start or
// exactly end is inside the window. If end is earlier than start the window
// wraps past midnight, i.e. it is open for [start,24:00) and [00:00,end].
//
// The zone's published transition rules are consulted per call, so the window
// stays aligned to local wall-clock time across DST changes.
type Window struct {
	start int // seconds since local midnight
	end   int
	loc   *time.Location
}

// NewWindow parses "HH:MM" start/end times and resolves the zone name
// (e.g. "Asia/Jerusalem") against the system tz database.
func NewWindow(start, end, zone string) (*Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid window end %q: %w", end, err)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", zone, err)
	}
	return &Window{start: s, end: e, loc: loc}, nil
}

// IsOpen reports whether the given instant falls inside the window when read
// on the configured zone's wall clock. Comparison is at second granularity
// so that an end of 17:00 admits 17:00:00 but not 17:00:01.
func (w *Window) IsOpen(at time.Time) bool {
	local := at.In(w.loc)
	s := local.Hour()*3600 + local.Minute()*60 + local.Second()
	if w.start <= w.end {
		return s >= w.start && s <= w.end
	}
	// Wraps past midnight.
	return s >= w.start || s <= w.end
}

// Location returns the civil zone the window is evaluated in.
func (w *Window) Location() *time.Location {
	return w.loc
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*3600 + t.Minute()*60, nil
}

// ShouldEscalate is the single paging predicate: the alarm must be in the
// triggered state, its type must be allowlisted, and the instant must fall
// inside the paging window. All three are required.
func ShouldEscalate(rec *models.AlarmRecord, allow Allowlist, w *Window, at time.Time) bool {
	return rec.Triggered && allow.Contains(rec.AlarmType) && w.IsOpen(at)
}
