package schedule

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"tutorcal/internal/model"
)

// DayKeyLayout formats the per-day keys used to partition occurrences.
const DayKeyLayout = "2006-01-02"

// View selects the display window around an anchor date.
type View string

const (
	ViewDay    View = "day"
	ViewWeek   View = "week"
	ViewMonth  View = "month"
	ViewAgenda View = "agenda"
)

// ParseView parses a view name, case-insensitively. Empty means week.
func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ViewWeek, nil
	case ViewDay, ViewWeek, ViewMonth, ViewAgenda:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q", s)
	}
}

// ViewRange returns the inclusive bounds for view anchored at anchor.
// Agenda is a presentational grouping over the week window.
func ViewRange(view View, anchor time.Time, loc *time.Location) (time.Time, time.Time) {
	switch view {
	case ViewDay:
		return DayBounds(anchor, loc)
	case ViewMonth:
		return MonthBounds(anchor, loc)
	default:
		return WeekBounds(anchor, loc)
	}
}

// DayBounds returns the first and last instant of t's day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	loc = orLocal(loc)
	d := dayOf(t, loc)
	return d.midnight(loc), endOfDay(d, loc)
}

// WeekBounds returns the Monday-start week containing t.
func WeekBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	loc = orLocal(loc)
	d := dayOf(t, loc)
	offset := (int(d.weekday()) + 6) % 7 // days since Monday
	monday := d - civilDay(offset)
	return monday.midnight(loc), endOfDay(monday+6, loc)
}

// MonthBounds returns the calendar month containing t.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	loc = orLocal(loc)
	y, m, _ := t.In(loc).Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
	return first, endOfDay(dayOf(last, loc), loc)
}

// Days lists the midnight of every day in [rangeStart, rangeEnd].
func Days(rangeStart, rangeEnd time.Time, loc *time.Location) []time.Time {
	loc = orLocal(loc)
	first, last := dayOf(rangeStart, loc), dayOf(rangeEnd, loc)
	if last < first {
		return nil
	}
	out := make([]time.Time, 0, last-first+1)
	for d := first; d <= last; d++ {
		out = append(out, d.midnight(loc))
	}
	return out
}

// DayKey returns the YYYY-MM-DD key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orLocal(loc)).Format(DayKeyLayout)
}

// GroupByDay partitions occurrences by the day their start falls on in loc.
// Each bucket is sorted by start, then id.
func GroupByDay[D any](occs []model.Occurrence[D], loc *time.Location) map[string][]model.Occurrence[D] {
	out := make(map[string][]model.Occurrence[D])
	for _, occ := range occs {
		k := DayKey(occ.StartAt, loc)
		out[k] = append(out[k], occ)
	}
	for _, bucket := range out {
		SortOccurrences(bucket)
	}
	return out
}

// SortOccurrences orders occurrences by start, then end, then id.
func SortOccurrences[D any](occs []model.Occurrence[D]) {
	slices.SortStableFunc(occs, func(a, b model.Occurrence[D]) int {
		return cmp.Or(
			a.StartAt.Compare(b.StartAt),
			a.EndAt.Compare(b.EndAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// IsLive reports whether occ is in progress at now.
func IsLive[D any](occ model.Occurrence[D], now time.Time) bool {
	return !now.Before(occ.StartAt) && now.Before(occ.EndAt)
}

func endOfDay(d civilDay, loc *time.Location) time.Time {
	return (d + 1).midnight(loc).Add(-time.Nanosecond)
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
