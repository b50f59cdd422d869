package schedule

import (
	"time"

	appLog "tutorcal/internal/log"
	"tutorcal/internal/model"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the display timezone. Range bounds are read as calendar
	// days in this zone and occurrences are returned in it. If nil,
	// time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive day window. Only their
	// calendar day matters; time-of-day is ignored.
	RangeStart time.Time
	RangeEnd   time.Time
}

// Expand materializes every occurrence of entries whose day falls inside the
// configured window. It handles:
//
//   - Single non-recurring entries
//   - Daily and weekly rules with interval, weekday filter, count and until
//   - Exceptions (skip) and overrides (patch), with overrides winning
//
// Monthly and yearly rules are not expanded; such a series only contributes
// its literal start, as if it were not recurring.
//
// Occurrences of one entry come out in ascending day order. No order is
// guaranteed across entries.
func Expand[D model.Fields[D, P], P any](entries []model.Entry[D, P], cfg ExpandConfig) []model.Occurrence[D] {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	out := make([]model.Occurrence[D], 0)

	first := dayOf(cfg.RangeStart, cfg.Location)
	last := dayOf(cfg.RangeEnd, cfg.Location)
	if last < first {
		return out
	}

	w := window{loc: cfg.Location, first: first, last: last, zones: newZones(cfg.Location)}
	for _, e := range entries {
		if e.Recurrence == nil {
			out = appendSingle(out, e, w)
			continue
		}
		switch e.Recurrence.Rule.Freq {
		case model.Daily, model.Weekly:
			out = appendSeries(out, e, w)
		default:
			appLog.Debug("expand: frequency not expanded; using series start only",
				"id", e.ID,
				"freq", string(e.Recurrence.Rule.Freq),
			)
			out = appendSingle(out, e, w)
		}
	}
	return out
}

type window struct {
	loc         *time.Location
	first, last civilDay
	zones       *zones
}

func (w window) contains(t time.Time) bool {
	d := dayOf(t, w.loc)
	return d >= w.first && d <= w.last
}

func appendSingle[D model.Fields[D, P], P any](out []model.Occurrence[D], e model.Entry[D, P], w window) []model.Occurrence[D] {
	if !w.contains(e.StartAt) {
		return out
	}
	var none P
	return append(out, model.Occurrence[D]{
		ID:            e.ID,
		SeriesID:      e.SeriesID(),
		OccurrenceKey: e.StartAt.UTC(),
		StartAt:       e.StartAt.In(w.loc),
		EndAt:         e.EndAt.In(w.loc),
		TimeZone:      e.TimeZone,
		Fields:        e.Fields.Apply(none),
	})
}

func appendSeries[D model.Fields[D, P], P any](out []model.Occurrence[D], e model.Entry[D, P], w window) []model.Occurrence[D] {
	rec := e.Recurrence
	rule := rec.Rule
	ruleLoc := w.zones.get(rule.TimeZone)

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	base := dayOf(e.StartAt, ruleLoc)

	var eligible [7]bool
	if len(rule.ByWeekday) > 0 {
		for _, wd := range rule.ByWeekday {
			if wd >= time.Sunday && wd <= time.Saturday {
				eligible[wd] = true
			}
		}
	} else {
		eligible[base.weekday()] = true
	}

	untilDay := civilDay(0)
	if rule.Until != nil {
		untilDay = dayOf(*rule.Until, ruleLoc)
	}

	// A count cap is series-wide, so days before the window still have to
	// be walked to know how many slots were already used.
	// Rule days are walked one day past each end of the window because the
	// rule zone and the display zone can disagree on the date.
	from := max(w.first-1, base)
	if rule.Count > 0 {
		from = base
	}

	seriesID := e.SeriesID()
	duration := e.Duration()
	emitted := 0

	for d := from; d <= w.last+1; d++ {
		if rule.Until != nil && d > untilDay {
			break
		}
		if rule.Count > 0 && emitted >= rule.Count {
			break
		}

		diff := int64(d - base)
		var matches bool
		switch rule.Freq {
		case model.Daily:
			matches = diff%int64(interval) == 0
		case model.Weekly:
			matches = (diff/7)%int64(interval) == 0 && eligible[d.weekday()]
		}

		key := d.at(e.StartAt, ruleLoc).UTC()
		ov, hasOverride := rec.FindOverride(key)

		if !matches && !hasOverride {
			continue
		}
		if !hasOverride && rec.HasException(key) {
			continue
		}

		emitted++
		if d < w.first-1 {
			continue
		}

		occ := model.Occurrence[D]{
			ID:            model.OccurrenceID(seriesID, key),
			SeriesID:      seriesID,
			OccurrenceKey: key,
			StartAt:       key,
			EndAt:         key.Add(duration),
			TimeZone:      e.TimeZone,
			Recurring:     true,
		}
		if hasOverride {
			if ov.StartAt != nil {
				occ.StartAt = *ov.StartAt
			}
			if ov.EndAt != nil {
				occ.EndAt = *ov.EndAt
			} else {
				occ.EndAt = occ.StartAt.Add(duration)
			}
			occ.Fields = e.Fields.Apply(ov.Patch)
			occ.Overridden = true
		} else {
			var none P
			occ.Fields = e.Fields.Apply(none)
		}

		// An override may move the occurrence off the window.
		if !w.contains(occ.StartAt) {
			continue
		}
		occ.StartAt = occ.StartAt.In(w.loc)
		occ.EndAt = occ.EndAt.In(w.loc)
		out = append(out, occ)
	}
	return out
}
