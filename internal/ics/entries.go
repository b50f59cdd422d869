package ics

import (
	appLog "tutorcal/internal/log"
	"tutorcal/internal/model"
	"tutorcal/internal/recur"
)

// ToEntries groups parsed VEVENTs by UID and turns them into calendar
// entries. RECURRENCE-ID events become overrides of their series; an
// override whose series is missing is kept as a standalone entry.
//
// An RRULE that cannot be used (parse error, sub-daily frequency) is logged
// and the event is kept as a single occurrence.
func ToEntries(events []ParsedEvent) []model.CalendarEntry {
	var order []string
	base := make(map[string]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, dup := base[ev.UID]; dup {
			appLog.Warn("ics: duplicate UID; keeping first", "uid", ev.UID, "id", ev.Source.ID)
			continue
		}
		base[ev.UID] = ev
		order = append(order, ev.UID)
	}

	out := make([]model.CalendarEntry, 0, len(order))
	for _, uid := range order {
		ev := base[uid]
		entry := model.CalendarEntry{
			ID:       uid,
			StartAt:  ev.Start,
			EndAt:    ev.End,
			TimeZone: ev.StartTZ,
			Fields:   fieldsOf(ev),
		}

		if ev.RawRRule != "" {
			rule, err := recur.Parse(ev.RawRRule)
			if err != nil {
				appLog.Error("ics: unusable RRULE; keeping single event", err, "uid", uid, "rrule", ev.RawRRule)
			} else {
				rule.TimeZone = ev.StartTZ
				entry.Recurrence = recurrenceOf(uid, rule, ev, overrides[uid])
			}
		}
		if entry.Recurrence == nil && len(overrides[uid]) > 0 {
			appLog.Warn("ics: overrides on non-recurring event ignored", "uid", uid, "count", len(overrides[uid]))
		}
		delete(overrides, uid)
		out = append(out, entry)
	}

	// Overrides without a base event.
	for _, ev := range events {
		if _, orphan := overrides[ev.UID]; !orphan || !ev.IsOverride || ev.Recurrence == nil {
			continue
		}
		out = append(out, model.CalendarEntry{
			ID:       model.OccurrenceID(ev.UID, *ev.Recurrence),
			StartAt:  ev.Start,
			EndAt:    ev.End,
			TimeZone: ev.StartTZ,
			Fields:   fieldsOf(ev),
		})
	}
	return out
}

func recurrenceOf(uid string, rule model.RecurrenceRule, ev ParsedEvent, ovs []ParsedEvent) *model.Recurrence[model.EventPatch] {
	rec := &model.Recurrence[model.EventPatch]{SeriesID: uid, Rule: rule}
	for _, ex := range ev.ExDates {
		rec.Exceptions = append(rec.Exceptions, model.Exception{Key: ex.UTC()})
	}
	for _, o := range ovs {
		start, end := o.Start, o.End
		rec.Overrides = append(rec.Overrides, model.Override[model.EventPatch]{
			Key:     o.Recurrence.UTC(),
			StartAt: &start,
			EndAt:   &end,
			Patch:   patchOf(o),
		})
	}
	return rec
}

func fieldsOf(ev ParsedEvent) model.EventFields {
	return model.EventFields{
		Title:        ev.Summary,
		Description:  ev.Description,
		Location:     ev.Location,
		Status:       ev.Status,
		Participants: ev.Participants,
		AllDay:       ev.AllDay,
	}
}

// patchOf treats the override VEVENT as authoritative for every field it
// carries.
func patchOf(ev ParsedEvent) model.EventPatch {
	var p model.EventPatch
	p.Title = nonEmpty(ev.Summary)
	p.Description = nonEmpty(ev.Description)
	p.Location = nonEmpty(ev.Location)
	p.Status = nonEmpty(ev.Status)
	if len(ev.Participants) > 0 {
		p.Participants = ev.Participants
	}
	return p
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
