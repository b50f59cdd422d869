package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"tutorcal/internal/model"
)

const (
	defaultProductID = "-//tutorcal//schedule export//EN"
	uidDomain        = "@tutorcal"
	propertySeries   = ical.ComponentProperty("X-TUTORCAL-SERIES")
)

// ExportOptions controls ICS export.
type ExportOptions struct {
	ProductID string
	Name      string
	// Stamp is written as DTSTAMP on every VEVENT.
	Stamp time.Time
}

// Export serializes materialized occurrences as a VCALENDAR. Each occurrence
// becomes its own VEVENT; recurrence is not re-encoded.
func Export(occs []model.CalendarOccurrence, opts ExportOptions) string {
	if opts.ProductID == "" {
		opts.ProductID = defaultProductID
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	if opts.Name != "" {
		cal.SetName(opts.Name)
	}

	for _, occ := range occs {
		ev := cal.AddEvent(occ.ID + uidDomain)
		ev.SetDtStampTime(opts.Stamp.UTC())
		if occ.Fields.AllDay {
			ev.SetAllDayStartAt(occ.StartAt)
			ev.SetAllDayEndAt(occ.EndAt)
		} else {
			ev.SetStartAt(occ.StartAt.UTC())
			ev.SetEndAt(occ.EndAt.UTC())
		}
		ev.SetSummary(occ.Fields.Title)
		if occ.Fields.Description != "" {
			ev.SetDescription(occ.Fields.Description)
		}
		if occ.Fields.Location != "" {
			ev.SetLocation(occ.Fields.Location)
		}
		if status, ok := objectStatus(occ.Fields.Status); ok {
			ev.SetStatus(status)
		}
		for _, p := range occ.Fields.Participants {
			ev.AddAttendee(p)
		}
		if occ.Recurring {
			ev.AddProperty(propertySeries, occ.SeriesID)
		}
	}
	return cal.Serialize()
}

func objectStatus(s string) (ical.ObjectStatus, bool) {
	switch strings.ToLower(s) {
	case "confirmed", "scheduled":
		return ical.ObjectStatusConfirmed, true
	case "tentative", "pending":
		return ical.ObjectStatusTentative, true
	case "cancelled", "canceled":
		return ical.ObjectStatusCancelled, true
	}
	return "", false
}
